package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/DatanoiseTV/chatstore/internal/store"
)

// attachImageHandler handles attach_image.
func (a *App) attachImageHandler(ctx context.Context, args AttachImageArgs) (*mcp.CallToolResult, error) {
	conv, err := a.cache.GetConversation(ctx, args.ID)
	if err != nil {
		return conversationError(args.ID, err), nil
	}

	var data []byte
	if args.Path != "" {
		data, err = os.ReadFile(args.Path)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to read image: %v", err)), nil
		}
	} else {
		data, err = base64.StdEncoding.DecodeString(args.ImageBase64)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("image_base64 is not valid base64: %v", err)), nil
		}
	}

	filename, err := a.attachments.SaveImage(conv.UUID, data)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to save attachment: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Attached %s (%s, %d bytes) to conversation %d.",
		filename, store.MIMEType(data), len(data), args.ID)), nil
}

// analyzeImageHandler handles analyze_image. Answers already in the
// attachment's Q&A cache are returned without calling the model; new
// answers are appended to it.
func (a *App) analyzeImageHandler(ctx context.Context, args AnalyzeImageArgs) (*mcp.CallToolResult, error) {
	conv, err := a.cache.GetConversation(ctx, args.ID)
	if err != nil {
		return conversationError(args.ID, err), nil
	}

	answer, found, err := a.attachments.FindAnswer(args.Image, args.Question, conv.UUID)
	if err != nil {
		a.logger.Warn().Err(err).Str("attachment", args.Image).Msg("Q&A cache unreadable, asking the model")
	} else if found {
		return mcp.NewToolResultText(answer + "\n(cached)"), nil
	}

	data, err := a.attachments.LoadImage(args.Image, conv.UUID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to load attachment: %v", err)), nil
	}
	if data == nil {
		return mcp.NewToolResultError(fmt.Sprintf("Attachment %q not found in conversation %d", args.Image, args.ID)), nil
	}
	if a.analyzer == nil {
		return mcp.NewToolResultError("No model is configured for image analysis."), nil
	}

	callCtx, cancel := context.WithTimeout(ctx, ModelCallTimeout)
	defer cancel()
	answer, err = a.analyzer.AnalyzeImage(callCtx, base64.StdEncoding.EncodeToString(data), store.MIMEType(data), args.Question)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Image analysis failed: %v", err)), nil
	}

	if err := a.attachments.AddQA(args.Image, args.Question, answer, conv.UUID); err != nil {
		a.logger.Error().Err(err).Str("attachment", args.Image).Msg("failed to cache answer")
	}
	return mcp.NewToolResultText(answer), nil
}
