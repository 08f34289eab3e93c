package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"github.com/DatanoiseTV/chatstore/internal/model"
)

// Default Gemini models.
const (
	DefaultChatModel   = "gemini-flash-lite-latest"
	DefaultVisionModel = "gemini-flash-lite-latest"
)

// GeminiConfig configures the Gemini client.
type GeminiConfig struct {
	APIKey      string
	BaseURL     string // Overrides the API endpoint, for tests and proxies
	ChatModel   string
	VisionModel string
}

// Gemini implements Completer and ImageAnalyzer on the Gemini API.
type Gemini struct {
	client      *genai.Client
	chatModel   string
	visionModel string
	logger      zerolog.Logger
}

// NewGemini creates a Gemini client.
func NewGemini(ctx context.Context, cfg GeminiConfig, logger zerolog.Logger) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: gemini api key is required", ErrInvalidArgument)
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = DefaultChatModel
	}
	if cfg.VisionModel == "" {
		cfg.VisionModel = DefaultVisionModel
	}

	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &Gemini{
		client:      client,
		chatModel:   cfg.ChatModel,
		visionModel: cfg.VisionModel,
		logger:      logger.With().Str("component", "gemini").Logger(),
	}, nil
}

// Complete implements Completer.
func (g *Gemini) Complete(ctx context.Context, req Request) (string, error) {
	modelName, contents, config, err := g.prepare(req)
	if err != nil {
		return "", err
	}

	resp, err := g.client.Models.GenerateContent(ctx, modelName, contents, config)
	if err != nil {
		return "", fmt.Errorf("generate content failed: %w", err)
	}
	text := responseText(resp)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// Stream implements Completer.
func (g *Gemini) Stream(ctx context.Context, req Request, onDelta func(delta string) error) (string, error) {
	modelName, contents, config, err := g.prepare(req)
	if err != nil {
		return "", err
	}

	var full strings.Builder
	for resp, err := range g.client.Models.GenerateContentStream(ctx, modelName, contents, config) {
		if err != nil {
			return full.String(), fmt.Errorf("stream failed: %w", err)
		}
		delta := responseText(resp)
		if delta == "" {
			continue
		}
		full.WriteString(delta)
		if onDelta != nil {
			if err := onDelta(delta); err != nil {
				return full.String(), err
			}
		}
	}
	if full.Len() == 0 {
		return "", ErrEmptyResponse
	}
	return full.String(), nil
}

// AnalyzeImage implements ImageAnalyzer.
func (g *Gemini) AnalyzeImage(ctx context.Context, base64Image, mimeType, question string) (string, error) {
	if strings.TrimSpace(question) == "" {
		return "", fmt.Errorf("%w: question cannot be empty", ErrInvalidArgument)
	}
	if base64Image == "" {
		return "", fmt.Errorf("%w: image cannot be empty", ErrInvalidArgument)
	}
	data, err := base64.StdEncoding.DecodeString(base64Image)
	if err != nil {
		return "", fmt.Errorf("%w: image is not valid base64: %v", ErrInvalidArgument, err)
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	contents := []*genai.Content{{
		Role: string(genai.RoleUser),
		Parts: []*genai.Part{
			{InlineData: &genai.Blob{MIMEType: mimeType, Data: data}},
			{Text: question},
		},
	}}

	g.logger.Debug().Str("model", g.visionModel).Int("bytes", len(data)).Msg("analyzing image")
	resp, err := g.client.Models.GenerateContent(ctx, g.visionModel, contents, nil)
	if err != nil {
		return "", fmt.Errorf("image analysis failed: %w", err)
	}
	text := responseText(resp)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// prepare maps a Request onto Gemini contents. System messages in the
// history are folded into the system instruction.
func (g *Gemini) prepare(req Request) (string, []*genai.Content, *genai.GenerateContentConfig, error) {
	modelName := req.Model
	if modelName == "" {
		modelName = g.chatModel
	}

	system := []string{}
	if s := strings.TrimSpace(req.SystemPrompt); s != "" {
		system = append(system, s)
	}

	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Text == "" {
			continue
		}
		switch m.Role {
		case model.RoleSystem:
			system = append(system, m.Text)
		case model.RoleAssistant:
			contents = append(contents, &genai.Content{Role: string(genai.RoleModel), Parts: []*genai.Part{{Text: m.Text}}})
		case model.RoleUser:
			contents = append(contents, &genai.Content{Role: string(genai.RoleUser), Parts: []*genai.Part{{Text: m.Text}}})
		default:
			return "", nil, nil, fmt.Errorf("%w: role %q", ErrInvalidArgument, m.Role)
		}
	}
	if len(contents) == 0 {
		return "", nil, nil, fmt.Errorf("%w: no messages to send", ErrInvalidArgument)
	}

	var config *genai.GenerateContentConfig
	if len(system) > 0 {
		config = &genai.GenerateContentConfig{
			SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: strings.Join(system, "\n\n")}}},
		}
	}
	return modelName, contents, config, nil
}

// responseText joins the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && !part.Thought {
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}
