package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/DatanoiseTV/chatstore/internal/cache"
	"github.com/DatanoiseTV/chatstore/internal/llm"
	"github.com/DatanoiseTV/chatstore/internal/model"
)

// listConversationsHandler handles list_conversations.
func (a *App) listConversationsHandler(ctx context.Context, args ListConversationsArgs) (*mcp.CallToolResult, error) {
	convs := a.cache.Conversations(args.IncludeArchived)
	if len(convs) == 0 {
		return mcp.NewToolResultText(NoConversationsMsg), nil
	}

	viewing, _ := a.cache.Viewing()
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d conversations:\n", len(convs)))
	for _, c := range convs {
		marker := " "
		if c.ID == viewing {
			marker = "*"
		}
		sb.WriteString(fmt.Sprintf("%s [%d] %s (%s, %s)", marker, c.ID, c.Title, c.ModelUsed, c.LastInteracted.Format("2006-01-02 15:04")))
		if c.IsArchived {
			sb.WriteString(" [archived]")
		}
		sb.WriteString("\n")
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// showConversationHandler handles show_conversation.
func (a *App) showConversationHandler(ctx context.Context, args ConversationArgs) (*mcp.CallToolResult, error) {
	conv, err := a.cache.GetConversation(ctx, args.ID)
	if err != nil {
		return conversationError(args.ID, err), nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%d] %s\n", conv.ID, conv.Title))
	if conv.AgentUsed != nil {
		if agent, ok := a.agents.GetAgent(*conv.AgentUsed); ok {
			sb.WriteString(fmt.Sprintf("Agent: %s %s\n", agent.Icon, agent.Name))
		}
	}
	sb.WriteString(fmt.Sprintf("Model: %s\n\n", conv.ModelUsed))
	if !conv.HasMessages() {
		sb.WriteString("(no messages)\n")
	}
	for _, m := range conv.Messages {
		sb.WriteString(fmt.Sprintf("%s: %s\n", m.Role, m.Text))
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// sendMessageHandler handles send_message: it appends the user message,
// streams the model reply into the conversation and commits it.
func (a *App) sendMessageHandler(ctx context.Context, args SendMessageArgs) (*mcp.CallToolResult, error) {
	id := args.ID
	if id == 0 {
		modelID := strings.TrimSpace(args.Model)
		var agentID *string
		if args.AgentID != "" {
			agent, ok := a.agents.GetAgent(args.AgentID)
			if !ok {
				return mcp.NewToolResultError(fmt.Sprintf("Agent %q not found", args.AgentID)), nil
			}
			agentID = &agent.ID
			if modelID == "" && agent.Model != nil {
				modelID = *agent.Model
			}
		}
		id = a.cache.NewConversation(modelID, agentID).ID
	}

	if err := a.cache.SetViewing(ctx, id, true); err != nil {
		return conversationError(id, err), nil
	}
	if _, err := a.cache.AppendMessage(ctx, id, model.RoleUser, args.Text); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to save message: %v", err)), nil
	}

	if a.completer == nil {
		return mcp.NewToolResultText(fmt.Sprintf("[%d] %s", id, NoModelMsg)), nil
	}

	conv, err := a.cache.GetConversation(ctx, id)
	if err != nil {
		return conversationError(id, err), nil
	}
	req := llm.Request{Model: conv.ModelUsed, Messages: conv.Messages}
	if conv.AgentUsed != nil {
		if agent, ok := a.agents.GetAgent(*conv.AgentUsed); ok {
			req.SystemPrompt = agent.SystemPrompt
		}
	}

	reply, err := a.cache.AppendMessage(ctx, id, model.RoleAssistant, "")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to save reply: %v", err)), nil
	}

	callCtx, cancel := context.WithTimeout(ctx, ModelCallTimeout)
	defer cancel()
	text, streamErr := a.completer.Stream(callCtx, req, func(delta string) error {
		return a.cache.AppendMessageText(id, reply.ID, delta)
	})
	if err := a.cache.CommitMessages(ctx, id); err != nil {
		a.logger.Error().Err(err).Int("id", id).Msg("failed to commit reply")
	}
	if streamErr != nil {
		a.logger.Error().Err(streamErr).Int("id", id).Msg("model call failed")
		return mcp.NewToolResultError(fmt.Sprintf("Model call failed: %v", streamErr)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("[%d] %s\n\n%s", id, conv.Title, text)), nil
}

// renameConversationHandler handles rename_conversation.
func (a *App) renameConversationHandler(ctx context.Context, args RenameConversationArgs) (*mcp.CallToolResult, error) {
	if err := a.cache.RenameConversation(ctx, args.ID, args.Title); err != nil {
		return conversationError(args.ID, err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Conversation %d renamed to %q.", args.ID, strings.TrimSpace(args.Title))), nil
}

// archiveConversationHandler handles archive_conversation.
func (a *App) archiveConversationHandler(ctx context.Context, args ArchiveConversationArgs) (*mcp.CallToolResult, error) {
	if err := a.cache.SetArchived(ctx, args.ID, args.Archived); err != nil {
		return conversationError(args.ID, err), nil
	}
	if args.Archived {
		return mcp.NewToolResultText(fmt.Sprintf("Conversation %d archived.", args.ID)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Conversation %d restored.", args.ID)), nil
}

// deleteConversationHandler handles delete_conversation.
func (a *App) deleteConversationHandler(ctx context.Context, args ConversationArgs) (*mcp.CallToolResult, error) {
	if err := a.cache.DeleteConversation(ctx, args.ID); err != nil {
		return conversationError(args.ID, err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Conversation %d deleted.", args.ID)), nil
}

func conversationError(id int, err error) *mcp.CallToolResult {
	if errors.Is(err, cache.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("Conversation %d not found", id))
	}
	return mcp.NewToolResultError(fmt.Sprintf("Conversation %d: %v", id, err))
}

// snippet shortens text for one-line listings.
func snippet(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= MaxSnippetLength {
		return text
	}
	return string([]rune(text)[:MaxSnippetLength-3]) + "..."
}
