package main

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// toolDef pairs an MCP tool definition with its handler.
type toolDef struct {
	tool    mcp.Tool
	handler server.ToolHandlerFunc
}

// typed binds the call arguments to T, validates them and calls h.
func typed[T any](h func(ctx context.Context, args T) (*mcp.CallToolResult, error)) server.ToolHandlerFunc {
	return mcp.NewTypedToolHandler(func(ctx context.Context, _ mcp.CallToolRequest, args T) (*mcp.CallToolResult, error) {
		if err := validateArgs(args); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Invalid arguments: %v", err)), nil
		}
		return h(ctx, args)
	})
}

func (a *App) tools() []toolDef {
	return []toolDef{
		// --- Conversations ---
		{mcp.NewTool("list_conversations",
			mcp.WithDescription("Lists conversations, most recently used first."),
			mcp.WithBoolean("include_archived", mcp.Description("Also list archived conversations")),
		), typed(a.listConversationsHandler)},

		{mcp.NewTool("show_conversation",
			mcp.WithDescription("Shows the full transcript of a conversation."),
			mcp.WithNumber("id", mcp.Required(), mcp.Description("Conversation id from list_conversations")),
		), typed(a.showConversationHandler)},

		{mcp.NewTool("send_message",
			mcp.WithDescription("Adds a user message to a conversation and returns the model's reply. Omit id to start a new conversation."),
			mcp.WithNumber("id", mcp.Description("Conversation id; omit to start a new conversation")),
			mcp.WithString("text", mcp.Required(), mcp.Description("Message text")),
			mcp.WithString("agent_id", mcp.Description("Agent preset for a new conversation")),
			mcp.WithString("model", mcp.Description("Model for a new conversation")),
		), typed(a.sendMessageHandler)},

		{mcp.NewTool("rename_conversation",
			mcp.WithDescription("Changes the title of a conversation."),
			mcp.WithNumber("id", mcp.Required(), mcp.Description("Conversation id")),
			mcp.WithString("title", mcp.Required(), mcp.Description("New title")),
		), typed(a.renameConversationHandler)},

		{mcp.NewTool("archive_conversation",
			mcp.WithDescription("Archives or restores a conversation."),
			mcp.WithNumber("id", mcp.Required(), mcp.Description("Conversation id")),
			mcp.WithBoolean("archived", mcp.Required(), mcp.Description("true to archive, false to restore")),
		), typed(a.archiveConversationHandler)},

		{mcp.NewTool("delete_conversation",
			mcp.WithDescription("Deletes a conversation with its messages and attachments."),
			mcp.WithNumber("id", mcp.Required(), mcp.Description("Conversation id")),
		), typed(a.deleteConversationHandler)},

		// --- Attachments ---
		{mcp.NewTool("attach_image",
			mcp.WithDescription("Stores an image with a conversation and returns its attachment name."),
			mcp.WithNumber("id", mcp.Required(), mcp.Description("Conversation id")),
			mcp.WithString("path", mcp.Description("Path of a local image file")),
			mcp.WithString("image_base64", mcp.Description("Base64-encoded image bytes")),
		), typed(a.attachImageHandler)},

		{mcp.NewTool("analyze_image",
			mcp.WithDescription("Answers a question about an attached image. Repeated questions are answered from the cache."),
			mcp.WithNumber("id", mcp.Required(), mcp.Description("Conversation id")),
			mcp.WithString("image", mcp.Required(), mcp.Description("Attachment name from attach_image")),
			mcp.WithString("question", mcp.Required(), mcp.Description("Question about the image")),
		), typed(a.analyzeImageHandler)},

		// --- Agents ---
		{mcp.NewTool("list_agents",
			mcp.WithDescription("Lists agent presets."),
			mcp.WithBoolean("sidebar_only", mcp.Description("Only agents shown in the sidebar")),
		), typed(a.listAgentsHandler)},

		{mcp.NewTool("save_agent",
			mcp.WithDescription("Creates or replaces an agent preset."),
			mcp.WithString("id", mcp.Description("Agent id; omit to create a new agent")),
			mcp.WithString("name", mcp.Required(), mcp.Description("Display name")),
			mcp.WithString("icon", mcp.Description("Icon name or emoji")),
			mcp.WithString("system_prompt", mcp.Description("Instructions sent with every request")),
			mcp.WithString("model", mcp.Description("Preferred model")),
			mcp.WithBoolean("shown_in_sidebar", mcp.Description("Show as a sidebar shortcut")),
		), typed(a.saveAgentHandler)},

		{mcp.NewTool("delete_agent",
			mcp.WithDescription("Deletes an agent preset."),
			mcp.WithString("id", mcp.Required(), mcp.Description("Agent id")),
		), typed(a.deleteAgentHandler)},

		// --- Sync ---
		{mcp.NewTool("sync_now",
			mcp.WithDescription("Pulls changes from the record database into local storage."),
		), typed(a.syncNowHandler)},

		{mcp.NewTool("sync_status",
			mcp.WithDescription("Reports the last sync and, optionally, which files differ from the record database."),
			mcp.WithBoolean("include_diff", mcp.Description("Compare local files with the record database")),
		), typed(a.syncStatusHandler)},
	}
}

// NewMCPServer builds the stdio MCP server exposing every tool.
func (a *App) NewMCPServer() *server.MCPServer {
	s := server.NewMCPServer(ServerName, ServerVersion,
		server.WithToolCapabilities(false),
		server.WithInstructions("Conversation store with cross-device sync. Use list_conversations to find ids."),
	)
	for _, t := range a.tools() {
		s.AddTool(t.tool, t.handler)
	}
	return s
}

// callTool invokes a tool by name, as an MCP client would.
func (a *App) callTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	for _, t := range a.tools() {
		if t.tool.Name == name {
			req := mcp.CallToolRequest{}
			req.Params.Name = name
			req.Params.Arguments = args
			return t.handler(ctx, req)
		}
	}
	return nil, fmt.Errorf("unknown tool %q", name)
}

// resultText returns the text of the first content item of a tool result.
func resultText(res *mcp.CallToolResult) string {
	if res == nil || len(res.Content) == 0 {
		return ""
	}
	if text, ok := res.Content[0].(mcp.TextContent); ok {
		return text.Text
	}
	return ""
}
