package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/DatanoiseTV/chatstore/internal/model"
	"github.com/DatanoiseTV/chatstore/internal/store"
)

// listAgentsHandler handles list_agents.
func (a *App) listAgentsHandler(ctx context.Context, args ListAgentsArgs) (*mcp.CallToolResult, error) {
	agents := a.agents.Agents()
	if args.SidebarOnly {
		agents = a.agents.SidebarAgents()
	}
	if len(agents) == 0 {
		return mcp.NewToolResultText(NoAgentsMsg), nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d agents:\n", len(agents)))
	for _, agent := range agents {
		sb.WriteString(fmt.Sprintf("- %s %s (id: %s", agent.Icon, agent.Name, agent.ID))
		if agent.Model != nil {
			sb.WriteString(", model: " + *agent.Model)
		}
		if agent.ShownInSidebar {
			sb.WriteString(", sidebar")
		}
		sb.WriteString(")")
		if agent.SystemPrompt != "" {
			sb.WriteString(": " + snippet(agent.SystemPrompt))
		}
		sb.WriteString("\n")
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// saveAgentHandler handles save_agent.
func (a *App) saveAgentHandler(ctx context.Context, args SaveAgentArgs) (*mcp.CallToolResult, error) {
	agent := model.Agent{
		ID:             strings.TrimSpace(args.ID),
		Name:           args.Name,
		Icon:           args.Icon,
		SystemPrompt:   args.SystemPrompt,
		ShownInSidebar: args.ShownInSidebar,
	}
	if m := strings.TrimSpace(args.Model); m != "" {
		agent.Model = &m
	}

	saved, err := a.agents.SaveAgent(agent)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to save agent: %v", err)), nil
	}
	a.replicate(ctx, store.AgentsFile)
	return mcp.NewToolResultText(fmt.Sprintf("Agent %q saved (id: %s).", saved.Name, saved.ID)), nil
}

// deleteAgentHandler handles delete_agent.
func (a *App) deleteAgentHandler(ctx context.Context, args AgentArgs) (*mcp.CallToolResult, error) {
	if _, ok := a.agents.GetAgent(args.ID); !ok {
		return mcp.NewToolResultError(fmt.Sprintf("Agent %q not found", args.ID)), nil
	}
	if err := a.agents.DeleteAgent(args.ID); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to delete agent: %v", err)), nil
	}
	if selected := a.cache.SelectedAgent(); selected != nil && *selected == args.ID {
		a.cache.SelectAgent(nil)
	}
	a.replicate(ctx, store.AgentsFile)
	return mcp.NewToolResultText(fmt.Sprintf("Agent %s deleted.", args.ID)), nil
}
