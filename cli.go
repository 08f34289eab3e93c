package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// runInteractiveCLI reads commands from in and runs them through the same
// tool handlers an MCP client would call.
func (a *App) runInteractiveCLI(ctx context.Context, in io.Reader, out io.Writer) {
	fmt.Fprintln(out, WelcomeMsg)
	fmt.Fprintln(out, HelpMsg)

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "\n"+PromptStr)
		if !scanner.Scan() {
			break
		}

		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			continue
		}
		rest := strings.Join(parts[1:], " ")

		cmd := strings.ToLower(parts[0])
		switch cmd {
		case "exit", "quit":
			a.cliLeave(ctx)
			return

		case "help":
			fmt.Fprintln(out, HelpMsg)

		case "list":
			a.cliTool(ctx, out, "list_conversations", map[string]any{"include_archived": rest == "all"})

		case "new":
			a.cliLeave(ctx)
			conv := a.cache.NewConversation("", a.cache.SelectedAgent())
			a.current = conv.ID
			if err := a.cache.SetViewing(ctx, conv.ID, true); err != nil {
				fmt.Fprintln(out, err)
				continue
			}
			fmt.Fprintf(out, "Started conversation %d.\n", conv.ID)

		case "open":
			id, ok := cliID(out, parts, "open <id>")
			if !ok {
				continue
			}
			if err := a.cache.SetViewing(ctx, id, true); err != nil {
				fmt.Fprintln(out, err)
				continue
			}
			a.current = id
			a.cliTool(ctx, out, "show_conversation", map[string]any{"id": id})

		case "show":
			if a.current == 0 {
				fmt.Fprintln(out, NoConversationOpenMsg)
				continue
			}
			a.cliTool(ctx, out, "show_conversation", map[string]any{"id": a.current})

		case "say":
			if rest == "" {
				fmt.Fprintln(out, "Usage: say <text>")
				continue
			}
			if a.current == 0 {
				a.current = a.cache.NewConversation("", a.cache.SelectedAgent()).ID
			}
			a.cliTool(ctx, out, "send_message", map[string]any{"id": a.current, "text": rest})

		case "rename":
			id, ok := cliID(out, parts, "rename <id> <title>")
			if !ok || len(parts) < 3 {
				if ok {
					fmt.Fprintln(out, "Usage: rename <id> <title>")
				}
				continue
			}
			a.cliTool(ctx, out, "rename_conversation", map[string]any{"id": id, "title": strings.Join(parts[2:], " ")})

		case "archive", "unarchive":
			id, ok := cliID(out, parts, cmd+" <id>")
			if !ok {
				continue
			}
			a.cliTool(ctx, out, "archive_conversation", map[string]any{"id": id, "archived": cmd == "archive"})

		case "delete":
			id, ok := cliID(out, parts, "delete <id>")
			if !ok {
				continue
			}
			if id == a.current {
				a.current = 0
			}
			a.cliTool(ctx, out, "delete_conversation", map[string]any{"id": id})

		case "attach":
			if a.current == 0 || rest == "" {
				fmt.Fprintln(out, "Usage: attach <path> (with a conversation open)")
				continue
			}
			a.cliTool(ctx, out, "attach_image", map[string]any{"id": a.current, "path": rest})

		case "ask":
			if a.current == 0 || len(parts) < 3 {
				fmt.Fprintln(out, "Usage: ask <image> <question> (with a conversation open)")
				continue
			}
			a.cliTool(ctx, out, "analyze_image", map[string]any{"id": a.current, "image": parts[1], "question": strings.Join(parts[2:], " ")})

		case "agents":
			a.cliTool(ctx, out, "list_agents", nil)

		case "agent":
			if rest == "" || rest == "none" {
				a.cache.SelectAgent(nil)
				fmt.Fprintln(out, "Agent cleared.")
				continue
			}
			if _, ok := a.agents.GetAgent(rest); !ok {
				fmt.Fprintf(out, "Agent %q not found.\n", rest)
				continue
			}
			a.cache.SelectAgent(&rest)
			fmt.Fprintf(out, "New conversations will use agent %s.\n", rest)

		case "sync":
			a.cliTool(ctx, out, "sync_now", nil)

		case "status":
			a.cliTool(ctx, out, "sync_status", map[string]any{"include_diff": true})

		default:
			fmt.Fprintln(out, UnknownCmdMsg)
		}
	}
	a.cliLeave(ctx)
}

// cliTool runs a tool and prints its text result.
func (a *App) cliTool(ctx context.Context, out io.Writer, name string, args map[string]any) {
	res, err := a.callTool(ctx, name, args)
	if err != nil {
		fmt.Fprintln(out, err)
		return
	}
	fmt.Fprintln(out, resultText(res))
}

// cliLeave stops viewing the current conversation so an empty one is
// discarded.
func (a *App) cliLeave(ctx context.Context) {
	if a.current == 0 {
		return
	}
	if err := a.cache.SetViewing(ctx, a.current, false); err != nil {
		a.logger.Debug().Err(err).Int("id", a.current).Msg("leaving conversation")
	}
	a.current = 0
}

func cliID(out io.Writer, parts []string, usage string) (int, bool) {
	if len(parts) < 2 {
		fmt.Fprintln(out, "Usage: "+usage)
		return 0, false
	}
	id, err := strconv.Atoi(parts[1])
	if err != nil || id <= 0 {
		fmt.Fprintf(out, "Invalid id %q\n", parts[1])
		return 0, false
	}
	return id, true
}
