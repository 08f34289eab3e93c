package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/DatanoiseTV/chatstore/internal/logger"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "chatstore",
	Short: "Conversation store with cross-device sync",
	Long: `chatstore keeps chat conversations, attachments and agent presets on disk
and reconciles them with a record database shared between devices.

Without a subcommand it serves its tools over MCP on stdio.

Examples:
  chatstore                 # MCP server on stdio
  chatstore repl            # interactive mode
  chatstore sync            # one full sync, then exit
  chatstore diff            # compare local files with the record database`,
	Version:       ServerVersion,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the tools over MCP on stdio",
	RunE:  runServe,
}

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Interactive mode for trying the tools without an MCP client",
	RunE:  runREPL,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one full sync and print the result",
	RunE:  runSync,
}

var diffCmd = &cobra.Command{
	Use:   "diff",
	Short: "Compare local files with the record database",
	RunE:  runDiff,
}

var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "Upload local files the record database is missing or has older copies of",
	RunE:  runPush,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List conversations",
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(replCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(diffCmd)
	rootCmd.AddCommand(pushCmd)
	rootCmd.AddCommand(listCmd)

	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.chatstore/config.json)")
	rootCmd.PersistentFlags().String("data-dir", "", "Local data directory (overrides config)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: trace, debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "", "Log format: console or json")

	listCmd.Flags().Bool("all", false, "Include archived conversations")
}

// withApp loads config, builds the App and runs fn with a context that is
// cancelled on SIGINT or SIGTERM.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *App) error) error {
	cfg, err := configFromFlags(cmd)
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := NewApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close record database")
		}
	}()

	return fn(ctx, a)
}

func configFromFlags(cmd *cobra.Command) (*Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if v, _ := cmd.Flags().GetString("data-dir"); v != "" {
		cfg.DataDir = v
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.Log.Level = v
	}
	if v, _ := cmd.Flags().GetString("log-format"); v != "" {
		cfg.Log.Format = v
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *App) error {
		if a.sync != nil {
			if err := a.sync.PerformFullSync(ctx); err != nil {
				a.logger.Warn().Err(err).Msg("initial sync incomplete")
			}
		}
		a.logger.Info().Str("data_dir", a.cfg.DataDir).Msg("chatstore MCP server starting on stdio")
		return server.ServeStdio(a.NewMCPServer())
	})
}

func runREPL(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *App) error {
		a.runInteractiveCLI(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
		return nil
	})
}

func runSync(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *App) error {
		res, err := a.callTool(ctx, "sync_now", nil)
		if err != nil {
			return err
		}
		if res.IsError {
			return fmt.Errorf("%s", resultText(res))
		}
		fmt.Fprintln(cmd.OutOrStdout(), resultText(res))
		return nil
	})
}

func runDiff(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *App) error {
		if a.sync == nil {
			return fmt.Errorf("%s", SyncDisabledMsg)
		}
		report, err := a.sync.Diff(ctx)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	})
}

func runPush(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *App) error {
		if a.sync == nil {
			return fmt.Errorf("%s", SyncDisabledMsg)
		}
		pushed, err := a.sync.PushLocal(ctx)
		for _, p := range pushed {
			fmt.Fprintln(cmd.OutOrStdout(), "pushed", p)
		}
		return err
	})
}

func runList(cmd *cobra.Command, args []string) error {
	all, _ := cmd.Flags().GetBool("all")
	return withApp(cmd, func(ctx context.Context, a *App) error {
		res, err := a.callTool(ctx, "list_conversations", map[string]any{"include_archived": all})
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), resultText(res))
		return nil
	})
}
