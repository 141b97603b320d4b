package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MrWong99/rememory/internal/api"
	"github.com/MrWong99/rememory/internal/app"
	"github.com/MrWong99/rememory/internal/config"
	"github.com/MrWong99/rememory/internal/mcpserver"
	"github.com/MrWong99/rememory/internal/rememory"
)

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
}

// ── serve ─────────────────────────────────────────────────────────────────────

func newServeCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and run scheduled fade sweeps",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()

			a, cleanup, err := g.newApp(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := a.Watch(g.configPath); err != nil {
				slog.Warn("config hot reload disabled", "err", err)
			}
			go reloadOnHangup(ctx, a)

			slog.Info("rememory serving; press Ctrl+C to shut down",
				"version", version,
				"listen_addr", a.Config().Server.ListenAddr,
				"mcp_http", a.Config().MCP.HTTP,
			)
			if err := a.Run(ctx); err != nil {
				return err
			}
			slog.Info("shutdown signal received, stopping")
			return nil
		},
	}
}

// reloadOnHangup re-reads the config file on every SIGHUP until ctx ends.
func reloadOnHangup(ctx context.Context, a *app.App) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := a.ReloadConfig(); err != nil {
				slog.Warn("SIGHUP reload failed", "err", err)
			}
		}
	}
}

// ── mcp ───────────────────────────────────────────────────────────────────────

func newMCPCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the entry points as MCP tools on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()

			a, cleanup, err := g.newApp(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			return mcpserver.ServeStdio(ctx, a.MCPServer())
		},
	}
}

// ── remember / log / end-scene ────────────────────────────────────────────────

type turnOp func(s *rememory.Service, ctx context.Context, chatID string, turn int, opts rememory.Options) rememory.Outcome

var (
	opRemember turnOp = (*rememory.Service).RememberEvent
	opLog      turnOp = (*rememory.Service).LogMessage
	opEndScene turnOp = (*rememory.Service).EndScene
)

// turnFlags are the options shared by the turn subcommands.
type turnFlags struct {
	quiet    bool
	books    []string
	profile  string
	keywords string
	popup    string
	mode     string
	title    string
}

func (f *turnFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.BoolVarP(&f.quiet, "quiet", "q", false, "suppress non-error notices")
	fl.StringSliceVarP(&f.books, "book", "b", nil, "active-book key or book name to write to (repeatable); asks when omitted")
	fl.StringVar(&f.profile, "profile", "", "connection profile override")
	fl.StringVarP(&f.keywords, "keywords", "k", "", "comma-separated keywords; skips keyword generation")
	fl.StringVar(&f.popup, "popup", "", "override pop-up memory creation (true or false)")
	fl.StringVar(&f.mode, "mode", "", "scene end mode override: none, memory or message")
	fl.StringVar(&f.title, "title", "", "entry title override")
}

func (f *turnFlags) options(cmd *cobra.Command) (rememory.Options, error) {
	opts := rememory.Options{
		Quiet:   f.quiet,
		Books:   f.books,
		Profile: f.profile,
		Mode:    f.mode,
		Title:   f.title,
	}
	if cmd.Flags().Changed("keywords") {
		kw := f.keywords
		opts.Keywords = &kw
	}
	if f.popup != "" {
		v, err := strconv.ParseBool(f.popup)
		if err != nil {
			return opts, fmt.Errorf("--popup: %w", err)
		}
		opts.Popup = &v
	}
	return opts, nil
}

func newTurnCmd(g *globals, use, short string, op turnOp) *cobra.Command {
	var f turnFlags
	cmd := &cobra.Command{
		Use:   use + " <chat-id> <turn>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			turn, err := strconv.Atoi(args[1])
			if err != nil || turn < 0 {
				return fmt.Errorf("invalid turn %q", args[1])
			}
			opts, err := f.options(cmd)
			if err != nil {
				return err
			}

			ctx, stop := signalContext(cmd)
			defer stop()

			term := newTerminal(os.Stdin, os.Stderr)
			a, cleanup, err := g.newApp(ctx, app.WithServiceOptions(
				rememory.WithBookChooser(term),
				rememory.WithDecider(term),
				rememory.WithSink(term),
			))
			if err != nil {
				return err
			}
			defer cleanup()

			return printOutcome(op(a.Service(), ctx, args[0], turn, opts))
		},
	}
	f.register(cmd)
	return cmd
}

// ── fade ──────────────────────────────────────────────────────────────────────

func newFadeCmd(g *globals) *cobra.Command {
	var (
		book    string
		verbose bool
	)
	cmd := &cobra.Command{
		Use:   "fade <chat-id>",
		Short: "Fade the pop-up memories of a chat's books once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()

			term := newTerminal(os.Stdin, os.Stderr)
			a, cleanup, err := g.newApp(ctx, app.WithServiceOptions(rememory.WithSink(term)))
			if err != nil {
				return err
			}
			defer cleanup()

			return printOutcome(a.Service().FadeMemories(ctx, args[0], book, !verbose))
		},
	}
	cmd.Flags().StringVarP(&book, "book", "b", "", "active-book key to narrow the sweep to")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "show the fade summary notice")
	return cmd
}

// printOutcome writes the outcome as JSON to stdout. A handled failure ends
// the process with status 2; its notice has already been shown.
func printOutcome(out rememory.Outcome) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(api.NewResponse(out)); err != nil {
		return err
	}
	if out.Err != nil {
		return exitCode(2)
	}
	return nil
}

// ── rename-character ──────────────────────────────────────────────────────────

func newRenameCharacterCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "rename-character <old-id> <new-id>",
		Short: "Move a character's memory book assignment to its new ID",
		Long: "Edits rememory.book_assignments in the config file in place. " +
			"A running server picks the change up through its config watcher.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			moved, err := config.RenameCharacterFile(g.configPath, args[0], args[1])
			if err != nil {
				return err
			}
			if !moved {
				fmt.Fprintf(cmd.ErrOrStderr(), "no book assigned to %q; nothing changed\n", args[0])
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "moved book assignment %q -> %q\n", args[0], args[1])
			return nil
		},
	}
}
