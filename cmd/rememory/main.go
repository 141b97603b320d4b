// Command rememory turns roleplay chat transcripts into lore-book memories.
//
// It runs as an HTTP server (serve), as an MCP tool server on stdio (mcp), or
// performs a single entry point from the terminal (remember, log,
// end-scene, fade).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/spf13/cobra"

	"github.com/MrWong99/rememory/internal/app"
	"github.com/MrWong99/rememory/internal/config"
	"github.com/MrWong99/rememory/internal/observe"
	"github.com/MrWong99/rememory/pkg/provider/llm"
	"github.com/MrWong99/rememory/pkg/provider/llm/anyllm"
	"github.com/MrWong99/rememory/pkg/provider/llm/openai"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		var ec exitCode
		if errors.As(err, &ec) {
			return int(ec)
		}
		fmt.Fprintf(os.Stderr, "rememory: %v\n", err)
		return 1
	}
	return 0
}

// exitCode ends the process with a status without printing anything more.
type exitCode int

func (e exitCode) Error() string { return fmt.Sprintf("exit status %d", int(e)) }

// globals are the persistent flags shared by every subcommand.
type globals struct {
	configPath string
	level      *slog.LevelVar
}

func newRootCmd() *cobra.Command {
	g := &globals{level: new(slog.LevelVar)}

	root := &cobra.Command{
		Use:           "rememory",
		Short:         "Summarize roleplay chats into lore-book memories",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.configPath, "config", "config.yaml", "path to the YAML configuration file")

	root.AddCommand(
		newServeCmd(g),
		newMCPCmd(g),
		newTurnCmd(g, "remember", "Summarize the chat up to a turn into a memory", opRemember),
		newTurnCmd(g, "log", "Store a single turn as a memory", opLog),
		newTurnCmd(g, "end-scene", "Summarize the scene ending at a turn and mark it", opEndScene),
		newFadeCmd(g),
		newRenameCharacterCmd(g),
	)
	return root
}

// loadConfig reads the config and installs the process logger.
func (g *globals) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config file %q not found; copy configs/example.yaml to get started", g.configPath)
		}
		return nil, err
	}

	g.level.Set(app.SlogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: g.level})))
	return cfg, nil
}

// newApp loads the config, initialises telemetry and builds the application.
// The returned cleanup shuts both down.
func (g *globals) newApp(ctx context.Context, opts ...app.Option) (*app.App, func(), error) {
	cfg, err := g.loadConfig()
	if err != nil {
		return nil, nil, err
	}

	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		return nil, nil, fmt.Errorf("init telemetry: %w", err)
	}
	metrics, err := observe.NewMetrics(tel.MeterProvider)
	if err != nil {
		_ = tel.Shutdown(context.Background())
		return nil, nil, fmt.Errorf("init metrics: %w", err)
	}

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	opts = append([]app.Option{
		app.WithLogLevel(g.level),
		app.WithMetrics(metrics),
		app.WithMetricsHandler(tel.Handler()),
		app.WithVersion(version),
	}, opts...)
	a, err := app.New(ctx, cfg, reg, opts...)
	if err != nil {
		_ = tel.Shutdown(context.Background())
		return nil, nil, err
	}

	cleanup := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := a.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "err", err)
		}
		if err := tel.Shutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}
	return a, cleanup, nil
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires every built-in completion backend into reg.
// "openai" uses the native OpenAI client, which also serves OpenAI-compatible
// local servers through base_url; every other name goes through any-llm-go.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, openai.WithOrganization(org))
		}
		if d, err := time.ParseDuration(optString(entry.Options, "timeout")); err == nil {
			opts = append(opts, openai.WithTimeout(d))
		}
		if n := optInt(entry.Options, "context_window"); n > 0 {
			opts = append(opts, openai.WithContextWindow(n))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})

	for _, name := range anyllm.Backends {
		if name == "openai" {
			continue
		}
		reg.RegisterLLM(name, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(name, entry.Model, opts...)
		})
	}

	slog.Debug("registered providers", "llm", reg.LLMNames())
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optInt extracts an integer value from a provider Options map. YAML
// numbers decode as int or float64.
func optInt(opts map[string]any, key string) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}
