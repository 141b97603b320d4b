// Package app wires the ReMemory subsystems into a running server.
//
// The App owns the full lifecycle: New builds the stores, connection
// profiles, the process-wide rate limiter and the memory service from the
// config; Run serves HTTP and runs the fade scheduler and config watcher;
// Reload applies a changed config in place; Shutdown tears everything down
// in order.
//
// For testing, inject stores and service collaborators via functional
// options. When an option is not provided, New creates real implementations
// from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/rememory/internal/api"
	"github.com/MrWong99/rememory/internal/completion"
	"github.com/MrWong99/rememory/internal/config"
	"github.com/MrWong99/rememory/internal/health"
	"github.com/MrWong99/rememory/internal/mcpserver"
	"github.com/MrWong99/rememory/internal/observe"
	"github.com/MrWong99/rememory/internal/ratelimit"
	"github.com/MrWong99/rememory/internal/rememory"
	"github.com/MrWong99/rememory/internal/resilience"
	"github.com/MrWong99/rememory/internal/session"
	"github.com/MrWong99/rememory/internal/transform"
	"github.com/MrWong99/rememory/pkg/chat"
	"github.com/MrWong99/rememory/pkg/chat/jsonl"
	"github.com/MrWong99/rememory/pkg/lore"
	"github.com/MrWong99/rememory/pkg/lore/jsondir"
	"github.com/MrWong99/rememory/pkg/provider/llm"
	"github.com/MrWong99/rememory/pkg/store/postgres"
	"github.com/MrWong99/rememory/pkg/tokens"
)

// shutdownGrace bounds how long in-flight HTTP requests may take once Run's
// context ends.
const shutdownGrace = 15 * time.Second

// App owns all subsystem lifetimes of a ReMemory process.
type App struct {
	reg     *config.Registry
	metrics *observe.Metrics
	level   *slog.LevelVar
	version string

	// Subsystems, initialised in New.
	chats     chat.Store
	books     lore.Store
	pinger    health.Pinger
	profiles  *completion.ProfileSet
	limiter   *ratelimit.Limiter
	client    *completion.Client
	service   *rememory.Service
	scheduler *session.FadeScheduler
	mcp       *mcpsdk.Server
	svcOpts   []rememory.Option

	metricsHandler http.Handler

	mu          sync.Mutex
	cfg         *config.Config
	backends    map[string]*resilience.LLMFallback
	transformer transform.Transformer
	watcher     *config.Watcher

	// closers are called in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithChatStore injects a transcript store instead of creating one from
// config.
func WithChatStore(s chat.Store) Option {
	return func(a *App) { a.chats = s }
}

// WithBookStore injects a lore book store instead of creating one from
// config.
func WithBookStore(s lore.Store) Option {
	return func(a *App) { a.books = s }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler sets the handler served at GET /metrics. Default: the
// Prometheus default registry.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithLogLevel lets Reload change the level of the process logger.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithServiceOptions passes extra options to the memory service, e.g. an
// interactive book chooser for the CLI.
func WithServiceOptions(opts ...rememory.Option) Option {
	return func(a *App) { a.svcOpts = append(a.svcOpts, opts...) }
}

// WithVersion sets the version reported to MCP clients.
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App from cfg. Profile backends are constructed through reg.
func New(ctx context.Context, cfg *config.Config, reg *config.Registry, opts ...Option) (*App, error) {
	a := &App{
		cfg:     cfg,
		reg:     reg,
		version: "dev",
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Storage ───────────────────────────────────────────────────────
	if err := a.initStorage(ctx); err != nil {
		return nil, fmt.Errorf("app: init storage: %w", err)
	}

	// ── 2. Connection profiles ───────────────────────────────────────────
	backends, err := a.buildBackends(cfg)
	if err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init profiles: %w", err)
	}
	a.backends = backends
	a.profiles = completion.NewProfileSet()
	a.syncProfiles(nil, cfg)

	// ── 3. Rate limiter + completion client ──────────────────────────────
	a.limiter = ratelimit.New(cfg.Memory.RateLimit, ratelimit.WithWaitObserver(func(d time.Duration) {
		a.metrics.RecordRateLimitWait(context.Background(), d)
	}))
	a.client = completion.New(a.profiles, a.limiter,
		completion.WithMetrics(a.metrics),
		completion.WithSettings(completionSettings(cfg.Memory)),
	)

	// ── 4. Memory service ────────────────────────────────────────────────
	tr, err := compileTransforms(cfg.Transforms)
	if err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: %w", err)
	}
	a.transformer = tr
	svcOpts := []rememory.Option{
		rememory.WithSettings(cfg.Memory),
		rememory.WithTransformer(tr),
		rememory.WithCounter(newCounter(cfg.Memory.TokenEncoding)),
		rememory.WithMetrics(a.metrics),
	}
	a.service = rememory.New(a.chats, a.books, a.client, append(svcOpts, a.svcOpts...)...)

	// ── 5. Fade scheduler + MCP ──────────────────────────────────────────
	a.scheduler = session.NewFadeScheduler(session.FadeSchedulerConfig{
		Fader:    a.service,
		Interval: cfg.FadeSchedule.Interval,
		Chats:    cfg.FadeSchedule.Chats,
	})
	a.mcp = mcpserver.New(a.service, mcpserver.WithMetrics(a.metrics), mcpserver.WithVersion(a.version))

	slog.Info("app initialised",
		"storage", cfg.Storage.Driver,
		"profiles", a.profiles.IDs(),
		"active_profile", a.profiles.Selected(),
		"transforms", len(cfg.Transforms),
	)
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStorage creates the stores selected by storage.driver unless both were
// injected.
func (a *App) initStorage(ctx context.Context) error {
	if a.chats != nil && a.books != nil {
		return nil
	}

	var (
		chats chat.Store
		books lore.Store
		sc    = a.cfg.Storage
	)
	switch sc.Driver {
	case config.StorageFiles:
		cs, err := jsonl.New(sc.ChatsDir)
		if err != nil {
			return err
		}
		bs, err := jsondir.New(sc.BooksDir)
		if err != nil {
			return err
		}
		chats, books = cs, bs
	case config.StoragePostgres:
		if sc.PostgresDSN == "" {
			return errors.New("storage.postgres_dsn is required for the postgres driver")
		}
		st, err := postgres.NewStore(ctx, sc.PostgresDSN)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() error { st.Close(); return nil })
		a.pinger = st
		chats, books = st, st
	default:
		chats, books = chat.NewMemStore(), lore.NewMemStore()
	}

	if a.chats == nil {
		a.chats = chats
	}
	if a.books == nil {
		a.books = books
	}
	return nil
}

// buildBackends constructs every profile's provider and chains its fallback
// profiles behind circuit breakers.
func (a *App) buildBackends(cfg *config.Config) (map[string]*resilience.LLMFallback, error) {
	base := make(map[string]llm.Provider, len(cfg.Profiles))
	for _, p := range cfg.Profiles {
		prov, err := a.reg.CreateLLM(p.Entry())
		if err != nil {
			return nil, fmt.Errorf("profile %q: %w", p.ID, err)
		}
		base[p.ID] = prov
		slog.Debug("profile backend created", "profile", p.ID, "provider", p.Provider, "model", p.Model)
	}

	breaker := resilience.CircuitBreakerConfig{
		MaxFailures:  cfg.Resilience.MaxFailures,
		ResetTimeout: cfg.Resilience.ResetTimeout,
	}
	out := make(map[string]*resilience.LLMFallback, len(cfg.Profiles))
	for _, p := range cfg.Profiles {
		fb := resilience.NewLLMFallback(p.ID, base[p.ID], breaker)
		for _, id := range p.Fallbacks {
			fb.AddFallback(id, base[id])
		}
		out[p.ID] = fb
	}
	return out, nil
}

// syncProfiles makes the profile set match cfg using a.backends. old is the
// previous config, or nil on startup.
func (a *App) syncProfiles(old, cfg *config.Config) {
	keep := make(map[string]bool, len(cfg.Profiles))
	for _, p := range cfg.Profiles {
		keep[p.ID] = true
		name := p.Name
		if name == "" {
			name = p.ID
		}
		a.profiles.Add(completion.Profile{ID: p.ID, Name: name, Provider: a.backends[p.ID]})
	}
	if old != nil {
		for _, p := range old.Profiles {
			if !keep[p.ID] {
				a.profiles.Remove(p.ID)
			}
		}
	}
	if id := cfg.Memory.ActiveProfile; id != "" {
		if _, err := a.profiles.Select(id); err != nil {
			slog.Warn("active profile not selectable", "profile", id, "err", err)
		}
	}
}

func completionSettings(ms config.MemorySettings) completion.Settings {
	return completion.Settings{
		Profile:         ms.Profile,
		ReasoningPrefix: ms.Reasoning.Prefix,
		ReasoningSuffix: ms.Reasoning.Suffix,
	}
}

func compileTransforms(scripts []transform.Script) (transform.Transformer, error) {
	if len(scripts) == 0 {
		return transform.Identity{}, nil
	}
	e, err := transform.Compile(scripts)
	if err != nil {
		return nil, fmt.Errorf("compile transforms: %w", err)
	}
	return e, nil
}

// newCounter loads the configured BPE encoding, falling back to the
// process default.
func newCounter(encoding string) tokens.Counter {
	if encoding == "" || encoding == tokens.DefaultEncoding {
		return tokens.Default()
	}
	t, err := tokens.NewTiktoken(encoding)
	if err != nil {
		slog.Warn("token encoding unavailable; using default", "encoding", encoding, "err", err)
		return tokens.Default()
	}
	return t
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Service returns the memory service.
func (a *App) Service() *rememory.Service { return a.service }

// MCPServer returns the MCP tool server.
func (a *App) MCPServer() *mcpsdk.Server { return a.mcp }

// Config returns the config currently applied.
func (a *App) Config() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

func (a *App) breakerReporters() map[string]health.BreakerReporter {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]health.BreakerReporter, len(a.backends))
	for id, b := range a.backends {
		out[id] = b
	}
	return out
}

// ─── HTTP ────────────────────────────────────────────────────────────────────

// Handler returns the HTTP handler serving the API, health probes, metrics
// and, when enabled, the MCP endpoint.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()

	checkers := []health.Checker{{
		Name: "profiles",
		Check: func(ctx context.Context) error {
			return health.Profiles(a.breakerReporters()).Check(ctx)
		},
	}}
	if a.pinger != nil {
		checkers = append(checkers, health.Storage(a.pinger))
	}
	health.New(checkers...).Register(mux)

	api.New(a.service).Register(mux)
	metricsHandler := a.metricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	mux.Handle("GET /metrics", metricsHandler)
	if a.Config().MCP.HTTP {
		mux.Handle("/mcp", mcpserver.HTTPHandler(a.mcp))
	}

	return observe.Middleware(a.metrics)(mux)
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP on server.listen_addr and runs the fade scheduler until ctx
// is cancelled or the listener fails. A cancelled ctx is a clean exit.
func (a *App) Run(ctx context.Context) error {
	cfg := a.Config()
	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("http server listening", "addr", srv.Addr, "tls", cfg.Server.TLS != nil)
		var err error
		if tls := cfg.Server.TLS; tls != nil {
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: http server: %w", err)
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return a.scheduler.Run(ctx)
	})
	a.mu.Lock()
	w := a.watcher
	a.mu.Unlock()
	if w != nil {
		g.Go(func() error {
			return w.Run(ctx)
		})
	}

	return g.Wait()
}

// Watch loads path and, once [App.Run] is running, reloads the config
// whenever the file changes. Call it before Run.
func (a *App) Watch(path string) error {
	w, err := config.NewWatcher(path, a.Reload, config.WithErrorHandler(func(err error) {
		slog.Warn("config reload rejected, keeping previous config", "path", path, "err", err)
		a.metrics.RecordConfigReload(context.Background(), err)
	}))
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}
	a.mu.Lock()
	a.watcher = w
	a.mu.Unlock()
	return nil
}

// ReloadConfig re-reads the watched config file now. It is a no-op when
// [App.Watch] was not called.
func (a *App) ReloadConfig() error {
	a.mu.Lock()
	w := a.watcher
	a.mu.Unlock()
	if w == nil {
		return nil
	}
	_, err := w.Reload()
	if err != nil {
		a.metrics.RecordConfigReload(context.Background(), err)
		return fmt.Errorf("app: reload config: %w", err)
	}
	return nil
}

// ─── Reload ──────────────────────────────────────────────────────────────────

// Reload applies the hot-reloadable differences between old and new. Server
// and storage changes are only logged; they take effect after a restart.
func (a *App) Reload(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.IsZero() {
		return
	}

	if d.LogLevelChanged && a.level != nil {
		a.level.Set(SlogLevel(d.NewLogLevel))
		slog.Info("config reload: log level changed", "level", d.NewLogLevel)
	}

	if d.ProfilesChanged {
		backends, err := a.buildBackends(new)
		if err != nil {
			slog.Error("config reload: profiles not applied", "err", err)
		} else {
			a.mu.Lock()
			a.backends = backends
			a.mu.Unlock()
			a.syncProfiles(old, new)
			slog.Info("config reload: profiles updated", "changes", len(d.ProfileChanges))
		}
	} else if old.Memory.ActiveProfile != new.Memory.ActiveProfile {
		a.syncProfiles(old, new)
	}

	if d.RateLimitChanged {
		a.limiter.SetRate(new.Memory.RateLimit)
		slog.Info("config reload: rate limit changed", "per_minute", new.Memory.RateLimit, "interval", a.limiter.Interval())
	}

	if d.MemoryChanged || d.TransformsChanged {
		a.mu.Lock()
		tr := a.transformer
		a.mu.Unlock()
		if d.TransformsChanged {
			next, err := compileTransforms(new.Transforms)
			if err != nil {
				slog.Error("config reload: transforms not applied", "err", err)
			} else {
				tr = next
			}
		}
		a.mu.Lock()
		a.transformer = tr
		a.mu.Unlock()
		a.client.Configure(completionSettings(new.Memory))
		a.service.Configure(new.Memory, tr)
		slog.Info("config reload: memory settings applied")
	}

	if d.FadeScheduleChanged {
		a.scheduler.Reconfigure(new.FadeSchedule.Interval, new.FadeSchedule.Chats)
		slog.Info("config reload: fade schedule changed", "interval", new.FadeSchedule.Interval, "chats", len(new.FadeSchedule.Chats))
	}

	if d.RestartRequired {
		slog.Warn("config reload: server or storage settings changed; restart to apply")
	}

	a.mu.Lock()
	a.cfg = new
	a.mu.Unlock()
	a.metrics.RecordConfigReload(context.Background(), nil)
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the scheduler and runs the closers in order. If ctx expires
// first, the remaining closers are skipped and the context error is
// returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.scheduler.Stop()

		a.mu.Lock()
		closers := a.closers
		a.mu.Unlock()
		slog.Info("shutting down", "closers", len(closers))

		for i, closer := range closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll releases whatever New acquired before it failed.
func (a *App) closeAll() {
	for _, c := range a.closers {
		_ = c()
	}
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// SlogLevel converts a configured log level to its slog equivalent.
func SlogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
