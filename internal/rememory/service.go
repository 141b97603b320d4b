// Package rememory implements the ReMemory entry points: remembering an
// event, logging a message, ending a scene and fading popup memories.
//
// Every entry point reports what happened through notices and returns an
// [Outcome]; none of them returns an error. Outcome.Err carries the handled
// failure kind so adapters can map it to a status code.
package rememory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MrWong99/rememory/internal/completion"
	"github.com/MrWong99/rememory/internal/config"
	"github.com/MrWong99/rememory/internal/memory"
	"github.com/MrWong99/rememory/internal/notify"
	"github.com/MrWong99/rememory/internal/observe"
	"github.com/MrWong99/rememory/internal/scene"
	"github.com/MrWong99/rememory/internal/summary"
	"github.com/MrWong99/rememory/internal/transform"
	"github.com/MrWong99/rememory/pkg/chat"
	"github.com/MrWong99/rememory/pkg/lore"
	"github.com/MrWong99/rememory/pkg/tokens"
	"github.com/MrWong99/rememory/pkg/types"
)

// Handled failure kinds reported in [Outcome.Err].
var (
	ErrNoBookSelected = errors.New("rememory: no books selected")
	ErrInvalidBook    = memory.ErrInvalidBook
	ErrEmptyContent   = summary.ErrEmptyContent
	ErrEmptySummary   = summary.ErrEmptySummary
	ErrCancelled      = summary.ErrCancelled
	ErrCompletion     = completion.ErrFailed
	ErrChatNotFound   = chat.ErrNotFound
	ErrTurnOutOfRange = scene.ErrTurnOutOfRange
)

// DefaultMaxContext is the context size used when neither the settings nor
// the model report one.
const DefaultMaxContext = 4096

// Completer is the completion service the pipeline runs on.
type Completer interface {
	summary.Completer

	// Capabilities describes the model currently selected.
	Capabilities() types.ModelCapabilities
}

// BookChooser asks the user which active books a memory goes to. keys are
// the active-book keys; the answer is a subset of them. An empty answer
// means the user declined.
type BookChooser interface {
	ChooseBooks(ctx context.Context, keys []string) ([]string, error)
}

// BookChooserFunc adapts a function to [BookChooser].
type BookChooserFunc func(ctx context.Context, keys []string) ([]string, error)

// ChooseBooks implements [BookChooser].
func (f BookChooserFunc) ChooseBooks(ctx context.Context, keys []string) ([]string, error) {
	return f(ctx, keys)
}

// Options tune a single entry-point call.
type Options struct {
	// Quiet suppresses info, success and warning notices. Errors are always
	// shown.
	Quiet bool `json:"quiet,omitempty"`

	// Books lists active-book keys (or bound book names) to write to instead
	// of asking.
	Books []string `json:"books,omitempty"`

	// Profile overrides the generation profile.
	Profile string `json:"profile,omitempty"`

	// Keywords is a comma-separated keyword override. When set, no keywords
	// are generated.
	Keywords *string `json:"keywords,omitempty"`

	// Popup overrides whether a popup entry is created.
	Popup *bool `json:"popup,omitempty"`

	// Mode overrides the scene-end mode (case-insensitive). Unknown values
	// keep the configured mode.
	Mode string `json:"mode,omitempty"`

	// Title replaces the default entry title.
	Title string `json:"title,omitempty"`
}

// Outcome reports what an entry point did.
type Outcome struct {
	// Memory is the stored memory text, or the scene summary in message mode.
	Memory   string
	Keywords []string

	// Books are the book names entries were written to.
	Books []string

	// Faded and Purged count the fade sweep, if one ran.
	Faded  int
	Purged int

	// Boundary is the turn marked as scene end, or -1.
	Boundary int

	Notices []notify.Notice

	// Err is the handled failure, nil on success.
	Err error
}

// Service runs the entry points. It is safe for concurrent use; concurrent
// calls on the same chat are not serialized.
type Service struct {
	chats     chat.Store
	books     lore.Store
	completer Completer

	editor  lore.Editor
	view    chat.View
	counter tokens.Counter
	chooser BookChooser
	decider summary.Decider
	sink    notify.Sink
	metrics *observe.Metrics
	now     func() time.Time

	mu          sync.RWMutex
	settings    config.MemorySettings
	transformer transform.Transformer
}

// Option configures a [Service].
type Option func(*Service)

// WithEditor sets the editor refreshed after book writes.
func WithEditor(e lore.Editor) Option {
	return func(s *Service) { s.editor = e }
}

// WithView sets the view notified of changed turns.
func WithView(v chat.View) Option {
	return func(s *Service) { s.view = v }
}

// WithCounter sets the token counter used for chunking. Defaults to
// [tokens.Default].
func WithCounter(c tokens.Counter) Option {
	return func(s *Service) { s.counter = c }
}

// WithTransformer sets the per-turn text transform.
func WithTransformer(t transform.Transformer) Option {
	return func(s *Service) { s.transformer = t }
}

// WithBookChooser sets the interactive book chooser. Without one, calls
// that name no books use every active book when auto_books is set and fail
// with [ErrNoBookSelected] otherwise.
func WithBookChooser(c BookChooser) Option {
	return func(s *Service) { s.chooser = c }
}

// WithDecider sets the chunk retry decider. Without one every scene gets a
// fresh [summary.Budget] of chunk_retries retries per chunk.
func WithDecider(d summary.Decider) Option {
	return func(s *Service) { s.decider = d }
}

// WithSink sets where notices are delivered besides the [Outcome].
func WithSink(sink notify.Sink) Option {
	return func(s *Service) { s.sink = sink }
}

// WithMetrics sets the metrics instance. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithSettings sets the initial memory settings. Defaults to
// [config.DefaultMemorySettings].
func WithSettings(ms config.MemorySettings) Option {
	return func(s *Service) { s.settings = ms }
}

// WithClock overrides time.Now for entry titles.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New returns a Service reading transcripts from chats, writing memories to
// books and generating text with completer.
func New(chats chat.Store, books lore.Store, completer Completer, opts ...Option) *Service {
	s := &Service{
		chats:       chats,
		books:       books,
		completer:   completer,
		editor:      lore.NopEditor{},
		view:        chat.NopView{},
		settings:    config.DefaultMemorySettings(),
		transformer: transform.Identity{},
		sink:        notify.LogSink{},
		now:         time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.counter == nil {
		s.counter = tokens.Default()
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Configure replaces the memory settings and text transform. A nil
// transformer keeps the current one.
func (s *Service) Configure(ms config.MemorySettings, tr transform.Transformer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = ms
	if tr != nil {
		s.transformer = tr
	}
}

// Settings returns the current memory settings.
func (s *Service) Settings() config.MemorySettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

func (s *Service) snapshot() (config.MemorySettings, transform.Transformer) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings, s.transformer
}

// ─────────────────────────────────────────────────────────────────────────────
// Per-call plumbing
// ─────────────────────────────────────────────────────────────────────────────

// call holds the state of one entry-point invocation.
type call struct {
	s         *Service
	op        string
	settings  config.MemorySettings
	tr        transform.Transformer
	opts      Options
	n         *notify.Notifier
	collector *notify.Collector
	start     time.Time
	out       Outcome
}

func (s *Service) begin(ctx context.Context, op, chatID string, opts Options) (context.Context, *call, func()) {
	ctx, span := observe.StartOperation(ctx, "rememory."+op,
		observe.Attr("chat", chatID),
	)
	settings, tr := s.snapshot()
	collector := &notify.Collector{}
	c := &call{
		s:         s,
		op:        op,
		settings:  settings,
		tr:        tr,
		opts:      opts,
		n:         notify.New(notify.Multi{collector, s.sink}, opts.Quiet),
		collector: collector,
		start:     time.Now(),
		out:       Outcome{Boundary: -1},
	}
	s.metrics.ActiveOperations.Add(ctx, 1)
	return ctx, c, func() {
		s.metrics.ActiveOperations.Add(ctx, -1)
		span.End()
	}
}

// finish stamps the outcome and records the operation.
func (c *call) finish(ctx context.Context, err error) Outcome {
	c.out.Err = err
	c.out.Notices = c.collector.Notices()
	c.s.metrics.RecordOperation(ctx, c.op, outcomeLabel(err), time.Since(c.start))
	log := observe.Logger(ctx)
	if err != nil {
		log.Info("rememory: operation ended early", "op", c.op, "err", err)
	} else {
		log.Debug("rememory: operation done", "op", c.op, "books", c.out.Books)
	}
	return c.out
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrCompletion):
		return "completion_error"
	case errors.Is(err, ErrNoBookSelected):
		return "no_book"
	case errors.Is(err, ErrInvalidBook):
		return "invalid_book"
	case errors.Is(err, ErrEmptyContent):
		return "empty_content"
	case errors.Is(err, ErrEmptySummary):
		return "empty_summary"
	case errors.Is(err, ErrCancelled):
		return "cancelled"
	default:
		return "error"
	}
}

// loadChat loads the chat and checks that turn exists.
func (c *call) loadChat(ctx context.Context, chatID string, turn int) (*chat.Chat, error) {
	ch, err := c.s.chats.LoadChat(ctx, chatID)
	if err != nil {
		c.n.Error(ctx, "Chat %q could not be loaded.", chatID)
		return nil, err
	}
	if ch.Turn(turn) == nil {
		c.n.Error(ctx, "Message %d does not exist.", turn)
		return nil, scene.ErrTurnOutOfRange
	}
	return ch, nil
}

func (c *call) completer() summary.Completer { return c.s.completer }

func (c *call) profile() string {
	if c.opts.Profile != "" {
		return c.opts.Profile
	}
	return c.settings.Profile
}

func (c *call) summarizer() *summary.Summarizer {
	return &summary.Summarizer{
		Completer: c.completer(),
		Template:  c.settings.MemoryPromptTemplate,
		Profile:   c.profile(),
		Notifier:  c.n,
		Metrics:   c.s.metrics,
	}
}

func (c *call) manager() *memory.Manager {
	return &memory.Manager{
		Books:   c.s.books,
		Editor:  c.s.editor,
		Metrics: c.s.metrics,
		Now:     c.s.now,
	}
}

func (c *call) tracker() *scene.Tracker {
	return &scene.Tracker{Chats: c.s.chats, View: c.s.view}
}

func (c *call) decider() summary.Decider {
	if c.s.decider != nil {
		return c.s.decider
	}
	return &summary.Budget{Retries: c.settings.ChunkRetries}
}

func (c *call) maxContext() int {
	if c.settings.MaxContext > 0 {
		return c.settings.MaxContext
	}
	if w := c.s.completer.Capabilities().ContextWindow; w > 0 {
		return w
	}
	return DefaultMaxContext
}
