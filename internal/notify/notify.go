// Package notify delivers user-facing notices (the host's toasts).
//
// Four severities exist. A [Notifier] created with quiet set drops info,
// success and warning notices; errors are always delivered.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Level is the severity of a notice.
type Level int

const (
	LevelInfo Level = iota
	LevelSuccess
	LevelWarning
	LevelError
)

// String returns the lower-case level name.
func (l Level) String() string {
	switch l {
	case LevelInfo:
		return "info"
	case LevelSuccess:
		return "success"
	case LevelWarning:
		return "warning"
	case LevelError:
		return "error"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// ParseLevel returns the level named s.
func ParseLevel(s string) (Level, error) {
	switch s {
	case "info":
		return LevelInfo, nil
	case "success":
		return LevelSuccess, nil
	case "warning":
		return LevelWarning, nil
	case "error":
		return LevelError, nil
	default:
		return 0, fmt.Errorf("notify: unknown level %q", s)
	}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Level) UnmarshalText(text []byte) error {
	v, err := ParseLevel(string(text))
	if err != nil {
		return err
	}
	*l = v
	return nil
}

// Notice is one message shown to the user.
type Notice struct {
	Level Level     `json:"level"`
	Text  string    `json:"text"`
	Time  time.Time `json:"time"`
}

// Sink receives notices. Implementations must be safe for concurrent use.
type Sink interface {
	Notify(ctx context.Context, n Notice)
}

// Notifier formats notices and applies the quiet policy before handing them
// to a [Sink].
type Notifier struct {
	sink  Sink
	quiet bool
}

// New returns a Notifier writing to sink. A nil sink discards everything, as
// does a nil *Notifier.
func New(sink Sink, quiet bool) *Notifier {
	return &Notifier{sink: sink, quiet: quiet}
}

// Quiet reports whether non-error notices are suppressed.
func (n *Notifier) Quiet() bool { return n == nil || n.quiet }

// Info shows a progress notice.
func (n *Notifier) Info(ctx context.Context, format string, args ...any) {
	n.emit(ctx, LevelInfo, format, args)
}

// Success shows a completion notice.
func (n *Notifier) Success(ctx context.Context, format string, args ...any) {
	n.emit(ctx, LevelSuccess, format, args)
}

// Warning shows a recoverable problem.
func (n *Notifier) Warning(ctx context.Context, format string, args ...any) {
	n.emit(ctx, LevelWarning, format, args)
}

// Error shows a failure. Errors ignore the quiet flag.
func (n *Notifier) Error(ctx context.Context, format string, args ...any) {
	n.emit(ctx, LevelError, format, args)
}

func (n *Notifier) emit(ctx context.Context, level Level, format string, args []any) {
	if n == nil {
		return
	}
	text := format
	if len(args) > 0 {
		text = fmt.Sprintf(format, args...)
	}
	if n.quiet && level != LevelError {
		slog.DebugContext(ctx, "notify: suppressed", "level", level.String(), "text", text)
		return
	}
	if n.sink == nil {
		return
	}
	n.sink.Notify(ctx, Notice{Level: level, Text: text, Time: time.Now()})
}

// ─────────────────────────────────────────────────────────────────────────────
// Sinks
// ─────────────────────────────────────────────────────────────────────────────

// LogSink writes notices to a structured logger.
type LogSink struct {
	Logger *slog.Logger
}

// Notify implements [Sink].
func (s LogSink) Notify(ctx context.Context, n Notice) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	lvl := slog.LevelInfo
	switch n.Level {
	case LevelWarning:
		lvl = slog.LevelWarn
	case LevelError:
		lvl = slog.LevelError
	}
	logger.Log(ctx, lvl, n.Text, "notice", n.Level.String())
}

// Collector keeps every notice it receives, in order.
type Collector struct {
	mu      sync.Mutex
	notices []Notice
}

// Notify implements [Sink].
func (c *Collector) Notify(_ context.Context, n Notice) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notices = append(c.notices, n)
}

// Notices returns a copy of the collected notices.
func (c *Collector) Notices() []Notice {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Notice, len(c.notices))
	copy(out, c.notices)
	return out
}

// Texts returns the text of every collected notice at the given level.
func (c *Collector) Texts(level Level) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, n := range c.notices {
		if n.Level == level {
			out = append(out, n.Text)
		}
	}
	return out
}

// Multi fans a notice out to several sinks in order.
type Multi []Sink

// Notify implements [Sink].
func (m Multi) Notify(ctx context.Context, n Notice) {
	for _, s := range m {
		if s != nil {
			s.Notify(ctx, n)
		}
	}
}
