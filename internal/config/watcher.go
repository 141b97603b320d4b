package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultPollInterval is how often [Watcher.Run] looks at the file.
const DefaultPollInterval = 5 * time.Second

// Watcher reloads a config file when its content changes. Edits that fail to
// parse or validate are reported and the previous config stays current.
//
// NewWatcher only performs the initial load; polling happens in [Watcher.Run]
// so the owner decides which goroutine (or errgroup) it runs in.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)
	onError  func(error)

	// mu serializes checks and guards current and seen.
	mu      sync.Mutex
	current *Config
	seen    fileStamp
}

// fileStamp identifies a version of the file. The hash decides whether
// content changed; mtime and size only decide whether to read it.
type fileStamp struct {
	mtime time.Time
	size  int64
	sum   [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Non-positive values keep
// [DefaultPollInterval].
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithErrorHandler registers fn for rejected edits found while polling. The
// default logs a warning.
func WithErrorHandler(fn func(error)) WatcherOption {
	return func(w *Watcher) {
		w.onError = fn
	}
}

// NewWatcher loads path and returns a Watcher that calls onChange with the
// previous and the new config after every accepted edit.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultPollInterval,
		onChange: onChange,
		onError: func(err error) {
			slog.Warn("config watcher: edit rejected, keeping previous config", "path", path, "err", err)
		},
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, stamp, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current = cfg
	w.seen = stamp
	return w, nil
}

// Current returns the most recently accepted config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run polls the file until ctx ends. It always returns nil.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := w.check(false); err != nil {
				w.onError(err)
			}
		}
	}
}

// Reload re-reads the file now, ignoring its modification time. It reports
// whether a new config was applied; an unchanged file is not an error.
func (w *Watcher) Reload() (bool, error) {
	return w.check(true)
}

func (w *Watcher) check(force bool) (bool, error) {
	w.mu.Lock()
	if !force {
		info, err := os.Stat(w.path)
		if err != nil {
			w.mu.Unlock()
			return false, fmt.Errorf("config: watcher: %w", err)
		}
		if info.ModTime().Equal(w.seen.mtime) && info.Size() == w.seen.size {
			w.mu.Unlock()
			return false, nil
		}
	}

	cfg, stamp, err := w.read()
	if stamp.sum == w.seen.sum {
		// Touched or rejected before; remember the stamp so polling stays quiet.
		w.seen = stamp
		w.mu.Unlock()
		return false, nil
	}
	w.seen = stamp
	if err != nil {
		w.mu.Unlock()
		return false, err
	}
	old := w.current
	w.current = cfg
	w.mu.Unlock()

	slog.Info("config watcher: configuration reloaded", "path", w.path, "restart_required", Diff(old, cfg).RestartRequired)

	// Outside the lock so onChange may call Current.
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
	return true, nil
}

// read loads the file and stamps it. The stamp is filled in whenever the
// file could be read, even if the content is invalid.
func (w *Watcher) read() (*Config, fileStamp, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, fileStamp{}, fmt.Errorf("config: watcher: %w", err)
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, fileStamp{}, fmt.Errorf("config: watcher: %w", err)
	}
	stamp := fileStamp{mtime: info.ModTime(), size: info.Size(), sum: sha256.Sum256(data)}

	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, stamp, err
	}
	return cfg, stamp, nil
}
