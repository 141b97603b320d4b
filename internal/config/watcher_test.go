package config_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/rememory/internal/config"
)

const watcherValidYAML = `
server:
  log_level: info
profiles:
  - id: main
    provider: openai
rememory:
  popup_pct: 10
`

const watcherUpdatedYAML = `
server:
  log_level: debug
profiles:
  - id: main
    provider: openai
rememory:
  popup_pct: 25
`

const watcherInvalidYAML = `
server:
  log_level: bananas
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write file %q: %v", path, err)
	}
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	w, err := config.NewWatcher(cfgPath, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cfg := w.Current()
	if cfg == nil {
		t.Fatal("Current() returned nil after initial load")
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level: got %q, want %q", cfg.Server.LogLevel, config.LogInfo)
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()
	if _, err := config.NewWatcher("/nonexistent/path.yaml", nil); err == nil {
		t.Fatal("expected error for non-existent file, got nil")
	}
}

// recorder collects onChange calls.
type recorder struct {
	mu    sync.Mutex
	calls [][2]*config.Config
	fired chan struct{}
}

func newRecorder() *recorder { return &recorder{fired: make(chan struct{}, 8)} }

func (r *recorder) onChange(old, new *config.Config) {
	r.mu.Lock()
	r.calls = append(r.calls, [2]*config.Config{old, new})
	r.mu.Unlock()
	r.fired <- struct{}{}
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func TestWatcher_ReloadAppliesEdit(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	rec := newRecorder()
	w, err := config.NewWatcher(cfgPath, rec.onChange)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	writeFile(t, cfgPath, watcherUpdatedYAML)
	changed, err := w.Reload()
	if err != nil || !changed {
		t.Fatalf("Reload = %v, %v; want true, nil", changed, err)
	}

	if rec.count() != 1 {
		t.Fatalf("onChange calls = %d, want 1", rec.count())
	}
	old, cur := rec.calls[0][0], rec.calls[0][1]
	if old.Server.LogLevel != config.LogInfo {
		t.Errorf("old log_level: got %q, want %q", old.Server.LogLevel, config.LogInfo)
	}
	if cur.Server.LogLevel != config.LogDebug || cur.Memory.PopupPct != 25 {
		t.Errorf("new config: log_level %q popup_pct %d", cur.Server.LogLevel, cur.Memory.PopupPct)
	}
	if w.Current() != cur {
		t.Error("Current() is not the applied config")
	}
}

func TestWatcher_ReloadUnchanged(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	rec := newRecorder()
	w, err := config.NewWatcher(cfgPath, rec.onChange)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	// Same content rewritten.
	writeFile(t, cfgPath, watcherValidYAML)
	changed, err := w.Reload()
	if err != nil || changed {
		t.Errorf("Reload = %v, %v; want false, nil", changed, err)
	}
	if rec.count() != 0 {
		t.Errorf("onChange calls = %d, want 0", rec.count())
	}
}

func TestWatcher_ReloadRejectsInvalidEdit(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	rec := newRecorder()
	w, err := config.NewWatcher(cfgPath, rec.onChange)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	before := w.Current()

	writeFile(t, cfgPath, watcherInvalidYAML)
	if changed, err := w.Reload(); err == nil || changed {
		t.Fatalf("Reload = %v, %v; want false, error", changed, err)
	}
	if w.Current() != before {
		t.Error("invalid edit replaced the current config")
	}

	// The same bad content is reported once.
	if changed, err := w.Reload(); err != nil || changed {
		t.Errorf("second Reload = %v, %v; want false, nil", changed, err)
	}

	// Fixing the file is picked up.
	writeFile(t, cfgPath, watcherUpdatedYAML)
	if changed, err := w.Reload(); err != nil || !changed {
		t.Errorf("Reload after fix = %v, %v; want true, nil", changed, err)
	}
	if rec.count() != 1 {
		t.Errorf("onChange calls = %d, want 1", rec.count())
	}
}

func TestWatcher_RunDetectsChange(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	rec := newRecorder()
	w, err := config.NewWatcher(cfgPath, rec.onChange, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	writeFile(t, cfgPath, watcherUpdatedYAML)
	future := time.Now().Add(time.Second)
	if err := os.Chtimes(cfgPath, future, future); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}

	select {
	case <-rec.fired:
	case <-time.After(2 * time.Second):
		t.Fatal("callback was not invoked within timeout")
	}
	if got := w.Current().Server.LogLevel; got != config.LogDebug {
		t.Errorf("Current() log_level: got %q, want %q", got, config.LogDebug)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestWatcher_RunReportsRejectedEdit(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	errs := make(chan error, 8)
	rec := newRecorder()
	w, err := config.NewWatcher(cfgPath, rec.onChange,
		config.WithInterval(20*time.Millisecond),
		config.WithErrorHandler(func(err error) { errs <- err }),
	)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	writeFile(t, cfgPath, watcherInvalidYAML)
	future := time.Now().Add(time.Second)
	if err := os.Chtimes(cfgPath, future, future); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}

	select {
	case <-errs:
	case <-time.After(2 * time.Second):
		t.Fatal("error handler was not invoked within timeout")
	}

	// Later polls see the same file and stay quiet.
	time.Sleep(150 * time.Millisecond)
	if n := len(errs); n != 0 {
		t.Errorf("error handler called %d more times, want 0", n)
	}
	if rec.count() != 0 {
		t.Errorf("onChange calls = %d, want 0", rec.count())
	}
}

func TestWatcher_TouchWithoutContentChange(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	rec := newRecorder()
	w, err := config.NewWatcher(cfgPath, rec.onChange, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	now := time.Now().Add(time.Second)
	if err := os.Chtimes(cfgPath, now, now); err != nil {
		t.Fatalf("failed to touch file: %v", err)
	}
	time.Sleep(150 * time.Millisecond)

	if rec.count() != 0 {
		t.Errorf("callback should not fire for touch-only, got %d calls", rec.count())
	}
}
