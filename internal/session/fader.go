// Package session runs the background work of a ReMemory server that is not
// tied to a request.
//
// A [FadeScheduler] sweeps the popup memories of a fixed set of chats at a
// regular interval, the same sweep a user triggers with the fade entry
// point.
package session

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/rememory/internal/rememory"
)

// Fader runs one fade sweep. [rememory.Service] implements it.
type Fader interface {
	FadeMemories(ctx context.Context, chatID, key string, quiet bool) rememory.Outcome
}

// FadeSchedulerConfig configures a [FadeScheduler].
type FadeSchedulerConfig struct {
	// Fader performs the sweeps.
	Fader Fader

	// Interval between sweeps. Zero or negative disables sweeping until
	// [FadeScheduler.Reconfigure] sets a positive value.
	Interval time.Duration

	// Chats lists the chat IDs swept on every tick.
	Chats []string
}

// FadeScheduler periodically fades the popup memories of the configured
// chats. Sweeps are quiet, so only errors surface as notices.
//
// All methods are safe for concurrent use.
type FadeScheduler struct {
	fader Fader

	mu       sync.Mutex
	interval time.Duration
	chats    []string
	reset    chan struct{}

	done     chan struct{}
	stopOnce sync.Once
}

// NewFadeScheduler creates a stopped scheduler.
func NewFadeScheduler(cfg FadeSchedulerConfig) *FadeScheduler {
	return &FadeScheduler{
		fader:    cfg.Fader,
		interval: cfg.Interval,
		chats:    slices.Clone(cfg.Chats),
		reset:    make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Start begins sweeping in a background goroutine that runs until
// [FadeScheduler.Stop] is called or ctx is cancelled.
func (f *FadeScheduler) Start(ctx context.Context) {
	go f.Run(ctx)
}

// Run sweeps in the calling goroutine until [FadeScheduler.Stop] is called or
// ctx is cancelled. It always returns nil so it can run in an errgroup.
func (f *FadeScheduler) Run(ctx context.Context) error {
	for {
		var tick <-chan time.Time
		var ticker *time.Ticker
		if d := f.Interval(); d > 0 {
			ticker = time.NewTicker(d)
			tick = ticker.C
		}

		select {
		case <-ctx.Done():
			stopTicker(ticker)
			return nil
		case <-f.done:
			stopTicker(ticker)
			return nil
		case <-f.reset:
			stopTicker(ticker)
		case <-tick:
			stopTicker(ticker)
			f.SweepNow(ctx)
		}
	}
}

func stopTicker(t *time.Ticker) {
	if t != nil {
		t.Stop()
	}
}

// Stop halts the loop. Safe to call multiple times.
func (f *FadeScheduler) Stop() {
	f.stopOnce.Do(func() {
		close(f.done)
	})
}

// Reconfigure replaces the interval and chat list. A running loop restarts
// its timer with the new interval.
func (f *FadeScheduler) Reconfigure(interval time.Duration, chats []string) {
	f.mu.Lock()
	f.interval = interval
	f.chats = slices.Clone(chats)
	f.mu.Unlock()

	select {
	case f.reset <- struct{}{}:
	default:
	}
}

// Interval returns the current sweep interval.
func (f *FadeScheduler) Interval() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.interval
}

// SweepNow fades every configured chat once and returns the total number of
// entries faded and purged. A failing chat is logged and skipped.
func (f *FadeScheduler) SweepNow(ctx context.Context) (faded, purged int) {
	f.mu.Lock()
	chats := slices.Clone(f.chats)
	f.mu.Unlock()

	for _, id := range chats {
		if ctx.Err() != nil {
			return faded, purged
		}
		out := f.fader.FadeMemories(ctx, id, "", true)
		if out.Err != nil {
			slog.Warn("scheduled fade failed", "chat_id", id, "err", out.Err)
			continue
		}
		faded += out.Faded
		purged += out.Purged
		slog.Debug("scheduled fade", "chat_id", id, "faded", out.Faded, "purged", out.Purged)
	}
	return faded, purged
}
