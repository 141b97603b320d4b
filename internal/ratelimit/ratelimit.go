// Package ratelimit spaces out completion requests process-wide.
//
// A single [Limiter] is owned by the application root and shared by every
// code path that calls the completion service, so two back-to-back requests
// are always at least [Interval] apart no matter which conversation or entry
// point issued them. The limiter is built on golang.org/x/time/rate with a
// burst of one: the first request passes immediately and every later one
// waits for the remainder of the interval since the previous request.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// MinInterval is the smallest spacing ever enforced, regardless of the
// configured rate.
const MinInterval = 500 * time.Millisecond

// Interval returns the spacing for perMinute requests per minute:
// max(500ms, 1m/perMinute). A non-positive rate yields [MinInterval].
func Interval(perMinute float64) time.Duration {
	if perMinute <= 0 {
		return MinInterval
	}
	return max(MinInterval, time.Duration(float64(time.Minute)/perMinute))
}

// Limiter enforces a minimum spacing between consecutive acquisitions.
// It is safe for concurrent use.
type Limiter struct {
	lim *rate.Limiter

	mu        sync.Mutex
	perMinute float64
	onWait    func(time.Duration)
}

// Option configures a [Limiter].
type Option func(*Limiter)

// WithWaitObserver registers fn to be called after every successful
// [Limiter.Acquire] with the time the caller spent waiting.
func WithWaitObserver(fn func(time.Duration)) Option {
	return func(l *Limiter) {
		l.onWait = fn
	}
}

// New returns a Limiter allowing perMinute requests per minute.
func New(perMinute float64, opts ...Option) *Limiter {
	l := &Limiter{
		lim:       rate.NewLimiter(rate.Every(Interval(perMinute)), 1),
		perMinute: perMinute,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Unlimited returns a Limiter that never waits. Tests and offline tools use
// it where spacing requests out serves no purpose.
func Unlimited() *Limiter {
	return &Limiter{lim: rate.NewLimiter(rate.Inf, 1), perMinute: -1}
}

// SetRate changes the allowed requests per minute. The new spacing applies to
// the next acquisition.
func (l *Limiter) SetRate(perMinute float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if perMinute == l.perMinute {
		return
	}
	l.perMinute = perMinute
	l.lim.SetLimit(rate.Every(Interval(perMinute)))
}

// Interval reports the spacing currently enforced.
func (l *Limiter) Interval() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Interval(l.perMinute)
}

// Acquire blocks until a request may be issued, then records it. It must be
// called immediately before each completion request. Returns ctx's error if
// ctx ends before the wait is over; in that case nothing is recorded.
func (l *Limiter) Acquire(ctx context.Context) error {
	start := time.Now()
	if err := l.lim.Wait(ctx); err != nil {
		return fmt.Errorf("ratelimit: %w", err)
	}
	if l.onWait != nil {
		l.onWait(time.Since(start))
	}
	return nil
}
