package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every member of a [Group] failed or was
// skipped because its breaker is open.
var ErrAllFailed = errors.New("resilience: all backends failed")

type member[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// Group tries a primary backend and then its fallbacks in order, each behind
// its own [CircuitBreaker]. Members are added before the group is shared;
// after that it is safe for concurrent use.
type Group[T any] struct {
	members []member[T]
	cfg     CircuitBreakerConfig
}

// NewGroup returns a group whose primary is value. Every member gets a
// breaker built from cfg with its own name.
func NewGroup[T any](name string, value T, cfg CircuitBreakerConfig) *Group[T] {
	g := &Group[T]{cfg: cfg}
	g.Add(name, value)
	return g
}

// Add appends a fallback member.
func (g *Group[T]) Add(name string, value T) {
	cfg := g.cfg
	cfg.Name = name
	g.members = append(g.members, member[T]{name: name, value: value, breaker: NewCircuitBreaker(cfg)})
}

// Primary returns the first member.
func (g *Group[T]) Primary() T { return g.members[0].value }

// States reports the breaker state of every member by name, in order.
func (g *Group[T]) States() []MemberState {
	out := make([]MemberState, len(g.members))
	for i, m := range g.members {
		out[i] = MemberState{Name: m.name, State: m.breaker.State()}
	}
	return out
}

// MemberState is one entry of [Group.States].
type MemberState struct {
	Name  string
	State State
}

// Do runs fn against each member until one succeeds and returns that
// member's result. It stops early when ctx ends. When all members fail the
// error wraps [ErrAllFailed] and every attempt's error.
func Do[T, R any](ctx context.Context, g *Group[T], fn func(context.Context, T) (R, error)) (R, error) {
	var (
		zero R
		errs []error
	)
	for i, m := range g.members {
		var res R
		err := m.breaker.Execute(ctx, func(ctx context.Context) error {
			var err error
			res, err = fn(ctx, m.value)
			return err
		})
		if err == nil {
			if i > 0 {
				slog.Info("resilience: served by fallback", "backend", m.name)
			}
			return res, nil
		}
		if ctx.Err() != nil {
			return zero, err
		}
		errs = append(errs, fmt.Errorf("%s: %w", m.name, err))
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("resilience: skipping backend with open circuit", "backend", m.name)
			continue
		}
		slog.Warn("resilience: backend failed, trying next", "backend", m.name, "err", err)
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(errs...))
}
