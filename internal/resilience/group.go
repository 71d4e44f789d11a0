package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every backend of a [Group] failed or was
// skipped because its breaker is open.
var ErrAllFailed = errors.New("resilience: all backends failed")

// Backend names one member of a [Group].
type Backend[T any] struct {
	Name  string
	Value T
}

type member[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// Group holds backends in preference order, each behind its own [Breaker].
type Group[T any] struct {
	members []member[T]
	log     *slog.Logger
}

// NewGroup builds a Group. cfg is the template for every member's breaker;
// its Name is replaced by the backend name.
func NewGroup[T any](cfg BreakerConfig, backends ...Backend[T]) *Group[T] {
	g := &Group[T]{log: cfg.Logger}
	if g.log == nil {
		g.log = slog.Default()
	}
	for _, be := range backends {
		bc := cfg
		bc.Name = be.Name
		g.members = append(g.members, member[T]{
			name:    be.Name,
			value:   be.Value,
			breaker: NewBreaker(bc),
		})
	}
	return g
}

// Do calls fn on each backend in order until one succeeds. Backends with an
// open breaker are skipped. When ctx is cancelled the remaining backends are
// not tried and the cancellation error is returned as is.
func Do[T, R any](ctx context.Context, g *Group[T], fn func(context.Context, T) (R, error)) (R, error) {
	var (
		zero R
		errs []error
	)
	for i := range g.members {
		m := &g.members[i]
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		var result R
		err := m.breaker.Do(ctx, func(ctx context.Context) error {
			var err error
			result, err = fn(ctx, m.value)
			return err
		})
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return zero, err
		}

		if errors.Is(err, ErrCircuitOpen) {
			g.log.Debug("skipping backend, circuit open", "backend", m.name)
		} else {
			g.log.Warn("backend failed, trying next", "backend", m.name, "err", err)
		}
		errs = append(errs, fmt.Errorf("%s: %w", m.name, err))
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(errs...))
}

// Primary returns the first backend's value.
func (g *Group[T]) Primary() (T, bool) {
	if len(g.members) == 0 {
		var zero T
		return zero, false
	}
	return g.members[0].value, true
}

// States reports each backend's breaker state by name.
func (g *Group[T]) States() map[string]State {
	out := make(map[string]State, len(g.members))
	for _, m := range g.members {
		out[m.name] = m.breaker.State()
	}
	return out
}

// Available reports whether at least one backend would currently be tried.
func (g *Group[T]) Available() bool {
	for _, m := range g.members {
		if m.breaker.State() != StateOpen {
			return true
		}
	}
	return false
}
