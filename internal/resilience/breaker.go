// Package resilience guards chat model backends with circuit breakers and
// ordered failover.
//
// A [Breaker] stops calling a backend after repeated failures and lets a few
// trial calls through once a cooldown has passed. A [Group] tries its
// backends in order, skipping those whose breaker is open. [Chat] exposes a
// Group of chat models as a single llm.Provider.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [Breaker.Do] while the breaker rejects calls.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// State is the operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the cooldown ends.
	StateOpen

	// StateHalfOpen lets a limited number of trial calls through. A failed
	// trial re-opens the breaker; enough successful trials close it.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a [Breaker]. Zero fields take defaults.
type BreakerConfig struct {
	// Name labels log lines and transition callbacks.
	Name string

	// MaxFailures is the number of consecutive failures that opens the
	// breaker. Default: 5.
	MaxFailures int

	// Cooldown is how long the breaker stays open before probing. Default: 30s.
	Cooldown time.Duration

	// Trials is the number of successful half-open calls needed to close the
	// breaker, and the most that may be in flight at once. Default: 2.
	Trials int

	// Logger receives state changes. Default: [slog.Default].
	Logger *slog.Logger

	// OnStateChange is called with the breaker locked after every transition.
	// It must not call back into the breaker.
	OnStateChange func(name string, to State)
}

// Breaker is a three-state circuit breaker.
type Breaker struct {
	cfg BreakerConfig
	now func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	inflight int // half-open trials in flight
	passed   int // successful half-open trials
}

// NewBreaker returns a closed [Breaker].
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.Trials <= 0 {
		cfg.Trials = 2
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Breaker{cfg: cfg, now: time.Now}
}

// Do runs fn unless the breaker is open, in which case it returns
// [ErrCircuitOpen] without calling fn. An error matching
// [context.Canceled] is passed through without counting as a failure.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	trial, err := b.acquire()
	if err != nil {
		return err
	}
	err = fn(ctx)
	b.release(trial, err)
	return err
}

func (b *Breaker) acquire() (trial bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if b.now().Sub(b.openedAt) < b.cfg.Cooldown {
			return false, ErrCircuitOpen
		}
		b.setState(StateHalfOpen)
	}
	if b.state == StateHalfOpen {
		if b.inflight+b.passed >= b.cfg.Trials {
			return false, ErrCircuitOpen
		}
		b.inflight++
		return true, nil
	}
	return false, nil
}

func (b *Breaker) release(trial bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if trial {
		b.inflight--
		if b.state != StateHalfOpen {
			// Another trial already decided.
			return
		}
	} else if b.state != StateClosed {
		return
	}

	switch {
	case errors.Is(err, context.Canceled):
	case err != nil && trial:
		b.trip()
	case err != nil:
		b.failures++
		if b.failures >= b.cfg.MaxFailures {
			b.trip()
		}
	case trial:
		b.passed++
		if b.passed >= b.cfg.Trials {
			b.setState(StateClosed)
		}
	default:
		b.failures = 0
	}
}

// trip opens the breaker. Must be called with b.mu held.
func (b *Breaker) trip() {
	b.openedAt = b.now()
	b.cfg.Logger.Warn("circuit breaker opened", "name", b.cfg.Name, "consecutive_failures", b.failures)
	b.setState(StateOpen)
}

// setState moves to s and clears the counters. Must be called with b.mu held.
func (b *Breaker) setState(s State) {
	if b.state == s {
		return
	}
	b.state = s
	b.failures, b.passed = 0, 0
	if s != StateOpen {
		b.cfg.Logger.Info("circuit breaker state changed", "name", b.cfg.Name, "state", s)
	}
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.cfg.Name, s)
	}
}

// State returns the current state. An open breaker whose cooldown has passed
// reports [StateHalfOpen]; the transition itself happens on the next call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cfg.Cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Reset forces the breaker closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setState(StateClosed)
	b.failures = 0
}
