// Package breaker implements a consecutive-failure circuit breaker used to
// protect calls to the acquiring bank and the message transport.
//
// Each protected dependency gets its own Breaker instance, injected into the
// callers. Breaker state is local to the process; across horizontally scaled
// instances the protection is best-effort.
package breaker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/overtonx/paygate/errs"
)

// State is the breaker's lifecycle position.
type State int

const (
	// StateClosed lets calls through and counts consecutive failures.
	StateClosed State = iota
	// StateOpen fails calls immediately until the cooldown elapses.
	StateOpen
	// StateHalfOpen admits exactly one probe call after the cooldown.
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

// ErrOpen is returned when a call is rejected without invoking the dependency.
var ErrOpen = errs.New(errs.CodeTransient, "circuit breaker is open")

// Breaker wraps calls to a single downstream dependency.
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	logger    *zap.Logger
	now       func() time.Time

	mu            sync.Mutex
	state         State
	failures      int
	openedAt      time.Time
	probeInFlight bool
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithLogger sets the breaker's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(b *Breaker) {
		b.logger = logger
	}
}

// WithClock overrides the breaker's time source.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		b.now = now
	}
}

// New creates a breaker for the named dependency. It opens after threshold
// consecutive failures and probes again after cooldown.
func New(name string, threshold int, cooldown time.Duration, opts ...Option) *Breaker {
	b := &Breaker{
		name:      name,
		threshold: threshold,
		cooldown:  cooldown,
		logger:    zap.NewNop(),
		now:       time.Now,
		state:     StateClosed,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// State returns the breaker's current state, accounting for an elapsed cooldown.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Do runs fn through the breaker. When the breaker is open the call fails
// immediately with ErrOpen and fn is never invoked.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.admit(); err != nil {
		return err
	}

	err := fn(ctx)
	b.record(err == nil)
	return err
}

// admit decides whether a call may proceed, moving the breaker to half-open
// when the cooldown has elapsed.
func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return ErrOpen
		}
		b.state = StateHalfOpen
		b.probeInFlight = true
		b.logger.Warn("Circuit breaker half-open, probing dependency", zap.String("breaker", b.name))
		return nil
	case StateHalfOpen:
		if b.probeInFlight {
			return ErrOpen
		}
		b.probeInFlight = true
		return nil
	default:
		return nil
	}
}

func (b *Breaker) record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		if success {
			b.failures = 0
			return
		}
		b.failures++
		if b.failures >= b.threshold {
			b.open()
		}
	case StateHalfOpen:
		b.probeInFlight = false
		if success {
			b.state = StateClosed
			b.failures = 0
			b.logger.Info("Circuit breaker reset, dependency recovered", zap.String("breaker", b.name))
			return
		}
		b.open()
	}
}

// open transitions to the open state and restarts the cooldown. Callers hold b.mu.
func (b *Breaker) open() {
	b.state = StateOpen
	b.openedAt = b.now()
	b.logger.Error("Circuit breaker opened",
		zap.String("breaker", b.name),
		zap.Int("consecutive_failures", b.failures),
		zap.Duration("cooldown", b.cooldown),
	)
}
