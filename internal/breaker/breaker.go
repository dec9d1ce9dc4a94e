package breaker

import (
	"sync"
	"time"
)

// State is the breaker phase.
type State uint8

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config defines the threshold rules.
type Config struct {
	// FailureThreshold consecutive failures trip the breaker open.
	FailureThreshold int
	// Cooldown is how long the breaker stays open before a trial.
	Cooldown time.Duration
	// SuccessThreshold consecutive half-open successes close it again.
	SuccessThreshold int
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 60 * time.Second
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 3
	}
	return c
}

// Option tunes a Breaker.
type Option func(*Breaker)

// WithClock substitutes the time source.
func WithClock(clock func() time.Time) Option {
	return func(b *Breaker) {
		b.clock = clock
	}
}

// Breaker is a failure-threshold gate around a risky operation. While
// open, Allow short-circuits with no side effects on the protected
// transport.
type Breaker struct {
	cfg   Config
	clock func() time.Time

	mu                   sync.Mutex
	state                State
	consecutiveFailures  int
	consecutiveSuccesses int
	openedAt             time.Time
	probing              bool
}

// New builds a closed breaker.
func New(cfg Config, opts ...Option) *Breaker {
	b := &Breaker{cfg: cfg.withDefaults(), clock: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Allow reports whether an attempt may proceed, moving OPEN to
// HALF_OPEN once the cooldown has elapsed. While HALF_OPEN only one
// trial is in flight at a time; the next is admitted after its outcome
// is recorded.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	case StateOpen:
		if b.clock().Sub(b.openedAt) >= b.cfg.Cooldown {
			b.state = StateHalfOpen
			b.consecutiveSuccesses = 0
			b.probing = true
			return true
		}
		return false
	default:
		return false
	}
}

// RecordSuccess feeds back a successful attempt.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.consecutiveFailures = 0
	case StateHalfOpen:
		b.probing = false
		b.consecutiveSuccesses++
		if b.consecutiveSuccesses >= b.cfg.SuccessThreshold {
			b.state = StateClosed
			b.consecutiveFailures = 0
			b.consecutiveSuccesses = 0
		}
	}
}

// RecordFailure feeds back a failed attempt. Any half-open failure
// reopens with a fresh cooldown.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.cfg.FailureThreshold {
			b.open()
		}
	case StateHalfOpen:
		b.open()
	}
}

func (b *Breaker) open() {
	b.state = StateOpen
	b.openedAt = b.clock()
	b.consecutiveSuccesses = 0
	b.probing = false
}

// State returns the current phase.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot reports the breaker internals for status aggregation.
func (b *Breaker) Snapshot() map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := map[string]any{
		"phase":                 b.state.String(),
		"consecutive_failures":  b.consecutiveFailures,
		"consecutive_successes": b.consecutiveSuccesses,
	}
	if b.state == StateOpen {
		out["opened_at"] = b.openedAt.UTC().Format(time.RFC3339)
	}
	return out
}
