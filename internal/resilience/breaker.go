// Package resilience keeps the voice lanes transcribing when a speech
// backend misbehaves.
//
// A [Breaker] guards one backend. It stays closed while calls succeed, opens
// after MaxFailures consecutive failures and, once ResetTimeout has passed,
// admits HalfOpenMax probe calls. Every probe must succeed for the breaker to
// close again; a single failed probe re-opens it. [TranscriberFallback] chains
// several [stt.Transcriber] backends, each behind its own breaker.
//
// An error wrapping [context.Canceled] says nothing about the backend: it is
// neither counted as a failure nor a reason to try the next backend. A
// deadline still counts, since a backend that cannot answer within the chunk
// budget is of no use to a live hand.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [Breaker.Allow] while the breaker rejects
// calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the mode of a [Breaker].
type State int

const (
	StateClosed State = iota
	StateOpen
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
	}
	return "unknown"
}

// CircuitBreakerConfig tunes a [Breaker]. Zero values take the defaults
// noted per field.
type CircuitBreakerConfig struct {
	// Name labels the breaker in logs and callbacks.
	Name string

	// MaxFailures opens a closed breaker. Default 5.
	MaxFailures int

	// ResetTimeout is how long an open breaker rejects calls. Default 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of probes admitted, and required to succeed,
	// before the breaker closes. Default 3.
	HalfOpenMax int

	// OnStateChange runs after every transition, outside the breaker lock.
	OnStateChange func(name string, from, to State)
}

func (c CircuitBreakerConfig) withDefaults() CircuitBreakerConfig {
	if c.MaxFailures <= 0 {
		c.MaxFailures = 5
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 30 * time.Second
	}
	if c.HalfOpenMax <= 0 {
		c.HalfOpenMax = 3
	}
	return c
}

// Breaker is a three-state circuit breaker. Callers pair every successful
// [Breaker.Allow] with exactly one [Breaker.Report], or use [Breaker.Do].
type Breaker struct {
	cfg CircuitBreakerConfig
	now func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probes   int
	passed   int
}

// NewBreaker returns a closed breaker.
func NewBreaker(cfg CircuitBreakerConfig) *Breaker {
	return &Breaker{cfg: cfg.withDefaults(), now: time.Now}
}

// Name returns the configured label.
func (b *Breaker) Name() string { return b.cfg.Name }

// Allow admits a call or returns [ErrCircuitOpen]. An open breaker whose
// reset timeout has elapsed moves to half-open here.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	from := b.state
	if b.state == StateOpen {
		if b.now().Sub(b.openedAt) < b.cfg.ResetTimeout {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
		b.state = StateHalfOpen
		b.probes, b.passed = 0, 0
	}
	if b.state == StateHalfOpen && b.probes >= b.cfg.HalfOpenMax {
		b.mu.Unlock()
		return ErrCircuitOpen
	}
	if b.state == StateHalfOpen {
		b.probes++
	}
	to := b.state
	b.mu.Unlock()

	b.changed(from, to)
	return nil
}

// Report records the outcome of an admitted call.
func (b *Breaker) Report(err error) {
	b.mu.Lock()
	from := b.state
	switch {
	case IsCancellation(err):
		if b.state == StateHalfOpen && b.probes > 0 {
			b.probes--
		}
	case err != nil:
		b.fail()
	default:
		b.succeed()
	}
	to := b.state
	b.mu.Unlock()

	b.changed(from, to)
}

// Do runs fn when the breaker admits it and reports the result.
func (b *Breaker) Do(fn func() error) error {
	if err := b.Allow(); err != nil {
		return err
	}
	err := fn()
	b.Report(err)
	return err
}

// State returns the current state. An open breaker past its reset timeout
// reads as half-open before the next call makes it so.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return b.state
}

// Reset closes the breaker and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.state = StateClosed
	b.failures, b.probes, b.passed = 0, 0, 0
	b.mu.Unlock()

	b.changed(from, StateClosed)
}

// fail and succeed run with b.mu held.
func (b *Breaker) fail() {
	switch b.state {
	case StateHalfOpen:
		b.trip()
	case StateClosed:
		b.failures++
		if b.failures >= b.cfg.MaxFailures {
			b.trip()
		}
	}
}

func (b *Breaker) succeed() {
	switch b.state {
	case StateHalfOpen:
		b.passed++
		if b.passed >= b.cfg.HalfOpenMax {
			b.state = StateClosed
			b.failures, b.probes, b.passed = 0, 0, 0
		}
	case StateClosed:
		b.failures = 0
	}
}

func (b *Breaker) trip() {
	b.state = StateOpen
	b.openedAt = b.now()
	b.failures, b.probes, b.passed = 0, 0, 0
}

func (b *Breaker) changed(from, to State) {
	if from == to {
		return
	}
	log := slog.Info
	if to == StateOpen {
		log = slog.Warn
	}
	log("circuit breaker state changed", "breaker", b.cfg.Name, "from", from, "to", to)
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.cfg.Name, from, to)
	}
}

// IsCancellation reports whether err comes from a cancelled context rather
// than from the guarded backend.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled)
}
