package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

var errBackend = errors.New("backend down")

// fakeClock drives a breaker's reset timeout without sleeping.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(cfg CircuitBreakerConfig) (*Breaker, *fakeClock) {
	clk := &fakeClock{t: time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)}
	b := NewBreaker(cfg)
	b.now = clk.now
	return b, clk
}

func fail() error    { return errBackend }
func succeed() error { return nil }

func TestBreaker_Defaults(t *testing.T) {
	b := NewBreaker(CircuitBreakerConfig{Name: "whisper"})
	if b.cfg.MaxFailures != 5 || b.cfg.ResetTimeout != 30*time.Second || b.cfg.HalfOpenMax != 3 {
		t.Errorf("defaults = %+v", b.cfg)
	}
	if b.Name() != "whisper" || b.State() != StateClosed {
		t.Errorf("new breaker: name %q state %v", b.Name(), b.State())
	}
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	b, _ := newTestBreaker(CircuitBreakerConfig{MaxFailures: 3, ResetTimeout: time.Minute})

	for i := range 2 {
		if err := b.Do(fail); !errors.Is(err, errBackend) {
			t.Fatalf("call %d: err = %v", i, err)
		}
	}
	if b.State() != StateClosed {
		t.Fatalf("state after 2 failures = %v, want closed", b.State())
	}
	_ = b.Do(fail)
	if b.State() != StateOpen {
		t.Fatalf("state after 3 failures = %v, want open", b.State())
	}

	called := false
	err := b.Do(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) || called {
		t.Errorf("open breaker: err = %v, called = %v", err, called)
	}
}

func TestBreaker_SuccessClearsFailures(t *testing.T) {
	b, _ := newTestBreaker(CircuitBreakerConfig{MaxFailures: 2})

	_ = b.Do(fail)
	_ = b.Do(succeed)
	_ = b.Do(fail)
	if b.State() != StateClosed {
		t.Errorf("non-consecutive failures opened the breaker")
	}
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	tests := []struct {
		name   string
		probes []func() error
		want   State
	}{
		{"all probes pass", []func() error{succeed, succeed}, StateClosed},
		{"first probe fails", []func() error{fail}, StateOpen},
		{"last probe fails", []func() error{succeed, fail}, StateOpen},
		{"partial success stays half-open", []func() error{succeed}, StateHalfOpen},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, clk := newTestBreaker(CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: 10 * time.Second, HalfOpenMax: 2})
			_ = b.Do(fail)

			clk.advance(9 * time.Second)
			if b.State() != StateOpen {
				t.Fatalf("state before timeout = %v", b.State())
			}
			clk.advance(time.Second)
			if b.State() != StateHalfOpen {
				t.Fatalf("state at timeout = %v", b.State())
			}

			for _, p := range tt.probes {
				_ = b.Do(p)
			}
			if got := b.State(); got != tt.want {
				t.Errorf("state = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBreaker_HalfOpenLimitsProbes(t *testing.T) {
	b, clk := newTestBreaker(CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Second, HalfOpenMax: 2})
	_ = b.Do(fail)
	clk.advance(time.Second)

	for i := range 2 {
		if err := b.Allow(); err != nil {
			t.Fatalf("probe %d rejected: %v", i, err)
		}
	}
	if err := b.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("third probe: err = %v, want ErrCircuitOpen", err)
	}
}

func TestBreaker_CancellationIsNeutral(t *testing.T) {
	cancelled := func() error { return fmt.Errorf("transcribe: %w", context.Canceled) }

	t.Run("closed", func(t *testing.T) {
		b, _ := newTestBreaker(CircuitBreakerConfig{MaxFailures: 1})
		_ = b.Do(cancelled)
		_ = b.Do(cancelled)
		if b.State() != StateClosed {
			t.Errorf("state = %v, want closed", b.State())
		}
	})

	t.Run("half-open returns the probe", func(t *testing.T) {
		b, clk := newTestBreaker(CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Second, HalfOpenMax: 1})
		_ = b.Do(fail)
		clk.advance(time.Second)

		_ = b.Do(cancelled)
		if err := b.Do(succeed); err != nil {
			t.Fatalf("probe after cancellation rejected: %v", err)
		}
		if b.State() != StateClosed {
			t.Errorf("state = %v, want closed", b.State())
		}
	})
}

func TestBreaker_Reset(t *testing.T) {
	b, _ := newTestBreaker(CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour})
	_ = b.Do(fail)
	b.Reset()
	if err := b.Do(succeed); err != nil {
		t.Errorf("after Reset: %v", err)
	}
}

func TestBreaker_OnStateChange(t *testing.T) {
	var got []string
	b, clk := newTestBreaker(CircuitBreakerConfig{
		Name:         "deepgram",
		MaxFailures:  1,
		ResetTimeout: time.Second,
		HalfOpenMax:  1,
		OnStateChange: func(name string, from, to State) {
			got = append(got, fmt.Sprintf("%s:%v>%v", name, from, to))
		},
	})

	_ = b.Do(fail)
	clk.advance(time.Second)
	_ = b.Do(succeed)

	want := []string{"deepgram:closed>open", "deepgram:open>half-open", "deepgram:half-open>closed"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("transitions = %v, want %v", got, want)
	}
}

func TestState_String(t *testing.T) {
	for s, want := range map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half-open",
		State(7):      "unknown",
	} {
		if s.String() != want {
			t.Errorf("State(%d) = %q, want %q", s, s.String(), want)
		}
	}
}
