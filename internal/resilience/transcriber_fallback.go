package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/pokercoach/internal/observe"
	"github.com/MrWong99/pokercoach/pkg/provider/stt"
)

// ErrAllFailed is returned when no backend of a [TranscriberFallback]
// produced a transcript.
var ErrAllFailed = errors.New("all transcribers failed")

// FallbackConfig is the breaker template applied to every backend. Name is
// replaced by the backend name.
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

// BreakerStatus is the breaker state of one backend.
type BreakerStatus struct {
	Name  string `json:"name"`
	State string `json:"state"`
}

type backend struct {
	name    string
	stt     stt.Transcriber
	breaker *Breaker
}

// TranscriberFallback is an [stt.Transcriber] that tries its backends in
// registration order, skipping those whose breaker is open.
type TranscriberFallback struct {
	cfg     FallbackConfig
	metrics *observe.Metrics

	mu       sync.RWMutex
	backends []*backend
}

var _ stt.Transcriber = (*TranscriberFallback)(nil)

// NewTranscriberFallback returns a chain whose first backend is primary.
// metrics may be nil.
func NewTranscriberFallback(primary stt.Transcriber, primaryName string, cfg FallbackConfig, metrics *observe.Metrics) *TranscriberFallback {
	f := &TranscriberFallback{cfg: cfg, metrics: metrics}
	f.AddFallback(primaryName, primary)
	return f
}

// AddFallback appends t to the chain.
func (f *TranscriberFallback) AddFallback(name string, t stt.Transcriber) {
	bc := f.cfg.CircuitBreaker
	bc.Name = name
	f.mu.Lock()
	f.backends = append(f.backends, &backend{name: name, stt: t, breaker: NewBreaker(bc)})
	f.mu.Unlock()
}

func (f *TranscriberFallback) snapshot() []*backend {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]*backend(nil), f.backends...)
}

// Transcribe returns the first transcript a backend produces. A cancelled
// ctx ends the attempt without failing over.
func (f *TranscriberFallback) Transcribe(ctx context.Context, chunk stt.Chunk) (stt.Result, error) {
	var errs []error
	for _, b := range f.snapshot() {
		if err := ctx.Err(); err != nil {
			return stt.Result{}, err
		}
		if err := b.breaker.Allow(); err != nil {
			slog.Debug("transcriber skipped", "transcriber", b.name, "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", b.name, err))
			continue
		}

		res, err := f.attempt(ctx, b, chunk)
		b.breaker.Report(err)
		switch {
		case err == nil:
			return res, nil
		case IsCancellation(err):
			return stt.Result{}, err
		}
		slog.Warn("transcriber failed, trying next", "transcriber", b.name, "err", err)
		errs = append(errs, fmt.Errorf("%s: %w", b.name, err))
	}
	return stt.Result{}, fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(errs...))
}

func (f *TranscriberFallback) attempt(ctx context.Context, b *backend, chunk stt.Chunk) (stt.Result, error) {
	start := time.Now()
	res, err := b.stt.Transcribe(ctx, chunk)
	if f.metrics != nil {
		status := "ok"
		switch {
		case IsCancellation(err):
			status = "cancelled"
		case err != nil:
			status = "error"
		}
		f.metrics.RecordTranscriberRequest(ctx, b.name, status, time.Since(start))
	}
	return res, err
}

// Statuses lists the breaker state of every backend in chain order.
func (f *TranscriberFallback) Statuses() []BreakerStatus {
	bs := f.snapshot()
	out := make([]BreakerStatus, len(bs))
	for i, b := range bs {
		out[i] = BreakerStatus{Name: b.name, State: b.breaker.State().String()}
	}
	return out
}

// Healthy reports whether some backend would accept a chunk now.
func (f *TranscriberFallback) Healthy() bool {
	for _, s := range f.Statuses() {
		if s.State != StateOpen.String() {
			return true
		}
	}
	return false
}
