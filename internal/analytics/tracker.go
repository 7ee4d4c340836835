package analytics

import (
	"context"
	"sync/atomic"

	"github.com/MrWong99/pokercoach/pkg/poker"
)

// MoveSource is the read side of the move log.
type MoveSource interface {
	Moves() []poker.Move
	Subscribe() <-chan struct{}
}

// Tracker keeps the latest [Profile] for a move log, recomputing it in full
// whenever the log changes.
type Tracker struct {
	src      MoveSource
	updates  <-chan struct{}
	onChange func(Profile)
	latest   atomic.Pointer[Profile]
}

// TrackerOption configures a [Tracker].
type TrackerOption func(*Tracker)

// WithOnChange registers fn to be called from the tracker goroutine after
// every recomputation.
func WithOnChange(fn func(Profile)) TrackerOption {
	return func(t *Tracker) { t.onChange = fn }
}

// NewTracker computes the initial profile for src and subscribes to changes.
func NewTracker(src MoveSource, opts ...TrackerOption) *Tracker {
	t := &Tracker{src: src, updates: src.Subscribe()}
	for _, o := range opts {
		o(t)
	}
	p := Compute(src.Moves())
	t.latest.Store(&p)
	return t
}

// Profile returns a copy of the most recently computed profile.
func (t *Tracker) Profile() Profile {
	return t.latest.Load().Clone()
}

// Refresh recomputes the profile immediately and returns a copy of it.
func (t *Tracker) Refresh() Profile {
	p := Compute(t.src.Moves())
	t.latest.Store(&p)
	return p.Clone()
}

// Run recomputes on every change notification until ctx is cancelled.
func (t *Tracker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.updates:
			p := t.Refresh()
			if t.onChange != nil {
				t.onChange(p)
			}
		}
	}
}
