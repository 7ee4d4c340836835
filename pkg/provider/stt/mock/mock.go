// Package mock provides a test double for the stt.Transcriber interface.
//
// Results are served from a queue; once the queue is empty the Default
// result (or DefaultErr) is returned. Every call is recorded.
//
// Example:
//
//	tr := &mock.Transcriber{}
//	tr.Enqueue(stt.Result{Text: "raise to fifty cents"}, nil)
//	res, _ := tr.Transcribe(ctx, chunk)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/pokercoach/pkg/provider/stt"
)

// Ensure Transcriber implements stt.Transcriber at compile time.
var _ stt.Transcriber = (*Transcriber)(nil)

type reply struct {
	res stt.Result
	err error
}

// Transcriber is a mock implementation of stt.Transcriber.
type Transcriber struct {
	mu sync.Mutex

	queue []reply

	// Default is returned when the queue is empty.
	Default stt.Result

	// DefaultErr, if non-nil, is returned when the queue is empty.
	DefaultErr error

	// Calls records a copy of every chunk passed to Transcribe.
	Calls []stt.Chunk

	// Fn, if set, replaces the queue entirely.
	Fn func(ctx context.Context, chunk stt.Chunk) (stt.Result, error)
}

// Enqueue appends a result to be returned by a future call.
func (t *Transcriber) Enqueue(res stt.Result, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.queue = append(t.queue, reply{res: res, err: err})
}

// Transcribe records the call and returns the next queued result.
func (t *Transcriber) Transcribe(ctx context.Context, chunk stt.Chunk) (stt.Result, error) {
	t.mu.Lock()
	cp := chunk
	cp.PCM = append([]byte(nil), chunk.PCM...)
	t.Calls = append(t.Calls, cp)
	fn := t.Fn
	var r *reply
	if fn == nil && len(t.queue) > 0 {
		r = &t.queue[0]
		t.queue = t.queue[1:]
	}
	def, defErr := t.Default, t.DefaultErr
	t.mu.Unlock()

	if fn != nil {
		return fn(ctx, chunk)
	}
	if err := ctx.Err(); err != nil {
		return stt.Result{}, err
	}
	if r != nil {
		return r.res, r.err
	}
	return def, defErr
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (t *Transcriber) CallCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.Calls)
}

// Reset clears recorded calls and queued results. Thread-safe.
func (t *Transcriber) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Calls = nil
	t.queue = nil
}
