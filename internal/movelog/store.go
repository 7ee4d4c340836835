// Package movelog holds the ordered, append-only record of hero decisions for
// a coaching session.
//
// The in-memory [Store] is the source of truth for analytics. Optional [Sink]
// implementations (PostgreSQL, SQLite, JSON lines) persist each move after it
// has been appended. Sink writes happen on a single background writer in
// append order, so a slow backend never holds up the caller of
// [Store.Append]; a sink failure is logged and never rolls back the in-memory
// log. Call [Store.Close] before closing the sinks to flush pending writes.
package movelog

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/pokercoach/internal/observe"
	"github.com/MrWong99/pokercoach/pkg/poker"
)

// sinkTimeout bounds a single persistence write.
const sinkTimeout = 5 * time.Second

// Sink persists moves outside the process.
type Sink interface {
	// WriteMove persists m as the seq-th move (zero based) of session.
	WriteMove(ctx context.Context, session string, seq int, m poker.Move) error
}

// Loader restores the moves of a previous session.
type Loader interface {
	LoadMoves(ctx context.Context, session string) ([]poker.Move, error)
}

// Store is the append-only move log. Appends are expected from a single
// owner (the table sync loop); reads may happen from any goroutine.
type Store struct {
	session string
	sinks   []Sink
	metrics *observe.Metrics

	mu    sync.RWMutex
	moves []poker.Move
	subs  []chan struct{}

	wmu     sync.Mutex
	pending []pendingWrite
	closed  bool
	wake    chan struct{}
	done    chan struct{}
}

type pendingWrite struct {
	ctx context.Context
	seq int
	m   poker.Move
}

// Option configures a [Store].
type Option func(*Store)

// WithSink adds a persistence sink. Sinks are written in registration order.
func WithSink(s Sink) Option {
	return func(st *Store) { st.sinks = append(st.sinks, s) }
}

// WithSession sets the session identifier passed to sinks. Defaults to the
// store's creation time in RFC 3339 format.
func WithSession(id string) Option {
	return func(st *Store) { st.session = id }
}

// WithMetrics records appends and sink failures on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(st *Store) { st.metrics = m }
}

// New returns an empty Store.
func New(opts ...Option) *Store {
	s := &Store{session: time.Now().UTC().Format(time.RFC3339)}
	for _, o := range opts {
		o(s)
	}
	s.done = make(chan struct{})
	if len(s.sinks) == 0 {
		s.closed = true
		close(s.done)
		return s
	}
	s.wake = make(chan struct{}, 1)
	go s.writeLoop()
	return s
}

// Session returns the session identifier.
func (s *Store) Session() string { return s.session }

// Append records m at the end of the log and notifies subscribers before it
// returns. The move is queued for the sinks and written in the background.
func (s *Store) Append(ctx context.Context, m poker.Move) {
	s.mu.Lock()
	seq := len(s.moves)
	s.moves = append(s.moves, m)
	subs := slices.Clone(s.subs)
	s.mu.Unlock()

	notify(subs)
	if s.metrics != nil {
		s.metrics.MovesRecorded.Add(ctx, 1)
	}

	if len(s.sinks) == 0 {
		return
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if s.closed {
		slog.Warn("movelog: store closed, move not persisted", "session", s.session, "seq", seq)
		return
	}
	s.pending = append(s.pending, pendingWrite{ctx: context.WithoutCancel(ctx), seq: seq, m: m})
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Close writes every queued move to the sinks and stops the background
// writer. Moves appended afterwards are kept in memory only. It returns
// ctx.Err() if ctx ends before the queue is drained.
func (s *Store) Close(ctx context.Context) error {
	s.wmu.Lock()
	if !s.closed {
		s.closed = true
		close(s.wake)
	}
	s.wmu.Unlock()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) writeLoop() {
	defer close(s.done)
	for range s.wake {
		s.drain()
	}
	s.drain()
}

func (s *Store) drain() {
	for {
		s.wmu.Lock()
		batch := s.pending
		s.pending = nil
		s.wmu.Unlock()
		if len(batch) == 0 {
			return
		}
		for _, w := range batch {
			s.write(w)
		}
	}
}

func (s *Store) write(w pendingWrite) {
	for _, sink := range s.sinks {
		wctx, cancel := context.WithTimeout(w.ctx, sinkTimeout)
		if err := sink.WriteMove(wctx, s.session, w.seq, w.m); err != nil {
			slog.Warn("movelog: sink write failed", "session", s.session, "seq", w.seq, "err", err)
			if s.metrics != nil {
				s.metrics.RecordSinkError(w.ctx, fmt.Sprintf("%T", sink))
			}
		}
		cancel()
	}
}

// Restore seeds an empty store with previously persisted moves. It is a no-op
// when the store already holds moves.
func (s *Store) Restore(ctx context.Context, l Loader) (int, error) {
	moves, err := l.LoadMoves(ctx, s.session)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	if len(s.moves) > 0 {
		s.mu.Unlock()
		return 0, nil
	}
	s.moves = slices.Clone(moves)
	subs := slices.Clone(s.subs)
	s.mu.Unlock()

	notify(subs)
	return len(moves), nil
}

// Moves returns a copy of the log in append order.
func (s *Store) Moves() []poker.Move {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.moves)
}

// Len returns the number of recorded moves.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.moves)
}

// Subscribe returns a channel that receives a signal after every append.
// Signals coalesce: a slow reader sees at most one pending notification.
func (s *Store) Subscribe() <-chan struct{} {
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	s.subs = append(s.subs, ch)
	s.mu.Unlock()
	return ch
}

func notify(subs []chan struct{}) {
	for _, ch := range subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
