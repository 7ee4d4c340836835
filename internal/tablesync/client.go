// Package tablesync mirrors the authoritative table service and submits
// actions to it.
//
// A [Client] runs a single coordinating goroutine ([Client.Run]) that owns
// the table mirror and every write to the move log. Network calls are made
// outside that goroutine; their results are handed to it as messages and
// installed only if they are not older than the state already held, so
// responses that arrive out of order never roll the mirror back.
package tablesync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/MrWong99/pokercoach/internal/advice"
	"github.com/MrWong99/pokercoach/internal/cardsignal"
	"github.com/MrWong99/pokercoach/internal/observe"
	"github.com/MrWong99/pokercoach/pkg/poker"
)

// DefaultPollInterval is the table polling cadence.
const DefaultPollInterval = 500 * time.Millisecond

// MoveRecorder receives hero moves. It is called from [Client.Run], or from
// the acting goroutine once Run has returned.
type MoveRecorder interface {
	Append(ctx context.Context, m poker.Move)
}

// Status describes the health of the polling loop.
type Status struct {
	// Err is the error of the most recent poll, nil after a success.
	Err error
	// LastSuccess is the time of the most recent successful poll.
	LastSuccess time.Time
}

type updateKind int

const (
	kindTick updateKind = iota
	kindPoll
	kindAction
	kindReset
)

var errStopped = errors.New("tablesync: client stopped")

// update is a message to the coordinating goroutine.
type update struct {
	kind  updateKind
	state poker.TableState
	err   error
	move  *poker.Move
	reply chan poker.TableState
}

// Client is the table-action synchronization state machine.
type Client struct {
	transport Transport
	cards     cardsignal.Source
	moves     MoveRecorder
	level     func() string
	metrics   *observe.Metrics
	interval  time.Duration
	now       func() time.Time

	mirror  atomic.Pointer[poker.TableState]
	status  atomic.Pointer[Status]
	inbox   chan update
	stopped chan struct{}
}

// Option configures a [Client].
type Option func(*Client)

// WithCardSource enables the readiness gate and supplies equity and advice
// for recorded moves. Without a card source hero actions are never gated.
func WithCardSource(src cardsignal.Source) Option {
	return func(c *Client) { c.cards = src }
}

// WithMoveRecorder sets where accepted hero actions are recorded.
func WithMoveRecorder(r MoveRecorder) Option {
	return func(c *Client) { c.moves = r }
}

// WithAggressionLevel supplies the playing-style label used by the advice
// fallback when the card service has no recommendation.
func WithAggressionLevel(fn func() string) Option {
	return func(c *Client) { c.level = fn }
}

// WithPollInterval overrides [DefaultPollInterval].
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithMetrics overrides the default metrics instance.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithClock overrides the time source used for move timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// New creates a Client. Call [Client.Run] to start the coordinating goroutine.
func New(t Transport, opts ...Option) *Client {
	c := &Client{
		transport: t,
		level:     func() string { return "neutral" },
		interval:  DefaultPollInterval,
		now:       time.Now,
		inbox:     make(chan update, 16),
		stopped:   make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	c.status.Store(&Status{})
	return c
}

// Run polls the table service every poll interval and applies state updates
// until ctx is cancelled. A failed poll keeps the last good state and is
// retried on the next tick.
func (c *Client) Run(ctx context.Context) error {
	defer close(c.stopped)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	inflight := true
	go c.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if !inflight {
				inflight = true
				go c.poll(ctx)
			}
		case u := <-c.inbox:
			if u.kind == kindTick {
				inflight = false
			}
			c.handle(ctx, u)
		}
	}
}

// poll fetches the state once and hands the result to the loop.
func (c *Client) poll(ctx context.Context) {
	st, err := c.fetch(ctx)
	select {
	case c.inbox <- update{kind: kindTick, state: st, err: err}:
	case <-ctx.Done():
	}
}

func (c *Client) fetch(ctx context.Context) (poker.TableState, error) {
	start := time.Now()
	st, err := c.transport.State(ctx)
	c.metrics.PollDuration.Record(ctx, time.Since(start).Seconds())
	return st, err
}

// handle runs on the coordinating goroutine only.
func (c *Client) handle(ctx context.Context, u update) {
	switch u.kind {
	case kindTick, kindPoll:
		if u.err != nil {
			c.metrics.PollFailures.Add(ctx, 1)
			prev := c.status.Load()
			if prev.Err == nil {
				slog.Warn("tablesync: poll failed", "err", u.err)
			}
			c.status.Store(&Status{Err: u.err, LastSuccess: prev.LastSuccess})
			break
		}
		c.status.Store(&Status{LastSuccess: c.now()})
		c.install(ctx, u.state)
	case kindAction, kindReset:
		c.install(ctx, u.state)
		if u.move != nil && c.moves != nil {
			c.moves.Append(ctx, *u.move)
		}
	}

	if u.reply != nil {
		var cur poker.TableState
		if p := c.mirror.Load(); p != nil {
			cur = *p
		}
		u.reply <- cur
	}
}

// install replaces the mirror with st unless the mirror already holds a newer
// state.
func (c *Client) install(ctx context.Context, st poker.TableState) {
	cur := c.mirror.Load()
	if cur != nil && st.Seq < cur.Seq {
		c.metrics.StaleDiscards.Add(ctx, 1)
		slog.Debug("tablesync: discarding stale state", "seq", st.Seq, "held", cur.Seq)
		return
	}
	next := st.Clone()
	c.mirror.Store(&next)
}

// submit hands u to the loop and waits for the resulting mirror.
func (c *Client) submit(ctx context.Context, u update) (poker.TableState, error) {
	u.reply = make(chan poker.TableState, 1)
	select {
	case c.inbox <- u:
	case <-ctx.Done():
		return poker.TableState{}, ctx.Err()
	case <-c.stopped:
		return poker.TableState{}, errStopped
	}
	select {
	case st := <-u.reply:
		return st, nil
	case <-ctx.Done():
		return poker.TableState{}, ctx.Err()
	case <-c.stopped:
		// The loop may have answered just before exiting.
		select {
		case st := <-u.reply:
			return st, nil
		default:
		}
		return poker.TableState{}, errStopped
	}
}

// deliver hands a result the table service has already applied to the loop.
// Cancelling ctx does not abandon it. If the loop has exited, nothing else
// owns the mirror or the move log any more and u is applied here.
func (c *Client) deliver(ctx context.Context, u update) poker.TableState {
	ctx = context.WithoutCancel(ctx)
	cur, err := c.submit(ctx, u)
	if err == nil {
		return cur
	}
	c.install(ctx, u.state)
	if u.move != nil && c.moves != nil {
		c.moves.Append(ctx, *u.move)
	}
	st, _ := c.State()
	return st
}

// State returns the current mirror. ok is false until a state has been
// received.
func (c *Client) State() (st poker.TableState, ok bool) {
	p := c.mirror.Load()
	if p == nil {
		return poker.TableState{}, false
	}
	return p.Clone(), true
}

// Status returns the polling status.
func (c *Client) Status() Status {
	return *c.status.Load()
}

// IsHeroTurn reports whether the hero is the seat to act in the mirror.
func (c *Client) IsHeroTurn() bool {
	p := c.mirror.Load()
	return p != nil && p.IsHeroTurn()
}

// Poll fetches the table state immediately and returns the mirror after the
// result has been applied. On failure the mirror is unchanged and the error
// is also reflected in [Client.Status].
func (c *Client) Poll(ctx context.Context) (poker.TableState, error) {
	st, err := c.fetch(ctx)
	cur, serr := c.submit(ctx, update{kind: kindPoll, state: st, err: err})
	if err != nil {
		return cur, err
	}
	return cur, serr
}

// ApplyAction submits action for seat. On success the returned state is the
// mirror after the server's response was applied, and when isHeroActing is
// set the move is recorded with the equity, advice, pot and cost to call
// captured before the request was sent. Once the table service has accepted
// the action it is applied and recorded even if ctx is cancelled.
//
// Failures leave the mirror unchanged: a rejection by the table service
// returns a *[RejectedError] wrapping [ErrInvalidAction] or [ErrNotYourTurn],
// a failed readiness gate returns [ErrNotReady] without contacting the table,
// and a transport failure returns [ErrNetworkUnavailable].
func (c *Client) ApplyAction(ctx context.Context, seat int, action poker.Action, amount float64, isHeroActing bool) (poker.TableState, error) {
	ctx, span := observe.StartActionSpan(ctx, seat, string(action), isHeroActing)
	finish := func(outcome string, err error) {
		c.metrics.RecordAction(ctx, string(action), outcome)
		observe.EndSpan(span, outcome, err)
	}

	cur, ok := c.State()
	if !action.IsValid() || amount < 0 {
		err := &RejectedError{Kind: ErrInvalidAction, Reason: fmt.Sprintf("invalid action %q with amount %.2f", action, amount)}
		finish("rejected", err)
		return cur, err
	}
	if !ok {
		var err error
		if cur, err = c.Poll(ctx); err != nil {
			finish("network", err)
			return cur, err
		}
	}

	var move *poker.Move
	if isHeroActing {
		m, err := c.captureMove(ctx, cur, action, amount)
		if err != nil {
			finish("not_ready", err)
			return cur, err
		}
		move = &m
	}

	start := time.Now()
	st, err := c.transport.Action(ctx, ActionRequest{
		Seat:         seat,
		Action:       action,
		Amount:       amount,
		IsHeroActing: isHeroActing,
	})
	c.metrics.ActionDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		var rej *RejectedError
		switch {
		case errors.As(err, &rej):
			finish("rejected", err)
		case errors.Is(err, ErrNetworkUnavailable):
			finish("network", err)
		default:
			finish("error", err)
		}
		return cur, err
	}
	finish("ok", nil)

	if move != nil && move.Action == poker.ActionRaise && move.Amount == 0 {
		move.Amount = raiseSize(cur, st, seat)
	}
	return c.deliver(ctx, update{kind: kindAction, state: st, move: move}), nil
}

// raiseSize derives the size of a raise sent without an amount (an all-in or
// a minimum raise) from the state before and after it, measured on top of the
// cost to call like a spoken raise amount. It is 0 when the response is from
// a different street.
func raiseSize(before, after poker.TableState, seat int) float64 {
	if after.HandNumber != before.HandNumber || after.Street != before.Street {
		return 0
	}
	size := after.BetsThisStreet[seat] - before.BetsThisStreet[seat] - before.CostToCall
	if size <= 0 {
		size = after.CurrentBet - before.CurrentBet
	}
	return max(0, math.Round(size*100)/100)
}

// captureMove runs the readiness gate and snapshots everything a hero move
// records.
func (c *Client) captureMove(ctx context.Context, cur poker.TableState, action poker.Action, amount float64) (poker.Move, error) {
	var snap cardsignal.Snapshot
	if c.cards != nil {
		var err error
		snap, err = c.cards.Snapshot(ctx)
		if err != nil {
			return poker.Move{}, fmt.Errorf("%w: card signal: %w", ErrNotReady, err)
		}
		if err := snap.Ready(cur.Street); err != nil {
			return poker.Move{}, fmt.Errorf("%w: %w", ErrNotReady, err)
		}
	}

	pot, toCall := cur.Pot, cur.CostToCall
	if snap.PotBeforeCall != nil {
		pot = *snap.PotBeforeCall
	}
	if snap.ToCall != nil {
		toCall = *snap.ToCall
	}
	equity := snap.EquityFor(cur.Street)

	optimal := snap.Recommendation
	if optimal == "" {
		optimal, _ = advice.Recommend(equity, pot, toCall, c.level())
	}
	suggested := snap.SuggestedRaise
	if suggested == nil && optimal == poker.OptimalRaise {
		suggested = advice.SuggestedRaise(pot)
	}

	switch action {
	case poker.ActionCheck, poker.ActionFold:
		amount = 0
	case poker.ActionCall:
		if amount == 0 {
			amount = toCall
		}
	}

	return poker.Move{
		HandNumber:     cur.HandNumber,
		Street:         cur.Street,
		Action:         action,
		Amount:         amount,
		Equity:         equity,
		OptimalMove:    optimal,
		SuggestedRaise: suggested,
		Pot:            poker.Ptr(pot),
		ToCall:         poker.Ptr(toCall),
		Timestamp:      c.now(),
	}, nil
}

// HeroAction submits action for the hero seat and records the move. Before
// the hero seat is known it acts for the seat currently to act, which makes
// the table service assign that seat to the hero.
func (c *Client) HeroAction(ctx context.Context, action poker.Action, amount float64) (poker.TableState, error) {
	cur, ok := c.State()
	if !ok {
		var err error
		if cur, err = c.Poll(ctx); err != nil {
			return cur, err
		}
	}
	switch {
	case cur.HeroSeat != nil:
		return c.ApplyAction(ctx, *cur.HeroSeat, action, amount, true)
	case cur.CurrentActorSeat != nil:
		return c.ApplyAction(ctx, *cur.CurrentActorSeat, action, amount, true)
	default:
		return cur, &RejectedError{Kind: ErrNotYourTurn, Reason: "no seat is to act"}
	}
}

// SimulateOther acts for the seat currently to act on behalf of a
// non-hero player. Nothing is recorded in the move log.
func (c *Client) SimulateOther(ctx context.Context, action poker.Action, amount float64) (poker.TableState, error) {
	cur, ok := c.State()
	if !ok {
		var err error
		if cur, err = c.Poll(ctx); err != nil {
			return cur, err
		}
	}
	if cur.CurrentActorSeat == nil {
		return cur, &RejectedError{Kind: ErrNotYourTurn, Reason: "no seat is to act"}
	}
	if cur.IsHeroTurn() {
		return cur, &RejectedError{Kind: ErrNotYourTurn, Reason: "it is the hero's turn"}
	}
	return c.ApplyAction(ctx, *cur.CurrentActorSeat, action, amount, false)
}

// Reset re-deals the table with numPlayers seats (clamped to 2..10). The
// hero seat is cleared and is assigned again by the next hero action.
func (c *Client) Reset(ctx context.Context, numPlayers int) (poker.TableState, error) {
	numPlayers = max(2, min(10, numPlayers))
	st, err := c.transport.Reset(ctx, numPlayers)
	if err != nil {
		cur, _ := c.State()
		return cur, err
	}
	return c.deliver(ctx, update{kind: kindReset, state: st}), nil
}
