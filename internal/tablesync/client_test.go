package tablesync_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/pokercoach/internal/cardsignal"
	"github.com/MrWong99/pokercoach/internal/observe"
	"github.com/MrWong99/pokercoach/internal/tablesync"
	"github.com/MrWong99/pokercoach/pkg/poker"
)

// fakeTransport is a scripted table service.
type fakeTransport struct {
	mu          sync.Mutex
	state       poker.TableState
	stateErr    error
	actionState poker.TableState
	actionErr   error
	resetState  poker.TableState
	actions     []tablesync.ActionRequest
	// accepted runs after an action has been applied by the table.
	accepted func()
}

func (f *fakeTransport) State(context.Context) (poker.TableState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stateErr != nil {
		return poker.TableState{}, f.stateErr
	}
	return f.state.Clone(), nil
}

func (f *fakeTransport) Action(_ context.Context, req tablesync.ActionRequest) (poker.TableState, error) {
	f.mu.Lock()
	f.actions = append(f.actions, req)
	if f.actionErr != nil {
		defer f.mu.Unlock()
		return poker.TableState{}, f.actionErr
	}
	st, hook := f.actionState.Clone(), f.accepted
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return st, nil
}

func (f *fakeTransport) Reset(context.Context, int) (poker.TableState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resetState.Clone(), nil
}

func (f *fakeTransport) set(fn func(f *fakeTransport)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeTransport) actionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.actions)
}

type recorder struct {
	mu    sync.Mutex
	moves []poker.Move
}

func (r *recorder) Append(_ context.Context, m poker.Move) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.moves = append(r.moves, m)
}

func (r *recorder) all() []poker.Move {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]poker.Move(nil), r.moves...)
}

// tableAt returns a six-handed preflop state at seq with actor to act and
// the hero on seat 3.
func tableAt(seq uint64, actor int) poker.TableState {
	return poker.TableState{
		Seq:              seq,
		NumPlayers:       6,
		Street:           poker.StreetPreflop,
		Pot:              0.3,
		CurrentBet:       0.2,
		CurrentActorSeat: poker.Ptr(actor),
		HeroSeat:         poker.Ptr(3),
		DealerSeat:       0,
		SBSeat:           1,
		BBSeat:           2,
		PlayersInHand:    []int{0, 1, 2, 3, 4, 5},
		BetsThisStreet:   map[int]float64{1: 0.1, 2: 0.2},
		CostToCall:       0.2,
		HandNumber:       1,
	}
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

// startClient runs a client whose ticker never fires during the test.
func startClient(t *testing.T, tr tablesync.Transport, opts ...tablesync.Option) *tablesync.Client {
	t.Helper()
	opts = append([]tablesync.Option{
		tablesync.WithPollInterval(time.Hour),
		tablesync.WithMetrics(testMetrics(t)),
	}, opts...)
	c := tablesync.New(tr, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// Wait for the poll Run issues on start so it cannot land mid-test.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := c.State(); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("initial poll never applied")
		}
		time.Sleep(time.Millisecond)
	}
	return c
}

func readyCards(t *testing.T) *cardsignal.Manual {
	t.Helper()
	var m cardsignal.Manual
	if err := m.Set(cardsignal.Snapshot{HoleCards: []string{"Ah", "Kd"}}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	return &m
}

func TestPoll_InstallsState(t *testing.T) {
	t.Parallel()

	tr := &fakeTransport{state: tableAt(4, 3)}
	c := startClient(t, tr)

	st, err := c.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if st.Seq != 4 {
		t.Errorf("Seq = %d, want 4", st.Seq)
	}
	if !c.IsHeroTurn() {
		t.Error("IsHeroTurn = false, want true")
	}
	if c.Status().Err != nil {
		t.Errorf("Status().Err = %v, want nil", c.Status().Err)
	}
}

func TestPoll_DiscardsStaleState(t *testing.T) {
	t.Parallel()

	tr := &fakeTransport{state: tableAt(7, 3)}
	c := startClient(t, tr)

	if _, err := c.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	tr.set(func(f *fakeTransport) { f.state = tableAt(5, 4) })

	st, err := c.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if st.Seq != 7 || *st.CurrentActorSeat != 3 {
		t.Errorf("mirror = seq %d actor %d, want seq 7 actor 3", st.Seq, *st.CurrentActorSeat)
	}
}

func TestPoll_FailureKeepsLastGoodState(t *testing.T) {
	t.Parallel()

	tr := &fakeTransport{state: tableAt(2, 3)}
	c := startClient(t, tr)

	if _, err := c.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	tr.set(func(f *fakeTransport) { f.stateErr = tablesync.ErrNetworkUnavailable })

	st, err := c.Poll(context.Background())
	if !errors.Is(err, tablesync.ErrNetworkUnavailable) {
		t.Fatalf("Poll error = %v, want ErrNetworkUnavailable", err)
	}
	if st.Seq != 2 {
		t.Errorf("mirror seq = %d, want 2", st.Seq)
	}
	if !errors.Is(c.Status().Err, tablesync.ErrNetworkUnavailable) {
		t.Errorf("Status().Err = %v", c.Status().Err)
	}

	tr.set(func(f *fakeTransport) { f.stateErr = nil })
	if _, err := c.Poll(context.Background()); err != nil {
		t.Fatalf("Poll after recovery: %v", err)
	}
	if c.Status().Err != nil {
		t.Errorf("Status().Err after recovery = %v", c.Status().Err)
	}
}

func TestRun_PollsOnTicker(t *testing.T) {
	t.Parallel()

	tr := &fakeTransport{state: tableAt(1, 0)}
	c := tablesync.New(tr,
		tablesync.WithPollInterval(5*time.Millisecond),
		tablesync.WithMetrics(testMetrics(t)),
	)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	tr.set(func(f *fakeTransport) { f.state = tableAt(9, 0) })
	deadline := time.After(2 * time.Second)
	for {
		if st, ok := c.State(); ok && st.Seq == 9 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("mirror never reached seq 9")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run returned %v, want context.Canceled", err)
	}
}

func TestApplyAction_HeroRecordsMove(t *testing.T) {
	t.Parallel()

	tr := &fakeTransport{state: tableAt(3, 3), actionState: tableAt(4, 4)}
	rec := &recorder{}
	fixed := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	c := startClient(t, tr,
		tablesync.WithMoveRecorder(rec),
		tablesync.WithCardSource(readyCards(t)),
		tablesync.WithClock(func() time.Time { return fixed }),
	)
	if _, err := c.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}

	st, err := c.ApplyAction(context.Background(), 3, poker.ActionCall, 0, true)
	if err != nil {
		t.Fatalf("ApplyAction: %v", err)
	}
	if st.Seq != 4 {
		t.Errorf("mirror seq = %d, want 4", st.Seq)
	}

	moves := rec.all()
	if len(moves) != 1 {
		t.Fatalf("recorded %d moves, want 1", len(moves))
	}
	m := moves[0]
	if m.Action != poker.ActionCall || m.Street != poker.StreetPreflop || m.HandNumber != 1 {
		t.Errorf("move = %+v", m)
	}
	if m.Amount != 0.2 {
		t.Errorf("call amount = %v, want cost to call 0.2", m.Amount)
	}
	if m.ToCall == nil || *m.ToCall != 0.2 || m.Pot == nil || *m.Pot != 0.3 {
		t.Errorf("captured pot/to_call = %v/%v", m.Pot, m.ToCall)
	}
	if m.OptimalMove != poker.OptimalFold {
		t.Errorf("fallback advice with unknown equity = %q, want fold", m.OptimalMove)
	}
	if !m.Timestamp.Equal(fixed) {
		t.Errorf("timestamp = %v", m.Timestamp)
	}
}

func TestApplyAction_StaleResponseStillRecordsMove(t *testing.T) {
	t.Parallel()

	tr := &fakeTransport{state: tableAt(10, 3), actionState: tableAt(6, 4)}
	rec := &recorder{}
	c := startClient(t, tr, tablesync.WithMoveRecorder(rec))
	if _, err := c.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}

	st, err := c.ApplyAction(context.Background(), 3, poker.ActionFold, 0, true)
	if err != nil {
		t.Fatalf("ApplyAction: %v", err)
	}
	if st.Seq != 10 {
		t.Errorf("mirror seq = %d, want 10", st.Seq)
	}
	if n := len(rec.all()); n != 1 {
		t.Errorf("recorded %d moves, want 1", n)
	}
}

func TestApplyAction_Rejected(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"invalid", &tablesync.RejectedError{Kind: tablesync.ErrInvalidAction, Reason: "cannot check facing a bet"}, tablesync.ErrInvalidAction},
		{"wrong turn", &tablesync.RejectedError{Kind: tablesync.ErrNotYourTurn, Reason: "not your turn"}, tablesync.ErrNotYourTurn},
		{"network", tablesync.ErrNetworkUnavailable, tablesync.ErrNetworkUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tr := &fakeTransport{state: tableAt(3, 3), actionErr: tt.err}
			rec := &recorder{}
			c := startClient(t, tr, tablesync.WithMoveRecorder(rec))
			if _, err := c.Poll(context.Background()); err != nil {
				t.Fatalf("Poll: %v", err)
			}

			st, err := c.ApplyAction(context.Background(), 3, poker.ActionCheck, 0, true)
			if !errors.Is(err, tt.want) {
				t.Fatalf("ApplyAction error = %v, want %v", err, tt.want)
			}
			if st.Seq != 3 {
				t.Errorf("mirror seq = %d, want unchanged 3", st.Seq)
			}
			if n := len(rec.all()); n != 0 {
				t.Errorf("recorded %d moves, want 0", n)
			}
		})
	}
}

func TestApplyAction_RejectionKeepsReasonVerbatim(t *testing.T) {
	t.Parallel()

	reason := "invalid action (wrong turn?)"
	tr := &fakeTransport{state: tableAt(3, 3), actionErr: &tablesync.RejectedError{Kind: tablesync.ErrNotYourTurn, Reason: reason}}
	c := startClient(t, tr)
	if _, err := c.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}

	_, err := c.ApplyAction(context.Background(), 2, poker.ActionCall, 0, false)
	var rej *tablesync.RejectedError
	if !errors.As(err, &rej) {
		t.Fatalf("error = %v, want *RejectedError", err)
	}
	if rej.Reason != reason {
		t.Errorf("Reason = %q, want %q", rej.Reason, reason)
	}
}

func TestApplyAction_NotReadyNeverSends(t *testing.T) {
	t.Parallel()

	tr := &fakeTransport{state: tableAt(3, 3), actionState: tableAt(4, 4)}
	rec := &recorder{}
	c := startClient(t, tr,
		tablesync.WithMoveRecorder(rec),
		tablesync.WithCardSource(&cardsignal.Manual{}),
	)
	if _, err := c.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}

	_, err := c.ApplyAction(context.Background(), 3, poker.ActionCall, 0, true)
	if !errors.Is(err, tablesync.ErrNotReady) {
		t.Fatalf("error = %v, want ErrNotReady", err)
	}
	if n := tr.actionCount(); n != 0 {
		t.Errorf("transport received %d actions, want 0", n)
	}
	if n := len(rec.all()); n != 0 {
		t.Errorf("recorded %d moves, want 0", n)
	}
}

func TestApplyAction_InvalidLocally(t *testing.T) {
	t.Parallel()

	tr := &fakeTransport{state: tableAt(3, 3)}
	c := startClient(t, tr)

	_, err := c.ApplyAction(context.Background(), 3, poker.Action("shove"), 0, true)
	if !errors.Is(err, tablesync.ErrInvalidAction) {
		t.Fatalf("error = %v, want ErrInvalidAction", err)
	}
	if n := tr.actionCount(); n != 0 {
		t.Errorf("transport received %d actions, want 0", n)
	}
}

func TestSimulateOther(t *testing.T) {
	t.Parallel()

	tr := &fakeTransport{state: tableAt(3, 4), actionState: tableAt(4, 5)}
	rec := &recorder{}
	c := startClient(t, tr,
		tablesync.WithMoveRecorder(rec),
		tablesync.WithCardSource(&cardsignal.Manual{}),
	)
	if _, err := c.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}

	st, err := c.SimulateOther(context.Background(), poker.ActionRaise, 0.4)
	if err != nil {
		t.Fatalf("SimulateOther: %v", err)
	}
	if st.Seq != 4 {
		t.Errorf("mirror seq = %d, want 4", st.Seq)
	}
	if n := len(rec.all()); n != 0 {
		t.Errorf("recorded %d moves, want 0", n)
	}
	tr.mu.Lock()
	req := tr.actions[0]
	tr.mu.Unlock()
	if req.Seat != 4 || req.IsHeroActing {
		t.Errorf("request = %+v, want seat 4 non-hero", req)
	}
}

func TestHeroAction_UsesHeroSeat(t *testing.T) {
	t.Parallel()

	tr := &fakeTransport{state: tableAt(3, 3), actionState: tableAt(4, 4)}
	rec := &recorder{}
	c := startClient(t, tr,
		tablesync.WithMoveRecorder(rec),
		tablesync.WithCardSource(readyCards(t)),
	)

	if _, err := c.HeroAction(context.Background(), poker.ActionFold, 0); err != nil {
		t.Fatalf("HeroAction: %v", err)
	}
	tr.mu.Lock()
	req := tr.actions[0]
	tr.mu.Unlock()
	if req.Seat != 3 || !req.IsHeroActing {
		t.Errorf("request = %+v, want hero seat 3", req)
	}
	if n := len(rec.all()); n != 1 {
		t.Errorf("recorded %d moves, want 1", n)
	}
}

func TestHeroAction_BeforeHeroSeatAssigned(t *testing.T) {
	t.Parallel()

	st := tableAt(3, 5)
	st.HeroSeat = nil
	tr := &fakeTransport{state: st, actionState: tableAt(4, 0)}
	c := startClient(t, tr, tablesync.WithCardSource(readyCards(t)))

	if _, err := c.HeroAction(context.Background(), poker.ActionCall, 0); err != nil {
		t.Fatalf("HeroAction: %v", err)
	}
	tr.mu.Lock()
	req := tr.actions[0]
	tr.mu.Unlock()
	if req.Seat != 5 {
		t.Errorf("seat = %d, want the seat to act (5)", req.Seat)
	}
}

func TestSimulateOther_HeroTurn(t *testing.T) {
	t.Parallel()

	tr := &fakeTransport{state: tableAt(3, 3)}
	c := startClient(t, tr)
	if _, err := c.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if _, err := c.SimulateOther(context.Background(), poker.ActionFold, 0); !errors.Is(err, tablesync.ErrNotYourTurn) {
		t.Errorf("error = %v, want ErrNotYourTurn", err)
	}
}

func TestReset_InstallsFreshTable(t *testing.T) {
	t.Parallel()

	fresh := tableAt(21, 3)
	fresh.HeroSeat = nil
	fresh.HandNumber = 1
	tr := &fakeTransport{state: tableAt(20, 3), resetState: fresh}
	c := startClient(t, tr)
	if _, err := c.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}

	st, err := c.Reset(context.Background(), 6)
	if err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if st.Seq != 21 || st.HeroSeat != nil {
		t.Errorf("after reset: seq %d hero %v", st.Seq, st.HeroSeat)
	}
}

func TestReset_StaleResponseDiscarded(t *testing.T) {
	t.Parallel()

	tr := &fakeTransport{state: tableAt(20, 3), resetState: tableAt(5, 0)}
	c := startClient(t, tr)
	if _, err := c.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}

	st, err := c.Reset(context.Background(), 6)
	if err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if st.Seq != 20 {
		t.Errorf("mirror seq = %d, want 20", st.Seq)
	}
}

func TestApplyAction_CancelAfterAcceptStillApplies(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tr := &fakeTransport{state: tableAt(3, 3), actionState: tableAt(4, 4), accepted: cancel}
	rec := &recorder{}
	c := startClient(t, tr, tablesync.WithMoveRecorder(rec))
	if _, err := c.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}

	st, err := c.ApplyAction(ctx, 3, poker.ActionFold, 0, true)
	if err != nil {
		t.Fatalf("ApplyAction: %v", err)
	}
	if ctx.Err() == nil {
		t.Fatal("caller context was not cancelled")
	}
	if st.Seq != 4 {
		t.Errorf("returned seq = %d, want 4", st.Seq)
	}
	if mirror, _ := c.State(); mirror.Seq != 4 {
		t.Errorf("mirror seq = %d, want 4", mirror.Seq)
	}
	if n := len(rec.all()); n != 1 {
		t.Errorf("recorded %d moves, want 1", n)
	}
}

func TestApplyAction_AcceptedAfterRunStopped(t *testing.T) {
	t.Parallel()

	tr := &fakeTransport{state: tableAt(3, 3), actionState: tableAt(4, 4)}
	rec := &recorder{}
	c := tablesync.New(tr,
		tablesync.WithPollInterval(time.Hour),
		tablesync.WithMetrics(testMetrics(t)),
		tablesync.WithMoveRecorder(rec),
	)
	runCtx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Run(runCtx)
	}()
	if _, err := c.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	tr.set(func(f *fakeTransport) {
		f.accepted = func() {
			stop()
			<-done
		}
	})

	st, err := c.ApplyAction(context.Background(), 3, poker.ActionCheck, 0, true)
	if err != nil {
		t.Fatalf("ApplyAction: %v", err)
	}
	if st.Seq != 4 {
		t.Errorf("returned seq = %d, want 4", st.Seq)
	}
	if n := len(rec.all()); n != 1 {
		t.Errorf("recorded %d moves, want 1", n)
	}
}

func TestApplyAction_AmountlessRaiseRecordsCommittedSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		after func(st *poker.TableState)
		want  float64
	}{
		{
			name: "from hero bet",
			after: func(st *poker.TableState) {
				st.BetsThisStreet[3] = 0.6
				st.CurrentBet = 0.6
			},
			want: 0.4,
		},
		{
			name: "from current bet",
			after: func(st *poker.TableState) {
				st.BetsThisStreet = nil
				st.CurrentBet = 1.2
			},
			want: 1,
		},
		{
			name: "street moved on",
			after: func(st *poker.TableState) {
				st.Street = poker.StreetFlop
				st.CurrentBet = 0
			},
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			after := tableAt(4, 4)
			tt.after(&after)
			tr := &fakeTransport{state: tableAt(3, 3), actionState: after}
			rec := &recorder{}
			c := startClient(t, tr, tablesync.WithMoveRecorder(rec))
			if _, err := c.Poll(context.Background()); err != nil {
				t.Fatalf("Poll: %v", err)
			}

			if _, err := c.ApplyAction(context.Background(), 3, poker.ActionRaise, 0, true); err != nil {
				t.Fatalf("ApplyAction: %v", err)
			}
			moves := rec.all()
			if len(moves) != 1 {
				t.Fatalf("recorded %d moves, want 1", len(moves))
			}
			if moves[0].Amount != tt.want {
				t.Errorf("raise amount = %v, want %v", moves[0].Amount, tt.want)
			}
			tr.mu.Lock()
			sent := tr.actions[0].Amount
			tr.mu.Unlock()
			if sent != 0 {
				t.Errorf("sent amount = %v, want 0", sent)
			}
		})
	}
}

func TestApplyAction_SpokenRaiseAmountKept(t *testing.T) {
	t.Parallel()

	after := tableAt(4, 4)
	after.BetsThisStreet[3] = 0.6
	tr := &fakeTransport{state: tableAt(3, 3), actionState: after}
	rec := &recorder{}
	c := startClient(t, tr, tablesync.WithMoveRecorder(rec))
	if _, err := c.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}

	if _, err := c.ApplyAction(context.Background(), 3, poker.ActionRaise, 0.5, true); err != nil {
		t.Fatalf("ApplyAction: %v", err)
	}
	if m := rec.all(); len(m) != 1 || m[0].Amount != 0.5 {
		t.Errorf("moves = %+v, want one raise of 0.5", m)
	}
}
