package tablesim

import (
	"errors"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/MrWong99/pokercoach/pkg/poker"
)

func seededTable(n int, opts ...Option) *Table {
	return New(n, append([]Option{WithRand(rand.New(rand.NewPCG(1, 2)))}, opts...)...)
}

func mustAct(t *testing.T, tb *Table, seat int, a poker.Action, amount float64) poker.TableState {
	t.Helper()
	st, err := tb.Act(seat, a, amount, false)
	if err != nil {
		t.Fatalf("seat %d %s %.2f: %v", seat, a, amount, err)
	}
	return st
}

func actor(t *testing.T, st poker.TableState) int {
	t.Helper()
	if st.CurrentActorSeat == nil {
		t.Fatal("no current actor")
	}
	return *st.CurrentActorSeat
}

func TestNew_DealsFirstHand(t *testing.T) {
	t.Parallel()

	st := seededTable(6).State()

	if st.HandNumber != 1 || st.Street != poker.StreetPreflop {
		t.Fatalf("hand %d street %s, want 1 preflop", st.HandNumber, st.Street)
	}
	if st.DealerSeat != 1 || st.SBSeat != 2 || st.BBSeat != 3 {
		t.Errorf("dealer/sb/bb = %d/%d/%d, want 1/2/3", st.DealerSeat, st.SBSeat, st.BBSeat)
	}
	if got := actor(t, st); got != 4 {
		t.Errorf("first actor = %d, want 4 (left of the big blind)", got)
	}
	if st.Pot != 0.30 || st.CurrentBet != 0.20 || st.CostToCall != 0.20 {
		t.Errorf("pot/bet/to-call = %.2f/%.2f/%.2f", st.Pot, st.CurrentBet, st.CostToCall)
	}
	if st.HeroSeat != nil || st.HeroPosition != "" {
		t.Errorf("hero assigned before any hero action: %v %q", st.HeroSeat, st.HeroPosition)
	}
	if st.Seq == 0 {
		t.Error("Seq must start above zero")
	}
	if err := st.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestNew_ClampsPlayers(t *testing.T) {
	t.Parallel()

	tests := []struct{ in, want int }{
		{0, DefaultPlayers},
		{1, MinPlayers},
		{4, 4},
		{42, MaxPlayers},
	}
	for _, tt := range tests {
		if got := seededTable(tt.in).State().NumPlayers; got != tt.want {
			t.Errorf("New(%d) players = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestAct_Rejections(t *testing.T) {
	t.Parallel()

	tb := seededTable(6)
	before := tb.State()

	tests := []struct {
		name   string
		seat   int
		action poker.Action
		amount float64
		code   string
	}{
		{"wrong seat", 5, poker.ActionCall, 0, CodeNotYourTurn},
		{"check facing bet", 4, poker.ActionCheck, 0, CodeInvalidAction},
		{"unknown action", 4, poker.Action("shove"), 0, CodeInvalidAction},
		{"negative amount", 4, poker.ActionRaise, -1, CodeInvalidAction},
	}
	for _, tt := range tests {
		_, err := tb.Act(tt.seat, tt.action, tt.amount, true)
		var rej *Rejection
		if !errors.As(err, &rej) {
			t.Fatalf("%s: error = %v, want *Rejection", tt.name, err)
		}
		if rej.Code != tt.code {
			t.Errorf("%s: code = %q, want %q", tt.name, rej.Code, tt.code)
		}
	}

	after := tb.State()
	if after.Seq != before.Seq || after.HeroSeat != nil {
		t.Errorf("rejected actions changed the table: seq %d -> %d, hero %v", before.Seq, after.Seq, after.HeroSeat)
	}
}

func TestAct_PreflopRoundAdvancesToFlop(t *testing.T) {
	t.Parallel()

	tb := seededTable(6)
	for _, seat := range []int{4, 5, 0, 1} {
		mustAct(t, tb, seat, poker.ActionCall, 0)
	}
	st := mustAct(t, tb, 2, poker.ActionCall, 0)
	if st.BetsThisStreet[2] != 0.20 {
		t.Errorf("small blind completed to %.2f, want 0.20", st.BetsThisStreet[2])
	}
	if got := actor(t, st); got != 3 {
		t.Fatalf("actor = %d, want the big blind", got)
	}
	if st.CostToCall != 0 {
		t.Errorf("big blind cost to call = %.2f, want 0", st.CostToCall)
	}

	st = mustAct(t, tb, 3, poker.ActionCheck, 0)
	if st.Street != poker.StreetFlop {
		t.Fatalf("street = %s, want flop", st.Street)
	}
	if st.Pot != 1.20 {
		t.Errorf("pot = %.2f, want 1.20", st.Pot)
	}
	if st.CurrentBet != 0 {
		t.Errorf("current bet = %.2f, want 0 on a new street", st.CurrentBet)
	}
	if got := actor(t, st); got != 2 {
		t.Errorf("flop actor = %d, want 2 (left of the dealer)", got)
	}
}

func TestAct_RaiseReopensAction(t *testing.T) {
	t.Parallel()

	tb := seededTable(6)
	st := mustAct(t, tb, 4, poker.ActionRaise, 0.40)

	if st.BetsThisStreet[4] != 0.60 || st.CurrentBet != 0.60 {
		t.Errorf("raiser bet %.2f current %.2f, want 0.60", st.BetsThisStreet[4], st.CurrentBet)
	}
	if st.Pot != 0.90 {
		t.Errorf("pot = %.2f, want 0.90", st.Pot)
	}
	if got := actor(t, st); got != 5 || st.CostToCall != 0.60 {
		t.Errorf("actor %d to call %.2f, want 5 facing 0.60", got, st.CostToCall)
	}

	// Everyone calls back round to the raiser, who does not act again.
	for _, seat := range []int{5, 0, 1, 2} {
		mustAct(t, tb, seat, poker.ActionCall, 0)
	}
	st = mustAct(t, tb, 3, poker.ActionCall, 0)
	if st.Street != poker.StreetFlop {
		t.Errorf("street = %s, want flop once the raise is matched", st.Street)
	}
}

func TestAct_MinimumRaise(t *testing.T) {
	t.Parallel()

	tb := seededTable(6)
	st := mustAct(t, tb, 4, poker.ActionRaise, 0)
	if st.CurrentBet != 0.21 {
		t.Errorf("current bet = %.2f, want the 0.01 minimum raise on top", st.CurrentBet)
	}
}

func TestAct_HeroFoldStartsNewHand(t *testing.T) {
	t.Parallel()

	tb := seededTable(6)
	st, err := tb.Act(4, poker.ActionFold, 0, true)
	if err != nil {
		t.Fatal(err)
	}
	if st.HandNumber != 2 {
		t.Fatalf("hand = %d, want 2 after the hero folds", st.HandNumber)
	}
	if st.DealerSeat != 2 || st.BBSeat != 4 {
		t.Errorf("dealer %d bb %d, want the button moved to 2", st.DealerSeat, st.BBSeat)
	}
	if st.HeroSeat == nil || *st.HeroSeat != 4 || st.HeroPosition != "BB" {
		t.Errorf("hero = %v %q, want seat 4 in the big blind", st.HeroSeat, st.HeroPosition)
	}
	if len(st.PlayersInHand) != 6 {
		t.Errorf("players in hand = %v, want all seats", st.PlayersInHand)
	}
}

func TestAct_HeroSeatSetOnce(t *testing.T) {
	t.Parallel()

	tb := seededTable(6)
	if _, err := tb.Act(4, poker.ActionCall, 0, true); err != nil {
		t.Fatal(err)
	}
	st, err := tb.Act(5, poker.ActionCall, 0, true)
	if err != nil {
		t.Fatal(err)
	}
	if st.HeroSeat == nil || *st.HeroSeat != 4 {
		t.Errorf("hero seat = %v, want 4", st.HeroSeat)
	}
	if st.HeroPosition != "UTG" {
		t.Errorf("hero position = %q, want UTG", st.HeroPosition)
	}
}

func TestAct_LastPlayerStandingWins(t *testing.T) {
	t.Parallel()

	tb := seededTable(6)
	for _, seat := range []int{4, 5, 0, 1} {
		mustAct(t, tb, seat, poker.ActionFold, 0)
	}
	st := mustAct(t, tb, 2, poker.ActionFold, 0)
	if st.HandNumber != 2 || st.Street != poker.StreetPreflop {
		t.Errorf("hand %d %s, want a fresh hand 2", st.HandNumber, st.Street)
	}
}

func TestAct_HeadsUpPlaysToRiver(t *testing.T) {
	t.Parallel()

	tb := seededTable(2)
	st := tb.State()
	if st.DealerSeat != 1 || st.SBSeat != 0 || st.BBSeat != 1 {
		t.Fatalf("dealer/sb/bb = %d/%d/%d", st.DealerSeat, st.SBSeat, st.BBSeat)
	}
	if got := actor(t, st); got != 0 {
		t.Fatalf("preflop actor = %d, want 0", got)
	}

	mustAct(t, tb, 0, poker.ActionCall, 0)
	st = mustAct(t, tb, 1, poker.ActionCheck, 0)

	for _, street := range []poker.Street{poker.StreetFlop, poker.StreetTurn, poker.StreetRiver} {
		if st.Street != street {
			t.Fatalf("street = %s, want %s", st.Street, street)
		}
		if got := actor(t, st); got != 1 {
			t.Fatalf("%s actor = %d, want the dealer first heads-up", street, got)
		}
		mustAct(t, tb, 1, poker.ActionCheck, 0)
		st = mustAct(t, tb, 0, poker.ActionCheck, 0)
	}

	if st.HandNumber != 2 || st.DealerSeat != 0 {
		t.Errorf("after the river: hand %d dealer %d, want hand 2 dealer 0", st.HandNumber, st.DealerSeat)
	}
}

func TestSeq_MonotonicAcrossReset(t *testing.T) {
	t.Parallel()

	tb := seededTable(6)
	var last uint64
	check := func(st poker.TableState) {
		t.Helper()
		if st.Seq <= last {
			t.Fatalf("seq %d did not increase past %d", st.Seq, last)
		}
		last = st.Seq
	}

	check(tb.State())
	st, err := tb.Act(4, poker.ActionCall, 0, true)
	if err != nil {
		t.Fatal(err)
	}
	check(st)
	st = tb.Reset(3)
	check(st)
	if st.HeroSeat != nil || st.NumPlayers != 3 || st.HandNumber != 1 {
		t.Errorf("after reset: hero %v players %d hand %d", st.HeroSeat, st.NumPlayers, st.HandNumber)
	}
}

func TestPosition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		players int
		want    []string // indexed from the seat left of the big blind
	}{
		{3, []string{"UTG", "SB", "BB"}},
		{4, []string{"UTG", "BTN", "SB", "BB"}},
		{6, []string{"UTG", "MP", "CO", "BTN", "SB", "BB"}},
		{9, []string{"UTG", "UTG+1", "UTG+2", "UTG+3", "UTG+4", "CO", "BTN", "SB", "BB"}},
	}
	for _, tt := range tests {
		tb := seededTable(tt.players)
		var got []string
		for i := range tt.players {
			got = append(got, tb.position((tb.bb+1+i)%tt.players))
		}
		if !slices.Equal(got, tt.want) {
			t.Errorf("%d players: positions = %v, want %v", tt.players, got, tt.want)
		}
	}

	hu := seededTable(2)
	if got := hu.position(hu.sb); got != "SB" {
		t.Errorf("heads-up sb = %q", got)
	}
	if got := hu.position(hu.bb); got != "BB" {
		t.Errorf("heads-up bb = %q", got)
	}
}

func TestCalibrate(t *testing.T) {
	t.Parallel()

	tb := seededTable(6)
	if a, level := tb.BotAggression(); a != 50 || level != "neutral" {
		t.Errorf("default bots = %d %s", a, level)
	}

	tests := []struct {
		index int
		want  int
		level string
	}{
		{30, 70, "aggressive"},
		{80, 20, "conservative"},
		{50, 50, "neutral"},
		{150, 0, "conservative"},
		{-5, 100, "aggressive"},
	}
	for _, tt := range tests {
		if got := tb.Calibrate(tt.index); got != tt.want {
			t.Errorf("Calibrate(%d) = %d, want %d", tt.index, got, tt.want)
		}
		if _, level := tb.BotAggression(); level != tt.level {
			t.Errorf("Calibrate(%d) level = %s, want %s", tt.index, level, tt.level)
		}
	}
}

func TestBotStep(t *testing.T) {
	t.Parallel()

	tb := seededTable(6)
	before := tb.State()
	st, err := tb.BotStep()
	if err != nil {
		t.Fatalf("BotStep: %v", err)
	}
	if st.Seq <= before.Seq {
		t.Errorf("bot step did not mutate the table")
	}

	// Once the hero is known the bot refuses to play for it.
	tb = seededTable(6)
	if _, err := tb.Act(4, poker.ActionFold, 0, true); err != nil {
		t.Fatal(err)
	}
	for range 50 {
		st := tb.State()
		if st.IsHeroTurn() {
			_, err := tb.BotStep()
			var rej *Rejection
			if !errors.As(err, &rej) || rej.Code != CodeNotYourTurn {
				t.Fatalf("bot played the hero seat: %v", err)
			}
			return
		}
		if _, err := tb.BotStep(); err != nil {
			t.Fatalf("BotStep: %v", err)
		}
	}
	t.Fatal("hero never came to act")
}

func TestAutoPlay_WaitsOnHero(t *testing.T) {
	t.Parallel()

	tb := seededTable(6, WithAutoPlay(true))
	st, err := tb.Act(4, poker.ActionCall, 0, true)
	if err != nil {
		t.Fatal(err)
	}
	if !st.IsHeroTurn() {
		t.Fatalf("after auto play actor = %v, want the hero", st.CurrentActorSeat)
	}

	for range 20 {
		action := poker.ActionCall
		if st.CostToCall == 0 {
			action = poker.ActionCheck
		}
		st, err = tb.Act(*st.HeroSeat, action, 0, true)
		if err != nil {
			t.Fatalf("hero %s: %v", action, err)
		}
		if !st.IsHeroTurn() {
			t.Fatalf("auto play stopped on seat %v", st.CurrentActorSeat)
		}
	}
}

func TestBotDecision_NeverChecksFacingBet(t *testing.T) {
	t.Parallel()

	for _, aggr := range []int{0, 50, 100} {
		tb := seededTable(6)
		tb.Calibrate(100 - aggr)
		for range 200 {
			a, amount := tb.botDecision(4)
			if a == poker.ActionCheck {
				t.Fatalf("aggression %d: checked facing the big blind", aggr)
			}
			if a == poker.ActionRaise && amount < DefaultBigBlind {
				t.Fatalf("aggression %d: raise %.2f below one big blind", aggr, amount)
			}
		}
	}
}
