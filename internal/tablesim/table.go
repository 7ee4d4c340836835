// Package tablesim is an authoritative table service for local play. It
// tracks the dealer button, blinds, action order and whose turn it is. It
// has no card logic: pot, bets and turn order are all it knows.
//
// [Table] holds the game, [Handler] exposes it over the JSON API consumed by
// the coach's table mirror.
package tablesim

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"

	"github.com/MrWong99/pokercoach/pkg/poker"
)

// Defaults for a fresh table.
const (
	DefaultPlayers    = 6
	DefaultSmallBlind = 0.10
	DefaultBigBlind   = 0.20

	MinPlayers = 2
	MaxPlayers = 10

	minRaise = 0.01
)

// Rejection codes shared with the table mirror.
const (
	CodeNotYourTurn   = "not_your_turn"
	CodeInvalidAction = "invalid_action"
)

// Rejection is returned for actions the table refuses. The state is left
// unchanged.
type Rejection struct {
	Code   string
	Reason string
}

func (r *Rejection) Error() string { return "tablesim: " + r.Reason }

func notYourTurn(format string, args ...any) *Rejection {
	return &Rejection{Code: CodeNotYourTurn, Reason: fmt.Sprintf(format, args...)}
}

func invalidAction(format string, args ...any) *Rejection {
	return &Rejection{Code: CodeInvalidAction, Reason: fmt.Sprintf(format, args...)}
}

// Option configures a [Table].
type Option func(*Table)

// WithBlinds overrides the 0.10/0.20 blinds.
func WithBlinds(small, big float64) Option {
	return func(t *Table) {
		if small > 0 && big >= small {
			t.smallBlind, t.bigBlind = small, big
		}
	}
}

// WithRand replaces the random source used by the opponent bots.
func WithRand(r *rand.Rand) Option {
	return func(t *Table) { t.rng = r }
}

// WithAutoPlay lets the bots act for every non-hero seat as soon as the
// hero seat is known, so the table always waits on the hero.
func WithAutoPlay(on bool) Option {
	return func(t *Table) { t.autoPlay = on }
}

// Table is a single simulated poker table. It is safe for concurrent use.
type Table struct {
	smallBlind float64
	bigBlind   float64
	autoPlay   bool

	mu  sync.Mutex
	rng *rand.Rand
	seq uint64

	// botAggression is 0-100, the inverse of the hero's aggression index.
	botAggression int

	numPlayers int
	heroSeat   *int
	handNumber int
	dealer     int
	sb, bb     int
	street     poker.Street
	pot        float64
	currentBet float64
	inHand     []int // sorted
	bets       map[int]float64
	toAct      []int
	actor      *int
}

// New returns a table with numPlayers seats (clamped to 2-10) and deals the
// first hand.
func New(numPlayers int, opts ...Option) *Table {
	t := &Table{
		smallBlind:    DefaultSmallBlind,
		bigBlind:      DefaultBigBlind,
		botAggression: 50,
	}
	for _, o := range opts {
		o(t)
	}
	if t.rng == nil {
		t.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	t.reset(numPlayers)
	return t
}

// State returns the current snapshot.
func (t *Table) State() poker.TableState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshot()
}

// Reset starts a new table with numPlayers seats. The hero seat is cleared
// and Seq keeps counting up.
func (t *Table) Reset(numPlayers int) poker.TableState {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reset(numPlayers)
	slog.Info("tablesim: table reset", "players", t.numPlayers)
	return t.snapshot()
}

// Calibrate configures the bots from the hero's aggression index. Bots play
// with the inverse aggression, 100 - index.
func (t *Table) Calibrate(aggressionIndex int) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.botAggression = 100 - min(max(aggressionIndex, 0), 100)
	slog.Info("tablesim: bots calibrated", "hero_index", aggressionIndex, "bot_aggression", t.botAggression)
	return t.botAggression
}

// BotAggression returns the bots' aggression (0-100) and its level name.
func (t *Table) BotAggression() (int, string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.botAggression, aggressionLevel(t.botAggression)
}

// Act records an action for seat. When heroActing is set and no hero seat
// is known yet, seat becomes the hero for the rest of this table.
func (t *Table) Act(seat int, action poker.Action, amount float64, heroActing bool) (poker.TableState, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.act(seat, action, amount, heroActing); err != nil {
		return poker.TableState{}, err
	}
	if t.autoPlay {
		t.playBots()
	}
	return t.snapshot(), nil
}

// BotStep lets the bot policy act for the seat currently to act. The hero
// seat is never played by a bot.
func (t *Table) BotStep() (poker.TableState, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.actor == nil {
		return poker.TableState{}, notYourTurn("no seat is to act")
	}
	if t.heroSeat != nil && *t.actor == *t.heroSeat {
		return poker.TableState{}, notYourTurn("seat %d is the hero", *t.actor)
	}
	seat := *t.actor
	action, amount := t.botDecision(seat)
	if err := t.act(seat, action, amount, false); err != nil {
		return poker.TableState{}, err
	}
	return t.snapshot(), nil
}

// playBots acts for every non-hero seat until the hero is to act. The bound
// keeps a pathological raise war from spinning forever.
func (t *Table) playBots() {
	if t.heroSeat == nil {
		return
	}
	for range 500 {
		if t.actor == nil || *t.actor == *t.heroSeat {
			return
		}
		seat := *t.actor
		action, amount := t.botDecision(seat)
		if err := t.act(seat, action, amount, false); err != nil {
			slog.Warn("tablesim: bot action rejected", "seat", seat, "action", action, "err", err)
			return
		}
	}
}

func (t *Table) reset(numPlayers int) {
	if numPlayers == 0 {
		numPlayers = DefaultPlayers
	}
	t.numPlayers = min(max(numPlayers, MinPlayers), MaxPlayers)
	t.heroSeat = nil
	t.handNumber = 0
	t.dealer = 0
	t.startHand()
}

// startHand rotates the button, posts the blinds and hands the action to
// the seat after the big blind.
func (t *Table) startHand() {
	n := t.numPlayers
	t.handNumber++
	t.dealer = (t.dealer + 1) % n
	t.sb = (t.dealer + 1) % n
	t.bb = (t.dealer + 2) % n

	t.street = poker.StreetPreflop
	t.pot = round2(t.smallBlind + t.bigBlind)
	t.currentBet = t.bigBlind
	t.inHand = make([]int, n)
	t.bets = make(map[int]float64, n)
	for i := range n {
		t.inHand[i] = i
		t.bets[i] = 0
	}
	t.bets[t.sb] = t.smallBlind
	t.bets[t.bb] = t.bigBlind

	t.toAct = t.orderFrom((t.bb + 1) % n)
	t.setActor()
	t.seq++
}

func (t *Table) act(seat int, action poker.Action, amount float64, heroActing bool) error {
	if t.actor == nil {
		return notYourTurn("no seat is to act")
	}
	if seat != *t.actor {
		return notYourTurn("seat %d acted but it is seat %d's turn", seat, *t.actor)
	}
	action = poker.Action(strings.ToLower(strings.TrimSpace(string(action))))
	if !action.IsValid() {
		return invalidAction("action must be check, call, raise, or fold")
	}
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount < 0 {
		return invalidAction("amount must be a non-negative number")
	}
	toCall := t.costToCall(seat)
	if action == poker.ActionCheck && toCall > 0 {
		return invalidAction("cannot check facing a bet of %.2f", toCall)
	}

	if heroActing && t.heroSeat == nil {
		t.heroSeat = poker.Ptr(seat)
		slog.Info("tablesim: hero seat assigned", "seat", seat, "position", t.position(seat))
	}
	t.seq++

	switch action {
	case poker.ActionFold:
		t.inHand = slices.DeleteFunc(t.inHand, func(s int) bool { return s == seat })
		t.toAct = slices.DeleteFunc(t.toAct, func(s int) bool { return s == seat })
		if (t.heroSeat != nil && seat == *t.heroSeat) || len(t.inHand) <= 1 {
			t.startHand()
			return nil
		}
		t.setActor()
		return nil

	case poker.ActionCheck:

	case poker.ActionCall:
		t.bets[seat] = round2(t.bets[seat] + toCall)
		t.pot = round2(t.pot + toCall)

	case poker.ActionRaise:
		raise := amount
		if raise < minRaise {
			raise = minRaise
		}
		add := toCall + raise
		t.bets[seat] = round2(t.bets[seat] + add)
		t.currentBet = t.bets[seat]
		t.pot = round2(t.pot + add)
		// Everyone else still in gets to respond.
		t.toAct = slices.DeleteFunc(t.orderFrom((seat+1)%t.numPlayers), func(s int) bool { return s == seat })
	}

	t.toAct = slices.DeleteFunc(t.toAct, func(s int) bool { return s == seat })
	if len(t.toAct) == 0 && t.allMatched() {
		if t.street == poker.StreetRiver {
			t.startHand()
			return nil
		}
		t.advanceStreet()
		return nil
	}
	t.setActor()
	return nil
}

// advanceStreet opens the next betting round. Postflop the seat left of the
// dealer acts first; heads-up the dealer does.
func (t *Table) advanceStreet() {
	t.street = poker.Streets[slices.Index(poker.Streets, t.street)+1]
	t.currentBet = 0
	t.bets = make(map[int]float64, len(t.inHand))
	for _, s := range t.inHand {
		t.bets[s] = 0
	}
	first := (t.dealer + 1) % t.numPlayers
	if t.numPlayers == 2 {
		first = t.dealer
	}
	t.toAct = t.orderFrom(first)
	t.setActor()
}

// orderFrom lists the seats still in the hand clockwise from start.
func (t *Table) orderFrom(start int) []int {
	order := make([]int, 0, len(t.inHand))
	for i := range t.numPlayers {
		seat := (start + i) % t.numPlayers
		if slices.Contains(t.inHand, seat) {
			order = append(order, seat)
		}
	}
	return order
}

func (t *Table) setActor() {
	if len(t.toAct) == 0 {
		t.actor = nil
		return
	}
	t.actor = poker.Ptr(t.toAct[0])
}

func (t *Table) allMatched() bool {
	for _, s := range t.inHand {
		if t.bets[s] < t.currentBet {
			return false
		}
	}
	return true
}

func (t *Table) costToCall(seat int) float64 {
	return max(0, round2(t.currentBet-t.bets[seat]))
}

func (t *Table) snapshot() poker.TableState {
	st := poker.TableState{
		Seq:            t.seq,
		NumPlayers:     t.numPlayers,
		Street:         t.street,
		Pot:            t.pot,
		CurrentBet:     t.currentBet,
		DealerSeat:     t.dealer,
		SBSeat:         t.sb,
		BBSeat:         t.bb,
		PlayersInHand:  slices.Clone(t.inHand),
		BetsThisStreet: make(map[int]float64, len(t.bets)),
		HandNumber:     t.handNumber,
	}
	for s, b := range t.bets {
		st.BetsThisStreet[s] = b
	}
	if t.actor != nil {
		st.CurrentActorSeat = poker.Ptr(*t.actor)
		st.CostToCall = t.costToCall(*t.actor)
	}
	if t.heroSeat != nil {
		st.HeroSeat = poker.Ptr(*t.heroSeat)
		st.HeroPosition = t.position(*t.heroSeat)
	}
	return st
}

// position names seat relative to the blinds. Seven or more players use
// UTG+1, UTG+2 and so on before the cutoff.
func (t *Table) position(seat int) string {
	n := t.numPlayers
	if n <= 2 {
		if seat == t.sb {
			return "SB"
		}
		return "BB"
	}
	idx := (seat - (t.bb + 1) + 2*n) % n
	var names []string
	switch n {
	case 3:
		names = []string{"UTG", "SB", "BB"}
	case 4:
		names = []string{"UTG", "BTN", "SB", "BB"}
	case 5:
		names = []string{"UTG", "MP", "BTN", "SB", "BB"}
	case 6:
		names = []string{"UTG", "MP", "CO", "BTN", "SB", "BB"}
	default:
		names = []string{"UTG"}
		for i := 1; i < n-4; i++ {
			names = append(names, fmt.Sprintf("UTG+%d", i))
		}
		names = append(names, "CO", "BTN", "SB", "BB")
	}
	if idx >= len(names) {
		return "?"
	}
	return names[idx]
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
