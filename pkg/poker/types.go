// Package poker defines the shared value types exchanged between the table
// mirror, the voice pipeline, the move log, and the analytics engine.
//
// All types in this package are plain values. [TableState] in particular is
// treated as immutable once constructed: holders replace it wholesale and
// never patch individual fields.
package poker

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

// Street is a betting round.
type Street string

const (
	StreetPreflop Street = "preflop"
	StreetFlop    Street = "flop"
	StreetTurn    Street = "turn"
	StreetRiver   Street = "river"
)

// Streets lists the four betting rounds in play order.
var Streets = []Street{StreetPreflop, StreetFlop, StreetTurn, StreetRiver}

// IsValid reports whether s is one of the four defined streets.
func (s Street) IsValid() bool {
	return slices.Contains(Streets, s)
}

// Action is a decision a seat can submit to the table service.
type Action string

const (
	ActionCheck Action = "check"
	ActionCall  Action = "call"
	ActionRaise Action = "raise"
	ActionFold  Action = "fold"
)

// IsValid reports whether a is a submittable action.
func (a Action) IsValid() bool {
	switch a {
	case ActionCheck, ActionCall, ActionRaise, ActionFold:
		return true
	}
	return false
}

// ParseAction converts a case-insensitive action name into an [Action].
func ParseAction(s string) (Action, error) {
	a := Action(strings.ToLower(strings.TrimSpace(s)))
	if !a.IsValid() {
		return "", fmt.Errorf("poker: unknown action %q", s)
	}
	return a, nil
}

// OptimalMove is the externally recommended decision for a decision point.
// It extends the action set with [OptimalNoBet] for spots where the advice
// service has nothing to recommend.
type OptimalMove string

const (
	OptimalCheck OptimalMove = "check"
	OptimalCall  OptimalMove = "call"
	OptimalRaise OptimalMove = "raise"
	OptimalFold  OptimalMove = "fold"
	OptimalNoBet OptimalMove = "no_bet"
)

// IsValid reports whether m is a known recommendation.
func (m OptimalMove) IsValid() bool {
	switch m {
	case OptimalCheck, OptimalCall, OptimalRaise, OptimalFold, OptimalNoBet:
		return true
	}
	return false
}

// Matches reports whether the action taken agrees with the recommendation.
// A check is considered to follow a no_bet recommendation.
func (m OptimalMove) Matches(a Action) bool {
	if string(a) == string(m) {
		return true
	}
	return a == ActionCheck && m == OptimalNoBet
}

// Move is a single recorded hero decision. Values are captured at the moment
// the action was accepted and never re-derived. Absent inputs are nil.
type Move struct {
	HandNumber     int         `json:"hand_number"`
	Street         Street      `json:"street"`
	Action         Action      `json:"action"`
	Amount         float64     `json:"amount"`
	Equity         *float64    `json:"equity,omitempty"`
	OptimalMove    OptimalMove `json:"optimal_move"`
	SuggestedRaise *float64    `json:"suggested_raise,omitempty"`
	Pot            *float64    `json:"pot,omitempty"`
	ToCall         *float64    `json:"to_call,omitempty"`
	Timestamp      time.Time   `json:"timestamp"`
}

// Matched reports whether the move followed the recommendation.
func (m Move) Matched() bool {
	return m.OptimalMove.Matches(m.Action)
}

// TableState is a snapshot of the authoritative table. Seq increases with
// every mutation on the table service and orders snapshots that arrive out
// of issuance order.
type TableState struct {
	Seq              uint64          `json:"seq"`
	NumPlayers       int             `json:"num_players"`
	Street           Street          `json:"street"`
	Pot              float64         `json:"pot"`
	CurrentBet       float64         `json:"current_bet"`
	CurrentActorSeat *int            `json:"current_actor"`
	HeroSeat         *int            `json:"hero_seat"`
	HeroPosition     string          `json:"hero_position,omitempty"`
	DealerSeat       int             `json:"dealer_seat"`
	SBSeat           int             `json:"sb_seat"`
	BBSeat           int             `json:"bb_seat"`
	PlayersInHand    []int           `json:"players_in_hand"`
	BetsThisStreet   map[int]float64 `json:"player_bets_this_street"`
	CostToCall       float64         `json:"cost_to_call"`
	HandNumber       int             `json:"hand_number"`
}

// IsHeroTurn reports whether a hero seat is assigned and it is the seat to act.
func (s TableState) IsHeroTurn() bool {
	return s.HeroSeat != nil && s.CurrentActorSeat != nil && *s.CurrentActorSeat == *s.HeroSeat
}

// Validate checks the structural invariants of a snapshot received from the
// table service.
func (s TableState) Validate() error {
	if !s.Street.IsValid() {
		return fmt.Errorf("poker: invalid street %q", s.Street)
	}
	if s.CurrentActorSeat != nil && !slices.Contains(s.PlayersInHand, *s.CurrentActorSeat) {
		return fmt.Errorf("poker: current actor %d is not in hand", *s.CurrentActorSeat)
	}
	return nil
}

// Clone returns a deep copy so that callers can hand out snapshots without
// sharing the slice and map backing stores.
func (s TableState) Clone() TableState {
	c := s
	c.PlayersInHand = slices.Clone(s.PlayersInHand)
	c.BetsThisStreet = maps.Clone(s.BetsThisStreet)
	if s.CurrentActorSeat != nil {
		v := *s.CurrentActorSeat
		c.CurrentActorSeat = &v
	}
	if s.HeroSeat != nil {
		v := *s.HeroSeat
		c.HeroSeat = &v
	}
	return c
}

// Ptr returns a pointer to v. It is handy for the optional fields of [Move]
// and [TableState].
func Ptr[T any](v T) *T {
	return &v
}
