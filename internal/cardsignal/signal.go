// Package cardsignal reads the card-detection and equity signal that gates
// table actions. The signal comes from an external vision service (or from
// manual entry) and reports which cards are on the table together with the
// equity and recommendation computed for the current spot.
package cardsignal

import (
	"context"
	"fmt"
	"strings"

	phpoker "github.com/paulhankin/poker"

	"github.com/MrWong99/pokercoach/pkg/poker"
)

// Source provides the latest card/equity snapshot.
type Source interface {
	Snapshot(ctx context.Context) (Snapshot, error)
}

// Snapshot is a point-in-time view of detected cards and the advice attached
// to them. Absent values are nil.
type Snapshot struct {
	HoleCards []string `json:"hole_cards"`
	FlopCards []string `json:"flop_cards"`
	TurnCard  string   `json:"turn_card,omitempty"`
	RiverCard string   `json:"river_card,omitempty"`

	EquityPreflop *float64 `json:"equity_preflop,omitempty"`
	EquityFlop    *float64 `json:"equity_flop,omitempty"`
	EquityTurn    *float64 `json:"equity_turn,omitempty"`
	EquityRiver   *float64 `json:"equity_river,omitempty"`

	// Recommendation is empty when the service offered none.
	Recommendation poker.OptimalMove `json:"recommendation,omitempty"`
	SuggestedRaise *float64          `json:"suggested_raise,omitempty"`
	PotBeforeCall  *float64          `json:"pot_before_call,omitempty"`
	ToCall         *float64          `json:"to_call,omitempty"`
}

// EquityFor returns the equity reported for street, or nil.
func (s Snapshot) EquityFor(street poker.Street) *float64 {
	switch street {
	case poker.StreetPreflop:
		return s.EquityPreflop
	case poker.StreetFlop:
		return s.EquityFlop
	case poker.StreetTurn:
		return s.EquityTurn
	case poker.StreetRiver:
		return s.EquityRiver
	}
	return nil
}

// NotReadyError describes which cards are still missing for a street.
type NotReadyError struct {
	Street  poker.Street
	Missing string
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("cards not ready for %s: %s", e.Street, e.Missing)
}

// Ready reports nil when every card required to act on street has been
// detected: two hole cards preflop, plus three flop cards, plus the turn,
// plus the river. Unparseable and duplicate card codes do not count.
func (s Snapshot) Ready(street poker.Street) error {
	seen := make(map[phpoker.Card]bool)
	count := func(codes ...string) int {
		n := 0
		for _, code := range codes {
			c, err := ParseCard(code)
			if err != nil || seen[c] {
				continue
			}
			seen[c] = true
			n++
		}
		return n
	}

	if n := count(s.HoleCards...); n < 2 {
		return &NotReadyError{Street: street, Missing: fmt.Sprintf("%d of 2 hole cards detected", n)}
	}
	if street == poker.StreetPreflop {
		return nil
	}
	if n := count(s.FlopCards...); n < 3 {
		return &NotReadyError{Street: street, Missing: fmt.Sprintf("%d of 3 flop cards detected", n)}
	}
	if street == poker.StreetFlop {
		return nil
	}
	if count(s.TurnCard) < 1 {
		return &NotReadyError{Street: street, Missing: "turn card not detected"}
	}
	if street == poker.StreetTurn {
		return nil
	}
	if count(s.RiverCard) < 1 {
		return &NotReadyError{Street: street, Missing: "river card not detected"}
	}
	return nil
}

// ParseCard converts a card code such as "Ah", "Td" or "10c" into a card.
func ParseCard(code string) (phpoker.Card, error) {
	code = strings.TrimSpace(code)
	if len(code) < 2 {
		return 0, fmt.Errorf("cardsignal: invalid card %q", code)
	}
	rankPart, suitPart := code[:len(code)-1], code[len(code)-1:]

	var suit phpoker.Suit
	switch strings.ToLower(suitPart) {
	case "c":
		suit = phpoker.Club
	case "d":
		suit = phpoker.Diamond
	case "h":
		suit = phpoker.Heart
	case "s":
		suit = phpoker.Spade
	default:
		return 0, fmt.Errorf("cardsignal: invalid suit in %q", code)
	}

	var rank phpoker.Rank
	switch strings.ToUpper(rankPart) {
	case "A":
		rank = 1
	case "T", "10":
		rank = 10
	case "J":
		rank = 11
	case "Q":
		rank = 12
	case "K":
		rank = 13
	default:
		if len(rankPart) != 1 || rankPart[0] < '2' || rankPart[0] > '9' {
			return 0, fmt.Errorf("cardsignal: invalid rank in %q", code)
		}
		rank = phpoker.Rank(rankPart[0] - '0')
	}

	c, err := phpoker.MakeCard(suit, rank)
	if err != nil {
		return 0, fmt.Errorf("cardsignal: %q: %w", code, err)
	}
	return c, nil
}
