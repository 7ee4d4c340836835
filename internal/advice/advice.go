// Package advice derives a pot-odds recommendation when the card service
// reports equity without one. Thresholds are expressed in equity percent and
// shift with the hero's playing style.
package advice

import (
	"fmt"
	"math"

	"github.com/MrWong99/pokercoach/pkg/poker"
)

// Thresholds adjusts how readily the fallback calls and raises.
type Thresholds struct {
	// CallBuffer is added to the pot-odds requirement before calling.
	CallBuffer float64
	// RaiseNoBet is the minimum equity to bet when nobody has bet.
	RaiseNoBet float64
	// RaiseFacingBet is the minimum equity to raise over a bet.
	RaiseFacingBet float64
}

var thresholds = map[string]Thresholds{
	"aggressive":   {CallBuffer: -12, RaiseNoBet: 30, RaiseFacingBet: 34},
	"neutral":      {CallBuffer: 0, RaiseNoBet: 40, RaiseFacingBet: 44},
	"conservative": {CallBuffer: 3, RaiseNoBet: 50, RaiseFacingBet: 54},
}

// ThresholdsFor returns the thresholds for an aggression level label.
// Unknown labels fall back to neutral.
func ThresholdsFor(level string) Thresholds {
	if th, ok := thresholds[level]; ok {
		return th
	}
	return thresholds["neutral"]
}

// RequiredEquity is the pot-odds break-even equity in percent, or nil when
// there is nothing to call.
func RequiredEquity(potBeforeCall, toCall float64) *float64 {
	if toCall <= 0 {
		return nil
	}
	total := potBeforeCall + toCall
	if total <= 0 {
		return nil
	}
	v := 100 * toCall / total
	return &v
}

// Recommend returns a move and a human-readable reason for the spot. equity
// may be nil when it is unknown.
func Recommend(equity *float64, potBeforeCall, toCall float64, level string) (poker.OptimalMove, string) {
	th := ThresholdsFor(level)

	if toCall <= 0 {
		switch {
		case equity == nil:
			return poker.OptimalCheck, "Equity unknown. Check or bet small."
		case *equity >= th.RaiseNoBet:
			return poker.OptimalRaise, fmt.Sprintf("Strong hand (%.1f%% equity). Bet half to two thirds of the pot.", *equity)
		case *equity >= 30:
			return poker.OptimalCheck, fmt.Sprintf("Medium equity (%.1f%%). Check or bet small.", *equity)
		default:
			return poker.OptimalCheck, fmt.Sprintf("Weak hand (%.1f%%). Check.", *equity)
		}
	}

	req := RequiredEquity(potBeforeCall, toCall)
	if req == nil {
		return poker.OptimalNoBet, "Could not compute required equity."
	}
	required := *req + th.CallBuffer

	switch {
	case equity == nil:
		return poker.OptimalFold, fmt.Sprintf("Equity unknown. About %.1f%% is needed to call.", required)
	case *equity < required:
		return poker.OptimalFold, fmt.Sprintf("Equity %.1f%% is below the required %.1f%%. Fold.", *equity, required)
	case *equity >= th.RaiseFacingBet:
		return poker.OptimalRaise, fmt.Sprintf("Equity %.1f%% is well above the required %.1f%%. Raise for value.", *equity, required)
	default:
		return poker.OptimalCall, fmt.Sprintf("Equity %.1f%% covers the required %.1f%%. Call.", *equity, required)
	}
}

// SuggestedRaise sizes a value bet at two thirds of the pot, rounded to cents.
// It returns nil for an empty pot.
func SuggestedRaise(pot float64) *float64 {
	if pot <= 0 {
		return nil
	}
	v := math.Round(pot*200/3) / 100
	return &v
}
