package tablesim

import (
	"github.com/MrWong99/pokercoach/pkg/poker"
)

// aggressionLevel buckets a 0-100 aggression into the three advice styles.
func aggressionLevel(a int) string {
	switch {
	case a >= 67:
		return "aggressive"
	case a >= 34:
		return "neutral"
	default:
		return "conservative"
	}
}

// botDecision picks an action for seat without looking at cards. The bot
// draws a synthetic equity around its aggression and compares it with the
// pot odds it is offered. Raises are half the pot, at least one big blind.
func (t *Table) botDecision(seat int) (poker.Action, float64) {
	aggr := float64(t.botAggression)
	toCall := t.costToCall(seat)
	halfPot := max(t.bigBlind, round2(0.5*t.pot))

	synth := 25 + aggr/100*50 + (t.rng.Float64()*16 - 8)
	synth = min(max(synth, 10), 90)

	if toCall <= 0 {
		if synth >= 55 && aggr >= 55 {
			return poker.ActionRaise, halfPot
		}
		return poker.ActionCheck, 0
	}

	required := 100 * toCall / (t.pot + toCall)
	if synth < required-10 {
		return poker.ActionFold, 0
	}
	if synth >= required+15 && aggr >= 55 && t.rng.Float64() < 0.3 {
		return poker.ActionRaise, halfPot
	}
	return poker.ActionCall, toCall
}
