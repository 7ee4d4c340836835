// Package analytics turns the ordered move log into a [Profile] describing how
// closely and how aggressively the hero plays.
//
// [Compute] is pure and deterministic: it recomputes every field from the
// complete move sequence on each call and never keeps incremental state.
package analytics

import (
	"maps"
	"math"

	"github.com/MrWong99/pokercoach/pkg/poker"
)

// BluffMargin is the factor above the suggested raise at which a raise is
// classified as a bluff. The comparison is strict.
const BluffMargin = 1.25

// Aggression level labels used by opponent calibration.
const (
	LevelAggressive   = "aggressive"
	LevelNeutral      = "neutral"
	LevelConservative = "conservative"
)

// ActionCounts tallies the actions in the move log.
type ActionCounts struct {
	Checks int `json:"checks"`
	Calls  int `json:"calls"`
	Raises int `json:"raises"`
	Folds  int `json:"folds"`
}

// StreetAccuracy is the adherence breakdown for a single street.
type StreetAccuracy struct {
	Correct int `json:"correct"`
	Total   int `json:"total"`

	// Accuracy is Correct/Total, or 0 when the street has no moves.
	Accuracy float64 `json:"accuracy"`
}

// Profile is the derived player profile. It has no identity of its own and is
// only ever produced by [Compute].
type Profile struct {
	TotalMoves   int          `json:"total_moves"`
	MatchedCount int          `json:"matched_count"`
	Counts       ActionCounts `json:"counts"`

	// Adherence is round(100 * matched / total).
	Adherence int `json:"adherence"`

	// AggressionIndex is round(100 * (raises + 0.5*calls) / total).
	AggressionIndex int    `json:"aggression_index"`
	AggressionLevel string `json:"aggression_level"`

	BluffCount    int                  `json:"bluff_count"`
	BluffRate     float64              `json:"bluff_rate"`
	BluffByStreet map[poker.Street]int `json:"bluff_by_street"`

	PerStreet map[poker.Street]StreetAccuracy `json:"per_street"`

	// FoldGap is 100 * (actual folds - recommended folds) / total. Positive
	// values mean the hero folds more often than advised.
	FoldGap float64 `json:"fold_gap"`

	// AvgRaiseDiff is the mean of amount - suggested raise over raises that
	// carry a suggestion. Nil when no such raise exists.
	AvgRaiseDiff *float64 `json:"avg_raise_diff,omitempty"`

	// Only one of the streaks is non-zero: the run active at the tail.
	OptimalStreak int `json:"optimal_streak"`
	DeviateStreak int `json:"deviate_streak"`
}

// Clone returns a deep copy of p.
func (p Profile) Clone() Profile {
	p.BluffByStreet = maps.Clone(p.BluffByStreet)
	p.PerStreet = maps.Clone(p.PerStreet)
	if p.AvgRaiseDiff != nil {
		p.AvgRaiseDiff = poker.Ptr(*p.AvgRaiseDiff)
	}
	return p
}

// IsBluffRaise reports whether m is a raise sized more than [BluffMargin]
// times the suggested raise. Moves without a suggestion are never bluffs.
func IsBluffRaise(m poker.Move) bool {
	if m.Action != poker.ActionRaise || m.SuggestedRaise == nil {
		return false
	}
	return m.Amount > *m.SuggestedRaise*BluffMargin
}

// Compute derives the profile for moves, which must be in append order.
func Compute(moves []poker.Move) Profile {
	p := Profile{
		TotalMoves:    len(moves),
		BluffByStreet: make(map[poker.Street]int, len(poker.Streets)),
		PerStreet:     make(map[poker.Street]StreetAccuracy, len(poker.Streets)),
	}
	for _, s := range poker.Streets {
		p.BluffByStreet[s] = 0
		p.PerStreet[s] = StreetAccuracy{}
	}

	var (
		optimalFolds  int
		raiseDiffSum  float64
		raiseDiffSeen int
	)
	for _, m := range moves {
		matched := m.Matched()
		if matched {
			p.MatchedCount++
		}

		switch m.Action {
		case poker.ActionCheck:
			p.Counts.Checks++
		case poker.ActionCall:
			p.Counts.Calls++
		case poker.ActionRaise:
			p.Counts.Raises++
			if m.SuggestedRaise != nil {
				raiseDiffSum += m.Amount - *m.SuggestedRaise
				raiseDiffSeen++
			}
		case poker.ActionFold:
			p.Counts.Folds++
		}
		if m.OptimalMove == poker.OptimalFold {
			optimalFolds++
		}

		if IsBluffRaise(m) {
			p.BluffCount++
			if m.Street.IsValid() {
				p.BluffByStreet[m.Street]++
			}
		}

		if m.Street.IsValid() {
			sa := p.PerStreet[m.Street]
			sa.Total++
			if matched {
				sa.Correct++
			}
			p.PerStreet[m.Street] = sa
		}
	}

	for s, sa := range p.PerStreet {
		if sa.Total > 0 {
			sa.Accuracy = float64(sa.Correct) / float64(sa.Total)
			p.PerStreet[s] = sa
		}
	}

	if p.TotalMoves > 0 {
		total := float64(p.TotalMoves)
		p.Adherence = int(math.Round(100 * float64(p.MatchedCount) / total))
		p.AggressionIndex = int(math.Round(100 * (float64(p.Counts.Raises) + 0.5*float64(p.Counts.Calls)) / total))
		p.FoldGap = 100 * float64(p.Counts.Folds-optimalFolds) / total
	}
	if p.Counts.Raises > 0 {
		p.BluffRate = 100 * float64(p.BluffCount) / float64(p.Counts.Raises)
	}
	if raiseDiffSeen > 0 {
		avg := raiseDiffSum / float64(raiseDiffSeen)
		p.AvgRaiseDiff = &avg
	}
	p.AggressionLevel = AggressionLevel(p.AggressionIndex)
	p.OptimalStreak, p.DeviateStreak = tailStreak(moves)
	return p
}

// tailStreak counts the run of equally classified moves at the end of the
// log, scanning backwards until the first move that breaks the run.
func tailStreak(moves []poker.Move) (optimal, deviate int) {
	if len(moves) == 0 {
		return 0, 0
	}
	want := moves[len(moves)-1].Matched()
	n := 0
	for i := len(moves) - 1; i >= 0; i-- {
		if moves[i].Matched() != want {
			break
		}
		n++
	}
	if want {
		return n, 0
	}
	return 0, n
}

// AggressionLevel buckets an aggression index into the labels understood by
// opponent calibration.
func AggressionLevel(index int) string {
	switch {
	case index >= 67:
		return LevelAggressive
	case index >= 34:
		return LevelNeutral
	default:
		return LevelConservative
	}
}
