package analytics

// CalibrationInput is everything opponent calibration may see: the
// aggression index alone. The calibrating side derives its own difficulty
// from it (typically 100 - index).
type CalibrationInput struct {
	AggressionIndex int `json:"aggression_index"`
}

// ReportInput is the aggregate view handed to the decision-transfer
// reporter. It is built from a [Profile] only, so individual moves cannot
// reach the reporter.
type ReportInput struct {
	AggressionIndex int          `json:"aggression_index"`
	AggressionLevel string       `json:"aggression_level"`
	Adherence       int          `json:"adherence"`
	Counts          ActionCounts `json:"counts"`
	BluffCount      int          `json:"bluff_count"`
	BluffRate       float64      `json:"bluff_rate"`
	TotalMoves      int          `json:"total_moves"`
}

// Calibration extracts the calibration input from p.
func Calibration(p Profile) CalibrationInput {
	return CalibrationInput{AggressionIndex: p.AggressionIndex}
}

// Report extracts the aggregate report input from p.
func Report(p Profile) ReportInput {
	return ReportInput{
		AggressionIndex: p.AggressionIndex,
		AggressionLevel: p.AggressionLevel,
		Adherence:       p.Adherence,
		Counts:          p.Counts,
		BluffCount:      p.BluffCount,
		BluffRate:       p.BluffRate,
		TotalMoves:      p.TotalMoves,
	}
}
