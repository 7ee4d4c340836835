package stt

// Result is the transcription of one [Chunk].
type Result struct {
	// Text is the transcribed speech content, trimmed of surrounding space.
	Text string

	// Confidence is the overall confidence score (0.0–1.0). May be zero if
	// the backend does not report confidence.
	Confidence float64
}

// KeywordBoost represents a keyword to boost in STT recognition.
// Used to improve recognition of the command vocabulary ("fold", "raise").
type KeywordBoost struct {
	// Keyword is the text to boost (e.g., "check").
	Keyword string

	// Boost is the intensity of the boost (provider-specific scale).
	Boost float64
}
