package audio

import "time"

// AudioFrame represents a single frame of captured audio. Frames are the
// atomic unit of audio transport between a [Capture] and its recorders.
type AudioFrame struct {
	// PCM audio data, 16-bit signed little-endian.
	Data []byte

	// SampleRate in Hz (e.g., 48000 for Discord Opus, 16000 for STT).
	SampleRate int

	// Channels: 1 for mono (STT input), 2 for stereo (Discord).
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the playback length of the frame.
func (f AudioFrame) Duration() time.Duration {
	return PCMDuration(len(f.Data), f.SampleRate, f.Channels)
}
