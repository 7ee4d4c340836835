// Package stt defines the Transcriber interface for Speech-to-Text backends.
//
// A transcriber turns one short, self-contained chunk of PCM audio (a few
// seconds recorded by a voice lane) into text. Backends include a local
// whisper.cpp server, the whisper.cpp CGO bindings, Deepgram and the OpenAI
// transcription API.
//
// An empty [Result.Text] with a nil error means no speech was recognised.
// Implementations must be safe for concurrent use; two voice lanes submit
// chunks independently.
package stt

import (
	"context"
	"time"

	"github.com/MrWong99/pokercoach/pkg/audio"
)

// Chunk is a buffer of 16-bit signed little-endian PCM audio.
type Chunk struct {
	PCM []byte

	// SampleRate in Hz. Most backends expect 16000.
	SampleRate int

	// Channels is the number of interleaved channels. 1 = mono.
	Channels int
}

// Duration returns the playback length of the chunk.
func (c Chunk) Duration() time.Duration {
	return audio.PCMDuration(len(c.PCM), c.SampleRate, c.Channels)
}

// ChunkFromFrame wraps a recorded frame.
func ChunkFromFrame(f audio.AudioFrame) Chunk {
	return Chunk{PCM: f.Data, SampleRate: f.SampleRate, Channels: f.Channels}
}

// Transcriber is the abstraction over any STT backend.
type Transcriber interface {
	// Transcribe returns the text spoken in chunk. It returns an error if
	// the backend could not be reached or rejected the audio; the caller
	// decides whether to retry with the next chunk.
	Transcribe(ctx context.Context, chunk Chunk) (Result, error)
}
