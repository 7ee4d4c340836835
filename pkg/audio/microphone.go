// Package audio defines the capture abstractions used by the voice command
// pipeline and the PCM helpers shared by the capture and transcription
// packages.
//
// The two primary abstractions are:
//
//   - [Microphone]: an exclusive capture device that is opened once per
//     listening session.
//   - [Capture]: an open capture, delivering [AudioFrame] values until it is
//     closed.
//
// Implementations are provided by device-specific adapter packages (e.g.,
// audio/discord for a Discord voice channel, audio/wsmic for a browser
// microphone streamed over a websocket). A [Tap] fans one capture out to any
// number of concurrent recorders.
package audio

import (
	"context"
	"errors"
)

var (
	// ErrPermissionDenied is returned by [Microphone.Open] when the user or
	// platform refused access to the device.
	ErrPermissionDenied = errors.New("audio: microphone permission denied")

	// ErrUnavailable is returned by [Microphone.Open] when no device is
	// connected or the device is already in use.
	ErrUnavailable = errors.New("audio: microphone unavailable")
)

// Microphone is a capture device. Implementations must be safe for
// concurrent use, but only one [Capture] may be open at a time.
type Microphone interface {
	// Open acquires the device. The caller owns the returned Capture and
	// must Close it to release the device.
	Open(ctx context.Context) (Capture, error)
}

// Capture is an open microphone.
type Capture interface {
	// Frames delivers captured audio. The channel is closed when the
	// capture ends, either through Close or because the device went away.
	Frames() <-chan AudioFrame

	// Close releases the device. Calling Close more than once is safe.
	Close() error
}
