package voice

import "errors"

var (
	// ErrMicrophoneDenied means microphone access was refused. The session
	// did not start and no lane is running.
	ErrMicrophoneDenied = errors.New("voice: microphone permission denied")

	// ErrTranscriptionFailure marks a chunk the transcriber could not
	// process. It is reported on the status stream; the lane keeps going.
	ErrTranscriptionFailure = errors.New("voice: transcription failed")
)
