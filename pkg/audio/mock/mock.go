// Package mock provides in-memory implementations of [audio.Microphone] and
// [audio.Capture] for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts, and they expose exported fields that the
// test can set to control return values.
//
// Typical usage:
//
//	mic := &mock.Microphone{}
//	capture, _ := mic.Open(ctx)
//	mic.Push(audio.AudioFrame{Data: pcm, SampleRate: 16000, Channels: 1})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/pokercoach/pkg/audio"
)

// Microphone is a mock implementation of [audio.Microphone].
type Microphone struct {
	mu sync.Mutex

	// OpenErr, if non-nil, is returned by Open.
	OpenErr error

	// OpenCalls is the number of times Open was called.
	OpenCalls int

	// CloseCalls is the number of times a capture returned by Open was closed
	// for the first time.
	CloseCalls int

	current *Capture
}

var _ audio.Microphone = (*Microphone)(nil)

// Open returns a new [Capture] unless OpenErr is set. Opening while another
// capture is open returns [audio.ErrUnavailable].
func (m *Microphone) Open(context.Context) (audio.Capture, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.OpenCalls++
	if m.OpenErr != nil {
		return nil, m.OpenErr
	}
	if m.current != nil {
		return nil, audio.ErrUnavailable
	}
	c := &Capture{frames: make(chan audio.AudioFrame, 256), mic: m}
	m.current = c
	return c, nil
}

// Push delivers frame to the open capture. It reports false when no capture
// is open or its buffer is full.
func (m *Microphone) Push(frame audio.AudioFrame) bool {
	m.mu.Lock()
	c := m.current
	m.mu.Unlock()
	if c == nil {
		return false
	}
	return c.push(frame)
}

// IsOpen reports whether a capture is currently held.
func (m *Microphone) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil
}

// Closes returns the number of released captures.
func (m *Microphone) Closes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CloseCalls
}

func (m *Microphone) release(c *Capture) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CloseCalls++
	if m.current == c {
		m.current = nil
	}
}

// Capture is a mock implementation of [audio.Capture].
type Capture struct {
	mu     sync.Mutex
	frames chan audio.AudioFrame
	closed bool
	mic    *Microphone
}

var _ audio.Capture = (*Capture)(nil)

// Frames implements [audio.Capture].
func (c *Capture) Frames() <-chan audio.AudioFrame { return c.frames }

func (c *Capture) push(frame audio.AudioFrame) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.frames <- frame:
		return true
	default:
		return false
	}
}

// Close implements [audio.Capture].
func (c *Capture) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.frames)
	c.mu.Unlock()
	if c.mic != nil {
		c.mic.release(c)
	}
	return nil
}
