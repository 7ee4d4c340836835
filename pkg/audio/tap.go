package audio

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCaptureEnded is returned by [Tap.Record] when the underlying capture
// closed before the recording window elapsed.
var ErrCaptureEnded = errors.New("audio: capture ended")

const tapSubscriberBuffer = 64

// Tap fans the frames of one [Capture] out to concurrent recorders, all in
// the same target format. Recorders that fall behind lose frames rather than
// stall the capture.
type Tap struct {
	target Format

	mu     sync.Mutex
	subs   map[int]chan AudioFrame
	nextID int
	ended  bool

	done chan struct{}
}

// NewTap starts distributing frames from c converted to target. The tap ends
// when c's frame channel is closed.
func NewTap(c Capture, target Format) *Tap {
	t := &Tap{
		target: target,
		subs:   make(map[int]chan AudioFrame),
		done:   make(chan struct{}),
	}
	go t.run(c.Frames())
	return t
}

// Format returns the format of recorded audio.
func (t *Tap) Format() Format { return t.target }

// Done is closed once the capture has ended and every recorder was released.
func (t *Tap) Done() <-chan struct{} { return t.done }

func (t *Tap) run(in <-chan AudioFrame) {
	conv := FormatConverter{Target: t.target}
	for frame := range in {
		frame = conv.Convert(frame)
		if len(frame.Data) == 0 {
			continue
		}
		t.mu.Lock()
		for _, ch := range t.subs {
			select {
			case ch <- frame:
			default:
			}
		}
		t.mu.Unlock()
	}

	t.mu.Lock()
	t.ended = true
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}
	t.mu.Unlock()
	close(t.done)
}

func (t *Tap) subscribe() (int, <-chan AudioFrame, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ended {
		return 0, nil, false
	}
	id := t.nextID
	t.nextID++
	ch := make(chan AudioFrame, tapSubscriberBuffer)
	t.subs[id] = ch
	return id, ch, true
}

func (t *Tap) unsubscribe(id int) {
	t.mu.Lock()
	delete(t.subs, id)
	t.mu.Unlock()
}

// Record collects audio for the window d. It returns once d of wall-clock
// time has passed or d worth of audio has arrived, whichever is first. On
// cancellation or when the capture ends, the audio collected so far is
// returned together with the error.
func (t *Tap) Record(ctx context.Context, d time.Duration) (AudioFrame, error) {
	out := AudioFrame{SampleRate: t.target.SampleRate, Channels: t.target.Channels}

	id, ch, ok := t.subscribe()
	if !ok {
		return out, ErrCaptureEnded
	}
	defer t.unsubscribe(id)

	timer := time.NewTimer(d)
	defer timer.Stop()

	first := true
	for {
		select {
		case <-ctx.Done():
			return out, ctx.Err()
		case <-timer.C:
			return out, nil
		case frame, ok := <-ch:
			if !ok {
				return out, ErrCaptureEnded
			}
			if first {
				out.Timestamp = frame.Timestamp
				first = false
			}
			out.Data = append(out.Data, frame.Data...)
			if out.Duration() >= d {
				return out, nil
			}
		}
	}
}
