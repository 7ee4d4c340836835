// Package wsmic provides an [audio.Microphone] fed by a browser over a
// websocket. The coach web page captures the microphone with getUserMedia and
// streams raw PCM to the handler returned by this package.
//
// Wire protocol, per connection:
//
//  1. The browser sends one JSON text message. Either
//     {"type":"hello","sample_rate":48000,"channels":1} when access was
//     granted, or {"type":"denied"} when the user refused it.
//  2. After a hello, every binary message is 16-bit signed little-endian PCM
//     in the announced format.
//
// A connection is handed to the next [Microphone.Open] call. Closing the
// capture closes the websocket, which tells the page to stop recording.
package wsmic

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/MrWong99/pokercoach/pkg/audio"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const (
	defaultConnectTimeout = 10 * time.Second
	helloTimeout          = 5 * time.Second
	readLimit             = 1 << 20
	framesBuffer          = 64
)

var _ audio.Microphone = (*Microphone)(nil)
var _ http.Handler = (*Microphone)(nil)

// hello is the first message of every browser connection.
type hello struct {
	Type       string `json:"type"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

// Option configures a [Microphone].
type Option func(*Microphone)

// WithConnectTimeout sets how long Open waits for a browser to connect.
func WithConnectTimeout(d time.Duration) Option {
	return func(m *Microphone) { m.connectTimeout = d }
}

// WithOriginPatterns allows cross-origin pages matching patterns to connect.
// See [websocket.AcceptOptions].
func WithOriginPatterns(patterns ...string) Option {
	return func(m *Microphone) { m.origins = patterns }
}

// Microphone is both the [audio.Microphone] and the [http.Handler] that
// browsers connect to.
type Microphone struct {
	connectTimeout time.Duration
	origins        []string

	offers chan *Capture

	mu      sync.Mutex
	current *Capture
}

// New returns a browser microphone. Mount it on the route the coach page
// streams to.
func New(opts ...Option) *Microphone {
	m := &Microphone{
		connectTimeout: defaultConnectTimeout,
		offers:         make(chan *Capture),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Open waits for a browser connection and returns it as a capture. It
// returns [audio.ErrPermissionDenied] if the browser reports that access was
// refused and [audio.ErrUnavailable] if no browser connects in time or a
// capture is already open.
func (m *Microphone) Open(ctx context.Context) (audio.Capture, error) {
	m.mu.Lock()
	busy := m.current != nil
	m.mu.Unlock()
	if busy {
		return nil, fmt.Errorf("wsmic: capture already open: %w", audio.ErrUnavailable)
	}

	timer := time.NewTimer(m.connectTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, fmt.Errorf("wsmic: no browser connected within %s: %w", m.connectTimeout, audio.ErrUnavailable)
	case c := <-m.offers:
		if c.denied {
			return nil, fmt.Errorf("wsmic: browser refused microphone access: %w", audio.ErrPermissionDenied)
		}
		m.mu.Lock()
		m.current = c
		m.mu.Unlock()
		c.onClose = func() { m.release(c) }
		return c, nil
	}
}

func (m *Microphone) release(c *Capture) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == c {
		m.current = nil
	}
}

// ServeHTTP accepts a browser websocket and offers it to Open. The request
// stays open for the lifetime of the capture.
func (m *Microphone) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: m.origins})
	if err != nil {
		slog.Warn("wsmic: accept failed", "err", err)
		return
	}
	conn.SetReadLimit(readLimit)

	helloCtx, cancelHello := context.WithTimeout(r.Context(), helloTimeout)
	var h hello
	err = wsjson.Read(helloCtx, conn, &h)
	cancelHello()
	if err != nil {
		conn.Close(websocket.StatusPolicyViolation, "expected hello")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	c := &Capture{
		cancel:   cancel,
		frames:   make(chan audio.AudioFrame, framesBuffer),
		loopDone: make(chan struct{}),
	}

	switch {
	case h.Type == "denied":
		c.denied = true
	case h.Type != "hello" || h.SampleRate <= 0 || h.Channels <= 0:
		cancel()
		conn.Close(websocket.StatusPolicyViolation, "invalid hello")
		return
	default:
		c.format = audio.Format{SampleRate: h.SampleRate, Channels: h.Channels}
	}

	select {
	case m.offers <- c:
	case <-ctx.Done():
		cancel()
		conn.Close(websocket.StatusGoingAway, "no listener")
		return
	}

	if c.denied {
		cancel()
		conn.Close(websocket.StatusNormalClosure, "")
		return
	}
	c.run(ctx, conn)
}

// Capture is a browser stream handed to [Microphone.Open].
type Capture struct {
	format audio.Format
	denied bool

	cancel   context.CancelFunc
	frames   chan audio.AudioFrame
	loopDone chan struct{}

	closeOnce sync.Once
	onClose   func()
}

var _ audio.Capture = (*Capture)(nil)

// Frames implements [audio.Capture]. Frames carry the format announced by
// the browser.
func (c *Capture) Frames() <-chan audio.AudioFrame { return c.frames }

// Close closes the websocket and waits for the reader to exit. It is safe to
// call more than once.
func (c *Capture) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		<-c.loopDone
		if c.onClose != nil {
			c.onClose()
		}
	})
	return nil
}

// run reads PCM messages until the browser disconnects or the capture is
// closed. It closes the frame channel on exit.
func (c *Capture) run(ctx context.Context, conn *websocket.Conn) {
	defer close(c.loopDone)
	defer close(c.frames)
	defer conn.Close(websocket.StatusNormalClosure, "capture closed")

	var ts time.Duration
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil && websocket.CloseStatus(err) == -1 {
				slog.Debug("wsmic: read failed", "err", err)
			}
			return
		}
		if typ != websocket.MessageBinary || len(data) == 0 {
			continue
		}

		frame := audio.AudioFrame{
			Data:       data,
			SampleRate: c.format.SampleRate,
			Channels:   c.format.Channels,
			Timestamp:  ts,
		}
		ts += frame.Duration()

		select {
		case c.frames <- frame:
		case <-ctx.Done():
			return
		default:
			// Recorders are behind; drop rather than block the socket.
		}
	}
}
