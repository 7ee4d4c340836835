// Package voice turns continuous microphone audio into hero actions without
// push-to-talk.
//
// A listening session runs two capture lanes over one microphone. Each lane
// records fixed-length chunks back to back and hands every chunk to the
// transcriber; lane B starts half a chunk after lane A, so an utterance that
// straddles a chunk boundary in one lane sits whole inside a chunk of the
// other. Transcripts are parsed with [Parse] and parsed commands flow into a
// single dispatcher that drops repeats of the same command within the dedup
// window before submitting them to the table.
//
// Transcription failures affect one chunk only and are reported on the
// status stream. Stopping the session sets a stop flag that every lane checks
// before arming its next chunk and that the dispatcher checks before
// submitting, then releases the microphone before [Pipeline.Stop] returns.
package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/pokercoach/internal/observe"
	"github.com/MrWong99/pokercoach/pkg/audio"
	"github.com/MrWong99/pokercoach/pkg/poker"
	"github.com/MrWong99/pokercoach/pkg/provider/stt"
)

// Actor submits hero actions. *tablesync.Client satisfies it.
type Actor interface {
	HeroAction(ctx context.Context, action poker.Action, amount float64) (poker.TableState, error)
}

// Config tunes a [Pipeline]. Zero fields take the defaults of
// [DefaultConfig].
type Config struct {
	// ChunkDuration is the length of each recorded chunk.
	ChunkDuration time.Duration

	// LaneOffset delays lane B relative to lane A. Defaults to half a chunk.
	LaneOffset time.Duration

	// DedupWindow suppresses a repeated command arriving within this window
	// of the last dispatched one.
	DedupWindow time.Duration

	// SilenceThreshold is the RMS below which a chunk is not transcribed.
	SilenceThreshold float64

	// MaxInflight bounds concurrent transcriptions across both lanes.
	// Chunks recorded while the bound is reached are dropped.
	MaxInflight int

	// SampleRate is the rate chunks are recorded at. Chunks are mono.
	SampleRate int
}

// DefaultConfig returns 3 s chunks, a 1.5 s lane offset and a 4 s dedup
// window.
func DefaultConfig() Config {
	return Config{
		ChunkDuration:    3000 * time.Millisecond,
		LaneOffset:       1500 * time.Millisecond,
		DedupWindow:      4000 * time.Millisecond,
		SilenceThreshold: 300,
		MaxInflight:      4,
		SampleRate:       16000,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.ChunkDuration <= 0 {
		c.ChunkDuration = def.ChunkDuration
	}
	if c.LaneOffset <= 0 {
		c.LaneOffset = c.ChunkDuration / 2
	}
	if c.DedupWindow <= 0 {
		c.DedupWindow = def.DedupWindow
	}
	if c.SilenceThreshold < 0 {
		c.SilenceThreshold = 0
	}
	if c.MaxInflight <= 0 {
		c.MaxInflight = def.MaxInflight
	}
	if c.SampleRate <= 0 {
		c.SampleRate = def.SampleRate
	}
	return c
}

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithConfig replaces the default timing and thresholds.
func WithConfig(cfg Config) Option {
	return func(p *Pipeline) { p.cfg = cfg.withDefaults() }
}

// WithMetrics sets the metrics instruments. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithClock overrides the clock used to time commands for deduplication.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// Pipeline is the voice command intake. It is idle until [Pipeline.Start]
// and can be started and stopped any number of times.
//
// Pipeline is safe for concurrent use.
type Pipeline struct {
	mic         audio.Microphone
	transcriber stt.Transcriber
	actor       Actor
	cfg         Config
	metrics     *observe.Metrics
	now         func() time.Time

	// mu serialises Start and Stop and guards session.
	mu      sync.Mutex
	session *session

	statusMu sync.Mutex
	status   Status
	subs     map[int]chan Status
	nextSub  int
}

// New returns an idle pipeline that records from mic, transcribes with
// transcriber and submits commands to actor.
func New(mic audio.Microphone, transcriber stt.Transcriber, actor Actor, opts ...Option) *Pipeline {
	p := &Pipeline{
		mic:         mic,
		transcriber: transcriber,
		actor:       actor,
		cfg:         DefaultConfig(),
		now:         time.Now,
		subs:        make(map[int]chan Status),
	}
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	return p
}

// Start acquires the microphone and starts both lanes. ctx bounds acquiring
// the microphone only; the session runs until [Pipeline.Stop]. Starting a
// pipeline that is already listening is a no-op.
//
// If access to the microphone is refused, Start returns an error wrapping
// [ErrMicrophoneDenied] and nothing is left running.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.session != nil {
		return nil
	}

	capture, err := p.mic.Open(ctx)
	if err != nil {
		if errors.Is(err, audio.ErrPermissionDenied) {
			err = fmt.Errorf("%w: %w", ErrMicrophoneDenied, err)
		} else {
			err = fmt.Errorf("voice: open microphone: %w", err)
		}
		p.setStatus(func(s *Status) {
			s.Listening = false
			s.Message = "microphone unavailable"
			s.LastError = err.Error()
		})
		return err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &session{
		p:        p,
		cfg:      p.cfg,
		capture:  capture,
		tap:      audio.NewTap(capture, audio.Format{SampleRate: p.cfg.SampleRate, Channels: 1}),
		cancel:   cancel,
		commands: make(chan heard, 8),
		done:     make(chan struct{}),
		lanes: []lane{
			{name: "a"},
			{name: "b", offset: p.cfg.LaneOffset},
		},
	}
	s.work.SetLimit(p.cfg.MaxInflight)
	p.session = s

	p.setStatus(func(st *Status) {
		st.Listening = true
		st.Message = "listening"
		st.LastError = ""
	})
	slog.Info("voice: listening started",
		"chunk", p.cfg.ChunkDuration,
		"lane_offset", p.cfg.LaneOffset,
	)

	go s.run(runCtx)
	return nil
}

// Stop ends the session and returns once both lanes have exited and the
// microphone was released. Stopping an idle pipeline is a no-op.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	s := p.session
	p.session = nil
	p.mu.Unlock()

	if s == nil {
		return
	}
	s.stop()
	p.setStatus(func(st *Status) {
		st.Listening = false
		st.Message = "stopped"
	})
	slog.Info("voice: listening stopped")
}

// Close stops the session. It implements io.Closer for teardown.
func (p *Pipeline) Close() error {
	p.Stop()
	return nil
}

// SetConfig replaces the timing and thresholds. A running session keeps the
// values it started with; the next [Pipeline.Start] uses cfg.
func (p *Pipeline) SetConfig(cfg Config) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg = cfg.withDefaults()
}

// Listening reports whether a session is running.
func (p *Pipeline) Listening() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session != nil
}

// ended clears s after it stopped on its own, for instance because the
// browser holding the microphone went away.
func (p *Pipeline) ended(s *session, err error) {
	p.mu.Lock()
	owned := p.session == s
	if owned {
		p.session = nil
	}
	p.mu.Unlock()

	if !owned || s.stopped.Load() {
		return
	}
	slog.Warn("voice: session ended", "err", err)
	p.setStatus(func(st *Status) {
		st.Listening = false
		st.Message = "microphone disconnected"
		if err != nil {
			st.LastError = err.Error()
		}
	})
}

// lane is one of the two staggered recorders.
type lane struct {
	name   string
	offset time.Duration
}

// heard is a parsed command on its way to the dispatcher.
type heard struct {
	cmd  Command
	lane string
	at   time.Time
}

// session is the state of one listening period. It is created by Start and
// discarded by Stop.
type session struct {
	p       *Pipeline
	cfg     Config
	capture audio.Capture
	tap     *audio.Tap
	lanes   []lane

	stopped atomic.Bool
	cancel  context.CancelFunc

	commands chan heard
	work     errgroup.Group
	done     chan struct{}

	// Owned by the dispatcher goroutine.
	lastKey string
	lastAt  time.Time
}

func (s *session) stop() {
	s.stopped.Store(true)
	s.cancel()
	<-s.done
}

// run supervises the lanes and the dispatcher, then releases the
// microphone.
func (s *session) run(ctx context.Context) {
	defer close(s.done)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.dispatch(gctx) })
	for _, l := range s.lanes {
		g.Go(func() error { return s.runLane(gctx, l) })
	}
	err := g.Wait()
	_ = s.work.Wait()

	if cerr := s.capture.Close(); cerr != nil {
		slog.Warn("voice: failed to release microphone", "err", cerr)
	}
	s.p.ended(s, err)
}

// runLane records chunks until the session stops. Each chunk is handed to a
// transcription worker and the next chunk is armed right away.
func (s *session) runLane(ctx context.Context, l lane) error {
	attrs := metric.WithAttributes(observe.Attr("lane", l.name))
	s.p.metrics.ActiveLanes.Add(ctx, 1, attrs)
	defer s.p.metrics.ActiveLanes.Add(context.WithoutCancel(ctx), -1, attrs)

	if l.offset > 0 {
		t := time.NewTimer(l.offset)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}

	for {
		if s.stopped.Load() || ctx.Err() != nil {
			return nil
		}
		chunk, err := s.tap.Record(ctx, s.cfg.ChunkDuration)
		if err != nil {
			if errors.Is(err, audio.ErrCaptureEnded) {
				return fmt.Errorf("voice: lane %s: %w", l.name, err)
			}
			return nil
		}
		if !s.work.TryGo(func() error {
			s.transcribe(ctx, l.name, chunk)
			return nil
		}) {
			slog.Warn("voice: transcriber backlog, chunk dropped", "lane", l.name)
		}
	}
}

// transcribe turns one chunk into at most one command for the dispatcher.
func (s *session) transcribe(ctx context.Context, laneName string, chunk audio.AudioFrame) {
	if len(chunk.Data) == 0 || audio.RMS(chunk.Data) < s.cfg.SilenceThreshold {
		return
	}

	res, err := s.p.transcriber.Transcribe(ctx, stt.ChunkFromFrame(chunk))
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		err = fmt.Errorf("%w: %w", ErrTranscriptionFailure, err)
		slog.Warn("voice: transcription failed", "lane", laneName, "err", err)
		s.p.setStatus(func(st *Status) { st.LastError = err.Error() })
		return
	}

	text := strings.TrimSpace(res.Text)
	if text == "" {
		s.p.setStatus(func(st *Status) { st.Message = "no speech detected" })
		return
	}
	slog.Debug("voice: transcript", "lane", laneName, "text", text)
	s.p.setStatus(func(st *Status) {
		st.Message = "listening"
		st.LastTranscript = text
	})

	cmd, ok := Parse(text)
	if !ok || s.stopped.Load() {
		return
	}
	select {
	case s.commands <- heard{cmd: cmd, lane: laneName, at: s.p.now()}:
	case <-ctx.Done():
	}
}

// dispatch submits commands one at a time and owns the dedup state.
func (s *session) dispatch(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case h := <-s.commands:
			s.submit(ctx, h)
		}
	}
}

func (s *session) submit(ctx context.Context, h heard) {
	action := string(h.cmd.Action)
	if s.stopped.Load() {
		s.p.metrics.RecordVoiceCommand(ctx, action, "stopped")
		return
	}

	key := h.cmd.Key()
	if key == s.lastKey && h.at.Sub(s.lastAt) < s.cfg.DedupWindow {
		s.p.metrics.RecordVoiceCommand(ctx, action, "duplicate")
		slog.Debug("voice: duplicate command suppressed", "command", key, "lane", h.lane)
		return
	}
	s.lastKey, s.lastAt = key, h.at

	var amount float64
	if h.cmd.Amount != nil {
		amount = *h.cmd.Amount
	}
	ctx, span := observe.StartSpan(ctx, "voice.command", trace.WithAttributes(
		observe.AttrAction.String(action),
		observe.AttrLane.String(h.lane),
	))
	_, err := s.p.actor.HeroAction(ctx, h.cmd.Action, amount)
	if err != nil {
		observe.EndSpan(span, "rejected", err)
		s.p.metrics.RecordVoiceCommand(ctx, action, "rejected")
		observe.Logger(ctx).Info("voice: command rejected", "command", h.cmd.String(), "lane", h.lane, "err", err)
		s.p.setStatus(func(st *Status) {
			st.LastCommand = h.cmd.String()
			st.LastError = err.Error()
		})
		return
	}

	observe.EndSpan(span, "dispatched", nil)
	s.p.metrics.RecordVoiceCommand(ctx, action, "dispatched")
	observe.Logger(ctx).Info("voice: command dispatched", "command", h.cmd.String(), "lane", h.lane, "text", h.cmd.Text)
	s.p.setStatus(func(st *Status) {
		st.LastCommand = h.cmd.String()
		st.LastError = ""
	})
}
