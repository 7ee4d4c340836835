// Package app wires the coach subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the background loops, Apply takes hot-reloaded
// configuration, and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithTransport,
// WithSink, WithCardSource). When an option is not provided, New creates
// real implementations from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/pokercoach/internal/analytics"
	"github.com/MrWong99/pokercoach/internal/api"
	"github.com/MrWong99/pokercoach/internal/cardsignal"
	"github.com/MrWong99/pokercoach/internal/config"
	"github.com/MrWong99/pokercoach/internal/export"
	"github.com/MrWong99/pokercoach/internal/health"
	"github.com/MrWong99/pokercoach/internal/mcp"
	"github.com/MrWong99/pokercoach/internal/movelog"
	"github.com/MrWong99/pokercoach/internal/movelog/jsonl"
	"github.com/MrWong99/pokercoach/internal/movelog/postgres"
	"github.com/MrWong99/pokercoach/internal/movelog/sqlite"
	"github.com/MrWong99/pokercoach/internal/observe"
	"github.com/MrWong99/pokercoach/internal/tablesync"
	"github.com/MrWong99/pokercoach/internal/voice"
	"github.com/MrWong99/pokercoach/pkg/audio"
	"github.com/MrWong99/pokercoach/pkg/provider/stt"
)

// calibrateTimeout bounds one automatic calibration push.
const calibrateTimeout = 5 * time.Second

// Providers holds the voice providers built from the config registry by
// main.go. Nil means the provider is not configured.
type Providers struct {
	// Transcriber is usually a resilience.TranscriberFallback over every
	// configured entry.
	Transcriber stt.Transcriber
	Microphone  audio.Microphone

	// Closers release provider resources (native models, the Discord
	// session). Shutdown runs them last.
	Closers []func() error
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics
	version   string

	middlewares    []func(http.Handler) http.Handler
	metricsHandler http.Handler

	// Subsystems, initialised in New and torn down in Shutdown.
	transport tablesync.Transport
	sinks     []movelog.Sink
	cards     cardsignal.Source
	moves     *movelog.Store
	tracker   *analytics.Tracker
	table     *tablesync.Client
	voice     *voice.Pipeline
	mcp       *mcp.Server
	exports   export.Targets
	checkers  []health.Checker
	handler   http.Handler

	style         atomic.Value // config.Style
	autoCalibrate atomic.Bool

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithTransport injects the table service transport instead of an HTTP
// transport to cfg.Table.URL.
func WithTransport(t tablesync.Transport) Option {
	return func(a *App) { a.transport = t }
}

// WithSink injects a move-log sink instead of the configured backend. A
// sink that also implements [movelog.Loader] restores the configured
// session.
func WithSink(s movelog.Sink) Option {
	return func(a *App) { a.sinks = append(a.sinks, s) }
}

// WithCardSource injects the card signal instead of the configured source.
func WithCardSource(src cardsignal.Source) Option {
	return func(a *App) { a.cards = src }
}

// WithMetrics sets the metrics instruments. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler serves h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithMiddleware wraps every HTTP route.
func WithMiddleware(mw ...func(http.Handler) http.Handler) Option {
	return func(a *App) { a.middlewares = append(a.middlewares, mw...) }
}

// WithVersion sets the version reported to MCP clients.
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// New creates an App by wiring all subsystems together. The providers come
// from main.go (populated via the config registry).
//
// New performs all initialisation synchronously: move-log backend and
// session restore, card source, exports, table mirror, voice pipeline,
// MCP server and HTTP routes. Nothing runs until [App.Run].
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{cfg: cfg, providers: providers, version: "dev"}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	a.style.Store(cfg.Table.Style)

	if err := a.initTransport(); err != nil {
		return nil, fmt.Errorf("app: init table transport: %w", err)
	}
	if err := a.initMoveLog(ctx); err != nil {
		return nil, fmt.Errorf("app: init move log: %w", err)
	}
	if err := a.initCards(); err != nil {
		return nil, fmt.Errorf("app: init cards: %w", err)
	}
	if err := a.setExports(cfg.Export); err != nil {
		return nil, fmt.Errorf("app: init exports: %w", err)
	}

	a.tracker = analytics.NewTracker(a.moves, analytics.WithOnChange(a.onProfile))
	a.table = tablesync.New(a.transport,
		tablesync.WithCardSource(a.cards),
		tablesync.WithMoveRecorder(a.moves),
		tablesync.WithAggressionLevel(a.level),
		tablesync.WithPollInterval(cfg.Table.PollInterval),
		tablesync.WithMetrics(a.metrics),
	)
	a.checkers = append(a.checkers, health.Poller("table", func() (time.Time, error) {
		st := a.table.Status()
		return st.LastSuccess, st.Err
	}, max(10*cfg.Table.PollInterval, 5*time.Second)))

	if err := a.initVoice(); err != nil {
		return nil, fmt.Errorf("app: init voice: %w", err)
	}
	if cfg.MCP.Enabled {
		a.mcp = mcp.NewServer(a.table, a.tracker, mcp.WithMetrics(a.metrics), mcp.WithVersion(a.version))
	}
	a.initHTTP()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initTransport() error {
	if a.transport != nil {
		return nil
	}
	t, err := tablesync.NewHTTPTransport(a.cfg.Table.URL)
	if err != nil {
		return err
	}
	a.transport = t
	return nil
}

// initMoveLog opens the configured backend, or uses injected sinks, and
// restores the configured session from the first sink able to load it.
func (a *App) initMoveLog(ctx context.Context) error {
	if len(a.sinks) == 0 {
		sink, err := a.openBackend(ctx)
		if err != nil {
			return err
		}
		if sink != nil {
			a.sinks = append(a.sinks, sink)
		}
	}

	opts := []movelog.Option{movelog.WithMetrics(a.metrics)}
	if s := a.cfg.MoveLog.Session; s != "" {
		opts = append(opts, movelog.WithSession(s))
	}
	for _, s := range a.sinks {
		opts = append(opts, movelog.WithSink(s))
		if p, ok := s.(health.Pinger); ok {
			a.checkers = append(a.checkers, health.Ping("movelog", p))
		}
	}
	a.moves = movelog.New(opts...)

	if a.cfg.MoveLog.Session == "" {
		return nil
	}
	for _, s := range a.sinks {
		l, ok := s.(movelog.Loader)
		if !ok {
			continue
		}
		n, err := a.moves.Restore(ctx, l)
		if err != nil {
			return fmt.Errorf("restore session %q: %w", a.cfg.MoveLog.Session, err)
		}
		slog.Info("restored move log", "session", a.cfg.MoveLog.Session, "moves", n)
		break
	}
	return nil
}

func (a *App) openBackend(ctx context.Context) (movelog.Sink, error) {
	ml := a.cfg.MoveLog
	switch ml.Backend {
	case config.MoveLogJSONL:
		return jsonl.NewFileStore(ml.Path), nil
	case config.MoveLogSQLite:
		st, err := sqlite.Open(ml.Path)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, st.Close)
		return st, nil
	case config.MoveLogPostgres:
		st, err := postgres.NewStore(ctx, ml.DSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, st.Close)
		return st, nil
	default:
		return nil, nil
	}
}

func (a *App) initCards() error {
	if a.cards != nil {
		return nil
	}
	switch a.cfg.Cards.Source {
	case config.CardSourceHTTP:
		src, err := cardsignal.NewHTTPSource(a.cfg.Cards.URL)
		if err != nil {
			return err
		}
		a.cards = src
	default:
		a.cards = &cardsignal.Manual{}
	}
	return nil
}

// setExports builds the report and calibration clients for e and swaps
// them in.
func (a *App) setExports(e config.ExportConfig) error {
	var (
		r export.Reporter
		c export.Calibrator
	)
	if e.ReportURL != "" {
		rep, err := export.NewHTTPReporter(e.ReportURL)
		if err != nil {
			return err
		}
		r = rep
	}
	if e.CalibrationURL != "" {
		cal, err := export.NewHTTPCalibrator(e.CalibrationURL)
		if err != nil {
			return err
		}
		c = cal
	}
	a.exports.Set(r, c)
	a.autoCalibrate.Store(e.AutoCalibrate)
	return nil
}

func (a *App) initVoice() error {
	if !a.cfg.Voice.Enabled {
		return nil
	}
	if a.providers.Microphone == nil {
		return fmt.Errorf("voice is enabled but no microphone is configured")
	}
	if a.providers.Transcriber == nil {
		return fmt.Errorf("voice is enabled but no transcriber is configured")
	}
	a.voice = voice.New(a.providers.Microphone, a.providers.Transcriber, a.table,
		voice.WithConfig(voiceConfig(a.cfg.Voice)),
		voice.WithMetrics(a.metrics),
	)
	if h, ok := a.providers.Transcriber.(interface{ Healthy() bool }); ok {
		a.checkers = append(a.checkers, health.Healthy("transcriber", h.Healthy))
	}
	return nil
}

func (a *App) initHTTP() {
	deps := api.Deps{
		Table:      a.table,
		Moves:      a.moves,
		Profiles:   a.tracker,
		Cards:      a.cards,
		Reporter:   &a.exports,
		Calibrator: &a.exports,
		Health:     health.New(a.checkers...),
		Metrics:    a.metricsHandler,
	}
	// A nil *voice.Pipeline must not become a non-nil interface.
	if a.voice != nil {
		deps.Voice = a.voice
		if h, ok := a.providers.Microphone.(http.Handler); ok {
			deps.Stream = h
		}
	}

	opts := []api.Option{api.WithMiddleware(a.middlewares...)}
	if a.mcp != nil {
		opts = append(opts, api.WithMount(a.cfg.MCP.Path, a.mcp.Handler(a.cfg.MCP.Token)))
	}
	a.handler = api.New(deps, opts...)
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Handler returns the HTTP handler serving the coach API.
func (a *App) Handler() http.Handler { return a.handler }

// Table returns the table mirror.
func (a *App) Table() *tablesync.Client { return a.table }

// Profile returns the latest decision profile.
func (a *App) Profile() analytics.Profile { return a.tracker.Profile() }

// Run starts the table polling loop and the profile tracker and blocks until
// ctx is cancelled. When ctx is done, Run returns context.Canceled (or the
// underlying cause).
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.table.Run(ctx) })
	g.Go(func() error { return a.tracker.Run(ctx) })

	slog.Info("app running",
		"table", a.cfg.Table.URL,
		"session", a.moves.Session(),
		"voice", a.voice != nil,
		"mcp", a.mcp != nil,
	)
	return g.Wait()
}

// level is the playing style used by the advice fallback.
func (a *App) level() string {
	style, _ := a.style.Load().(config.Style)
	if style != config.StyleAuto {
		return string(style)
	}
	p := a.tracker.Profile()
	if p.TotalMoves == 0 {
		return analytics.LevelNeutral
	}
	return p.AggressionLevel
}

// onProfile pushes the aggression index to the table service after every
// recomputation when auto calibration is on.
func (a *App) onProfile(p analytics.Profile) {
	if !a.autoCalibrate.Load() || p.TotalMoves == 0 {
		return
	}
	if _, ok := a.exports.Configured(); !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), calibrateTimeout)
	defer cancel()
	if err := a.exports.Calibrate(ctx, analytics.Calibration(p)); err != nil {
		slog.Warn("auto calibration failed", "err", err)
		return
	}
	slog.Debug("auto calibration sent", "aggression_index", p.AggressionIndex)
}

// ─── Reload ──────────────────────────────────────────────────────────────────

// Apply takes the hot-reloadable parts of next: the advice style, the
// export targets and the voice timing. Settings that need a restart are
// logged. The log level is left to the caller, which owns the logger.
func (a *App) Apply(prev, next *config.Config) config.ConfigDiff {
	d := config.Diff(prev, next)

	if d.StyleChanged {
		a.style.Store(d.NewStyle)
		slog.Info("config: style changed", "style", d.NewStyle)
	}
	if d.ExportChanged {
		if err := a.setExports(next.Export); err != nil {
			slog.Warn("config: export change not applied", "err", err)
		} else {
			slog.Info("config: export targets updated")
		}
	}
	if d.VoiceTimingChanged && a.voice != nil {
		a.voice.SetConfig(voiceConfig(next.Voice))
		slog.Info("config: voice timing updated, applies to the next listening session")
	}
	for _, field := range d.RestartRequired {
		slog.Warn("config: change requires a restart", "field", field)
	}
	return d
}

func voiceConfig(v config.VoiceConfig) voice.Config {
	return voice.Config{
		ChunkDuration:    v.Chunk,
		LaneOffset:       v.LaneOffset,
		DedupWindow:      v.DedupWindow,
		SilenceThreshold: v.SilenceThreshold,
		MaxInflight:      v.MaxInflight,
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		closers := append([]func() error(nil), a.closers...)
		closers = append(closers, a.providers.Closers...)
		slog.Info("shutting down", "closers", len(closers))

		// Release the microphone first.
		if a.voice != nil {
			a.voice.Stop()
		}
		// Flush queued moves while the sinks are still open.
		if a.moves != nil {
			if err := a.moves.Close(ctx); err != nil {
				slog.Warn("move log flush incomplete", "err", err)
			}
		}

		for i, closer := range closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
