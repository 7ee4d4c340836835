// Package api serves the coach's HTTP interface: the table mirror, hero and
// simulated actions, the move log and profile, voice control and the two
// profile exports. Routing uses chi; every handler speaks JSON.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MrWong99/pokercoach/internal/analytics"
	"github.com/MrWong99/pokercoach/internal/cardsignal"
	"github.com/MrWong99/pokercoach/internal/export"
	"github.com/MrWong99/pokercoach/internal/health"
	"github.com/MrWong99/pokercoach/internal/tablesync"
	"github.com/MrWong99/pokercoach/internal/voice"
	"github.com/MrWong99/pokercoach/pkg/poker"
)

// Table is the table mirror as used by the API.
type Table interface {
	State() (poker.TableState, bool)
	Status() tablesync.Status
	Poll(ctx context.Context) (poker.TableState, error)
	HeroAction(ctx context.Context, action poker.Action, amount float64) (poker.TableState, error)
	SimulateOther(ctx context.Context, action poker.Action, amount float64) (poker.TableState, error)
	Reset(ctx context.Context, numPlayers int) (poker.TableState, error)
}

// Voice controls the voice command pipeline.
type Voice interface {
	Start(ctx context.Context) error
	Stop()
	Status() voice.Status
	Subscribe() (<-chan voice.Status, func())
}

// Moves is the read side of the move log.
type Moves interface {
	Moves() []poker.Move
	Session() string
}

// Profiles returns the latest player profile.
type Profiles interface {
	Profile() analytics.Profile
}

// Deps are the collaborators behind the routes. Table, Moves and Profiles
// are required; a nil Voice, Cards, Reporter or Calibrator turns the
// corresponding routes into 503 "not configured" answers.
type Deps struct {
	Table    Table
	Moves    Moves
	Profiles Profiles

	Voice Voice
	// Stream receives the browser microphone websocket at /api/voice/stream.
	Stream http.Handler

	// Cards is the card signal shown next to the state. Manual sources can
	// also be edited through /api/cards.
	Cards cardsignal.Source

	Reporter   export.Reporter
	Calibrator export.Calibrator

	// Health runs the readiness checks served at /readyz.
	Health *health.Handler
	// Metrics serves /metrics when set.
	Metrics http.Handler
}

// Option configures a [Server].
type Option func(*Server)

// WithMiddleware appends middlewares applied to every route.
func WithMiddleware(mw ...func(http.Handler) http.Handler) Option {
	return func(s *Server) { s.middlewares = append(s.middlewares, mw...) }
}

// WithRequestTimeout bounds every non-streaming request. Default 15s.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithMount attaches h under pattern, e.g. the MCP endpoint.
func WithMount(pattern string, h http.Handler) Option {
	return func(s *Server) { s.mounts = append(s.mounts, mount{pattern, h}) }
}

type mount struct {
	pattern string
	h       http.Handler
}

// Server is the coach HTTP API.
type Server struct {
	deps        Deps
	middlewares []func(http.Handler) http.Handler
	mounts      []mount
	timeout     time.Duration
	router      chi.Router
}

// New builds the router.
func New(deps Deps, opts ...Option) *Server {
	s := &Server{deps: deps, timeout: 15 * time.Second}
	for _, o := range opts {
		o(s)
	}
	if s.deps.Health == nil {
		s.deps.Health = health.New()
	}
	s.router = s.routes()
	return s
}

// ServeHTTP implements [http.Handler].
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.middlewares...)

	s.deps.Health.Register(r)
	if s.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.deps.Metrics)
	}
	for _, m := range s.mounts {
		r.Mount(m.pattern, m.h)
	}

	r.Route("/api", func(r chi.Router) {
		// Long-lived streams are exempt from the request timeout.
		r.Get("/voice/events", s.handleVoiceEvents)
		if s.deps.Stream != nil {
			r.Method(http.MethodGet, "/voice/stream", s.deps.Stream)
		}

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(s.timeout))

			r.Get("/state", s.handleState)
			r.Post("/action", s.handleAction)
			r.Post("/simulate", s.handleSimulate)
			r.Post("/reset", s.handleReset)

			r.Get("/cards", s.handleCards)
			r.Put("/cards", s.handleSetCards)
			r.Delete("/cards", s.handleClearCards)

			r.Get("/moves", s.handleMoves)
			r.Get("/profile", s.handleProfile)

			r.Post("/voice/start", s.handleVoiceStart)
			r.Post("/voice/stop", s.handleVoiceStop)
			r.Get("/voice/status", s.handleVoiceStatus)

			r.Post("/export/report", s.handleExportReport)
			r.Post("/export/calibration", s.handleExportCalibration)
		})
	})
	return r
}
