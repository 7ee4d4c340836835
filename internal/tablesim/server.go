package tablesim

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MrWong99/pokercoach/internal/health"
	"github.com/MrWong99/pokercoach/pkg/poker"
)

type actionRequest struct {
	Seat         *int         `json:"seat"`
	Action       poker.Action `json:"action"`
	Amount       float64      `json:"amount"`
	IsHeroActing bool         `json:"is_hero_acting"`
}

type resetRequest struct {
	NumPlayers int `json:"num_players"`
}

type calibrateRequest struct {
	AggressionIndex *int `json:"aggression_index"`
}

type stateResponse struct {
	OK    bool              `json:"ok"`
	State *poker.TableState `json:"state,omitempty"`
	Error string            `json:"error,omitempty"`
	Code  string            `json:"code,omitempty"`
}

type botsResponse struct {
	OK            bool   `json:"ok"`
	BotAggression int    `json:"bot_aggression"`
	BotLevel      string `json:"bot_level"`
}

// Handler serves a [Table] over HTTP.
//
//	GET  /api/table/state
//	POST /api/table/action     {seat, action, amount, is_hero_acting}
//	POST /api/table/reset      {num_players}
//	POST /api/table/bot        let the bot act for the current seat
//	GET  /api/table/calibrate  current bot aggression
//	POST /api/table/calibrate  {aggression_index}
//	GET  /healthz, /readyz
type Handler struct {
	table *Table
	mux   chi.Router
}

// NewHandler returns an HTTP handler for t. Middlewares wrap every route.
func NewHandler(t *Table, middlewares ...func(http.Handler) http.Handler) *Handler {
	h := &Handler{table: t, mux: chi.NewRouter()}
	h.mux.Use(middlewares...)

	h.mux.Route("/api/table", func(r chi.Router) {
		r.Get("/state", h.handleState)
		r.Post("/action", h.handleAction)
		r.Post("/reset", h.handleReset)
		r.Post("/bot", h.handleBotStep)
		r.Get("/calibrate", h.handleBots)
		r.Post("/calibrate", h.handleCalibrate)
	})
	health.New().Register(h.mux)
	return h
}

// ServeHTTP implements [http.Handler].
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.table.State())
}

func (h *Handler) handleAction(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if err := decode(r, &req); err != nil {
		writeRejection(w, invalidAction("invalid JSON body: %v", err))
		return
	}
	if req.Seat == nil || *req.Seat < 0 {
		writeRejection(w, invalidAction("missing or invalid 'seat'"))
		return
	}
	st, err := h.table.Act(*req.Seat, req.Action, req.Amount, req.IsHeroActing)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stateResponse{OK: true, State: &st})
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := decode(r, &req); err != nil {
		writeRejection(w, invalidAction("invalid JSON body: %v", err))
		return
	}
	st := h.table.Reset(req.NumPlayers)
	writeJSON(w, http.StatusOK, stateResponse{OK: true, State: &st})
}

func (h *Handler) handleBotStep(w http.ResponseWriter, _ *http.Request) {
	st, err := h.table.BotStep()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stateResponse{OK: true, State: &st})
}

func (h *Handler) handleBots(w http.ResponseWriter, _ *http.Request) {
	a, level := h.table.BotAggression()
	writeJSON(w, http.StatusOK, botsResponse{OK: true, BotAggression: a, BotLevel: level})
}

func (h *Handler) handleCalibrate(w http.ResponseWriter, r *http.Request) {
	var req calibrateRequest
	if err := decode(r, &req); err != nil || req.AggressionIndex == nil {
		writeRejection(w, invalidAction("body must carry aggression_index"))
		return
	}
	a := h.table.Calibrate(*req.AggressionIndex)
	writeJSON(w, http.StatusOK, botsResponse{OK: true, BotAggression: a, BotLevel: aggressionLevel(a)})
}

// decode reads a JSON body. An empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func writeError(w http.ResponseWriter, err error) {
	var rej *Rejection
	if errors.As(err, &rej) {
		writeRejection(w, rej)
		return
	}
	slog.Error("tablesim: request failed", "err", err)
	writeJSON(w, http.StatusInternalServerError, stateResponse{Error: err.Error()})
}

func writeRejection(w http.ResponseWriter, rej *Rejection) {
	status := http.StatusBadRequest
	if rej.Code == CodeNotYourTurn {
		status = http.StatusConflict
	}
	writeJSON(w, status, stateResponse{Error: rej.Reason, Code: rej.Code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("tablesim: write response", "err", err)
	}
}
