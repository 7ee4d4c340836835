package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/MrWong99/pokercoach/internal/analytics"
	"github.com/MrWong99/pokercoach/internal/cardsignal"
	"github.com/MrWong99/pokercoach/internal/export"
	"github.com/MrWong99/pokercoach/internal/tablesync"
	"github.com/MrWong99/pokercoach/internal/voice"
	"github.com/MrWong99/pokercoach/pkg/poker"
)

// Error codes returned in the "code" field of failed requests.
const (
	CodeBadRequest       = "bad_request"
	CodeNotYourTurn      = "not_your_turn"
	CodeInvalidAction    = "invalid_action"
	CodeNotReady         = "not_ready"
	CodeTableUnavailable = "table_unavailable"
	CodeMicrophoneDenied = "microphone_denied"
	CodeNotConfigured    = "not_configured"
	CodeUpstream         = "upstream_error"
	CodeInternal         = "internal"
)

type actionRequest struct {
	Action poker.Action `json:"action"`
	Amount float64      `json:"amount"`
}

type resetRequest struct {
	NumPlayers int `json:"num_players"`
}

type tableStatus struct {
	OK          bool       `json:"ok"`
	LastSuccess *time.Time `json:"last_success,omitempty"`
	Error       string     `json:"error,omitempty"`
}

type stateResponse struct {
	State      *poker.TableState    `json:"state"`
	IsHeroTurn bool                 `json:"is_hero_turn"`
	Table      tableStatus          `json:"table"`
	Cards      *cardsignal.Snapshot `json:"cards,omitempty"`
}

type actionResponse struct {
	OK    bool             `json:"ok"`
	State poker.TableState `json:"state"`
}

type movesResponse struct {
	Session string       `json:"session"`
	Count   int          `json:"count"`
	Moves   []poker.Move `json:"moves"`
}

type errorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	st, ok := s.deps.Table.State()
	if !ok {
		var err error
		if st, err = s.deps.Table.Poll(r.Context()); err != nil {
			writeError(w, err)
			return
		}
	}

	status := s.deps.Table.Status()
	resp := stateResponse{
		State:      &st,
		IsHeroTurn: st.IsHeroTurn(),
		Table:      tableStatus{OK: status.Err == nil},
	}
	if !status.LastSuccess.IsZero() {
		resp.Table.LastSuccess = &status.LastSuccess
	}
	if status.Err != nil {
		resp.Table.Error = status.Err.Error()
	}
	if s.deps.Cards != nil {
		if snap, err := s.deps.Cards.Snapshot(r.Context()); err == nil {
			resp.Cards = &snap
		} else {
			slog.Debug("api: card snapshot unavailable", "err", err)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeAction(w, r)
	if !ok {
		return
	}
	st, err := s.deps.Table.HeroAction(r.Context(), req.Action, req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, actionResponse{OK: true, State: st})
}

func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeAction(w, r)
	if !ok {
		return
	}
	st, err := s.deps.Table.SimulateOther(r.Context(), req.Action, req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, actionResponse{OK: true, State: st})
}

func decodeAction(w http.ResponseWriter, r *http.Request) (actionRequest, bool) {
	var req actionRequest
	if err := decode(r, &req); err != nil {
		writeFail(w, http.StatusBadRequest, CodeBadRequest, "invalid JSON body: "+err.Error())
		return req, false
	}
	a, err := poker.ParseAction(string(req.Action))
	if err != nil {
		writeFail(w, http.StatusBadRequest, CodeInvalidAction, "action must be check, call, raise, or fold")
		return req, false
	}
	if req.Amount < 0 {
		writeFail(w, http.StatusBadRequest, CodeInvalidAction, "amount must not be negative")
		return req, false
	}
	req.Action = a
	return req, true
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	req := resetRequest{NumPlayers: 6}
	if err := decode(r, &req); err != nil {
		writeFail(w, http.StatusBadRequest, CodeBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	st, err := s.deps.Table.Reset(r.Context(), req.NumPlayers)
	if err != nil {
		writeError(w, err)
		return
	}
	if m, ok := s.deps.Cards.(*cardsignal.Manual); ok {
		m.Clear()
	}
	writeJSON(w, http.StatusOK, actionResponse{OK: true, State: st})
}

func (s *Server) handleCards(w http.ResponseWriter, r *http.Request) {
	if s.deps.Cards == nil {
		writeNotConfigured(w, "card signal")
		return
	}
	snap, err := s.deps.Cards.Snapshot(r.Context())
	if err != nil {
		writeFail(w, http.StatusBadGateway, CodeUpstream, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleSetCards(w http.ResponseWriter, r *http.Request) {
	m, ok := s.deps.Cards.(*cardsignal.Manual)
	if !ok {
		writeFail(w, http.StatusConflict, CodeNotConfigured, "cards come from the detection service and cannot be edited")
		return
	}
	var snap cardsignal.Snapshot
	if err := decode(r, &snap); err != nil {
		writeFail(w, http.StatusBadRequest, CodeBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if err := m.Set(snap); err != nil {
		writeFail(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}
	s.handleCards(w, r)
}

func (s *Server) handleClearCards(w http.ResponseWriter, r *http.Request) {
	m, ok := s.deps.Cards.(*cardsignal.Manual)
	if !ok {
		writeFail(w, http.StatusConflict, CodeNotConfigured, "cards come from the detection service and cannot be edited")
		return
	}
	m.Clear()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMoves(w http.ResponseWriter, _ *http.Request) {
	moves := s.deps.Moves.Moves()
	if moves == nil {
		moves = []poker.Move{}
	}
	writeJSON(w, http.StatusOK, movesResponse{Session: s.deps.Moves.Session(), Count: len(moves), Moves: moves})
}

func (s *Server) handleProfile(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Profiles.Profile())
}

func (s *Server) handleVoiceStart(w http.ResponseWriter, r *http.Request) {
	if s.deps.Voice == nil {
		writeNotConfigured(w, "voice")
		return
	}
	if err := s.deps.Voice.Start(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Voice.Status())
}

func (s *Server) handleVoiceStop(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Voice == nil {
		writeNotConfigured(w, "voice")
		return
	}
	s.deps.Voice.Stop()
	writeJSON(w, http.StatusOK, s.deps.Voice.Status())
}

func (s *Server) handleVoiceStatus(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Voice == nil {
		writeNotConfigured(w, "voice")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Voice.Status())
}

// handleVoiceEvents streams status changes as server-sent events until the
// client disconnects.
func (s *Server) handleVoiceEvents(w http.ResponseWriter, r *http.Request) {
	if s.deps.Voice == nil {
		writeNotConfigured(w, "voice")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeFail(w, http.StatusInternalServerError, CodeInternal, "streaming unsupported")
		return
	}
	updates, cancel := s.deps.Voice.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case st := <-updates:
			data, err := json.Marshal(st)
			if err != nil {
				slog.Warn("api: encode voice status", "err", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: status\ndata: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) handleExportReport(w http.ResponseWriter, r *http.Request) {
	if s.deps.Reporter == nil {
		writeNotConfigured(w, "report export")
		return
	}
	report, err := s.deps.Reporter.Report(r.Context(), analytics.Report(s.deps.Profiles.Profile()))
	if errors.Is(err, export.ErrNotConfigured) {
		writeNotConfigured(w, "report export")
		return
	}
	if err != nil {
		slog.Warn("api: report export failed", "err", err)
		writeFail(w, http.StatusBadGateway, CodeUpstream, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(report)
}

func (s *Server) handleExportCalibration(w http.ResponseWriter, r *http.Request) {
	if s.deps.Calibrator == nil {
		writeNotConfigured(w, "calibration export")
		return
	}
	in := analytics.Calibration(s.deps.Profiles.Profile())
	err := s.deps.Calibrator.Calibrate(r.Context(), in)
	if errors.Is(err, export.ErrNotConfigured) {
		writeNotConfigured(w, "calibration export")
		return
	}
	if err != nil {
		slog.Warn("api: calibration export failed", "err", err)
		writeFail(w, http.StatusBadGateway, CodeUpstream, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "aggression_index": in.AggressionIndex})
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// writeError maps domain errors onto status codes. Rejection reasons from
// the table service are passed through verbatim.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, tablesync.ErrNotYourTurn):
		writeFail(w, http.StatusConflict, CodeNotYourTurn, reason(err))
	case errors.Is(err, tablesync.ErrInvalidAction):
		writeFail(w, http.StatusBadRequest, CodeInvalidAction, reason(err))
	case errors.Is(err, tablesync.ErrNotReady):
		writeFail(w, http.StatusConflict, CodeNotReady, err.Error())
	case errors.Is(err, tablesync.ErrNetworkUnavailable):
		writeFail(w, http.StatusBadGateway, CodeTableUnavailable, err.Error())
	case errors.Is(err, voice.ErrMicrophoneDenied):
		writeFail(w, http.StatusForbidden, CodeMicrophoneDenied, err.Error())
	default:
		slog.Error("api: request failed", "err", err)
		writeFail(w, http.StatusInternalServerError, CodeInternal, err.Error())
	}
}

func reason(err error) string {
	var rej *tablesync.RejectedError
	if errors.As(err, &rej) {
		return rej.Reason
	}
	return err.Error()
}

func writeNotConfigured(w http.ResponseWriter, what string) {
	writeFail(w, http.StatusServiceUnavailable, CodeNotConfigured, what+" is not configured")
}

func writeFail(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("api: write response", "err", err)
	}
}
