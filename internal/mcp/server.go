// Package mcp exposes the coach to MCP-capable assistants. The server offers
// three tools over the streamable HTTP transport:
//
//   - table_state returns the mirrored table and whether the hero is to act.
//   - player_profile returns the decision profile computed from the move log.
//   - submit_action plays a hero action through the table mirror, recording
//     the move exactly like a spoken or clicked action.
package mcp

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/pokercoach/internal/advice"
	"github.com/MrWong99/pokercoach/internal/analytics"
	"github.com/MrWong99/pokercoach/internal/observe"
	"github.com/MrWong99/pokercoach/pkg/poker"
)

// Tool names.
const (
	ToolTableState    = "table_state"
	ToolPlayerProfile = "player_profile"
	ToolSubmitAction  = "submit_action"
)

// Table is the part of the table mirror the tools use.
type Table interface {
	State() (poker.TableState, bool)
	HeroAction(ctx context.Context, action poker.Action, amount float64) (poker.TableState, error)
}

// Profiles returns the latest player profile.
type Profiles interface {
	Profile() analytics.Profile
}

// Option configures a [Server].
type Option func(*Server)

// WithMetrics sets the metrics used to count tool calls. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithVersion sets the implementation version reported during initialisation.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// Server is the MCP server for the coach tools.
type Server struct {
	table    Table
	profiles Profiles
	metrics  *observe.Metrics
	version  string

	srv *mcpsdk.Server
}

// NewServer registers the coach tools on a fresh MCP server.
func NewServer(table Table, profiles Profiles, opts ...Option) *Server {
	s := &Server{table: table, profiles: profiles, version: "dev"}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}

	s.srv = mcpsdk.NewServer(&mcpsdk.Implementation{Name: "pokercoach", Version: s.version}, nil)

	mcpsdk.AddTool(s.srv, &mcpsdk.Tool{
		Name:        ToolTableState,
		Description: "Current poker table: street, pot, bets this street, players in hand, the seat to act and the hero seat. Includes the call price and required equity when the hero faces a bet.",
	}, s.tableState)
	mcpsdk.AddTool(s.srv, &mcpsdk.Tool{
		Name:        ToolPlayerProfile,
		Description: "Decision profile of the hero: adherence to the optimal move overall and by street, action mix, aggression index, bluff rate and the current streak.",
	}, s.playerProfile)
	mcpsdk.AddTool(s.srv, &mcpsdk.Tool{
		Name:        ToolSubmitAction,
		Description: "Play an action for the hero. Only valid when it is the hero's turn and the hole cards are known. Raises need a total bet amount.",
	}, s.submitAction)

	return s
}

// Handler returns the streamable HTTP handler. A non-empty token must be
// presented as "Authorization: Bearer <token>" on every request.
func (s *Server) Handler(token string) http.Handler {
	h := mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server { return s.srv }, nil)
	if token == "" {
		return h
	}
	return requireBearer(token, h)
}

func requireBearer(token string, next http.Handler) http.Handler {
	want := []byte("Bearer " + token)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := []byte(r.Header.Get("Authorization"))
		if subtle.ConstantTimeCompare(got, want) != 1 {
			w.Header().Set("WWW-Authenticate", `Bearer realm="pokercoach"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type noInput struct{}

// SubmitActionInput is the argument object of submit_action.
type SubmitActionInput struct {
	Action string  `json:"action" jsonschema:"one of check, call, raise or fold"`
	Amount float64 `json:"amount,omitempty" jsonschema:"total bet for a raise; ignored otherwise"`
}

type tableStateResult struct {
	State          poker.TableState `json:"state"`
	IsHeroTurn     bool             `json:"is_hero_turn"`
	ToCall         *float64         `json:"to_call,omitempty"`
	RequiredEquity *float64         `json:"required_equity,omitempty"`
}

func (s *Server) tableState(ctx context.Context, _ *mcpsdk.CallToolRequest, _ noInput) (*mcpsdk.CallToolResult, any, error) {
	st, ok := s.table.State()
	if !ok {
		return s.fail(ctx, ToolTableState, fmt.Errorf("table state not available yet"))
	}
	out := tableStateResult{State: st, IsHeroTurn: st.IsHeroTurn()}
	if out.IsHeroTurn {
		out.ToCall = poker.Ptr(st.CostToCall)
		out.RequiredEquity = advice.RequiredEquity(st.Pot, st.CostToCall)
	}
	return s.ok(ctx, ToolTableState, out)
}

func (s *Server) playerProfile(ctx context.Context, _ *mcpsdk.CallToolRequest, _ noInput) (*mcpsdk.CallToolResult, any, error) {
	return s.ok(ctx, ToolPlayerProfile, s.profiles.Profile())
}

func (s *Server) submitAction(ctx context.Context, _ *mcpsdk.CallToolRequest, in SubmitActionInput) (*mcpsdk.CallToolResult, any, error) {
	action, err := poker.ParseAction(in.Action)
	if err != nil {
		return s.fail(ctx, ToolSubmitAction, err)
	}
	if in.Amount < 0 {
		return s.fail(ctx, ToolSubmitAction, fmt.Errorf("amount must not be negative"))
	}
	st, err := s.table.HeroAction(ctx, action, in.Amount)
	if err != nil {
		return s.fail(ctx, ToolSubmitAction, err)
	}
	return s.ok(ctx, ToolSubmitAction, tableStateResult{State: st, IsHeroTurn: st.IsHeroTurn()})
}

func (s *Server) ok(ctx context.Context, tool string, v any) (*mcpsdk.CallToolResult, any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return s.fail(ctx, tool, err)
	}
	s.metrics.RecordToolCall(ctx, tool, "ok")
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(b)}},
	}, nil, nil
}

// fail reports err as a tool-level error so the assistant can read it.
func (s *Server) fail(ctx context.Context, tool string, err error) (*mcpsdk.CallToolResult, any, error) {
	s.metrics.RecordToolCall(ctx, tool, "error")
	slog.Debug("mcp tool failed", "tool", tool, "err", err)
	return &mcpsdk.CallToolResult{
		IsError: true,
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: err.Error()}},
	}, nil, nil
}
