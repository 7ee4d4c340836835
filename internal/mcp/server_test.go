package mcp_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/pokercoach/internal/analytics"
	"github.com/MrWong99/pokercoach/internal/mcp"
	"github.com/MrWong99/pokercoach/internal/tablesync"
	"github.com/MrWong99/pokercoach/pkg/poker"
)

type fakeTable struct {
	mu      sync.Mutex
	state   poker.TableState
	ready   bool
	err     error
	actions []poker.Action
	amounts []float64
}

func (f *fakeTable) State() (poker.TableState, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state, f.ready
}

func (f *fakeTable) HeroAction(_ context.Context, a poker.Action, amount float64) (poker.TableState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return poker.TableState{}, f.err
	}
	f.actions = append(f.actions, a)
	f.amounts = append(f.amounts, amount)
	f.state.Seq++
	f.state.CurrentActorSeat = poker.Ptr(5)
	return f.state, nil
}

func (f *fakeTable) calls() ([]poker.Action, []float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]poker.Action(nil), f.actions...), append([]float64(nil), f.amounts...)
}

type fakeProfiles struct{ p analytics.Profile }

func (f fakeProfiles) Profile() analytics.Profile { return f.p }

func heroTurnState() poker.TableState {
	return poker.TableState{
		Seq:              7,
		NumPlayers:       6,
		Street:           poker.StreetFlop,
		Pot:              1.00,
		CurrentBet:       0.50,
		CurrentActorSeat: poker.Ptr(4),
		HeroSeat:         poker.Ptr(4),
		PlayersInHand:    []int{1, 4},
		BetsThisStreet:   map[int]float64{1: 0.50},
		CostToCall:       0.50,
		HandNumber:       3,
	}
}

// connect starts the handler behind httptest and returns a client session.
func connect(t *testing.T, h http.Handler, httpClient *http.Client) *mcpsdk.ClientSession {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "test", Version: "0"}, nil)
	transport := &mcpsdk.StreamableClientTransport{Endpoint: srv.URL}
	if httpClient != nil {
		transport.HTTPClient = httpClient
	}
	session, err := client.Connect(context.Background(), transport, nil)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { _ = session.Close() })
	return session
}

func call(t *testing.T, session *mcpsdk.ClientSession, name string, args map[string]any) (string, bool) {
	t.Helper()
	if args == nil {
		args = map[string]any{}
	}
	res, err := session.CallTool(context.Background(), &mcpsdk.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	var sb strings.Builder
	for _, c := range res.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return sb.String(), res.IsError
}

func TestServer_ListsTools(t *testing.T) {
	t.Parallel()
	s := mcp.NewServer(&fakeTable{}, fakeProfiles{})
	session := connect(t, s.Handler(""), nil)

	var names []string
	for tool, err := range session.Tools(context.Background(), nil) {
		if err != nil {
			t.Fatalf("Tools: %v", err)
		}
		names = append(names, tool.Name)
	}
	sort.Strings(names)
	want := []string{mcp.ToolPlayerProfile, mcp.ToolSubmitAction, mcp.ToolTableState}
	if fmt.Sprint(names) != fmt.Sprint(want) {
		t.Errorf("tools = %v, want %v", names, want)
	}
}

func TestServer_TableState(t *testing.T) {
	t.Parallel()
	table := &fakeTable{state: heroTurnState(), ready: true}
	session := connect(t, mcp.NewServer(table, fakeProfiles{}).Handler(""), nil)

	text, isErr := call(t, session, mcp.ToolTableState, nil)
	if isErr {
		t.Fatalf("table_state failed: %s", text)
	}
	var got struct {
		State          poker.TableState `json:"state"`
		IsHeroTurn     bool             `json:"is_hero_turn"`
		ToCall         *float64         `json:"to_call"`
		RequiredEquity *float64         `json:"required_equity"`
	}
	if err := json.Unmarshal([]byte(text), &got); err != nil {
		t.Fatalf("decode %q: %v", text, err)
	}
	if got.State.Seq != 7 || !got.IsHeroTurn {
		t.Errorf("state = seq %d hero turn %v", got.State.Seq, got.IsHeroTurn)
	}
	if got.ToCall == nil || *got.ToCall != 0.50 {
		t.Errorf("to_call = %v, want 0.50", got.ToCall)
	}
	// 0.50 / (1.00 + 0.50)
	if got.RequiredEquity == nil || *got.RequiredEquity < 33 || *got.RequiredEquity > 34 {
		t.Errorf("required_equity = %v, want ~33.3", got.RequiredEquity)
	}
}

func TestServer_TableStateNotReady(t *testing.T) {
	t.Parallel()
	session := connect(t, mcp.NewServer(&fakeTable{}, fakeProfiles{}).Handler(""), nil)

	text, isErr := call(t, session, mcp.ToolTableState, nil)
	if !isErr || !strings.Contains(text, "not available") {
		t.Errorf("got (%q, %v), want tool error", text, isErr)
	}
}

func TestServer_PlayerProfile(t *testing.T) {
	t.Parallel()
	p := analytics.Profile{TotalMoves: 12, Adherence: 75, AggressionIndex: 40, AggressionLevel: "neutral"}
	session := connect(t, mcp.NewServer(&fakeTable{}, fakeProfiles{p}).Handler(""), nil)

	text, isErr := call(t, session, mcp.ToolPlayerProfile, nil)
	if isErr {
		t.Fatalf("player_profile failed: %s", text)
	}
	var got analytics.Profile
	if err := json.Unmarshal([]byte(text), &got); err != nil {
		t.Fatal(err)
	}
	if got.TotalMoves != 12 || got.Adherence != 75 || got.AggressionLevel != "neutral" {
		t.Errorf("profile = %+v", got)
	}
}

func TestServer_SubmitAction(t *testing.T) {
	t.Parallel()
	table := &fakeTable{state: heroTurnState(), ready: true}
	session := connect(t, mcp.NewServer(table, fakeProfiles{}).Handler(""), nil)

	text, isErr := call(t, session, mcp.ToolSubmitAction, map[string]any{"action": "Raise", "amount": 1.5})
	if isErr {
		t.Fatalf("submit_action failed: %s", text)
	}
	actions, amounts := table.calls()
	if len(actions) != 1 || actions[0] != poker.ActionRaise || amounts[0] != 1.5 {
		t.Errorf("HeroAction calls = %v %v", actions, amounts)
	}
	if !strings.Contains(text, `"seq":8`) {
		t.Errorf("result %s does not carry the new state", text)
	}
}

func TestServer_SubmitActionErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		tableEr error
		args    map[string]any
		want    string
	}{
		{name: "unknown action", args: map[string]any{"action": "shove"}, want: "unknown action"},
		{name: "negative amount", args: map[string]any{"action": "raise", "amount": -1}, want: "negative"},
		{name: "not ready", tableEr: fmt.Errorf("%w: hole cards missing", tablesync.ErrNotReady), args: map[string]any{"action": "call"}, want: "cards not ready"},
		{name: "rejected", tableEr: &tablesync.RejectedError{Kind: tablesync.ErrNotYourTurn, Reason: "seat 2 to act"}, args: map[string]any{"action": "fold"}, want: "seat 2 to act"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			table := &fakeTable{state: heroTurnState(), ready: true, err: tt.tableEr}
			session := connect(t, mcp.NewServer(table, fakeProfiles{}).Handler(""), nil)

			text, isErr := call(t, session, mcp.ToolSubmitAction, tt.args)
			if !isErr || !strings.Contains(text, tt.want) {
				t.Errorf("got (%q, %v), want tool error containing %q", text, isErr, tt.want)
			}
		})
	}
}

type bearerTransport struct{ token string }

func (b bearerTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	r.Header.Set("Authorization", "Bearer "+b.token)
	return http.DefaultTransport.RoundTrip(r)
}

func TestServer_BearerToken(t *testing.T) {
	t.Parallel()
	s := mcp.NewServer(&fakeTable{state: heroTurnState(), ready: true}, fakeProfiles{})
	h := s.Handler("s3cret")

	t.Run("missing", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(h)
		defer srv.Close()
		resp, err := http.Post(srv.URL, "application/json", strings.NewReader(`{}`))
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", resp.StatusCode)
		}
		if resp.Header.Get("WWW-Authenticate") == "" {
			t.Error("missing WWW-Authenticate header")
		}
	})

	t.Run("valid", func(t *testing.T) {
		t.Parallel()
		session := connect(t, h, &http.Client{Transport: bearerTransport{"s3cret"}})
		if _, isErr := call(t, session, mcp.ToolTableState, nil); isErr {
			t.Error("table_state failed with a valid token")
		}
	})
}
