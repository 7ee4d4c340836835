package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/pokercoach/internal/app"
	"github.com/MrWong99/pokercoach/internal/config"
	"github.com/MrWong99/pokercoach/internal/movelog/jsonl"
	"github.com/MrWong99/pokercoach/internal/observe"
	"github.com/MrWong99/pokercoach/internal/tablesim"
	audiomock "github.com/MrWong99/pokercoach/pkg/audio/mock"
	"github.com/MrWong99/pokercoach/pkg/poker"
	sttmock "github.com/MrWong99/pokercoach/pkg/provider/stt/mock"
)

// testConfig returns the default config pointed at tableURL with a fast
// poll interval.
func testConfig(tableURL string) *config.Config {
	cfg := config.Default()
	cfg.Table.URL = tableURL
	cfg.Table.PollInterval = 20 * time.Millisecond
	return cfg
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

// startTable serves a fresh simulated table.
func startTable(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(tablesim.NewHandler(tablesim.New(6)))
	t.Cleanup(srv.Close)
	return srv
}

// runApp starts a.Run and the coach API, stopping both when the test ends.
func runApp(t *testing.T, a *app.App) *httptest.Server {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	srv := httptest.NewServer(a.Handler())
	t.Cleanup(func() {
		srv.Close()
		cancel()
		if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("Run: %v", err)
		}
		if err := a.Shutdown(context.Background()); err != nil {
			t.Errorf("Shutdown: %v", err)
		}
	})
	return srv
}

func request(t *testing.T, method, url, body string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	var out map[string]any
	_ = json.Unmarshal(raw, &out)
	return resp.StatusCode, out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestApp_HeroActionRecordsMove(t *testing.T) {
	t.Parallel()

	table := startTable(t)
	path := filepath.Join(t.TempDir(), "moves.jsonl")
	cfg := testConfig(table.URL)
	cfg.MoveLog.Backend = config.MoveLogJSONL
	cfg.MoveLog.Path = path
	cfg.MoveLog.Session = "evening"

	a, err := app.New(context.Background(), cfg, nil, app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	srv := runApp(t, a)

	waitFor(t, "first table state", func() bool {
		_, ok := a.Table().State()
		return ok
	})

	// Without hole cards the readiness gate holds the action back.
	code, body := request(t, http.MethodPost, srv.URL+"/api/action", `{"action":"call"}`)
	if code != http.StatusConflict || body["code"] != "not_ready" {
		t.Fatalf("action without cards = %d %v", code, body)
	}

	code, _ = request(t, http.MethodPut, srv.URL+"/api/cards", `{"hole_cards":["Ah","Kd"]}`)
	if code != http.StatusOK {
		t.Fatalf("set cards status = %d", code)
	}
	code, body = request(t, http.MethodPost, srv.URL+"/api/action", `{"action":"call"}`)
	if code != http.StatusOK {
		t.Fatalf("action = %d %v", code, body)
	}

	code, body = request(t, http.MethodGet, srv.URL+"/api/moves", "")
	if code != http.StatusOK || body["count"].(float64) != 1 || body["session"] != "evening" {
		t.Fatalf("moves = %d %v", code, body)
	}
	waitFor(t, "profile update", func() bool { return a.Profile().TotalMoves == 1 })

	// The move is persisted to the configured session in the background.
	var stored []poker.Move
	waitFor(t, "persisted move", func() bool {
		var err error
		stored, err = jsonl.NewFileStore(path).LoadMoves(context.Background(), "evening")
		return err == nil && len(stored) == 1
	})
	if len(stored) != 1 || stored[0].Action != poker.ActionCall || stored[0].Amount != 0.20 {
		t.Errorf("stored moves = %+v", stored)
	}
}

func TestApp_RestoresSession(t *testing.T) {
	t.Parallel()

	fs := jsonl.NewFileStore(filepath.Join(t.TempDir(), "moves.jsonl"))
	ctx := context.Background()
	for i, a := range []poker.Action{poker.ActionRaise, poker.ActionCall, poker.ActionFold} {
		if err := fs.WriteMove(ctx, "yesterday", i, poker.Move{Street: poker.StreetFlop, Action: a, OptimalMove: poker.OptimalCall}); err != nil {
			t.Fatal(err)
		}
	}

	cfg := testConfig("http://127.0.0.1:1")
	cfg.MoveLog.Session = "yesterday"
	a, err := app.New(ctx, cfg, nil, app.WithSink(fs), app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Shutdown(ctx)

	p := a.Profile()
	if p.TotalMoves != 3 || p.MatchedCount != 1 {
		t.Errorf("restored profile = %d moves, %d matched", p.TotalMoves, p.MatchedCount)
	}
}

func TestApp_VoiceNeedsProviders(t *testing.T) {
	t.Parallel()

	cfg := testConfig("http://127.0.0.1:1")
	cfg.Voice.Enabled = true

	if _, err := app.New(context.Background(), cfg, &app.Providers{Transcriber: &sttmock.Transcriber{}}); err == nil {
		t.Error("expected error without a microphone")
	}
	if _, err := app.New(context.Background(), cfg, &app.Providers{Microphone: &audiomock.Microphone{}}); err == nil {
		t.Error("expected error without a transcriber")
	}

	a, err := app.New(context.Background(), cfg, &app.Providers{
		Transcriber: &sttmock.Transcriber{},
		Microphone:  &audiomock.Microphone{},
	}, app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New with providers: %v", err)
	}
	defer a.Shutdown(context.Background())

	srv := httptest.NewServer(a.Handler())
	defer srv.Close()
	code, body := request(t, http.MethodGet, srv.URL+"/api/voice/status", "")
	if code != http.StatusOK || body["listening"] != false {
		t.Errorf("voice status = %d %v", code, body)
	}
}

func TestApp_VoiceDisabledIsNotConfigured(t *testing.T) {
	t.Parallel()

	a, err := app.New(context.Background(), testConfig("http://127.0.0.1:1"), nil, app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatal(err)
	}
	defer a.Shutdown(context.Background())

	srv := httptest.NewServer(a.Handler())
	defer srv.Close()
	code, body := request(t, http.MethodPost, srv.URL+"/api/voice/start", "")
	if code != http.StatusServiceUnavailable || body["code"] != "not_configured" {
		t.Errorf("voice start = %d %v", code, body)
	}
}

func TestApp_MCPRequiresToken(t *testing.T) {
	t.Parallel()

	cfg := testConfig("http://127.0.0.1:1")
	cfg.MCP.Enabled = true
	cfg.MCP.Token = "t0ken"
	a, err := app.New(context.Background(), cfg, nil, app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatal(err)
	}
	defer a.Shutdown(context.Background())

	srv := httptest.NewServer(a.Handler())
	defer srv.Close()
	code, _ := request(t, http.MethodPost, srv.URL+"/mcp", `{}`)
	if code != http.StatusUnauthorized {
		t.Errorf("mcp without token = %d, want 401", code)
	}
}

func TestApp_ShutdownRunsProviderClosers(t *testing.T) {
	t.Parallel()

	var order []string
	providers := &app.Providers{Closers: []func() error{
		func() error { order = append(order, "first"); return nil },
		func() error { order = append(order, "second"); return errors.New("ignored") },
	}}
	a, err := app.New(context.Background(), testConfig("http://127.0.0.1:1"), providers, app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatal(err)
	}

	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
	if strings.Join(order, ",") != "first,second" {
		t.Errorf("closers ran as %v", order)
	}
}

func TestApp_ShutdownHonoursDeadline(t *testing.T) {
	t.Parallel()

	ran := false
	providers := &app.Providers{Closers: []func() error{func() error { ran = true; return nil }}}
	a, err := app.New(context.Background(), testConfig("http://127.0.0.1:1"), providers, app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := a.Shutdown(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Shutdown err = %v, want context.Canceled", err)
	}
	if ran {
		t.Error("closer ran after the deadline")
	}
}
