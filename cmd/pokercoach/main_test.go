package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/pokercoach/internal/analytics"
	"github.com/MrWong99/pokercoach/internal/config"
	"github.com/MrWong99/pokercoach/internal/observe"
	"github.com/MrWong99/pokercoach/pkg/poker"
)

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func TestSlogLevel(t *testing.T) {
	t.Parallel()
	tests := map[config.LogLevel]slog.Level{
		config.LogDebug: slog.LevelDebug,
		config.LogInfo:  slog.LevelInfo,
		config.LogWarn:  slog.LevelWarn,
		config.LogError: slog.LevelError,
		"":              slog.LevelInfo,
	}
	for in, want := range tests {
		if got := slogLevel(in); got != want {
			t.Errorf("slogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestLevelHandler_FollowsLevelVar(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	var lvl slog.LevelVar
	lvl.Set(slog.LevelWarn)
	inner := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(&levelHandler{level: &lvl, next: inner}).With("component", "test")

	logger.Info("hidden")
	logger.Warn("shown")
	lvl.Set(slog.LevelDebug)
	logger.Debug("now visible")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info record passed a warn level")
	}
	for _, want := range []string{"shown", "now visible", "component=test"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q misses %q", out, want)
		}
	}
	if (&levelHandler{level: &lvl, next: inner}).Enabled(context.Background(), slog.LevelDebug-1) {
		t.Error("level below the var reported enabled")
	}
}

func TestBuildProviders_VoiceDisabled(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	reg := config.NewRegistry()
	closers := &closerList{}
	registerBuiltinProviders(reg, cfg, closers)

	ps, err := buildProviders(cfg, reg, testMetrics(t), closers)
	if err != nil {
		t.Fatalf("buildProviders: %v", err)
	}
	if ps.Transcriber != nil || ps.Microphone != nil {
		t.Errorf("providers built with voice disabled: %+v", ps)
	}
}

func TestBuildProviders_Chain(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Voice.Enabled = true
	cfg.Voice.Microphone = config.ProviderEntry{Name: "browser"}
	cfg.Voice.Transcribers = []config.ProviderEntry{
		{Name: "whisper", BaseURL: "http://127.0.0.1:1"},
		{Name: "no-such-engine"},
		{Name: "deepgram", APIKey: "key"},
	}
	reg := config.NewRegistry()
	closers := &closerList{}
	registerBuiltinProviders(reg, cfg, closers)

	ps, err := buildProviders(cfg, reg, testMetrics(t), closers)
	if err != nil {
		t.Fatalf("buildProviders: %v", err)
	}
	if ps.Microphone == nil || ps.Transcriber == nil {
		t.Fatalf("providers = %+v", ps)
	}
	if len(ps.Closers) != 0 {
		t.Errorf("closers = %d, want 0 for stateless providers", len(ps.Closers))
	}
}

func TestBuildProviders_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{
			name: "unknown microphone",
			mutate: func(c *config.Config) {
				c.Voice.Microphone = config.ProviderEntry{Name: "carrier-pigeon"}
			},
			want: "carrier-pigeon",
		},
		{
			name: "no usable transcriber",
			mutate: func(c *config.Config) {
				c.Voice.Transcribers = []config.ProviderEntry{{Name: "no-such-engine"}}
			},
			want: "no usable transcriber",
		},
		{
			name: "transcriber misconfigured",
			mutate: func(c *config.Config) {
				c.Voice.Transcribers = []config.ProviderEntry{{Name: "deepgram"}}
			},
			want: "apiKey",
		},
		{
			name: "discord without guild",
			mutate: func(c *config.Config) {
				c.Voice.Microphone = config.ProviderEntry{Name: "discord", APIKey: "token"}
			},
			want: "guild_id",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := config.Default()
			cfg.Voice.Enabled = true
			cfg.Voice.Microphone = config.ProviderEntry{Name: "browser"}
			cfg.Voice.Transcribers = []config.ProviderEntry{{Name: "whisper", BaseURL: "http://127.0.0.1:1"}}
			tt.mutate(cfg)

			reg := config.NewRegistry()
			closers := &closerList{}
			registerBuiltinProviders(reg, cfg, closers)
			_, err := buildProviders(cfg, reg, testMetrics(t), closers)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestCloserList_CloseAll(t *testing.T) {
	t.Parallel()

	var ran []string
	c := &closerList{}
	c.add(func() error { ran = append(ran, "a"); return errors.New("boom") })
	c.add(func() error { ran = append(ran, "b"); return nil })
	c.closeAll()
	if strings.Join(ran, "") != "ab" {
		t.Errorf("ran = %v, want every closer despite errors", ran)
	}
}

func TestRenderProfile(t *testing.T) {
	t.Parallel()

	if out, err := renderProfile("", analytics.Profile{}); err != nil || !strings.Contains(out, "no recorded moves") {
		t.Errorf("empty profile = %q, %v", out, err)
	}

	moves := []poker.Move{
		{Street: poker.StreetPreflop, Action: poker.ActionCall, OptimalMove: poker.OptimalCall},
		{Street: poker.StreetFlop, Action: poker.ActionRaise, Amount: 2, SuggestedRaise: poker.Ptr(1.0), OptimalMove: poker.OptimalRaise},
	}
	out, err := renderProfile("friday", analytics.Compute(moves))
	if err != nil {
		t.Fatalf("renderProfile: %v", err)
	}
	for _, want := range []string{"friday", "Adherence", "100%", "Bluffs", "preflop", "river"} {
		if !strings.Contains(out, want) {
			t.Errorf("report misses %q:\n%s", want, out)
		}
	}
}

func TestRenderStartupSummary(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Table.URL = "http://table:5001"
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, cfg, &closerList{})

	out, err := renderStartupSummary(cfg, reg)
	if err != nil {
		t.Fatalf("renderStartupSummary: %v", err)
	}
	for _, want := range []string{"http://table:5001", "deepgram", "whisper-native", "browser", "discord"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary misses %q:\n%s", want, out)
		}
	}
}
