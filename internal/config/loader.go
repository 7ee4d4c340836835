package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"transcriber": {"whisper", "whisper-native", "deepgram", "openai"},
	"microphone":  {"browser", "discord"},
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr   = ":8080"
	DefaultTableURL     = "http://localhost:5001"
	DefaultPollInterval = 500 * time.Millisecond
	DefaultMCPPath      = "/mcp"
)

// Default returns a configuration with every default applied: a local
// table service, manual cards, the browser microphone, an in-memory move
// log and no exports.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// Load reads the YAML configuration file at path, overlays POKERCOACH_*
// environment variables (see [ApplyEnv]) and returns the validated result.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := load(f, true)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. The environment is not consulted, which keeps it
// deterministic in tests.
func LoadFromReader(r io.Reader) (*Config, error) {
	return load(r, false)
}

func load(r io.Reader, withEnv bool) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if withEnv {
		if err := ApplyEnv(cfg); err != nil {
			return nil, err
		}
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset fields.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.LogFormat == "" {
		cfg.Server.LogFormat = LogFormatText
	}
	if cfg.Table.URL == "" {
		cfg.Table.URL = DefaultTableURL
	}
	if cfg.Table.PollInterval <= 0 {
		cfg.Table.PollInterval = DefaultPollInterval
	}
	if cfg.Table.Style == "" {
		cfg.Table.Style = StyleAuto
	}
	if cfg.Cards.Source == "" {
		cfg.Cards.Source = CardSourceManual
	}
	if cfg.Voice.Microphone.Name == "" {
		cfg.Voice.Microphone.Name = "browser"
	}
	for i := range cfg.Voice.Transcribers {
		if cfg.Voice.Transcribers[i].Language == "" {
			cfg.Voice.Transcribers[i].Language = "en"
		}
	}
	if cfg.MoveLog.Backend == "" {
		cfg.MoveLog.Backend = MoveLogMemory
	}
	if cfg.MCP.Path == "" {
		cfg.MCP.Path = DefaultMCPPath
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogFormat != "" && !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json, pretty", cfg.Server.LogFormat))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Table
	if err := validateURL("table.url", cfg.Table.URL, true); err != nil {
		errs = append(errs, err)
	}
	if cfg.Table.Style != "" && !cfg.Table.Style.IsValid() {
		errs = append(errs, fmt.Errorf("table.style %q is invalid; valid values: aggressive, neutral, conservative, auto", cfg.Table.Style))
	}

	// Cards
	if cfg.Cards.Source != "" && !cfg.Cards.Source.IsValid() {
		errs = append(errs, fmt.Errorf("cards.source %q is invalid; valid values: manual, http", cfg.Cards.Source))
	}
	if cfg.Cards.Source == CardSourceHTTP {
		if err := validateURL("cards.url", cfg.Cards.URL, true); err != nil {
			errs = append(errs, err)
		}
	}

	// Voice
	if cfg.Voice.Enabled {
		validateProviderName("microphone", cfg.Voice.Microphone.Name)
		if len(cfg.Voice.Transcribers) == 0 {
			errs = append(errs, errors.New("voice.transcribers needs at least one entry when voice is enabled"))
		}
	}
	for i, tr := range cfg.Voice.Transcribers {
		if tr.Name == "" {
			errs = append(errs, fmt.Errorf("voice.transcribers[%d].name is required", i))
			continue
		}
		validateProviderName("transcriber", tr.Name)
	}
	for _, d := range []struct {
		name string
		v    time.Duration
	}{
		{"voice.chunk", cfg.Voice.Chunk},
		{"voice.lane_offset", cfg.Voice.LaneOffset},
		{"voice.dedup_window", cfg.Voice.DedupWindow},
	} {
		if d.v < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", d.name))
		}
	}
	if cfg.Voice.Chunk > 0 && cfg.Voice.LaneOffset >= cfg.Voice.Chunk {
		errs = append(errs, fmt.Errorf("voice.lane_offset %s must be shorter than voice.chunk %s", cfg.Voice.LaneOffset, cfg.Voice.Chunk))
	}
	if cfg.Voice.SilenceThreshold < 0 {
		errs = append(errs, errors.New("voice.silence_threshold must not be negative"))
	}

	// Move log
	switch cfg.MoveLog.Backend {
	case "", MoveLogMemory:
	case MoveLogJSONL, MoveLogSQLite:
		if cfg.MoveLog.Path == "" {
			errs = append(errs, fmt.Errorf("movelog.path is required for the %s backend", cfg.MoveLog.Backend))
		}
	case MoveLogPostgres:
		if cfg.MoveLog.DSN == "" {
			errs = append(errs, errors.New("movelog.dsn is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("movelog.backend %q is invalid; valid values: memory, jsonl, sqlite, postgres", cfg.MoveLog.Backend))
	}

	// Export
	if err := validateURL("export.report_url", cfg.Export.ReportURL, false); err != nil {
		errs = append(errs, err)
	}
	if err := validateURL("export.calibration_url", cfg.Export.CalibrationURL, false); err != nil {
		errs = append(errs, err)
	}
	if cfg.Export.AutoCalibrate && cfg.Export.CalibrationURL == "" {
		slog.Warn("export.auto_calibrate is set but export.calibration_url is empty; calibration is disabled")
	}

	// MCP
	if cfg.MCP.Path != "" && !strings.HasPrefix(cfg.MCP.Path, "/") {
		errs = append(errs, fmt.Errorf("mcp.path %q must start with /", cfg.MCP.Path))
	}

	return errors.Join(errs...)
}

func validateURL(field, raw string, required bool) error {
	if raw == "" {
		if required {
			return fmt.Errorf("%s is required", field)
		}
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s %q is not an http(s) URL", field, raw)
	}
	return nil
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or a custom registration",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
