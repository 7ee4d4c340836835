// Package config provides the configuration schema, loader, hot-reload
// watcher and provider registry for the poker coach.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// LogFormat selects the log handler.
type LogFormat string

const (
	// LogFormatText writes logfmt-style lines to stderr.
	LogFormatText LogFormat = "text"

	// LogFormatJSON writes one JSON object per line.
	LogFormatJSON LogFormat = "json"

	// LogFormatPretty writes coloured, human-oriented lines for a terminal.
	LogFormatPretty LogFormat = "pretty"
)

// IsValid reports whether f is a recognised log format.
func (f LogFormat) IsValid() bool {
	switch f {
	case LogFormatText, LogFormatJSON, LogFormatPretty:
		return true
	}
	return false
}

// Style selects the thresholds of the advice fallback.
type Style string

const (
	StyleAggressive   Style = "aggressive"
	StyleNeutral      Style = "neutral"
	StyleConservative Style = "conservative"

	// StyleAuto follows the aggression level of the hero's own profile.
	StyleAuto Style = "auto"
)

// IsValid reports whether s is a recognised style.
func (s Style) IsValid() bool {
	switch s {
	case StyleAggressive, StyleNeutral, StyleConservative, StyleAuto:
		return true
	}
	return false
}

// CardSource selects where card and equity signals come from.
type CardSource string

const (
	// CardSourceManual takes cards entered through the coach API.
	CardSourceManual CardSource = "manual"

	// CardSourceHTTP polls an external card-detection service.
	CardSourceHTTP CardSource = "http"
)

// IsValid reports whether c is a recognised card source.
func (c CardSource) IsValid() bool {
	return c == CardSourceManual || c == CardSourceHTTP
}

// MoveLogBackend selects where recorded moves are persisted.
type MoveLogBackend string

const (
	MoveLogMemory   MoveLogBackend = "memory"
	MoveLogJSONL    MoveLogBackend = "jsonl"
	MoveLogSQLite   MoveLogBackend = "sqlite"
	MoveLogPostgres MoveLogBackend = "postgres"
)

// IsValid reports whether b is a recognised backend.
func (b MoveLogBackend) IsValid() bool {
	switch b {
	case MoveLogMemory, MoveLogJSONL, MoveLogSQLite, MoveLogPostgres:
		return true
	}
	return false
}

// Config is the root configuration of the coach. It is typically loaded
// from a YAML file using [Load] or [LoadFromReader] and then overlaid with
// environment variables by [ApplyEnv].
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Table   TableConfig   `yaml:"table"`
	Cards   CardsConfig   `yaml:"cards"`
	Voice   VoiceConfig   `yaml:"voice"`
	MoveLog MoveLogConfig `yaml:"movelog"`
	Export  ExportConfig  `yaml:"export"`
	MCP     MCPConfig     `yaml:"mcp"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the coach API listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	LogLevel  LogLevel  `yaml:"log_level"`
	LogFormat LogFormat `yaml:"log_format"`

	// AllowedOrigins lists origin patterns permitted to open the browser
	// microphone websocket from another host.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// TLS enables HTTPS when set.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds PEM certificate paths.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// TableConfig points at the authoritative table service.
type TableConfig struct {
	// URL is the base URL of the table service (e.g., "http://localhost:5001").
	URL string `yaml:"url"`

	// PollInterval is the state polling period. Defaults to 500ms.
	PollInterval time.Duration `yaml:"poll_interval"`

	// Style picks the advice fallback thresholds. Defaults to auto.
	Style Style `yaml:"style"`
}

// CardsConfig configures the card-detection signal that gates actions.
type CardsConfig struct {
	Source CardSource `yaml:"source"`

	// URL is the card service base URL when Source is http.
	URL string `yaml:"url"`
}

// VoiceConfig configures the voice command pipeline.
type VoiceConfig struct {
	// Enabled mounts the voice endpoints. Listening itself starts on request.
	Enabled bool `yaml:"enabled"`

	// Microphone selects the capture device, "browser" or "discord".
	Microphone ProviderEntry `yaml:"microphone"`

	// Transcribers lists speech-to-text providers in failover order. The
	// first entry is the primary.
	Transcribers []ProviderEntry `yaml:"transcribers"`

	Chunk            time.Duration `yaml:"chunk"`
	LaneOffset       time.Duration `yaml:"lane_offset"`
	DedupWindow      time.Duration `yaml:"dedup_window"`
	SilenceThreshold float64       `yaml:"silence_threshold"`
	MaxInflight      int           `yaml:"max_inflight"`
}

// ProviderEntry is the configuration block shared by transcribers and
// microphones. Name looks up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered implementation (e.g., "whisper", "deepgram").
	Name string `yaml:"name"`

	// APIKey authenticates against hosted providers.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a model within the provider (e.g., "whisper-1", "nova-2").
	Model string `yaml:"model"`

	// Language is the expected spoken language. Defaults to "en".
	Language string `yaml:"language"`

	// Options holds provider-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// MoveLogConfig configures move persistence.
type MoveLogConfig struct {
	Backend MoveLogBackend `yaml:"backend"`

	// Path is the file used by the jsonl and sqlite backends.
	Path string `yaml:"path"`

	// DSN is the PostgreSQL connection string.
	DSN string `yaml:"dsn"`

	// Session names the move log. Moves of an earlier run under the same
	// session are restored on start. Empty starts a fresh session.
	Session string `yaml:"session"`
}

// ExportConfig points at the two downstream consumers of the profile.
type ExportConfig struct {
	// ReportURL receives aggregated profile data for decision-transfer
	// reports.
	ReportURL string `yaml:"report_url"`

	// CalibrationURL receives the aggression index for opponent calibration.
	CalibrationURL string `yaml:"calibration_url"`

	// AutoCalibrate pushes the aggression index after every recorded move.
	AutoCalibrate bool `yaml:"auto_calibrate"`
}

// MCPConfig configures the Model Context Protocol endpoint that exposes the
// coach to assistants.
type MCPConfig struct {
	Enabled bool `yaml:"enabled"`

	// Path is the route of the streamable HTTP endpoint. Defaults to "/mcp".
	Path string `yaml:"path"`

	// Token, when set, is required as a Bearer token on every request.
	Token string `yaml:"token"`
}
