package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix prefixes every environment variable read by [ApplyEnv].
const EnvPrefix = "POKERCOACH_"

// envOverrides holds the raw environment. Unset variables leave their
// pointer nil so the YAML value survives.
type envOverrides struct {
	ListenAddr *string    `env:"LISTEN_ADDR"`
	LogLevel   *LogLevel  `env:"LOG_LEVEL"`
	LogFormat  *LogFormat `env:"LOG_FORMAT"`

	TableURL     *string        `env:"TABLE_URL"`
	PollInterval *time.Duration `env:"POLL_INTERVAL"`
	Style        *Style         `env:"STYLE"`

	CardSource *CardSource `env:"CARDS_SOURCE"`
	CardsURL   *string     `env:"CARDS_URL"`

	VoiceEnabled *bool   `env:"VOICE_ENABLED"`
	Microphone   *string `env:"MICROPHONE"`

	// Secrets for the transcriber entries, matched by provider name.
	OpenAIKey   *string `env:"OPENAI_API_KEY"`
	DeepgramKey *string `env:"DEEPGRAM_API_KEY"`
	DiscordBot  *string `env:"DISCORD_TOKEN"`

	MoveLogBackend *MoveLogBackend `env:"MOVELOG_BACKEND"`
	MoveLogPath    *string         `env:"MOVELOG_PATH"`
	MoveLogDSN     *string         `env:"MOVELOG_DSN"`
	MoveLogSession *string         `env:"MOVELOG_SESSION"`

	ReportURL      *string `env:"REPORT_URL"`
	CalibrationURL *string `env:"CALIBRATION_URL"`

	MCPEnabled *bool   `env:"MCP_ENABLED"`
	MCPToken   *string `env:"MCP_TOKEN"`
}

// ApplyEnv overlays POKERCOACH_* environment variables on cfg. API keys
// are written into every transcriber entry of the matching provider that
// has none of its own, and the Discord bot token becomes the microphone key.
func ApplyEnv(cfg *Config) error {
	var e envOverrides
	if err := env.ParseWithOptions(&e, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("config: parse env: %w", err)
	}

	set(&cfg.Server.ListenAddr, e.ListenAddr)
	set(&cfg.Server.LogLevel, e.LogLevel)
	set(&cfg.Server.LogFormat, e.LogFormat)
	set(&cfg.Table.URL, e.TableURL)
	set(&cfg.Table.PollInterval, e.PollInterval)
	set(&cfg.Table.Style, e.Style)
	set(&cfg.Cards.Source, e.CardSource)
	set(&cfg.Cards.URL, e.CardsURL)
	set(&cfg.Voice.Enabled, e.VoiceEnabled)
	set(&cfg.Voice.Microphone.Name, e.Microphone)
	set(&cfg.MoveLog.Backend, e.MoveLogBackend)
	set(&cfg.MoveLog.Path, e.MoveLogPath)
	set(&cfg.MoveLog.DSN, e.MoveLogDSN)
	set(&cfg.MoveLog.Session, e.MoveLogSession)
	set(&cfg.Export.ReportURL, e.ReportURL)
	set(&cfg.Export.CalibrationURL, e.CalibrationURL)
	set(&cfg.MCP.Enabled, e.MCPEnabled)
	set(&cfg.MCP.Token, e.MCPToken)

	for i := range cfg.Voice.Transcribers {
		tr := &cfg.Voice.Transcribers[i]
		if tr.APIKey != "" {
			continue
		}
		switch tr.Name {
		case "openai":
			set(&tr.APIKey, e.OpenAIKey)
		case "deepgram":
			set(&tr.APIKey, e.DeepgramKey)
		}
	}
	if e.DiscordBot != nil && cfg.Voice.Microphone.APIKey == "" {
		cfg.Voice.Microphone.APIKey = *e.DiscordBot
	}
	return nil
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}
