package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs. Fields listed in
// RestartRequired cannot be applied to a running coach.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	StyleChanged bool
	NewStyle     Style

	// ExportChanged is set when report or calibration targets changed.
	ExportChanged bool

	// VoiceTimingChanged is set when chunking, dedup or silence settings
	// changed. They apply to the next listening session.
	VoiceTimingChanged bool

	// RestartRequired names changed settings that only take effect after a
	// restart.
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.StyleChanged && !d.ExportChanged &&
		!d.VoiceTimingChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	var d ConfigDiff

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Table.Style != new.Table.Style {
		d.StyleChanged = true
		d.NewStyle = new.Table.Style
	}
	if old.Export != new.Export {
		d.ExportChanged = true
	}
	ov, nv := old.Voice, new.Voice
	if ov.Chunk != nv.Chunk || ov.LaneOffset != nv.LaneOffset || ov.DedupWindow != nv.DedupWindow ||
		ov.SilenceThreshold != nv.SilenceThreshold || ov.MaxInflight != nv.MaxInflight {
		d.VoiceTimingChanged = true
	}

	restart := func(field string, changed bool) {
		if changed {
			d.RestartRequired = append(d.RestartRequired, field)
		}
	}
	restart("server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr)
	restart("server.log_format", old.Server.LogFormat != new.Server.LogFormat)
	restart("server.tls", !reflect.DeepEqual(old.Server.TLS, new.Server.TLS))
	restart("server.allowed_origins", !slices.Equal(old.Server.AllowedOrigins, new.Server.AllowedOrigins))
	restart("table.url", old.Table.URL != new.Table.URL)
	restart("table.poll_interval", old.Table.PollInterval != new.Table.PollInterval)
	restart("cards", old.Cards != new.Cards)
	restart("voice.enabled", ov.Enabled != nv.Enabled)
	restart("voice.microphone", !reflect.DeepEqual(ov.Microphone, nv.Microphone))
	restart("voice.transcribers", !reflect.DeepEqual(ov.Transcribers, nv.Transcribers))
	restart("movelog", old.MoveLog != new.MoveLog)
	restart("mcp", old.MCP != new.MCP)

	return d
}
