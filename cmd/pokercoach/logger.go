package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/pterm/pterm"

	"github.com/MrWong99/pokercoach/internal/config"
)

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// newLogger builds the process logger. Its level follows lvl so a config
// reload can change verbosity without rebuilding handlers.
func newLogger(format config.LogFormat, lvl *slog.LevelVar) *slog.Logger {
	switch format {
	case config.LogFormatJSON:
		return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	case config.LogFormatPretty:
		pl := pterm.DefaultLogger.WithWriter(os.Stderr).WithLevel(pterm.LogLevelTrace)
		return slog.New(&levelHandler{level: lvl, next: pterm.NewSlogHandler(pl)})
	default:
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	}
}

// levelHandler gates a handler that has no level option of its own.
type levelHandler struct {
	level slog.Leveler
	next  slog.Handler
}

func (h *levelHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return l >= h.level.Level() && h.next.Enabled(ctx, l)
}

func (h *levelHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.next.Handle(ctx, r)
}

func (h *levelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &levelHandler{level: h.level, next: h.next.WithAttrs(attrs)}
}

func (h *levelHandler) WithGroup(name string) slog.Handler {
	return &levelHandler{level: h.level, next: h.next.WithGroup(name)}
}
