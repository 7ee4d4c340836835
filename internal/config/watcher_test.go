package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/pokercoach/internal/config"
)

const watcherValidYAML = `
server:
  log_level: info
table:
  url: http://localhost:5001
  style: neutral
voice:
  enabled: true
  transcribers:
    - name: whisper
      base_url: http://localhost:8178
`

const watcherUpdatedYAML = `
server:
  log_level: debug
table:
  url: http://localhost:5001
  style: aggressive
voice:
  enabled: true
  transcribers:
    - name: whisper
      base_url: http://localhost:8178
`

const watcherInvalidYAML = `
server:
  log_level: bananas
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// watchFile writes content to a fresh config file and watches it with a
// polling interval long enough that only explicit reloads apply changes.
func watchFile(t *testing.T, content string, onChange func(old, new *config.Config)) (*config.Watcher, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, content)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	w, err := config.Watch(ctx, path, onChange, config.WithInterval(time.Hour))
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	return w, path
}

func TestWatch_InitialLoad(t *testing.T) {
	t.Parallel()
	w, _ := watchFile(t, watcherValidYAML, nil)

	cfg := w.Current()
	if cfg.Server.LogLevel != config.LogInfo || cfg.Table.Style != config.StyleNeutral {
		t.Errorf("initial config: level %q style %q", cfg.Server.LogLevel, cfg.Table.Style)
	}
}

func TestWatch_MissingFile(t *testing.T) {
	t.Parallel()
	if _, err := config.Watch(context.Background(), filepath.Join(t.TempDir(), "absent.yaml"), nil); err == nil {
		t.Fatal("Watch on a missing file succeeded")
	}
}

func TestWatcher_Reload(t *testing.T) {
	t.Parallel()
	var gotOld, gotNew *config.Config
	calls := 0
	w, path := watchFile(t, watcherValidYAML, func(old, new *config.Config) {
		calls++
		gotOld, gotNew = old, new
	})

	if err := w.Reload(); !errors.Is(err, config.ErrUnchanged) {
		t.Fatalf("Reload of untouched file = %v, want ErrUnchanged", err)
	}

	writeFile(t, path, watcherUpdatedYAML)
	if err := w.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if calls != 1 {
		t.Fatalf("onChange ran %d times, want 1", calls)
	}

	d := config.Diff(gotOld, gotNew)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("log level diff = %v/%q", d.LogLevelChanged, d.NewLogLevel)
	}
	if !d.StyleChanged || d.NewStyle != config.StyleAggressive {
		t.Errorf("style diff = %v/%q", d.StyleChanged, d.NewStyle)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("hot edit reported restart fields %v", d.RestartRequired)
	}
	if w.Current() != gotNew {
		t.Error("Current() is not the applied config")
	}
}

func TestWatcher_ReloadInvalidKeepsConfig(t *testing.T) {
	t.Parallel()
	calls := 0
	w, path := watchFile(t, watcherValidYAML, func(_, _ *config.Config) { calls++ })
	before := w.Current()

	writeFile(t, path, watcherInvalidYAML)
	if err := w.Reload(); err == nil || errors.Is(err, config.ErrUnchanged) {
		t.Fatalf("Reload of invalid file = %v, want a load error", err)
	}
	if calls != 0 || w.Current() != before {
		t.Errorf("invalid file applied: calls %d", calls)
	}

	// Restoring the original content is not a change.
	writeFile(t, path, watcherValidYAML)
	if err := w.Reload(); !errors.Is(err, config.ErrUnchanged) {
		t.Errorf("Reload after restore = %v, want ErrUnchanged", err)
	}
}

func TestWatcher_TouchIsNotAChange(t *testing.T) {
	t.Parallel()
	w, path := watchFile(t, watcherValidYAML, func(_, _ *config.Config) {
		t.Error("onChange ran for a touched file")
	})

	later := time.Now().Add(time.Minute)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}
	if err := w.Reload(); !errors.Is(err, config.ErrUnchanged) {
		t.Errorf("Reload = %v, want ErrUnchanged", err)
	}
}

func TestWatch_Polls(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, watcherValidYAML)

	changed := make(chan *config.Config, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, err := config.Watch(ctx, path, func(_, new *config.Config) {
		select {
		case changed <- new:
		default:
		}
	}, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}

	writeFile(t, path, watcherUpdatedYAML)
	select {
	case cfg := <-changed:
		if cfg.Table.Style != config.StyleAggressive {
			t.Errorf("polled style = %q", cfg.Table.Style)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("poll did not pick up the edit")
	}
}
