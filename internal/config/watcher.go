package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// ErrUnchanged is returned by [Watcher.Reload] when the file content matches
// the current config.
var ErrUnchanged = errors.New("config: file unchanged")

// Watcher keeps the config file and the running coach in step. It re-reads
// the file every interval and on [Watcher.Reload]; onChange fires only when
// the content hash moved and the new content validates.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)

	// reloadMu serialises reloads so onChange never runs concurrently.
	reloadMu sync.Mutex

	mu      sync.Mutex
	current *Config
	sum     [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Default 5s.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// Watch loads the config at path and polls it until ctx is done. An invalid
// file at start is an error. An invalid file later is logged and the last
// valid config stays current.
func Watch(ctx context.Context, path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{path: path, interval: 5 * time.Second, onChange: onChange}
	for _, opt := range opts {
		opt(w)
	}

	cfg, sum, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w.current, w.sum = cfg, sum

	go w.poll(ctx)
	return w, nil
}

// Current returns the most recently applied config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Reload re-reads the file now. It returns [ErrUnchanged] when there is
// nothing to apply and the load error when the file is invalid; onChange
// has run when it returns nil.
func (w *Watcher) Reload() error {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()

	cfg, sum, err := w.read()
	if err != nil {
		return err
	}

	w.mu.Lock()
	if sum == w.sum {
		w.mu.Unlock()
		return ErrUnchanged
	}
	old := w.current
	w.current, w.sum = cfg, sum
	w.mu.Unlock()

	if w.onChange != nil {
		w.onChange(old, cfg)
	}
	return nil
}

func (w *Watcher) poll(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		switch err := w.Reload(); {
		case err == nil:
			slog.Info("config reloaded", "path", w.path)
		case errors.Is(err, ErrUnchanged):
		default:
			slog.Warn("config reload failed, keeping previous config", "path", w.path, "err", err)
		}
	}
}

func (w *Watcher) read() (*Config, [sha256.Size]byte, error) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, [sha256.Size]byte{}, err
	}
	cfg, err := load(bytes.NewReader(data), true)
	if err != nil {
		return nil, [sha256.Size]byte{}, err
	}
	return cfg, sha256.Sum256(data), nil
}
