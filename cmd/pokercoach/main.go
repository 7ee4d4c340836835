// Command pokercoach is the main entry point for the poker coaching
// companion: it mirrors the table, records hero decisions, listens for spoken
// commands and serves the coach API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/MrWong99/pokercoach/internal/app"
	"github.com/MrWong99/pokercoach/internal/config"
	"github.com/MrWong99/pokercoach/internal/observe"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	envFile := flag.String("env", ".env", "dotenv file loaded before the configuration, if present")
	showProfile := flag.Bool("profile", false, "print the decision profile of the configured session and exit")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "pokercoach: load %s: %v\n", *envFile, err)
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "pokercoach: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "pokercoach: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(newLogger(cfg.Server.LogFormat, &level))

	slog.Info("pokercoach starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	telemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "pokercoach",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	metrics, err := observe.NewMetrics(telemetry.MeterProvider)
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Providers ─────────────────────────────────────────────────────────────
	closers := &closerList{}
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, cfg, closers)

	providers, err := buildProviders(cfg, reg, metrics, closers)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		closers.closeAll()
		return 1
	}

	application, err := app.New(ctx, cfg, providers,
		app.WithMetrics(metrics),
		app.WithMetricsHandler(telemetry.MetricsHandler()),
		app.WithMiddleware(observe.Middleware(metrics)),
		app.WithVersion(version),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		closers.closeAll()
		return 1
	}

	if *showProfile {
		printProfile(os.Stdout, cfg.MoveLog.Session, application.Profile())
		_ = application.Shutdown(context.Background())
		return 0
	}

	printStartupSummary(cfg, reg)

	// ── Hot reload ────────────────────────────────────────────────────────────
	watcher, err := config.Watch(ctx, *configPath, func(old, new *config.Config) {
		d := application.Apply(old, new)
		if d.LogLevelChanged {
			level.Set(slogLevel(d.NewLogLevel))
			slog.Info("config: log level changed", "level", d.NewLogLevel)
		}
	})
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		go reloadOnHangup(ctx, watcher)
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           application.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		var err error
		if tls := cfg.Server.TLS; tls != nil {
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	runErr := make(chan error, 1)
	go func() { runErr <- application.Run(ctx) }()

	slog.Info("server ready, press Ctrl+C to shut down", "addr", cfg.Server.ListenAddr)

	exit := 0
	select {
	case err := <-serveErr:
		slog.Error("http server failed", "err", err)
		exit = 1
		stop()
	case <-ctx.Done():
		slog.Info("shutdown signal received, stopping…")
	}
	if err := <-runErr; err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		exit = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http server shutdown error", "err", err)
	}
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		exit = 1
	}
	if err := telemetry.Shutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return exit
}

// reloadOnHangup applies the config file immediately on SIGHUP instead of
// waiting for the next poll.
func reloadOnHangup(ctx context.Context, w *config.Watcher) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			switch err := w.Reload(); {
			case err == nil:
				slog.Info("config reloaded on SIGHUP")
			case errors.Is(err, config.ErrUnchanged):
				slog.Info("SIGHUP received, config unchanged")
			default:
				slog.Warn("config reload on SIGHUP failed", "err", err)
			}
		}
	}
}
