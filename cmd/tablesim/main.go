// Command tablesim serves a simulated poker table that speaks the table
// service protocol. It is the development counterpart of a real table and
// lets the coach be exercised without one.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/MrWong99/pokercoach/internal/observe"
	"github.com/MrWong99/pokercoach/internal/tablesim"
)

func main() {
	os.Exit(run())
}

func run() int {
	_ = godotenv.Load()

	addr := flag.String("addr", ":5001", "TCP address to listen on")
	players := flag.Int("players", 6, "number of seats at the table (2-10)")
	autoplay := flag.Bool("autoplay", true, "let the bots act until the hero is to act")
	small := flag.Float64("small-blind", tablesim.DefaultSmallBlind, "small blind")
	big := flag.Float64("big-blind", tablesim.DefaultBigBlind, "big blind")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "tablesim"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "tablesim: telemetry: %v\n", err)
		return 1
	}
	metrics, err := observe.NewMetrics(telemetry.MeterProvider)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tablesim: metrics: %v\n", err)
		return 1
	}

	table := tablesim.New(*players,
		tablesim.WithAutoPlay(*autoplay),
		tablesim.WithBlinds(*small, *big),
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", telemetry.MetricsHandler())
	mux.Handle("/", tablesim.NewHandler(table, observe.Middleware(metrics)))

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	st := table.State()
	slog.Info("table simulator ready",
		"addr", *addr,
		"players", st.NumPlayers,
		"autoplay", *autoplay,
	)

	exit := 0
	select {
	case err := <-serveErr:
		slog.Error("http server failed", "err", err)
		exit = 1
	case <-ctx.Done():
		slog.Info("shutdown signal received, stopping…")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http server shutdown error", "err", err)
	}
	if err := telemetry.Shutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	return exit
}
