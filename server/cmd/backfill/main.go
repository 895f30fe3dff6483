// Command backfill creates session records for telemetry that arrived before
// session tracking existed. It scans the readings history for distinct
// session ids and inserts a record for each one that has none, deriving
// started_at from the id's embedded creation time where possible. Existing
// records are never modified, so it is safe to run against a live database
// and safe to run more than once.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/pitwatch/pitwatch/server/internal/config"
	"github.com/pitwatch/pitwatch/server/internal/session"
	"github.com/pitwatch/pitwatch/server/internal/store"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	dbPath := flag.String("db", "", "sqlite database path (overrides config)")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	path := *dbPath
	if path == "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			slog.Error("failed to load config", "err", err)
			os.Exit(1)
		}
		path = cfg.Server.Storage.Path
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := store.Open(path)
	if err != nil {
		slog.Error("failed to open store", "path", path, "err", err)
		os.Exit(1)
	}
	defer st.Close()

	tracker := session.NewTracker(st, 0, 0)
	created, err := tracker.Backfill(ctx)
	if err != nil {
		slog.Error("backfill failed", "created_before_error", created, "err", err)
		os.Exit(1)
	}
	slog.Info("backfill done", "created", created)
}
