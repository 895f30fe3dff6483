package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pitwatch/pitwatch/server/internal/advisor"
	"github.com/pitwatch/pitwatch/server/internal/alerts"
	"github.com/pitwatch/pitwatch/server/internal/api"
	"github.com/pitwatch/pitwatch/server/internal/config"
	"github.com/pitwatch/pitwatch/server/internal/ingest"
	"github.com/pitwatch/pitwatch/server/internal/notify"
	"github.com/pitwatch/pitwatch/server/internal/session"
	"github.com/pitwatch/pitwatch/server/internal/store"
	"github.com/pitwatch/pitwatch/server/internal/ws"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	uiDir := flag.String("ui-dir", "", "serve the dashboard static files from this directory; leave empty to disable")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	slog.Info("pitwatch-server starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	slog.Info("config loaded",
		"http_port", cfg.Server.HTTPPort,
		"auth_mode", cfg.Server.Auth.Mode,
		"storage_path", cfg.Server.Storage.Path,
		"gap_window", cfg.Server.Sessions.GapWindow,
		"ended_timeout", cfg.Server.Sessions.EndedTimeout,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := store.Open(cfg.Server.Storage.Path)
	if err != nil {
		slog.Error("failed to open store", "path", cfg.Server.Storage.Path, "err", err)
		os.Exit(1)
	}
	defer st.Close()

	// Session tracker with the background liveness sweep.
	tracker := session.NewTracker(st, cfg.Server.Sessions.GapWindow, cfg.Server.Sessions.EndedTimeout)
	go tracker.RunSweeper(ctx, cfg.Server.Sessions.SweepInterval)

	// Alert engine — evaluates thresholds on every incoming reading.
	notifier := notify.New(cfg.Server.Notify)
	engine := alerts.NewEngine(st, alerts.NewGate(st), notifier)

	// WebSocket hub — live readings/alerts plus a status frame every 5 seconds.
	hub := ws.New(tracker, 5*time.Second)
	go hub.Run(ctx)
	engine.OnAlert(hub.BroadcastAlert)

	ingestHandler := ingest.New(st, tracker, engine)
	ingestHandler.OnReading(hub.BroadcastReading)

	var adv *advisor.Advisor
	if cfg.Server.Advisor.Enabled {
		adv = advisor.New(st, advisor.Options{
			BaseURL:    cfg.Server.Advisor.BaseURL,
			APIKey:     cfg.Server.Advisor.APIKey(),
			Model:      cfg.Server.Advisor.Model,
			MaxSamples: cfg.Server.Advisor.MaxSamples,
		})
		slog.Info("advisor enabled", "model", cfg.Server.Advisor.Model)
	}

	// Hot reload: only the liveness windows take effect without a restart.
	go func() {
		err := config.Watch(ctx, *configPath, func(next *config.Config) {
			tracker.SetWindows(next.Server.Sessions.GapWindow, next.Server.Sessions.EndedTimeout)
			slog.Info("liveness windows updated",
				"gap_window", next.Server.Sessions.GapWindow,
				"ended_timeout", next.Server.Sessions.EndedTimeout,
			)
		})
		if err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	// Combined HTTP server: ingest + REST API + WebSocket hub + metrics.
	authWrap := func(h http.Handler) http.Handler {
		return api.APIKeyMiddleware(
			cfg.Server.Auth.Mode,
			cfg.Server.Auth.EffectiveHeader(),
			cfg.Server.Auth.Key(),
			h,
		)
	}

	httpMux := http.NewServeMux()
	httpMux.Handle("/api/v1/ingest", authWrap(ingestHandler))
	httpMux.Handle("/api/", authWrap(api.New(st, tracker, adv)))
	httpMux.Handle("/ws/stream", hub)
	httpMux.Handle("/metrics", promhttp.Handler())

	// Optional: serve the pre-built dashboard from a local directory.
	// The "/" catch-all serves index.html for any unknown path (SPA routing).
	if *uiDir != "" {
		fs := http.FileServer(http.Dir(*uiDir))
		httpMux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			path := *uiDir + r.URL.Path
			if _, err := os.Stat(path); os.IsNotExist(err) {
				http.ServeFile(w, r, *uiDir+"/index.html")
				return
			}
			fs.ServeHTTP(w, r)
		})
		slog.Info("serving UI static files", "dir", *uiDir)
	}

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler: httpMux,
	}
	go func() {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server stopped", "err", err)
		}
	}()

	<-ctx.Done()
	slog.Info("pitwatch-server shutting down")
	httpSrv.Shutdown(context.Background()) //nolint:errcheck
}
