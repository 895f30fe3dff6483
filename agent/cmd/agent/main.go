package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pitwatch/pitwatch/agent/internal/config"
	"github.com/pitwatch/pitwatch/agent/internal/scraper"
	"github.com/pitwatch/pitwatch/agent/internal/shipper"
)

// sessionIDLayout matches the server's session-id time encoding, so the
// server can recover the cook's start time from the id alone.
const sessionIDLayout = "20060102150405"

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	sessionID := flag.String("session", "", "cook session id (default: <prefix>-<now>)")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	slog.Info("pitwatch-agent starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	session := *sessionID
	if session == "" {
		session = fmt.Sprintf("%s-%s", cfg.Agent.SessionPrefix, time.Now().UTC().Format(sessionIDLayout))
	}

	slog.Info("config loaded",
		"server_endpoint", cfg.Agent.ServerEndpoint,
		"sources", len(cfg.Agent.Sources),
		"scrape_interval", cfg.Agent.ScrapeInterval,
		"session_id", session,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Build scraper instances from the initial config. Hot-reload logs only;
	// rebuilding scrapers on reload would also restart mid-cook sessions.
	type pipeline struct {
		src config.Source
		s   scraper.Scraper
	}
	var pipelines []pipeline
	for _, src := range cfg.Agent.Sources {
		s, err := scraper.New(src)
		if err != nil {
			slog.Error("skipping source — could not build scraper", "source", src.ID, "err", err)
			continue
		}
		pipelines = append(pipelines, pipeline{src: src, s: s})
		slog.Info("registered source", "id", src.ID, "type", src.Type, "endpoint", src.Endpoint)
	}

	if len(pipelines) == 0 {
		slog.Warn("no sources configured — agent will idle")
	}

	go func() {
		if err := config.Watch(ctx, *configPath, func(updated *config.Config) {
			slog.Info("config hot-reloaded", "sources", len(updated.Agent.Sources))
		}); err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	// Start the shipper — runs until ctx is cancelled.
	ship := shipper.New(cfg.Agent, session)
	go ship.Run(ctx)

	// Scrape loop: poll every ScrapeInterval and ship whatever succeeded.
	go func() {
		ticker := time.NewTicker(cfg.Agent.ScrapeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, p := range pipelines {
					sample, err := p.s.Scrape(ctx)
					if err != nil {
						slog.Warn("scrape error", "source", p.src.ID, "err", err)
						continue
					}
					ship.Ship(sample)
				}
			}
		}
	}()

	<-ctx.Done()
	slog.Info("pitwatch-agent shutting down")
}
