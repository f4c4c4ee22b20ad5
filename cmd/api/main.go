package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/sentra/waf/internal/config"
	"github.com/sentra/waf/internal/engine"
	"github.com/sentra/waf/internal/eventlog"
	"github.com/sentra/waf/internal/geoip"
	"github.com/sentra/waf/internal/handlers"
	"github.com/sentra/waf/internal/inference"
	"github.com/sentra/waf/internal/infra"
	"github.com/sentra/waf/internal/metrics"
	"github.com/sentra/waf/internal/signatures"
	"github.com/sentra/waf/internal/store"
	"github.com/sentra/waf/internal/stream"
)

func main() {
	// .env is optional; deployments inject the environment directly.
	_ = godotenv.Load()
	cfg := config.FromEnv()

	adapter, err := infra.NewGoRedisAdapter(cfg.RedisAddr(), cfg.RedisPassword, 0)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer adapter.Close()
	state := store.NewState(adapter, cfg.ReputationTTL, cfg.ModelCacheTTL)

	events, err := eventlog.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer events.Close()

	resolver := geoip.Open(cfg.GeoIPDBPath)
	defer resolver.Close()

	rules := signatures.DefaultRules()
	if cfg.SignatureRulesPath != "" {
		extra, err := signatures.LoadRules(cfg.SignatureRulesPath)
		if err != nil {
			slog.Warn("Failed to load signature rules, using built-ins only",
				"path", cfg.SignatureRulesPath, "error", err)
		} else {
			rules = append(rules, extra...)
		}
	}
	matcher, err := signatures.NewMatcher(rules)
	if err != nil {
		log.Fatalf("Failed to compile signature rules: %v", err)
	}

	client := inference.NewClient(inference.Config{
		BaseURL: cfg.AIServiceURL,
		Timeout: cfg.AIRequestTimeout,
	})

	m := metrics.NewMetrics()
	hub := stream.NewHub(m)

	eng := engine.New(state, matcher, client, m, engine.Config{
		ThresholdLow:  cfg.ThresholdLow,
		ThresholdHigh: cfg.ThresholdHigh,
		FailOpen:      cfg.FailOpen,
		DryRun:        cfg.DryRun,
	})

	router := handlers.NewRouter(handlers.Deps{
		Config:    cfg,
		Engine:    eng,
		State:     state,
		Events:    events,
		Resolver:  resolver,
		Inference: client,
		Hub:       hub,
		Metrics:   m,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown (container runtimes send SIGTERM)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Received shutdown signal, shutting down gracefully")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		hub.Shutdown()
		if err := server.Shutdown(ctx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}
	}()

	slog.Info("🚀 WAF decision core starting",
		"port", cfg.Port,
		"fail_open", cfg.FailOpen,
		"dry_run", cfg.DryRun,
		"geoip_loaded", resolver.Loaded())

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server failed to start: %v", err)
	}

	slog.Info("Server stopped")
}
