// Command roadmapd serves the Action API: it validates and enqueues
// pm.* action runs and reports their state. Execution happens in
// roadmap-worker; the two share the database.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/roadmapintel/roadmapd/pkg/actions"
	"github.com/roadmapintel/roadmapd/pkg/api"
	"github.com/roadmapintel/roadmapd/pkg/config"
	"github.com/roadmapintel/roadmapd/pkg/observability"
	"github.com/roadmapintel/roadmapd/pkg/store"
)

func main() {
	cfg := config.Load()
	log := newLogger(cfg.LogLevel)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		log.Error("open database", "error", err)
		os.Exit(1)
	}
	defer db.SQL.Close()
	if err := db.InitAll(ctx); err != nil {
		log.Error("init schema", "error", err)
		os.Exit(1)
	}
	log.Info("database ready", "dialect", db.Dialect)

	obs, err := observability.New(ctx, &observability.Config{
		ServiceName:  "roadmapd",
		Environment:  envName(),
		OTLPEndpoint: cfg.OTLPEndpoint,
		SampleRate:   1.0,
		BatchTimeout: 5 * time.Second,
		Enabled:      cfg.OTELEnabled,
		Insecure:     true,
	})
	if err != nil {
		log.Error("init telemetry", "error", err)
		os.Exit(1)
	}
	defer func() { _ = obs.Shutdown(context.Background()) }()

	if cfg.ActionAPISecret == "" {
		log.Warn("ROADMAP_AI_SECRET not set; requests are unauthenticated")
	}

	srv := &api.Server{
		Ledger: store.NewActionRunStore(db),
		Secret: cfg.ActionAPISecret,
		Log:    log,
		Known:  actions.NewRegistry(),
	}
	handler := srv.Handler()
	if cfg.RedisAddr != "" {
		shared := api.NewRedisRateLimiter(cfg.RedisAddr, cfg.RedisPassword, 10, 20)
		handler = shared.Middleware(handler)
		log.Info("shared rate limiter enabled", "redis", cfg.RedisAddr)
	}

	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.ListenAndServe() }()
	log.Info("action api listening", "addr", httpSrv.Addr)

	select {
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Error("shutdown", "error", err)
		}
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			log.Error("serve", "error", err)
			os.Exit(1)
		}
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func envName() string {
	if v := os.Getenv("ENVIRONMENT"); v != "" {
		return v
	}
	return "development"
}
