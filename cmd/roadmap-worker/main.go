// Command roadmap-worker drains the action-run ledger: claim one
// queued run, execute its handler, record the result, repeat. Several
// workers may share the database; the claim protocol keeps each run on
// exactly one of them.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/roadmapintel/roadmapd/pkg/actions"
	"github.com/roadmapintel/roadmapd/pkg/config"
	"github.com/roadmapintel/roadmapd/pkg/llm"
	"github.com/roadmapintel/roadmapd/pkg/observability"
	"github.com/roadmapintel/roadmapd/pkg/sheetio"
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

	var grid sheetio.Grid
	if cfg.SheetsAccessToken != "" {
		grid = sheetio.NewRESTGrid(cfg.SheetsAccessToken)
	} else {
		log.Warn("SHEETS_ACCESS_TOKEN not set; sheet I/O uses the in-memory fake")
		grid = sheetio.NewFake()
	}

	var llmClient llm.Client
	if cfg.LLMAPIKey != "" {
		llmClient = llm.NewOpenAIClient(cfg.LLMAPIKey, cfg.LLMModel, cfg.LLMBaseURL)
	} else {
		log.Warn("LLM_API_KEY not set; suggestion actions will fail")
	}

	profile := config.DefaultSheetProfile()
	if cfg.SheetProfilePath != "" {
		profile, err = config.LoadSheetProfile(cfg.SheetProfilePath)
		if err != nil {
			log.Error("load sheet profile", "path", cfg.SheetProfilePath, "error", err)
			os.Exit(1)
		}
	}

	obs, err := observability.New(ctx, &observability.Config{
		ServiceName:  "roadmap-worker",
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

	deps := actions.NewDeps(db, grid, llmClient, cfg, profile, log)
	worker := &actions.Worker{
		Runner:    &actions.Runner{Registry: actions.NewRegistry(), Deps: deps, Obs: obs},
		IdleSleep: cfg.IdleSleep,
		MaxRuns:   cfg.MaxRuns,
	}

	// Periodic sweep for runs stranded by a dead worker.
	go func() {
		ticker := time.NewTicker(cfg.StuckRunAfter / 4)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				worker.SweepStuck(ctx, cfg.StuckRunAfter)
			}
		}
	}()

	log.Info("worker started", "idle_sleep", cfg.IdleSleep, "max_runs", cfg.MaxRuns)
	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		log.Error("worker stopped", "error", err)
		os.Exit(1)
	}
	log.Info("worker stopped")
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
