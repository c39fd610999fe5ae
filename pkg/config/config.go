// Package config holds server and worker configuration, loaded from
// environment variables, plus the YAML sheet-registry profile that
// declares which spreadsheets and tabs the sync engine touches.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds process configuration.
type Config struct {
	Port        string
	LogLevel    string
	DatabaseURL string

	// Shared secret expected in the X-ROADMAP-AI-SECRET header.
	ActionAPISecret string

	// Optional Redis address for the distributed API rate limiter.
	RedisAddr     string
	RedisPassword string

	// Sheets access. Empty token means sheet I/O runs against the
	// in-memory fake (local development).
	SheetsAccessToken string
	SheetProfilePath  string

	// Telemetry.
	OTELEnabled  bool
	OTLPEndpoint string

	// LLM suggestion capability.
	LLMBaseURL  string
	LLMAPIKey   string
	LLMModel    string
	MaxLLMCalls int

	// Worker knobs.
	IdleSleep      time.Duration
	MaxRuns        int
	StuckRunAfter  time.Duration
	CommitEvery    int
	OptCommitEvery int

	// Feature flags.
	EnableScoreHistory bool

	// Solver limits.
	SolverTimeLimit time.Duration
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		Port:               envOr("PORT", "8080"),
		LogLevel:           envOr("LOG_LEVEL", "INFO"),
		DatabaseURL:        envOr("DATABASE_URL", "postgres://roadmap@localhost:5432/roadmap?sslmode=disable"),
		ActionAPISecret:    os.Getenv("ROADMAP_AI_SECRET"),
		RedisAddr:          os.Getenv("REDIS_ADDR"),
		RedisPassword:      os.Getenv("REDIS_PASSWORD"),
		SheetsAccessToken:  os.Getenv("SHEETS_ACCESS_TOKEN"),
		SheetProfilePath:   os.Getenv("SHEET_PROFILE"),
		OTELEnabled:        os.Getenv("OTEL_ENABLED") == "true",
		OTLPEndpoint:       envOr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		LLMBaseURL:         envOr("LLM_BASE_URL", "https://api.openai.com/v1"),
		LLMAPIKey:          os.Getenv("LLM_API_KEY"),
		LLMModel:           envOr("LLM_MODEL", "gpt-4o-mini"),
		MaxLLMCalls:        envInt("MAX_LLM_CALLS", 20),
		IdleSleep:          envDuration("WORKER_IDLE_SLEEP", time.Second),
		MaxRuns:            envInt("WORKER_MAX_RUNS", 0),
		StuckRunAfter:      envDuration("STUCK_RUN_AFTER", time.Hour),
		CommitEvery:        envInt("COMMIT_EVERY", 10),
		OptCommitEvery:     envInt("OPT_COMMIT_EVERY", 100),
		EnableScoreHistory: os.Getenv("ENABLE_SCORE_HISTORY") == "true",
		SolverTimeLimit:    envDuration("SOLVER_TIME_LIMIT", 300*time.Second),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
