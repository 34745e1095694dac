// Package config loads billsim's runtime configuration from the
// environment, following the same godotenv-then-os.Getenv pattern the
// ingestor command uses.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/usbillsim/billsim/internal/pathresolver"
	"github.com/usbillsim/billsim/internal/query"
	"github.com/usbillsim/billsim/internal/searchclient"
)

// Config is the full set of environment-derived settings the CLI needs to
// build a store, searchclient, and comparator for a run.
type Config struct {
	// DatabaseURL is the PostgreSQL connection string.
	DatabaseURL string

	// SearchEngineURL is the base URL of the external full-text search
	// engine (e.g. "http://localhost:9200").
	SearchEngineURL string
	SearchEngineKey string
	SearchIndex     string

	// DataRoot is the filesystem root under which bill XML lives.
	DataRoot string
	Layout   pathresolver.Layout

	// ComparatorPath is the path to the external pairwise-comparison
	// executable, or empty to skip that stage.
	ComparatorPath    string
	ComparatorTimeout time.Duration

	// WorkerCount bounds the Orchestrator's concurrent bill processing.
	WorkerCount int

	// MaxBillsPerSection caps the top-level bill hits returned per section
	// query (the query's "size").
	MaxBillsPerSection int

	// MinScore is the floor passed to every section query. query.MinScoreDefault
	// (the default) resolves to the length-adaptive floor instead of a fixed value.
	MinScore int

	// ScoreMode is the nested-query score_mode for folding inner hits into a
	// single per-section score. Defaults to query.ScoreModeMax.
	ScoreMode string
}

// Default returns a Config with the same fallbacks the original ingestor
// command applied to its own settings. The worker count defaults to the
// lesser of the CPU count and the search client's connection pool size.
func Default() *Config {
	workers := runtime.NumCPU()
	if workers > searchclient.ConnPoolSize {
		workers = searchclient.ConnPoolSize
	}
	return &Config{
		SearchIndex:        "bills",
		Layout:             pathresolver.LayoutFlat,
		ComparatorTimeout:  2 * time.Minute,
		WorkerCount:        workers,
		MaxBillsPerSection: query.MaxBillsSection,
		MinScore:           query.MinScoreDefault,
		ScoreMode:          query.ScoreModeMax,
	}
}

// Load reads a .env file if present, then overlays environment variables
// onto a default Config. DATABASE_URL, SEARCH_ENGINE_URL and BILL_DATA_ROOT
// are required; every other setting has a usable default.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("config: DATABASE_URL environment variable is required")
	}

	cfg.SearchEngineURL = os.Getenv("SEARCH_ENGINE_URL")
	if cfg.SearchEngineURL == "" {
		return nil, fmt.Errorf("config: SEARCH_ENGINE_URL environment variable is required")
	}
	cfg.SearchEngineKey = os.Getenv("SEARCH_ENGINE_KEY")

	if idx := os.Getenv("SEARCH_INDEX"); idx != "" {
		cfg.SearchIndex = idx
	}

	cfg.DataRoot = os.Getenv("BILL_DATA_ROOT")
	if cfg.DataRoot == "" {
		return nil, fmt.Errorf("config: BILL_DATA_ROOT environment variable is required")
	}

	if layout := os.Getenv("BILL_DATA_LAYOUT"); layout == string(pathresolver.LayoutNested) {
		cfg.Layout = pathresolver.LayoutNested
	}

	cfg.ComparatorPath = os.Getenv("COMPARATOR_PATH")

	if timeoutStr := os.Getenv("COMPARATOR_TIMEOUT"); timeoutStr != "" {
		if parsed, err := time.ParseDuration(timeoutStr); err == nil {
			cfg.ComparatorTimeout = parsed
		}
	}

	if workersStr := os.Getenv("WORKER_COUNT"); workersStr != "" {
		if parsed, err := strconv.Atoi(workersStr); err == nil && parsed > 0 {
			cfg.WorkerCount = parsed
		}
	}

	if maxStr := os.Getenv("MAX_BILLS_PER_SECTION"); maxStr != "" {
		if parsed, err := strconv.Atoi(maxStr); err == nil && parsed > 0 {
			cfg.MaxBillsPerSection = parsed
		}
	}

	if minScoreStr := os.Getenv("MIN_SCORE"); minScoreStr != "" {
		if parsed, err := strconv.Atoi(minScoreStr); err == nil {
			cfg.MinScore = parsed
		}
	}

	if scoreMode := os.Getenv("SCORE_MODE"); scoreMode != "" {
		cfg.ScoreMode = scoreMode
	}

	return cfg, nil
}
