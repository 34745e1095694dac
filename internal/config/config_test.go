package config

import (
	"testing"

	"github.com/usbillsim/billsim/internal/query"
	"github.com/usbillsim/billsim/internal/searchclient"
)

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("SEARCH_ENGINE_URL", "http://localhost:9200")
	t.Setenv("BILL_DATA_ROOT", "/data")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when DATABASE_URL is unset")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/billsim")
	t.Setenv("SEARCH_ENGINE_URL", "http://localhost:9200")
	t.Setenv("BILL_DATA_ROOT", "/data")
	t.Setenv("SEARCH_INDEX", "")
	t.Setenv("WORKER_COUNT", "")
	t.Setenv("BILL_DATA_LAYOUT", "")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.SearchIndex != "bills" {
		t.Errorf("SearchIndex = %q, want bills", cfg.SearchIndex)
	}
	if cfg.WorkerCount < 1 || cfg.WorkerCount > searchclient.ConnPoolSize {
		t.Errorf("WorkerCount = %d, want between 1 and the search connection pool size %d",
			cfg.WorkerCount, searchclient.ConnPoolSize)
	}
	if cfg.MaxBillsPerSection != 100 {
		t.Errorf("MaxBillsPerSection = %d, want 100", cfg.MaxBillsPerSection)
	}
	if cfg.MinScore != query.MinScoreDefault {
		t.Errorf("MinScore = %d, want %d", cfg.MinScore, query.MinScoreDefault)
	}
	if cfg.ScoreMode != query.ScoreModeMax {
		t.Errorf("ScoreMode = %q, want %q", cfg.ScoreMode, query.ScoreModeMax)
	}
}

func TestLoadScoreOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/billsim")
	t.Setenv("SEARCH_ENGINE_URL", "http://localhost:9200")
	t.Setenv("BILL_DATA_ROOT", "/data")
	t.Setenv("MIN_SCORE", "30")
	t.Setenv("SCORE_MODE", "avg")
	t.Setenv("MAX_BILLS_PER_SECTION", "50")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MinScore != 30 {
		t.Errorf("MinScore = %d, want 30", cfg.MinScore)
	}
	if cfg.ScoreMode != "avg" {
		t.Errorf("ScoreMode = %q, want avg", cfg.ScoreMode)
	}
	if cfg.MaxBillsPerSection != 50 {
		t.Errorf("MaxBillsPerSection = %d, want 50", cfg.MaxBillsPerSection)
	}
}

func TestLoadNestedLayout(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/billsim")
	t.Setenv("SEARCH_ENGINE_URL", "http://localhost:9200")
	t.Setenv("BILL_DATA_ROOT", "/data")
	t.Setenv("BILL_DATA_LAYOUT", "nested")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Layout != "nested" {
		t.Errorf("Layout = %q, want nested", cfg.Layout)
	}
}
