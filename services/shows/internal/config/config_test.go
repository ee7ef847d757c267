package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SeedPages != 8 || cfg.BatchSize != 50 || cfg.SeedConcurrency != 4 {
		t.Fatalf("unexpected seed defaults: %+v", cfg)
	}
	if cfg.RequestTimeout != 30*time.Second || cfg.MaxRetries != 3 || cfg.RetryDelay != 2*time.Second {
		t.Fatalf("unexpected upstream defaults: %+v", cfg)
	}
	if cfg.SyncPagePause != 500*time.Millisecond {
		t.Fatalf("expected 500ms page pause, got %s", cfg.SyncPagePause)
	}
	if cfg.SyncSchedule != "0 0 9 * * MON" {
		t.Fatalf("unexpected schedule %q", cfg.SyncSchedule)
	}
	if cfg.TVMazeBaseURL != "https://api.tvmaze.com" {
		t.Fatalf("unexpected base url %q", cfg.TVMazeBaseURL)
	}
	if cfg.TopRatedCacheTTL != 10*time.Minute || cfg.FilteredCacheTTL != 5*time.Minute {
		t.Fatalf("unexpected cache ttls %s/%s", cfg.TopRatedCacheTTL, cfg.FilteredCacheTTL)
	}
	if p := cfg.CachePrefixes(); len(p) != 2 || p[0] != "tvshows:top-rated:" || p[1] != "tvshows:filtered:" {
		t.Fatalf("unexpected cache prefixes %q", p)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("SEED_PAGES", "2")
	t.Setenv("RETRY_DELAY", "10ms")
	t.Setenv("TOP_RATED_CACHE_KEY", " top ")
	t.Setenv("FILTERED_CACHE_TTL", "0s")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SeedPages != 2 {
		t.Fatalf("expected 2 pages, got %d", cfg.SeedPages)
	}
	if cfg.RetryDelay != 10*time.Millisecond {
		t.Fatalf("expected 10ms, got %s", cfg.RetryDelay)
	}
	if cfg.TopRatedCacheKey != "top" || cfg.CachePrefixes()[0] != "top:" {
		t.Fatalf("expected a trimmed top-rated key, got %q", cfg.TopRatedCacheKey)
	}
	if cfg.FilteredCacheTTL != 0 {
		t.Fatalf("expected filtered caching disabled, got %s", cfg.FilteredCacheTTL)
	}
}

func TestLoad_InvalidBatchSize(t *testing.T) {
	t.Setenv("BATCH_SIZE", "0")
	if _, err := Load(); err == nil {
		t.Fatal("expected validation error for BATCH_SIZE=0")
	}
}

func TestLoad_ProductionRequiresDatabase(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	if _, err := Load(); err == nil {
		t.Fatal("expected error without DATABASE_URL in production")
	}
	t.Setenv("DATABASE_URL", "postgres://localhost/shows")
	if _, err := Load(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoad_TriggersRequireSecret(t *testing.T) {
	t.Setenv("ENABLE_HTTP_TRIGGERS", "true")
	if _, err := Load(); err == nil {
		t.Fatal("expected error without JWT_SECRET")
	}
}

func TestLoad_BlankCacheKey(t *testing.T) {
	t.Setenv("FILTERED_CACHE_KEY", "  ")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for a blank cache key")
	}
}
