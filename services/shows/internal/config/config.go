package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

// Config is the shows service configuration. It is loaded once in main and
// passed by value.
type Config struct {
	Env         string `env:"APP_ENV" envDefault:"development"`
	DatabaseURL string `env:"DATABASE_URL"`

	TVMazeBaseURL  string        `env:"TVMAZE_BASE_URL" envDefault:"https://api.tvmaze.com" validate:"required,url"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s" validate:"gt=0"`
	MaxRetries     int           `env:"RETRY_MAX_ATTEMPTS" envDefault:"3" validate:"gte=0,lte=10"`
	RetryDelay     time.Duration `env:"RETRY_DELAY" envDefault:"2s" validate:"gte=0"`
	UpstreamRPS    float64       `env:"UPSTREAM_RPS" envDefault:"2" validate:"gte=0"`
	UpstreamBurst  int           `env:"UPSTREAM_BURST" envDefault:"4" validate:"gte=1"`

	CBFailureThreshold uint32        `env:"CB_FAILURE_THRESHOLD" envDefault:"5"`
	CBTimeout          time.Duration `env:"CB_TIMEOUT" envDefault:"60s"`

	SeedEnabled     bool   `env:"SEED_ENABLED" envDefault:"true"`
	SeedPages       int    `env:"SEED_PAGES" envDefault:"8" validate:"gte=1"`
	SeedConcurrency int    `env:"SEED_CONCURRENCY" envDefault:"4" validate:"gte=1"`
	BatchSize       int    `env:"BATCH_SIZE" envDefault:"50" validate:"gte=1"`
	SnapshotPath    string `env:"SNAPSHOT_PATH" envDefault:"data/tvshows-dump.json"`

	SyncPagePause time.Duration `env:"SYNC_PAGE_PAUSE" envDefault:"500ms" validate:"gte=0"`
	SyncSchedule  string        `env:"SYNC_SCHEDULE" envDefault:"0 0 9 * * MON" validate:"required"`

	EnableHTTPTriggers bool   `env:"ENABLE_HTTP_TRIGGERS" envDefault:"false"`
	JWTSecret          string `env:"JWT_SECRET"`
	JWTIssuer          string `env:"JWT_ISSUER"`

	NATSURL           string        `env:"NATS_URL"`
	RedisURL          string        `env:"REDIS_URL"`
	LockTTL           time.Duration `env:"LOCK_TTL" envDefault:"2h" validate:"gt=0"`
	CORSAllowedOrigin string        `env:"CORS_ALLOWED_ORIGINS"`

	// Read-side page cache. Keys are <key>:page_<n>:size_<n>[:filter_<hash>].
	TopRatedCacheKey string        `env:"TOP_RATED_CACHE_KEY" envDefault:"tvshows:top-rated" validate:"required"`
	TopRatedCacheTTL time.Duration `env:"TOP_RATED_CACHE_TTL" envDefault:"10m" validate:"gte=0"`
	FilteredCacheKey string        `env:"FILTERED_CACHE_KEY" envDefault:"tvshows:filtered" validate:"required"`
	FilteredCacheTTL time.Duration `env:"FILTERED_CACHE_TTL" envDefault:"5m" validate:"gte=0"`
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

var validate = validator.New()

// Load parses the environment and validates the result.
func Load() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := validate.Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	if cfg.IsProduction() && strings.TrimSpace(cfg.DatabaseURL) == "" {
		return Config{}, errors.New("DATABASE_URL is required in production")
	}
	if cfg.EnableHTTPTriggers && strings.TrimSpace(cfg.JWTSecret) == "" {
		return Config{}, errors.New("JWT_SECRET is required when ENABLE_HTTP_TRIGGERS=true")
	}
	cfg.TopRatedCacheKey = strings.TrimSpace(cfg.TopRatedCacheKey)
	cfg.FilteredCacheKey = strings.TrimSpace(cfg.FilteredCacheKey)
	if cfg.TopRatedCacheKey == "" || cfg.FilteredCacheKey == "" {
		return Config{}, errors.New("cache keys must not be blank")
	}
	return cfg, nil
}

// CachePrefixes lists the key prefixes purged after the catalog changes.
func (c Config) CachePrefixes() []string {
	return []string{c.TopRatedCacheKey + ":", c.FilteredCacheKey + ":"}
}
