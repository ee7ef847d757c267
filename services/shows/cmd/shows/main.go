package main

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/example/tvshows-platform/internal/platform/auth"
	"github.com/example/tvshows-platform/internal/platform/config"
	"github.com/example/tvshows-platform/internal/platform/db"
	"github.com/example/tvshows-platform/internal/platform/grpchealth"
	"github.com/example/tvshows-platform/internal/platform/httpserver"
	"github.com/example/tvshows-platform/internal/platform/logging"
	"github.com/example/tvshows-platform/internal/platform/natsconn"
	"github.com/example/tvshows-platform/internal/platform/run"
	"github.com/example/tvshows-platform/services/shows/internal/cache"
	showscfg "github.com/example/tvshows-platform/services/shows/internal/config"
	"github.com/example/tvshows-platform/services/shows/internal/events"
	"github.com/example/tvshows-platform/services/shows/internal/handlers"
	"github.com/example/tvshows-platform/services/shows/internal/jobs"
	"github.com/example/tvshows-platform/services/shows/internal/ratelimit"
	"github.com/example/tvshows-platform/services/shows/internal/runlock"
	"github.com/example/tvshows-platform/services/shows/internal/schedule"
	"github.com/example/tvshows-platform/services/shows/internal/snapshot"
	"github.com/example/tvshows-platform/services/shows/internal/store"
	"github.com/example/tvshows-platform/services/shows/internal/tvmaze"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log, err := logging.New(cfg.LogLevel, cfg.ServiceName)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	sc, err := showscfg.Load()
	if err != nil {
		log.Error("load shows config", zap.Error(err))
		run.Exit(1)
	}

	// Background work is bound to baseCtx, cancelled on shutdown.
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()

	var (
		catalog store.CatalogStore
		genres  store.GenreStore
		pool    *pgxpool.Pool
	)
	if strings.TrimSpace(sc.DatabaseURL) != "" {
		openCtx, cancel := context.WithTimeout(baseCtx, 15*time.Second)
		pool, err = db.Open(openCtx, sc.DatabaseURL)
		cancel()
		if err != nil {
			log.Error("db open", zap.Error(err))
			run.Exit(1)
		}
		defer pool.Close()
		if err := store.EnsureSchema(baseCtx, pool); err != nil {
			log.Error("ensure schema", zap.Error(err))
			run.Exit(1)
		}
		catalog, genres = store.NewPostgresCatalogStore(pool), store.NewPostgresGenreStore(pool)
	} else {
		log.Warn("DATABASE_URL not set, using in-memory catalog")
		catalog, genres = store.NewMemory()
	}

	breaker := tvmaze.NewBreaker("tvmaze", sc.CBFailureThreshold, sc.CBTimeout, log)
	upstream := tvmaze.New(sc.TVMazeBaseURL, tvmaze.ClientConfig{
		UserAgent:  cfg.ServiceName,
		Timeout:    sc.RequestTimeout,
		MaxRetries: sc.MaxRetries,
		RetryDelay: sc.RetryDelay,
	},
		tvmaze.WithCircuitBreaker(breaker),
		tvmaze.WithLimiter(ratelimit.NewRPS(sc.UpstreamRPS, sc.UpstreamBurst)),
		tvmaze.WithLogger(log),
	)

	var (
		locker      runlock.Locker = runlock.Local{}
		invalidator cache.Invalidator
		pages       cache.Pages
		publisher   events.Publisher = events.Nop{}
		rdb         *redis.Client
		nc          *nats.Conn
	)
	if strings.TrimSpace(sc.RedisURL) != "" {
		opt, err := redis.ParseURL(sc.RedisURL)
		if err != nil {
			log.Error("redis url", zap.Error(err))
			run.Exit(1)
		}
		rdb = redis.NewClient(opt)
		defer func() { _ = rdb.Close() }()
		locker = runlock.NewRedisLocker(rdb)
		invalidator = cache.NewRedisInvalidator(rdb, sc.CachePrefixes(), log)
		pages = &cache.RedisPages{Client: rdb, Log: log}
	} else {
		mem := cache.NewMemory(sc.CachePrefixes())
		invalidator, pages = mem, mem
	}
	if strings.TrimSpace(sc.NATSURL) != "" {
		nc, err = natsconn.Connect(natsconn.Options{URL: sc.NATSURL, Name: cfg.ServiceName, Logger: log})
		if err != nil {
			log.Error("nats connect", zap.Error(err))
			run.Exit(1)
		}
		defer nc.Close()
		jsp, err := events.NewJetStreamPublisher(log, nc)
		if err != nil {
			log.Error("jetstream", zap.Error(err))
			run.Exit(1)
		}
		if err := jsp.EnsureStream(baseCtx); err != nil {
			log.Error("ensure stream", zap.Error(err))
			run.Exit(1)
		}
		publisher = jsp
	}

	// Reconciliation stays closed until the initial seed returns.
	seedDone := &jobs.Gate{}
	if !sc.SeedEnabled {
		seedDone.Open()
	}

	seeder := &jobs.Seeder{
		Log:         log,
		Upstream:    upstream,
		Catalog:     catalog,
		Genres:      genres,
		Pages:       sc.SeedPages,
		BatchSize:   sc.BatchSize,
		Concurrency: sc.SeedConcurrency,
		Lock:        locker,
		LockTTL:     sc.LockTTL,
		Events:      publisher,
		Cache:       invalidator,
		Done:        seedDone,
	}
	if strings.TrimSpace(sc.SnapshotPath) != "" {
		seeder.Snapshot = snapshot.File{Path: sc.SnapshotPath}
	}
	reconciler := &jobs.Reconciler{
		Log:       log,
		Upstream:  upstream,
		Catalog:   catalog,
		Genres:    genres,
		PagePause: sc.SyncPagePause,
		Lock:      locker,
		LockTTL:   sc.LockTTL,
		Events:    publisher,
		Cache:     invalidator,
		Ready:     seedDone,
	}

	cron := schedule.New(log, baseCtx)
	entry, err := cron.Add("reconcile", sc.SyncSchedule, func(ctx context.Context) {
		switch _, err := reconciler.Run(ctx); {
		case errors.Is(err, jobs.ErrAlreadyRunning):
			log.Info("cron: reconciliation already running, skipping")
		case errors.Is(err, jobs.ErrSeedPending):
			log.Info("cron: initial seed still running, skipping")
		}
	})
	if err != nil {
		log.Error("schedule reconcile", zap.String("spec", sc.SyncSchedule), zap.Error(err))
		run.Exit(1)
	}

	r := chi.NewRouter()
	httpserver.SetupRouter(r, httpserver.RouterConfig{
		CORSOrigins: sc.CORSAllowedOrigin,
		ReadyFunc: func() error {
			if pool == nil {
				return nil
			}
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return pool.Ping(ctx)
		},
	})
	r.Handle("/metrics", promhttp.Handler())

	handlers.Shows{
		Log:         log,
		Catalog:     catalog,
		Cache:       pages,
		TopRatedKey: sc.TopRatedCacheKey,
		TopRatedTTL: sc.TopRatedCacheTTL,
		FilteredKey: sc.FilteredCacheKey,
		FilteredTTL: sc.FilteredCacheTTL,
	}.Register(r)

	if sc.EnableHTTPTriggers {
		verifier := auth.JWTVerifier{Secret: []byte(sc.JWTSecret), Issuer: sc.JWTIssuer}
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireUser(verifier))
			r.Use(auth.RequireAdmin)
			jobs.SyncTrigger{Log: log, Job: reconciler, BaseCtx: baseCtx}.Register(r)
		})
	}

	srv := httpserver.New(httpserver.Options{Addr: cfg.HTTP.Addr, ServiceName: cfg.ServiceName, Logger: log, Router: r})

	var health *grpchealth.Server
	if cfg.GRPC.Addr != "" {
		health = grpchealth.New(cfg.GRPC.Addr, log)
		go func() {
			if err := health.Start(); err != nil {
				log.Error("grpc health server stopped", zap.Error(err))
			}
		}()
	}

	// Seed first, then arm the schedule so a weekly run never races the
	// initial load.
	go func() {
		if sc.SeedEnabled {
			res, err := seeder.Run(baseCtx)
			if err != nil {
				log.Error("seed failed", zap.Error(err))
			} else if !res.Skipped {
				log.Info("seed finished", zap.String("source", res.Source), zap.Int("saved", res.Saved))
			}
		}
		if baseCtx.Err() != nil {
			return
		}
		cron.Start()
		log.Info("reconcile scheduled", zap.String("spec", sc.SyncSchedule), zap.Time("next", cron.Next(entry)))
		if health != nil {
			health.SetServing(true)
		}
	}()

	shutdown := []func(context.Context) error{
		func(context.Context) error {
			if health != nil {
				health.SetServing(false)
			}
			return nil
		},
		srv.Shutdown,
		func(ctx context.Context) error {
			cancelBase()
			return cron.Stop(ctx)
		},
	}
	if health != nil {
		shutdown = append(shutdown, health.Shutdown)
	}
	if nc != nil {
		shutdown = append(shutdown, func(context.Context) error { return nc.Drain() })
	}

	code := run.New(log).WithSignals(func(context.Context) error {
		err := srv.Start()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}, shutdown...)

	log.Info("exit", zap.Int("code", code))
	run.Exit(code)
}
