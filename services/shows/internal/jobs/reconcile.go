package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/tvshows-platform/internal/platform/httpserver"
	"github.com/example/tvshows-platform/services/shows/internal/cache"
	"github.com/example/tvshows-platform/services/shows/internal/events"
	"github.com/example/tvshows-platform/services/shows/internal/metrics"
	"github.com/example/tvshows-platform/services/shows/internal/runlock"
	"github.com/example/tvshows-platform/services/shows/internal/store"
	"github.com/example/tvshows-platform/services/shows/internal/taxonomy"
	"github.com/example/tvshows-platform/services/shows/internal/tvmaze"
)

var (
	// ErrAlreadyRunning is returned when a reconciliation or seed is already
	// in progress in this process or, with a shared lock, in another replica.
	ErrAlreadyRunning = errors.New("reconciliation already running")
	// ErrSeedPending is returned until the initial seed has finished.
	ErrSeedPending = errors.New("initial seed has not finished")
)

type State int32

const (
	StateIdle State = iota
	StateRunning
)

func (s State) String() string {
	if s == StateRunning {
		return "running"
	}
	return "idle"
}

const (
	ResultCompleted = "completed"
	ResultAborted   = "aborted"
)

// RunResult summarises one reconciliation run.
type RunResult struct {
	RunID      string    `json:"run_id"`
	Result     string    `json:"result"`
	Pages      int       `json:"pages"`
	Created    int       `json:"created"`
	Updated    int       `json:"updated"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Error      string    `json:"error,omitempty"`
}

// Reconciler walks upstream pages from 0 until an empty page and upserts
// each page into the catalog. Any page failure aborts the run; the next run
// starts over from page 0.
type Reconciler struct {
	Log       *zap.Logger
	Upstream  tvmaze.Provider
	Catalog   store.CatalogStore
	Genres    store.GenreStore
	PagePause time.Duration
	Lock      runlock.Locker
	LockTTL   time.Duration
	Events    events.Publisher
	Cache     cache.Invalidator
	// Ready gates runs on the initial seed. A nil Ready is always open.
	Ready *Gate

	state atomic.Int32

	mu   sync.Mutex
	last *RunResult
}

func (r *Reconciler) State() State { return State(r.state.Load()) }

// LastRun returns the most recent finished run.
func (r *Reconciler) LastRun() (RunResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return RunResult{}, false
	}
	return *r.last, true
}

// Run performs one reconciliation synchronously.
func (r *Reconciler) Run(ctx context.Context) (RunResult, error) {
	if !r.Ready.IsOpen() {
		metrics.SyncRuns.WithLabelValues("skipped").Inc()
		return RunResult{}, ErrSeedPending
	}
	if !r.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		metrics.SyncRuns.WithLabelValues("skipped").Inc()
		return RunResult{}, ErrAlreadyRunning
	}
	defer r.state.Store(int32(StateIdle))
	return r.run(ctx)
}

// Trigger starts a run in the background. It returns ErrSeedPending before
// the initial seed has finished and ErrAlreadyRunning while a run is in
// progress. ctx bounds the run, so it must outlive the caller's request.
func (r *Reconciler) Trigger(ctx context.Context) error {
	if !r.Ready.IsOpen() {
		return ErrSeedPending
	}
	if !r.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return ErrAlreadyRunning
	}
	go func() {
		defer r.state.Store(int32(StateIdle))
		_, _ = r.run(ctx)
	}()
	return nil
}

func (r *Reconciler) defaults() {
	if r.Log == nil {
		r.Log = zap.NewNop()
	}
	if r.Lock == nil {
		r.Lock = runlock.Local{}
	}
	if r.LockTTL <= 0 {
		r.LockTTL = 2 * time.Hour
	}
	if r.Events == nil {
		r.Events = events.Nop{}
	}
	if r.Cache == nil {
		r.Cache = cache.Nop{}
	}
}

func (r *Reconciler) run(ctx context.Context) (RunResult, error) {
	r.defaults()
	res := RunResult{RunID: uuid.NewString(), StartedAt: time.Now().UTC()}
	log := r.Log.With(zap.String("run_id", res.RunID))
	if rid := httpserver.RequestIDFromContext(ctx); rid != "" {
		log = log.With(zap.String("request_id", rid))
	}

	release, ok, err := r.Lock.TryLock(ctx, runlock.KeyIngest, r.LockTTL)
	if err != nil {
		log.Error("reconcile: lock", zap.Error(err))
		return res, err
	}
	if !ok {
		log.Info("reconcile: ingest lock held elsewhere, skipping")
		metrics.SyncRuns.WithLabelValues("skipped").Inc()
		return res, ErrAlreadyRunning
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			log.Warn("reconcile: release lock", zap.Error(err))
		}
	}()

	log.Info("reconcile: started")
	runErr := r.walk(ctx, log, &res)

	res.FinishedAt = time.Now().UTC()
	res.Result = ResultCompleted
	if runErr != nil {
		res.Result = ResultAborted
		res.Error = runErr.Error()
		log.Error("reconcile: aborted", zap.Int("pages", res.Pages), zap.Error(runErr))
	} else {
		metrics.SyncLastSuccess.SetToCurrentTime()
		log.Info("reconcile: completed",
			zap.Int("pages", res.Pages), zap.Int("created", res.Created), zap.Int("updated", res.Updated),
			zap.Duration("took", res.FinishedAt.Sub(res.StartedAt)))
	}
	metrics.SyncRuns.WithLabelValues(res.Result).Inc()
	metrics.SyncDuration.Observe(res.FinishedAt.Sub(res.StartedAt).Seconds())

	r.mu.Lock()
	last := res
	r.last = &last
	r.mu.Unlock()

	r.afterRun(ctx, log, res)
	return res, runErr
}

func (r *Reconciler) walk(ctx context.Context, log *zap.Logger, res *RunResult) error {
	genres := taxonomy.New(r.Genres, log)
	for page := 0; ; page++ {
		recs, err := r.Upstream.FetchPage(ctx, page)
		if errors.Is(err, tvmaze.ErrPageNotFound) {
			log.Info("reconcile: upstream exhausted (not found)", zap.Int("page", page))
			return nil
		}
		if err != nil {
			return fmt.Errorf("page %d: %w", page, err)
		}
		if len(recs) == 0 {
			log.Info("reconcile: upstream exhausted", zap.Int("page", page))
			return nil
		}

		ids, created, updated, err := r.syncPage(ctx, genres, recs)
		if err != nil {
			return fmt.Errorf("page %d: %w", page, err)
		}
		res.Pages++
		res.Created += created
		res.Updated += updated
		metrics.SyncPages.Inc()
		metrics.SyncRecords.WithLabelValues("created").Add(float64(created))
		metrics.SyncRecords.WithLabelValues("updated").Add(float64(updated))
		log.Info("reconcile: page committed",
			zap.Int("page", page), zap.Int("created", created), zap.Int("updated", updated))

		if err := r.Events.Publish(ctx, events.SubjectUpserted, events.Upserted{Page: page, ExternalIDs: ids}); err != nil {
			log.Warn("reconcile: publish upserted", zap.Int("page", page), zap.Error(err))
		}

		if r.PagePause > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.PagePause):
			}
		}
	}
}

// syncPage upserts one page in a single batch. Duplicate external ids within
// the page collapse to their last occurrence.
func (r *Reconciler) syncPage(ctx context.Context, genres *taxonomy.Cache, recs []tvmaze.ShowRecord) (ids []int64, created, updated int, err error) {
	pos := make(map[int64]int, len(recs))
	unique := make([]tvmaze.ShowRecord, 0, len(recs))
	for _, rec := range recs {
		if i, dup := pos[rec.ID]; dup {
			unique[i] = rec
			continue
		}
		pos[rec.ID] = len(unique)
		unique = append(unique, rec)
		ids = append(ids, rec.ID)
	}

	existing, err := r.Catalog.FindAllByExternalIDIn(ctx, ids)
	if err != nil {
		return nil, 0, 0, err
	}
	byExt := make(map[int64]store.Entry, len(existing))
	for _, e := range existing {
		byExt[e.ExternalID] = e
	}

	var names []string
	for _, rec := range unique {
		names = append(names, tvmaze.GenreNames(rec)...)
	}
	resolved, err := genres.Resolve(ctx, names)
	if err != nil {
		return nil, 0, 0, err
	}

	entries := make([]store.Entry, 0, len(unique))
	for _, rec := range unique {
		e, found := byExt[rec.ID]
		if found {
			if err := tvmaze.ApplyToEntry(rec, &e); err != nil {
				return nil, 0, 0, err
			}
			updated++
		} else {
			if e, err = tvmaze.ToEntry(rec); err != nil {
				return nil, 0, 0, err
			}
			created++
		}
		e.Genres = taxonomy.Lookup(resolved, tvmaze.GenreNames(rec))
		entries = append(entries, e)
	}

	if _, err := r.Catalog.SaveAll(ctx, entries); err != nil {
		return nil, 0, 0, err
	}
	return ids, created, updated, nil
}

func (r *Reconciler) afterRun(ctx context.Context, log *zap.Logger, res RunResult) {
	ctx = context.WithoutCancel(ctx)
	if res.Created+res.Updated > 0 {
		if _, err := r.Cache.Invalidate(ctx); err != nil {
			log.Warn("reconcile: cache invalidation failed", zap.Error(err))
		}
	}
	err := r.Events.Publish(ctx, events.SubjectSynced, events.Synced{
		RunID:      res.RunID,
		Result:     res.Result,
		Pages:      res.Pages,
		Created:    res.Created,
		Updated:    res.Updated,
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
		Error:      res.Error,
	})
	if err != nil {
		log.Warn("reconcile: publish synced", zap.Error(err))
	}
}
