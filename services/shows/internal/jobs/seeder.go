package jobs

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/example/tvshows-platform/services/shows/internal/cache"
	"github.com/example/tvshows-platform/services/shows/internal/events"
	"github.com/example/tvshows-platform/services/shows/internal/metrics"
	"github.com/example/tvshows-platform/services/shows/internal/runlock"
	"github.com/example/tvshows-platform/services/shows/internal/snapshot"
	"github.com/example/tvshows-platform/services/shows/internal/store"
	"github.com/example/tvshows-platform/services/shows/internal/taxonomy"
	"github.com/example/tvshows-platform/services/shows/internal/tvmaze"
)

// SnapshotFile is the write-once artifact of the first full fetch.
type SnapshotFile interface {
	Exists() (bool, error)
	Load() ([]tvmaze.ShowRecord, error)
	Write(records []tvmaze.ShowRecord) error
}

const (
	SourceNone     = "none"
	SourceSnapshot = "snapshot"
	SourceUpstream = "upstream"
)

// SeedResult summarises one Seeder.Run.
type SeedResult struct {
	// Skipped is true when the catalog already had entries or another
	// replica held the seed lock.
	Skipped  bool
	Source   string
	Fetched  int
	Saved    int
	Rejected int // failed mapping
	Failed   int // failed persistence
}

// Seeder performs the one-time initial catalog load.
type Seeder struct {
	Log         *zap.Logger
	Upstream    tvmaze.Provider
	Catalog     store.CatalogStore
	Genres      store.GenreStore
	Snapshot    SnapshotFile
	Pages       int
	BatchSize   int
	Concurrency int
	Lock        runlock.Locker
	LockTTL     time.Duration
	Events      events.Publisher
	Cache       cache.Invalidator
	// Done, when set, is opened once Run returns, whatever the outcome.
	Done *Gate
}

func (s *Seeder) defaults() {
	if s.Log == nil {
		s.Log = zap.NewNop()
	}
	if s.Pages <= 0 {
		s.Pages = 8
	}
	if s.BatchSize <= 0 {
		s.BatchSize = 50
	}
	if s.Concurrency <= 0 {
		s.Concurrency = 4
	}
	if s.Lock == nil {
		s.Lock = runlock.Local{}
	}
	if s.LockTTL <= 0 {
		s.LockTTL = time.Hour
	}
	if s.Events == nil {
		s.Events = events.Nop{}
	}
	if s.Cache == nil {
		s.Cache = cache.Nop{}
	}
}

// Run seeds an empty catalog. It is a no-op when the catalog already has
// entries. Per-record problems are logged and counted; an error is returned
// only when the run could not proceed at all.
func (s *Seeder) Run(ctx context.Context) (SeedResult, error) {
	defer s.Done.Open()
	s.defaults()
	res := SeedResult{Source: SourceNone}

	release, ok, err := s.Lock.TryLock(ctx, runlock.KeyIngest, s.LockTTL)
	if err != nil {
		return res, err
	}
	if !ok {
		s.Log.Info("seed: another instance holds the ingest lock, skipping")
		res.Skipped = true
		return res, nil
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.Log.Warn("seed: release lock", zap.Error(err))
		}
	}()

	n, err := s.Catalog.CountAll(ctx)
	if err != nil {
		return res, err
	}
	if n > 0 {
		s.Log.Info("seed: catalog not empty, skipping", zap.Int64("count", n))
		res.Skipped = true
		return res, nil
	}

	records, source, err := s.records(ctx)
	if err != nil {
		return res, err
	}
	res.Source = source
	res.Fetched = len(records)
	if len(records) == 0 {
		s.Log.Warn("seed: nothing to seed", zap.String("source", source))
		return res, nil
	}

	if err := s.persist(ctx, records, &res); err != nil {
		return res, err
	}

	metrics.SeedRecords.WithLabelValues("saved").Add(float64(res.Saved))
	metrics.SeedRecords.WithLabelValues("rejected").Add(float64(res.Rejected))
	metrics.SeedRecords.WithLabelValues("failed").Add(float64(res.Failed))
	s.Log.Info("seed: done",
		zap.String("source", res.Source),
		zap.Int("fetched", res.Fetched),
		zap.Int("saved", res.Saved),
		zap.Int("rejected", res.Rejected),
		zap.Int("failed", res.Failed))

	s.afterWrite(ctx, res)
	return res, nil
}

// records loads the snapshot when present, otherwise fetches every page and
// writes the snapshot for later restarts.
func (s *Seeder) records(ctx context.Context) ([]tvmaze.ShowRecord, string, error) {
	writeSnapshot := s.Snapshot != nil
	if s.Snapshot != nil {
		exists, err := s.Snapshot.Exists()
		switch {
		case err != nil:
			s.Log.Warn("seed: snapshot stat failed, fetching upstream", zap.Error(err))
			writeSnapshot = false
		case exists:
			recs, err := s.Snapshot.Load()
			if err == nil {
				s.Log.Info("seed: loaded snapshot", zap.Int("records", len(recs)))
				return recs, SourceSnapshot, nil
			}
			// Keep the broken file for inspection; do not overwrite it.
			s.Log.Error("seed: snapshot unreadable, fetching upstream", zap.Error(err))
			writeSnapshot = false
		}
	}

	recs, err := s.fetchAll(ctx)
	if err != nil {
		return nil, SourceUpstream, err
	}
	if writeSnapshot && len(recs) > 0 {
		switch err := s.Snapshot.Write(recs); {
		case errors.Is(err, snapshot.ErrExists):
			s.Log.Info("seed: snapshot already written")
		case err != nil:
			s.Log.Error("seed: write snapshot", zap.Error(err))
		default:
			s.Log.Info("seed: snapshot written", zap.Int("records", len(recs)))
		}
	}
	return recs, SourceUpstream, nil
}

// fetchAll fetches pages [0, Pages) with bounded concurrency. A failed page
// counts as empty.
func (s *Seeder) fetchAll(ctx context.Context) ([]tvmaze.ShowRecord, error) {
	pages := make([][]tvmaze.ShowRecord, s.Pages)
	var g errgroup.Group
	g.SetLimit(s.Concurrency)
	for p := 0; p < s.Pages; p++ {
		p := p
		g.Go(func() error {
			recs, err := s.Upstream.FetchPage(ctx, p)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				s.Log.Error("seed: fetch page failed", zap.Int("page", p), zap.Error(err))
				return nil
			}
			pages[p] = recs
			s.Log.Info("seed: fetched page", zap.Int("page", p), zap.Int("records", len(recs)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var total int
	for _, recs := range pages {
		total += len(recs)
	}
	merged := make([]tvmaze.ShowRecord, 0, total)
	for _, recs := range pages {
		merged = append(merged, recs...)
	}
	return merged, nil
}

func (s *Seeder) persist(ctx context.Context, records []tvmaze.ShowRecord, res *SeedResult) error {
	var names []string
	for _, r := range records {
		names = append(names, tvmaze.GenreNames(r)...)
	}
	genres := taxonomy.New(s.Genres, s.Log)
	resolved, err := genres.Resolve(ctx, names)
	if err != nil {
		return err
	}
	s.Log.Info("seed: genres resolved", zap.Int("genres", genres.Len()))

	entries := make([]store.Entry, 0, len(records))
	for _, r := range records {
		e, err := tvmaze.ToEntry(r)
		if err != nil {
			res.Rejected++
			s.Log.Warn("seed: skipping record", zap.Int64("external_id", r.ID), zap.Error(err))
			continue
		}
		e.Genres = taxonomy.Lookup(resolved, tvmaze.GenreNames(r))
		entries = append(entries, e)
	}

	for start := 0; start < len(entries); start += s.BatchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch := entries[start:min(start+s.BatchSize, len(entries))]
		saved, err := s.Catalog.SaveAll(ctx, batch)
		switch {
		case err == nil:
			res.Saved += len(saved)
		case errors.Is(err, store.ErrConflict):
			s.Log.Warn("seed: batch conflict, saving rows individually", zap.Int("offset", start), zap.Error(err))
			s.saveEach(ctx, batch, res)
		default:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			res.Failed += len(batch)
			s.Log.Error("seed: batch failed", zap.Int("offset", start), zap.Int("size", len(batch)), zap.Error(err))
		}
	}
	return nil
}

func (s *Seeder) saveEach(ctx context.Context, batch []store.Entry, res *SeedResult) {
	for _, e := range batch {
		if _, err := s.Catalog.Save(ctx, e); err != nil {
			res.Failed++
			s.Log.Warn("seed: row failed", zap.Int64("external_id", e.ExternalID), zap.Error(err))
			continue
		}
		res.Saved++
	}
}

func (s *Seeder) afterWrite(ctx context.Context, res SeedResult) {
	if res.Saved == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	if _, err := s.Cache.Invalidate(ctx); err != nil {
		s.Log.Warn("seed: cache invalidation failed", zap.Error(err))
	}
	err := s.Events.Publish(ctx, events.SubjectSeeded, events.Seeded{
		Source:   res.Source,
		Fetched:  res.Fetched,
		Saved:    res.Saved,
		Rejected: res.Rejected,
		Failed:   res.Failed,
	})
	if err != nil {
		s.Log.Warn("seed: publish event failed", zap.Error(err))
	}
}
