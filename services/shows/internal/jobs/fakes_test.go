package jobs

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/example/tvshows-platform/services/shows/internal/runlock"
	"github.com/example/tvshows-platform/services/shows/internal/store"
	"github.com/example/tvshows-platform/services/shows/internal/tvmaze"
)

type fakeUpstream struct {
	mu    sync.Mutex
	pages map[int][]tvmaze.ShowRecord
	errs  map[int]error
	calls []int
	// gate, when set, blocks FetchPage until closed.
	gate chan struct{}

	inflight atomic.Int32
	peak     atomic.Int32
}

func (f *fakeUpstream) FetchPage(ctx context.Context, page int) ([]tvmaze.ShowRecord, error) {
	n := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}

	f.mu.Lock()
	f.calls = append(f.calls, page)
	gate := f.gate
	recs, err := f.pages[page], f.errs[page]
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return append([]tvmaze.ShowRecord{}, recs...), nil
}

func (f *fakeUpstream) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeUpstream) callOrder() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.calls...)
}

func (f *fakeUpstream) setErr(page int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.errs == nil {
		f.errs = make(map[int]error)
	}
	if err == nil {
		delete(f.errs, page)
		return
	}
	f.errs[page] = err
}

// countingCatalog wraps a CatalogStore, counts writes and can fail SaveAll.
type countingCatalog struct {
	store.CatalogStore
	mu         sync.Mutex
	saveAlls   int
	saves      int
	failSaveAt int // 1-based SaveAll call to fail; 0 disables
}

func (c *countingCatalog) SaveAll(ctx context.Context, entries []store.Entry) ([]store.Entry, error) {
	c.mu.Lock()
	c.saveAlls++
	n := c.saveAlls
	c.mu.Unlock()
	if c.failSaveAt > 0 && n == c.failSaveAt {
		return nil, fmt.Errorf("insert show: connection reset")
	}
	return c.CatalogStore.SaveAll(ctx, entries)
}

func (c *countingCatalog) Save(ctx context.Context, e store.Entry) (store.Entry, error) {
	c.mu.Lock()
	c.saves++
	c.mu.Unlock()
	return c.CatalogStore.Save(ctx, e)
}

func (c *countingCatalog) writes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saveAlls + c.saves
}

type memSnapshot struct {
	mu      sync.Mutex
	records []tvmaze.ShowRecord
	present bool
	writes  int
}

func (m *memSnapshot) Exists() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.present, nil
}

func (m *memSnapshot) Load() ([]tvmaze.ShowRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]tvmaze.ShowRecord{}, m.records...), nil
}

func (m *memSnapshot) Write(recs []tvmaze.ShowRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append([]tvmaze.ShowRecord{}, recs...)
	m.present = true
	m.writes++
	return nil
}

type published struct {
	subject string
	payload any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *recordingPublisher) Publish(_ context.Context, subject string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{subject: subject, payload: payload})
	return nil
}

func (p *recordingPublisher) subjects() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.subject
	}
	return out
}

type countingInvalidator struct {
	mu    sync.Mutex
	calls int
}

func (c *countingInvalidator) Invalidate(context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return 0, nil
}

// memLocker is an exclusive Locker shared by several jobs, standing in for
// Redis across replicas.
type memLocker struct {
	mu   sync.Mutex
	held map[string]bool
	keys []string
}

func (l *memLocker) TryLock(_ context.Context, key string, _ time.Duration) (runlock.Release, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys = append(l.keys, key)
	if l.held == nil {
		l.held = make(map[string]bool)
	}
	if l.held[key] {
		return nil, false, nil
	}
	l.held[key] = true
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
		return nil
	}, true, nil
}

func (l *memLocker) requested() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.keys...)
}

type refusingLocker struct{}

func (refusingLocker) TryLock(context.Context, string, time.Duration) (runlock.Release, bool, error) {
	return nil, false, nil
}

func show(id int64, name string, genres ...string) tvmaze.ShowRecord {
	return tvmaze.ShowRecord{ID: id, Name: name, Genres: genres, Status: "Running", Premiered: "2014-01-02"}
}
