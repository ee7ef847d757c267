package jobs

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/example/tvshows-platform/internal/platform/httpserver"
	"github.com/example/tvshows-platform/services/shows/internal/store"
	"github.com/example/tvshows-platform/services/shows/internal/tvmaze"
)

func newTriggerRouter(job *Reconciler) http.Handler {
	r := chi.NewRouter()
	r.Use(httpserver.RequestIDMiddleware("X-Request-Id"))
	SyncTrigger{Job: job, BaseCtx: context.Background()}.Register(r)
	return r
}

func TestSyncTrigger_StartsAndRejectsOverlap(t *testing.T) {
	cat, genres := store.NewMemory()
	up := &fakeUpstream{
		pages: map[int][]tvmaze.ShowRecord{0: {show(1, "a")}},
		gate:  make(chan struct{}),
	}
	job := &Reconciler{Upstream: up, Catalog: cat, Genres: genres}
	h := newTriggerRouter(job)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/admin/sync/shows", nil))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/admin/sync/shows", nil))
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 while running, got %d", rr.Code)
	}
	var body struct {
		Error struct {
			Code      string `json:"code"`
			RequestID string `json:"request_id"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Code != "SYNC_RUNNING" || body.Error.RequestID == "" {
		t.Fatalf("unexpected error body: %s", rr.Body.String())
	}

	close(up.gate)
	waitIdle(t, job)
}

func TestSyncTrigger_Status(t *testing.T) {
	cat, genres := store.NewMemory()
	job := &Reconciler{Upstream: &fakeUpstream{}, Catalog: cat, Genres: genres}
	h := newTriggerRouter(job)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/admin/sync/shows", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var st syncStatus
	if err := json.Unmarshal(rr.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.State != "idle" || st.LastRun != nil {
		t.Fatalf("expected idle with no last run, got %+v", st)
	}

	if _, err := job.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/admin/sync/shows", nil))
	if err := json.Unmarshal(rr.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.LastRun == nil || st.LastRun.Result != ResultCompleted {
		t.Fatalf("expected completed last run, got %+v", st)
	}
}

func TestSyncTrigger_UnavailableDuringSeed(t *testing.T) {
	cat, genres := store.NewMemory()
	up := threePages()
	ready := &Gate{}
	job := &Reconciler{Upstream: up, Catalog: cat, Genres: genres, Ready: ready}
	h := newTriggerRouter(job)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/admin/sync/shows", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before the seed, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Fatal("expected a Retry-After header")
	}
	if up.callCount() != 0 {
		t.Fatalf("expected no upstream calls, got %d", up.callCount())
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/admin/sync/shows", nil))
	var st syncStatus
	if err := json.Unmarshal(rr.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.SeedDone {
		t.Fatal("expected seed_done=false")
	}

	ready.Open()
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/admin/sync/shows", nil))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202 after the seed, got %d", rr.Code)
	}
	waitIdle(t, job)
}
