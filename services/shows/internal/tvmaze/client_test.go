package tvmaze

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

const pageBody = `[
 {"id":1,"url":"https://www.tvmaze.com/shows/1/under-the-dome","name":"Under the Dome","type":"Scripted",
  "language":"English","genres":["Drama","Science-Fiction","Thriller"],"status":"Ended","runtime":60,
  "averageRuntime":60,"premiered":"2013-06-24","ended":"2015-09-10","officialSite":"http://www.cbs.com/shows/under-the-dome/",
  "schedule":{"time":"22:00","days":["Thursday"]},"rating":{"average":6.5},"weight":98,
  "externals":{"tvrage":25988,"thetvdb":264492,"imdb":"tt1553656"},
  "image":{"medium":"https://static.tvmaze.com/m.jpg","original":"https://static.tvmaze.com/o.jpg"},
  "summary":"<p>Dome</p>","updated":1704794065},
 {"id":2,"name":"Person of Interest","genres":["Action"],"ended":null,"rating":{"average":null},"image":null}
]`

func newTestClient(url string, retries int) *Client {
	return New(url, ClientConfig{Timeout: time.Second, MaxRetries: retries, RetryDelay: time.Millisecond})
}

func TestFetchPage_DecodesRecords(t *testing.T) {
	var gotPage string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/shows" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotPage = r.URL.Query().Get("page")
		_, _ = w.Write([]byte(pageBody))
	}))
	defer srv.Close()

	recs, err := newTestClient(srv.URL, 3).FetchPage(context.Background(), 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotPage != "3" {
		t.Fatalf("expected page=3, got %q", gotPage)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	r := recs[0]
	if r.ID != 1 || r.Name != "Under the Dome" || len(r.Genres) != 3 {
		t.Fatalf("unexpected record %+v", r)
	}
	if r.Rating.Average == nil || *r.Rating.Average != 6.5 {
		t.Fatalf("expected rating 6.5, got %v", r.Rating.Average)
	}
	if r.Externals.TheTVDB == nil || *r.Externals.TheTVDB != 264492 || r.Externals.IMDb != "tt1553656" {
		t.Fatalf("unexpected externals %+v", r.Externals)
	}
	if recs[1].Rating.Average != nil || recs[1].Image != nil || recs[1].Ended != "" {
		t.Fatalf("expected nulls to decode as empty, got %+v", recs[1])
	}
}

func TestFetchPage_RetryThenDegrade(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	recs, err := newTestClient(srv.URL, 3).FetchPage(context.Background(), 0)
	if err != nil {
		t.Fatalf("expected degraded result, got error %v", err)
	}
	if recs == nil || len(recs) != 0 {
		t.Fatalf("expected empty non-nil page, got %v", recs)
	}
	if got := calls.Load(); got != 4 {
		t.Fatalf("expected 1 attempt + 3 retries = 4 calls, got %d", got)
	}
}

func TestFetchPage_RecoversAfterTransient(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusGatewayTimeout)
			return
		}
		_, _ = w.Write([]byte(pageBody))
	}))
	defer srv.Close()

	recs, err := newTestClient(srv.URL, 3).FetchPage(context.Background(), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recs) != 2 || calls.Load() != 2 {
		t.Fatalf("expected 2 records after 2 calls, got %d records / %d calls", len(recs), calls.Load())
	}
}

func TestFetchPage_NonTransientPropagates(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, 3).FetchPage(context.Background(), 0)
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusInternalServerError {
		t.Fatalf("expected StatusError 500, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected no retries, got %d calls", calls.Load())
	}
}

func TestFetchPage_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := newTestClient(srv.URL, 3).FetchPage(context.Background(), 400)
	if !errors.Is(err, ErrPageNotFound) {
		t.Fatalf("expected ErrPageNotFound, got %v", err)
	}
}

func TestFetchPage_MalformedPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"not":"an array"`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, 3).FetchPage(context.Background(), 0)
	if !errors.Is(err, ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}
}

func TestFetchPage_AttemptTimeoutIsRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := New(srv.URL, ClientConfig{Timeout: 30 * time.Millisecond, MaxRetries: 1, RetryDelay: time.Millisecond})
	recs, err := c.FetchPage(context.Background(), 0)
	if err != nil {
		t.Fatalf("expected timeouts to degrade, got %v", err)
	}
	if len(recs) != 0 || calls.Load() != 2 {
		t.Fatalf("expected empty page after 2 calls, got %d records / %d calls", len(recs), calls.Load())
	}
}

func TestFetchPage_CallerCancellationPropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(srv.URL, ClientConfig{Timeout: time.Second, MaxRetries: 3, RetryDelay: time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.FetchPage(ctx, 0)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context deadline, got %v", err)
	}
}

func TestFetchPage_OpenBreakerShortCircuits(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cb := NewBreaker("tvmaze-test", 2, time.Minute, nil)
	c := New(srv.URL, ClientConfig{Timeout: time.Second, MaxRetries: 3, RetryDelay: time.Millisecond}, WithCircuitBreaker(cb))
	recs, err := c.FetchPage(context.Background(), 0)
	if err != nil || len(recs) != 0 {
		t.Fatalf("expected degraded empty page, got %v / %v", recs, err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected breaker to stop upstream calls after 2 failures, got %d", calls.Load())
	}
}

func TestFetchPage_NonTransientDoesNotTripBreaker(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	cb := NewBreaker("tvmaze-test-404", 1, time.Minute, nil)
	c := New(srv.URL, ClientConfig{Timeout: time.Second}, WithCircuitBreaker(cb))
	for i := 0; i < 3; i++ {
		if _, err := c.FetchPage(context.Background(), 0); !errors.Is(err, ErrPageNotFound) {
			t.Fatalf("call %d: expected ErrPageNotFound, got %v", i, err)
		}
	}
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{&StatusError{Code: 503}, true},
		{&StatusError{Code: 504}, true},
		{&StatusError{Code: 429}, true},
		{&StatusError{Code: 500}, false},
		{ErrPageNotFound, false},
		{ErrDecode, false},
		{ErrTimeout, true},
		{nil, false},
	}
	for _, tc := range cases {
		if got := IsTransient(tc.err); got != tc.want {
			t.Fatalf("IsTransient(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}
