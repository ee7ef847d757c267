package tvmaze

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/example/tvshows-platform/services/shows/internal/metrics"
	"github.com/example/tvshows-platform/services/shows/internal/ratelimit"
)

const maxBodyBytes = 16 << 20

// ClientConfig holds the request policy for the upstream client.
type ClientConfig struct {
	UserAgent string
	// Timeout bounds each attempt, not the whole FetchPage call.
	Timeout time.Duration
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	RetryDelay time.Duration
}

type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Config     ClientConfig
	CB         *gobreaker.CircuitBreaker[[]ShowRecord]
	Limiter    *ratelimit.Limiter
	Log        *zap.Logger
}

// Option configures the Client.
type Option func(*Client)

func WithCircuitBreaker(cb *gobreaker.CircuitBreaker[[]ShowRecord]) Option {
	return func(c *Client) { c.CB = cb }
}

func WithLogger(log *zap.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.Log = log
		}
	}
}

func WithLimiter(l *ratelimit.Limiter) Option {
	return func(c *Client) { c.Limiter = l }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.HTTPClient = hc }
}

func New(baseURL string, cfg ClientConfig, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = "https://api.tvmaze.com"
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "tvshows-platform-ingestion/1.0"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	}
	c := &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{},
		Config:     cfg,
		Log:        zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// NewBreaker builds the circuit breaker used around upstream attempts. Only
// transient failures count against it.
func NewBreaker(name string, failureThreshold uint32, openTimeout time.Duration, log *zap.Logger) *gobreaker.CircuitBreaker[[]ShowRecord] {
	if log == nil {
		log = zap.NewNop()
	}
	if failureThreshold == 0 {
		failureThreshold = 5
	}
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)
	return gobreaker.NewCircuitBreaker[[]ShowRecord](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failureThreshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !IsTransient(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Info("circuit-breaker state change", zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
			metrics.CircuitBreakerState.WithLabelValues(name).Set(breakerGauge(to))
		},
	})
}

func breakerGauge(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// FetchPage returns the records on page (0-based). Transient failures are
// retried with exponential backoff; once retries are exhausted the page
// degrades to an empty, non-nil slice and a nil error. Any other failure is
// returned immediately, as is cancellation of ctx.
func (c *Client) FetchPage(ctx context.Context, page int) ([]ShowRecord, error) {
	if page < 0 {
		return nil, fmt.Errorf("page must be >= 0, got %d", page)
	}
	u := fmt.Sprintf("%s/shows?page=%d", c.BaseURL, page)

	var lastErr error
	for attempt := 0; attempt <= c.Config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.Config.RetryDelay * time.Duration(math.Pow(2, float64(attempt-1)))
			metrics.UpstreamRetries.Inc()
			c.Log.Debug("retrying request", zap.Int("page", page), zap.Int("attempt", attempt), zap.Duration("delay", delay))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
		if err := c.Limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("fetch page %d: rate limit: %w", page, err)
		}

		records, err := c.attempt(ctx, u)
		if err == nil {
			metrics.UpstreamRequests.WithLabelValues("ok").Inc()
			return records, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !IsTransient(err) {
			metrics.UpstreamRequests.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("fetch page %d: %w", page, err)
		}
		metrics.UpstreamRequests.WithLabelValues("transient").Inc()
		lastErr = err
		c.Log.Warn("request failed", zap.Int("page", page), zap.Int("attempt", attempt), zap.Error(err))
	}

	metrics.UpstreamRequests.WithLabelValues("degraded").Inc()
	c.Log.Error("retries exhausted, returning empty page",
		zap.Int("page", page), zap.Int("max_retries", c.Config.MaxRetries), zap.Error(lastErr))
	return []ShowRecord{}, nil
}

func (c *Client) attempt(ctx context.Context, u string) ([]ShowRecord, error) {
	if c.CB == nil {
		return c.doOnce(ctx, u)
	}
	return c.CB.Execute(func() ([]ShowRecord, error) {
		return c.doOnce(ctx, u)
	})
}

func (c *Client) doOnce(ctx context.Context, u string) ([]ShowRecord, error) {
	actx, cancel := context.WithTimeout(ctx, c.Config.Timeout)
	defer cancel()
	start := time.Now()
	defer func() { metrics.UpstreamRequestDuration.Observe(time.Since(start).Seconds()) }()

	out, err := c.doJSON(actx, u)
	if err != nil && ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w after %s: %v", ErrTimeout, c.Config.Timeout, err)
	}
	return out, err
}

func (c *Client) doJSON(ctx context.Context, u string) ([]ShowRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.Config.UserAgent)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrPageNotFound
	case resp.StatusCode != http.StatusOK:
		return nil, &StatusError{Code: resp.StatusCode, Body: string(b[:min(len(b), 200)])}
	}
	out := []ShowRecord{}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("%w: %v body=%q", ErrDecode, err, string(b[:min(len(b), 200)]))
	}
	return out, nil
}
