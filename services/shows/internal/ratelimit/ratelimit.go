package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

// Limiter paces upstream requests. A nil Limiter never blocks.
type Limiter struct {
	l *rate.Limiter
}

// NewRPS allows rps operations per second with the given burst.
// rps <= 0 disables pacing.
func NewRPS(rps float64, burst int) *Limiter {
	if rps <= 0 {
		return &Limiter{l: rate.NewLimiter(rate.Inf, 0)}
	}
	if burst < 1 {
		burst = 1
	}
	return &Limiter{l: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil || l.l == nil {
		return nil
	}
	return l.l.Wait(ctx)
}
