// Package ratelimit spaces outbound publish calls so the platform's
// requests-per-second ceiling is respected.
package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Limiter enforces a minimum interval between consecutive calls to Wait.
type Limiter struct {
	limiter *rate.Limiter
}

// NewLimiter derives the spacing from a calls-per-second ceiling, e.g.
// 3 calls/s gives ~334ms between calls. Non-positive rates fall back to 1/s.
func NewLimiter(callsPerSecond float64) *Limiter {
	if callsPerSecond <= 0 {
		callsPerSecond = 1
	}
	interval := time.Duration(float64(time.Second) / callsPerSecond)
	return &Limiter{limiter: rate.NewLimiter(rate.Every(interval), 1)}
}

// Wait blocks until the minimum interval since the previous permitted call has
// elapsed. It returns early only when the context is cancelled.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}
