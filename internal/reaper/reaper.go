// Package reaper recovers queue items left in processing by a crashed or
// killed drain pass.
package reaper

import (
	"context"
	"time"

	"landpub/internal/log"

	"go.uber.org/zap"
)

type Store interface {
	ReapStuck(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Reaper periodically returns items stuck in processing to pending. An item
// older than the timeout is assumed to belong to a dead pass; requeueing it
// accepts an at-least-once duplicate risk in exchange for never losing work.
type Reaper struct {
	store    Store
	timeout  time.Duration
	interval time.Duration
	logger   *log.Logger
}

func NewReaper(store Store, timeout, interval time.Duration, logger *log.Logger) *Reaper {
	return &Reaper{store: store, timeout: timeout, interval: interval, logger: logger}
}

func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Reaper shutting down")
			return
		case <-ticker.C:
			if _, err := r.store.ReapStuck(ctx, r.timeout); err != nil {
				r.logger.Error("Failed to reap stuck items", zap.Error(err))
			}
		}
	}
}
