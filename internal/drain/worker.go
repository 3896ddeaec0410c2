package drain

import (
	"context"
	"time"

	"landpub/internal/log"
	"landpub/internal/store"

	"go.uber.org/zap"
)

// BatchLister finds batches the worker should advance.
type BatchLister interface {
	ListBatchesByStatus(ctx context.Context, status string) ([]string, error)
}

// Worker is the timer-driven alternative to poll-to-completion: it runs one
// pass per running batch each tick so operators do not have to re-invoke the
// pass endpoint themselves.
type Worker struct {
	drainer  *Drainer
	batches  BatchLister
	interval time.Duration
	logger   *log.Logger
}

func NewWorker(drainer *Drainer, batches BatchLister, interval time.Duration, logger *log.Logger) *Worker {
	return &Worker{drainer: drainer, batches: batches, interval: interval, logger: logger}
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Drain worker shutting down")
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *Worker) tick(ctx context.Context) {
	ids, err := w.batches.ListBatchesByStatus(ctx, store.BatchStatusRunning)
	if err != nil {
		w.logger.Error("Failed to list running batches", zap.Error(err))
		return
	}
	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		if _, err := w.drainer.ProcessPass(ctx, id, 0); err != nil {
			w.logger.Error("Drain pass failed", zap.Error(err), zap.String("batch_id", id))
		}
	}
}
