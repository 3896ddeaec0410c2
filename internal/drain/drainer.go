// Package drain processes pending queue items against the external platform,
// one bounded page per pass.
package drain

import (
	"context"
	"errors"
	"time"

	"landpub/internal/log"
	"landpub/internal/publisher"
	"landpub/internal/store"

	"go.uber.org/zap"
)

// QueueStore is the slice of the durable store a drain pass needs.
type QueueStore interface {
	GetBatch(ctx context.Context, batchID string) (store.Batch, error)
	PendingItems(ctx context.Context, batchID string, limit int) ([]store.QueueItem, error)
	ClaimItem(ctx context.Context, itemID int64) (bool, error)
	MarkItemDone(ctx context.Context, itemID int64) error
	MarkItemError(ctx context.Context, itemID int64, message string) error
	AddBatchCounts(ctx context.Context, batchID string, processed, success, errors int) error
	CountPending(ctx context.Context, batchID string) (int64, error)
	CompleteBatch(ctx context.Context, batchID string) (bool, error)
}

type RecordStore interface {
	Upsert(ctx context.Context, rec *store.PublishRecord) error
}

type ListingStore interface {
	Get(ctx context.Context, listingID int64) (store.Listing, error)
}

// Waiter is the rate limiter's contract.
type Waiter interface {
	Wait(ctx context.Context) error
}

// Cache receives best-effort operator-facing state; implementations must
// never fail the pass.
type Cache interface {
	PushError(ctx context.Context, batchID, message string)
	MarkPublished(ctx context.Context, platform string, listingID int64)
}

// BackoffCounter is notified once per soft backoff. A prometheus counter
// satisfies it; nil disables the hook.
type BackoffCounter interface {
	Inc()
}

// PassResult is what one drain pass reports back to its caller.
type PassResult struct {
	Processed int    `json:"processed"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Remaining int64  `json:"remaining"`
	Completed bool   `json:"completed"`
	Status    string `json:"status"`
}

type Drainer struct {
	queue      QueueStore
	records    RecordStore
	listings   ListingStore
	publishers map[string]publisher.Publisher
	limiter    Waiter
	cache      Cache
	backoffs   BackoffCounter
	logger     *log.Logger

	pageSize    int
	rateBackoff time.Duration
	sleep       func(time.Duration)
}

func NewDrainer(queue QueueStore, records RecordStore, listings ListingStore,
	publishers map[string]publisher.Publisher, limiter Waiter, cache Cache,
	backoffs BackoffCounter, pageSize int, rateBackoff time.Duration, logger *log.Logger) *Drainer {
	if pageSize <= 0 {
		pageSize = 10
	}
	return &Drainer{
		queue:       queue,
		records:     records,
		listings:    listings,
		publishers:  publishers,
		limiter:     limiter,
		cache:       cache,
		backoffs:    backoffs,
		logger:      logger,
		pageSize:    pageSize,
		rateBackoff: rateBackoff,
		sleep:       time.Sleep,
	}
}

// ProcessPass handles up to limit pending items of one batch. Per-item
// failures are recorded and never abort the pass; only the initial page fetch
// (or a missing batch) is fatal.
func (d *Drainer) ProcessPass(ctx context.Context, batchID string, limit int) (*PassResult, error) {
	if limit <= 0 {
		limit = d.pageSize
	}

	batch, err := d.queue.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	switch batch.Status {
	case store.BatchStatusPaused, store.BatchStatusCancelled, store.BatchStatusCompleted:
		// Externally interrupted or already finished: report, touch nothing.
		remaining, err := d.queue.CountPending(ctx, batchID)
		if err != nil {
			return nil, err
		}
		return &PassResult{
			Remaining: remaining,
			Completed: batch.Status == store.BatchStatusCompleted,
			Status:    batch.Status,
		}, nil
	}

	items, err := d.queue.PendingItems(ctx, batchID, limit)
	if err != nil {
		return nil, err
	}

	var processed, succeeded, failed int
	for i, item := range items {
		// Honor pause/cancel between items, not just at pass start.
		if i > 0 {
			current, err := d.queue.GetBatch(ctx, batchID)
			if err != nil {
				// Keep draining on the status read at pass start; the next
				// pass re-checks anyway.
				d.logger.Error("Failed to re-check batch status", zap.Error(err), zap.String("batch_id", batchID))
			} else if current.Status == store.BatchStatusPaused || current.Status == store.BatchStatusCancelled {
				batch.Status = current.Status
				break
			}
		}

		claimed, err := d.queue.ClaimItem(ctx, item.ID)
		if err != nil {
			d.logger.Error("Failed to claim queue item", zap.Error(err), zap.Int64("item_id", item.ID))
			continue
		}
		if !claimed {
			// Another pass already took it.
			continue
		}

		outcome := d.processItem(ctx, batch, item)
		processed++
		if outcome == nil {
			succeeded++
			continue
		}
		failed++
		if ctx.Err() != nil {
			break
		}
		if publisher.KindOf(outcome) == publisher.KindRateLimited {
			// Soft backoff: the platform told us to slow down.
			d.logger.Warn("Platform rate limit hit, backing off",
				zap.String("batch_id", batchID), zap.Duration("backoff", d.rateBackoff))
			if d.backoffs != nil {
				d.backoffs.Inc()
			}
			d.sleep(d.rateBackoff)
		}
	}

	if processed > 0 {
		if err := d.queue.AddBatchCounts(ctx, batchID, processed, succeeded, failed); err != nil {
			return nil, err
		}
	}

	remaining, err := d.queue.CountPending(ctx, batchID)
	if err != nil {
		return nil, err
	}

	result := &PassResult{
		Processed: processed,
		Succeeded: succeeded,
		Failed:    failed,
		Remaining: remaining,
		Status:    batch.Status,
	}
	if remaining == 0 && batch.Status == store.BatchStatusRunning {
		if _, err := d.queue.CompleteBatch(ctx, batchID); err != nil {
			return nil, err
		}
		result.Completed = true
		result.Status = store.BatchStatusCompleted
		d.logger.Info("Batch completed", zap.String("batch_id", batchID))
	}

	d.logger.Info("Drain pass finished", zap.String("batch_id", batchID),
		zap.Int("processed", processed), zap.Int("succeeded", succeeded),
		zap.Int("failed", failed), zap.Int64("remaining", remaining))
	return result, nil
}

// processItem publishes one claimed item and persists the outcome. A nil
// return means the item ended done; anything else means it ended error.
func (d *Drainer) processItem(ctx context.Context, batch store.Batch, item store.QueueItem) error {
	listing, err := d.listings.Get(ctx, item.ListingID)
	if err != nil {
		// A vanished listing fails the item without spending a limiter slot.
		d.failItem(ctx, batch, item, err.Error())
		return err
	}

	pub, ok := d.publishers[batch.Platform]
	if !ok {
		err := errors.New("no publisher configured for platform " + batch.Platform)
		d.failItem(ctx, batch, item, err.Error())
		return err
	}

	if err := d.limiter.Wait(ctx); err != nil {
		d.failItem(ctx, batch, item, err.Error())
		return err
	}

	res, err := pub.Publish(ctx, publisher.BuildRequest(listing))
	if err != nil {
		d.failItem(ctx, batch, item, err.Error())
		msg := err.Error()
		rec := &store.PublishRecord{
			Platform:  batch.Platform,
			ListingID: item.ListingID,
			Status:    store.RecordStatusError,
			LastError: &msg,
		}
		if upErr := d.records.Upsert(ctx, rec); upErr != nil {
			d.logger.Error("Failed to record publish failure", zap.Error(upErr), zap.Int64("listing_id", item.ListingID))
		}
		return err
	}

	rec := &store.PublishRecord{
		Platform:       batch.Platform,
		ListingID:      item.ListingID,
		ExternalPostID: res.ExternalPostID,
		ExternalURL:    res.ExternalURL,
		Status:         store.RecordStatusPublished,
	}
	if err := d.records.Upsert(ctx, rec); err != nil {
		// The external post exists; losing the record risks a duplicate on a
		// later run but must not fail the item.
		d.logger.Error("Failed to record successful publish", zap.Error(err), zap.Int64("listing_id", item.ListingID))
	}
	if d.cache != nil {
		d.cache.MarkPublished(ctx, batch.Platform, item.ListingID)
	}
	if err := d.queue.MarkItemDone(ctx, item.ID); err != nil {
		d.logger.Error("Failed to mark item done", zap.Error(err), zap.Int64("item_id", item.ID))
	}
	return nil
}

func (d *Drainer) failItem(ctx context.Context, batch store.Batch, item store.QueueItem, message string) {
	if err := d.queue.MarkItemError(ctx, item.ID, message); err != nil {
		d.logger.Error("Failed to mark item error", zap.Error(err), zap.Int64("item_id", item.ID))
	}
	if d.cache != nil {
		d.cache.PushError(ctx, batch.ID, message)
	}
}

// DrainBatch loops passes until the batch completes or is interrupted. This
// is the long-lived bulk entry point; ProcessPass stays boundedly fast for
// poll-driven callers.
func (d *Drainer) DrainBatch(ctx context.Context, batchID string, limit int) (*PassResult, error) {
	for {
		result, err := d.ProcessPass(ctx, batchID, limit)
		if err != nil {
			return nil, err
		}
		if result.Completed || result.Status == store.BatchStatusPaused || result.Status == store.BatchStatusCancelled {
			return result, nil
		}
		if result.Processed == 0 {
			// Nothing claimable right now (items held by another pass or all
			// stuck in processing); let the caller or reaper come back later.
			return result, nil
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}
	}
}
