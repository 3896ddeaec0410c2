// Package batch opens export batches and answers progress questions about
// them.
package batch

import (
	"context"
	"fmt"
	"time"

	"landpub/internal/id"
	"landpub/internal/log"
	"landpub/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type QueueStore interface {
	CreateBatch(ctx context.Context, batch *store.Batch, items []store.QueueItem) error
	StartBatch(ctx context.Context, batchID string) (bool, error)
	GetBatch(ctx context.Context, batchID string) (store.Batch, error)
	CountPending(ctx context.Context, batchID string) (int64, error)
	PauseBatch(ctx context.Context, batchID string) (bool, error)
	ResumeBatch(ctx context.Context, batchID string) (bool, error)
	CancelBatch(ctx context.Context, batchID string) (bool, error)
	CompleteBatch(ctx context.Context, batchID string) (bool, error)
	RequeueErrored(ctx context.Context, batchID string) (int64, error)
}

type ListingStore interface {
	Select(ctx context.Context, sel store.Selection) ([]store.Listing, error)
}

type RecordStore interface {
	PublishedListingIDs(ctx context.Context, platform string) (map[int64]bool, error)
}

// Cache is the optional fast dedup path consulted before the authoritative
// SQL check.
type Cache interface {
	IsPublished(ctx context.Context, platform string, listingID int64) bool
}

// Snapshot is a read-only progress view for polling observers.
type Snapshot struct {
	Batch store.Batch `json:"batch"`
	// Progress is processed/total in [0,1].
	Progress float64 `json:"progress"`
	// EstimatedRemaining assumes the configured publish rate; it is an
	// estimate, not a guarantee.
	EstimatedRemaining time.Duration `json:"estimated_remaining_ns"`
	RecentErrors       []string      `json:"recent_errors,omitempty"`
}

type Tracker struct {
	queue    QueueStore
	listings ListingStore
	records  RecordStore
	cache    Cache
	node     *id.Node
	// publishRate feeds the remaining-time estimate.
	publishRate float64
	logger      *log.Logger
}

func NewTracker(queue QueueStore, listings ListingStore, records RecordStore, cache Cache,
	node *id.Node, publishRate float64, logger *log.Logger) *Tracker {
	if publishRate <= 0 {
		publishRate = 1
	}
	return &Tracker{
		queue:       queue,
		listings:    listings,
		records:     records,
		cache:       cache,
		node:        node,
		publishRate: publishRate,
		logger:      logger,
	}
}

// Open materializes a selection into a batch plus one queue item per listing,
// skipping listings the platform already carries. Re-opening the same
// selection therefore creates no duplicate work.
func (t *Tracker) Open(ctx context.Context, platform string, sel store.Selection) (store.Batch, error) {
	listings, err := t.listings.Select(ctx, sel)
	if err != nil {
		return store.Batch{}, fmt.Errorf("select listings: %w", err)
	}

	published, err := t.records.PublishedListingIDs(ctx, platform)
	if err != nil {
		return store.Batch{}, fmt.Errorf("load published set: %w", err)
	}

	batch := store.Batch{
		ID:       uuid.New().String(),
		Platform: platform,
		Status:   store.BatchStatusPending,
	}
	var items []store.QueueItem
	for _, l := range listings {
		if published[l.ID] {
			continue
		}
		if t.cache != nil && t.cache.IsPublished(ctx, platform, l.ID) {
			continue
		}
		items = append(items, store.QueueItem{
			ID:        t.node.Generate(),
			BatchID:   batch.ID,
			ListingID: l.ID,
			Status:    store.ItemStatusPending,
		})
	}
	batch.TotalCount = len(items)

	if err := t.queue.CreateBatch(ctx, &batch, items); err != nil {
		return store.Batch{}, err
	}
	if _, err := t.queue.StartBatch(ctx, batch.ID); err != nil {
		return store.Batch{}, err
	}
	if len(items) == 0 {
		// Everything was already published; close out immediately so the
		// drain worker never picks the batch up.
		if _, err := t.queue.CompleteBatch(ctx, batch.ID); err != nil {
			return store.Batch{}, err
		}
	}
	t.logger.Info("Opened export batch", zap.String("batch_id", batch.ID),
		zap.String("platform", platform), zap.Int("selected", len(listings)),
		zap.Int("queued", len(items)), zap.Int("deduplicated", len(listings)-len(items)))

	return t.queue.GetBatch(ctx, batch.ID)
}

// Get returns the current batch snapshot with derived progress fields.
func (t *Tracker) Get(ctx context.Context, batchID string) (Snapshot, error) {
	b, err := t.queue.GetBatch(ctx, batchID)
	if err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{Batch: b}
	if b.TotalCount > 0 {
		snap.Progress = float64(b.ProcessedCount) / float64(b.TotalCount)
	}
	remaining := b.TotalCount - b.ProcessedCount
	if remaining > 0 {
		seconds := float64(remaining) / t.publishRate
		snap.EstimatedRemaining = time.Duration(seconds * float64(time.Second))
	}
	return snap, nil
}

func (t *Tracker) Pause(ctx context.Context, batchID string) (bool, error) {
	return t.queue.PauseBatch(ctx, batchID)
}

func (t *Tracker) Resume(ctx context.Context, batchID string) (bool, error) {
	return t.queue.ResumeBatch(ctx, batchID)
}

func (t *Tracker) Cancel(ctx context.Context, batchID string) (bool, error) {
	return t.queue.CancelBatch(ctx, batchID)
}

// Retry returns errored items to pending; the next pass picks them up.
func (t *Tracker) Retry(ctx context.Context, batchID string) (int64, error) {
	return t.queue.RequeueErrored(ctx, batchID)
}
