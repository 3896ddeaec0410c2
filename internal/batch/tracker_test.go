package batch

import (
	"context"
	"testing"
	"time"

	"landpub/internal/id"
	"landpub/internal/log"
	"landpub/internal/store"
)

type fakeQueue struct {
	batches map[string]*store.Batch
	items   map[string][]store.QueueItem
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{batches: make(map[string]*store.Batch), items: make(map[string][]store.QueueItem)}
}

func (f *fakeQueue) CreateBatch(ctx context.Context, b *store.Batch, items []store.QueueItem) error {
	cp := *b
	f.batches[b.ID] = &cp
	f.items[b.ID] = items
	return nil
}

func (f *fakeQueue) StartBatch(ctx context.Context, batchID string) (bool, error) {
	b := f.batches[batchID]
	if b.Status != store.BatchStatusPending {
		return false, nil
	}
	now := time.Now()
	b.Status = store.BatchStatusRunning
	b.StartedAt = &now
	return true, nil
}

func (f *fakeQueue) GetBatch(ctx context.Context, batchID string) (store.Batch, error) {
	b, ok := f.batches[batchID]
	if !ok {
		return store.Batch{}, store.ErrNotFound
	}
	return *b, nil
}

func (f *fakeQueue) CountPending(ctx context.Context, batchID string) (int64, error) {
	return int64(len(f.items[batchID])), nil
}

func (f *fakeQueue) setStatus(batchID, status string) {
	f.batches[batchID].Status = status
}

func (f *fakeQueue) PauseBatch(ctx context.Context, batchID string) (bool, error) {
	if f.batches[batchID].Status != store.BatchStatusRunning {
		return false, nil
	}
	f.setStatus(batchID, store.BatchStatusPaused)
	return true, nil
}

func (f *fakeQueue) ResumeBatch(ctx context.Context, batchID string) (bool, error) {
	if f.batches[batchID].Status != store.BatchStatusPaused {
		return false, nil
	}
	f.setStatus(batchID, store.BatchStatusRunning)
	return true, nil
}

func (f *fakeQueue) CancelBatch(ctx context.Context, batchID string) (bool, error) {
	s := f.batches[batchID].Status
	if s != store.BatchStatusRunning && s != store.BatchStatusPaused {
		return false, nil
	}
	f.setStatus(batchID, store.BatchStatusCancelled)
	return true, nil
}

func (f *fakeQueue) CompleteBatch(ctx context.Context, batchID string) (bool, error) {
	if f.batches[batchID].Status != store.BatchStatusRunning {
		return false, nil
	}
	now := time.Now()
	f.setStatus(batchID, store.BatchStatusCompleted)
	f.batches[batchID].CompletedAt = &now
	return true, nil
}

func (f *fakeQueue) RequeueErrored(ctx context.Context, batchID string) (int64, error) {
	return 0, nil
}

type fakeListings struct{ listings []store.Listing }

func (f *fakeListings) Select(ctx context.Context, sel store.Selection) ([]store.Listing, error) {
	out := f.listings
	if !sel.IncludeAll && sel.MaxCount > 0 && len(out) > sel.MaxCount {
		out = out[:sel.MaxCount]
	}
	return out, nil
}

type fakeRecords struct{ published map[int64]bool }

func (f *fakeRecords) PublishedListingIDs(ctx context.Context, platform string) (map[int64]bool, error) {
	return f.published, nil
}

func newTestTracker(t *testing.T, listings []store.Listing, published map[int64]bool) (*Tracker, *fakeQueue) {
	t.Helper()
	node, err := id.NewNode(1)
	if err != nil {
		t.Fatalf("new node: %s", err)
	}
	q := newFakeQueue()
	tr := NewTracker(q, &fakeListings{listings: listings}, &fakeRecords{published: published},
		nil, node, 3, log.NewLogger())
	return tr, q
}

func someListings(n int) []store.Listing {
	out := make([]store.Listing, n)
	for i := range out {
		out[i] = store.Listing{ID: int64(i + 1), Active: true}
	}
	return out
}

func TestOpenCreatesItemsAndStarts(t *testing.T) {
	tr, q := newTestTracker(t, someListings(5), nil)
	b, err := tr.Open(context.Background(), "vk", store.Selection{IncludeAll: true})
	if err != nil {
		t.Fatalf("open failed: %s", err)
	}
	if b.TotalCount != 5 {
		t.Errorf("expected total 5, got %d", b.TotalCount)
	}
	if b.Status != store.BatchStatusRunning {
		t.Errorf("expected running, got %s", b.Status)
	}
	if b.StartedAt == nil {
		t.Error("expected started_at set")
	}
	if len(q.items[b.ID]) != 5 {
		t.Errorf("expected 5 items, got %d", len(q.items[b.ID]))
	}
}

func TestOpenDeduplicatesPublished(t *testing.T) {
	tr, q := newTestTracker(t, someListings(5), map[int64]bool{2: true, 4: true})
	b, err := tr.Open(context.Background(), "vk", store.Selection{IncludeAll: true})
	if err != nil {
		t.Fatalf("open failed: %s", err)
	}
	if b.TotalCount != 3 {
		t.Errorf("expected total 3 after dedup, got %d", b.TotalCount)
	}
	for _, item := range q.items[b.ID] {
		if item.ListingID == 2 || item.ListingID == 4 {
			t.Errorf("published listing %d queued again", item.ListingID)
		}
	}
}

func TestOpenWithNothingLeftCompletesImmediately(t *testing.T) {
	tr, q := newTestTracker(t, someListings(3), map[int64]bool{1: true, 2: true, 3: true})
	b, err := tr.Open(context.Background(), "vk", store.Selection{IncludeAll: true})
	if err != nil {
		t.Fatalf("open failed: %s", err)
	}
	if b.TotalCount != 0 {
		t.Errorf("expected empty batch, got total %d", b.TotalCount)
	}
	if b.Status != store.BatchStatusCompleted {
		t.Errorf("empty batch should complete at open, got %s", b.Status)
	}
	if q.batches[b.ID].CompletedAt == nil {
		t.Error("expected completed_at set")
	}
}

func TestOpenHonorsMaxCount(t *testing.T) {
	tr, _ := newTestTracker(t, someListings(10), nil)
	b, err := tr.Open(context.Background(), "vk", store.Selection{MaxCount: 4})
	if err != nil {
		t.Fatalf("open failed: %s", err)
	}
	if b.TotalCount != 4 {
		t.Errorf("expected total 4, got %d", b.TotalCount)
	}
}

func TestSnapshotProgress(t *testing.T) {
	tr, q := newTestTracker(t, someListings(4), nil)
	b, err := tr.Open(context.Background(), "vk", store.Selection{IncludeAll: true})
	if err != nil {
		t.Fatalf("open failed: %s", err)
	}
	q.batches[b.ID].ProcessedCount = 1
	q.batches[b.ID].SuccessCount = 1

	snap, err := tr.Get(context.Background(), b.ID)
	if err != nil {
		t.Fatalf("get failed: %s", err)
	}
	if snap.Progress != 0.25 {
		t.Errorf("expected progress 0.25, got %f", snap.Progress)
	}
	// 3 remaining at 3/s => ~1s estimate.
	if snap.EstimatedRemaining < 900*time.Millisecond || snap.EstimatedRemaining > 1100*time.Millisecond {
		t.Errorf("expected ~1s estimate, got %s", snap.EstimatedRemaining)
	}
}

func TestPauseResumeCancelTransitions(t *testing.T) {
	tr, q := newTestTracker(t, someListings(2), nil)
	b, err := tr.Open(context.Background(), "vk", store.Selection{IncludeAll: true})
	if err != nil {
		t.Fatalf("open failed: %s", err)
	}

	if ok, _ := tr.Resume(context.Background(), b.ID); ok {
		t.Error("resume of a running batch should be a no-op")
	}
	if ok, _ := tr.Pause(context.Background(), b.ID); !ok {
		t.Error("pause of a running batch should succeed")
	}
	if ok, _ := tr.Pause(context.Background(), b.ID); ok {
		t.Error("second pause should be a no-op")
	}
	if ok, _ := tr.Resume(context.Background(), b.ID); !ok {
		t.Error("resume of a paused batch should succeed")
	}
	if ok, _ := tr.Cancel(context.Background(), b.ID); !ok {
		t.Error("cancel of a running batch should succeed")
	}
	if q.batches[b.ID].Status != store.BatchStatusCancelled {
		t.Errorf("expected cancelled, got %s", q.batches[b.ID].Status)
	}
	if ok, _ := tr.Cancel(context.Background(), b.ID); ok {
		t.Error("cancel of a cancelled batch should be a no-op")
	}
}
