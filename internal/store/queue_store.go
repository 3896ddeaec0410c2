package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"landpub/internal/log"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// ErrNotFound marks lookups for rows that do not exist.
var ErrNotFound = errors.New("not found")

// QueueStore owns batches and queue items. All mutation goes through
// single-row conditional updates so that concurrent drain passes cannot
// process the same item twice.
type QueueStore struct {
	db     *sql.DB
	logger *log.Logger
}

func NewQueueStore(dbURL string, logger *log.Logger) (*QueueStore, error) {
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	return &QueueStore{db: db, logger: logger}, nil
}

func (s *QueueStore) DB() *sql.DB {
	return s.db
}

func (s *QueueStore) Close() error {
	return s.db.Close()
}

// CreateBatch inserts the batch row and its queue items in one transaction.
func (s *QueueStore) CreateBatch(ctx context.Context, batch *Batch, items []QueueItem) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	_, err = tx.ExecContext(ctx, `
        INSERT INTO batches (id, platform, status, total_count, processed_count, success_count, error_count, created_at, updated_at)
        VALUES ($1, $2, $3, $4, 0, 0, 0, $5, $5)
    `, batch.ID, batch.Platform, batch.Status, batch.TotalCount, now)
	if err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}
	for _, item := range items {
		_, err = tx.ExecContext(ctx, `
            INSERT INTO queue_items (id, batch_id, listing_id, status, attempt_count, created_at, updated_at)
            VALUES ($1, $2, $3, $4, 0, $5, $5)
        `, item.ID, batch.ID, item.ListingID, ItemStatusPending, now)
		if err != nil {
			return fmt.Errorf("insert queue item: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	s.logger.Info("Created batch", zap.String("batch_id", batch.ID), zap.Int("items", len(items)))
	return nil
}

func (s *QueueStore) GetBatch(ctx context.Context, batchID string) (Batch, error) {
	var b Batch
	err := s.db.QueryRowContext(ctx, `
        SELECT id, platform, status, total_count, processed_count, success_count, error_count,
               started_at, completed_at, created_at, updated_at
        FROM batches WHERE id = $1
    `, batchID).Scan(&b.ID, &b.Platform, &b.Status, &b.TotalCount, &b.ProcessedCount,
		&b.SuccessCount, &b.ErrorCount, &b.StartedAt, &b.CompletedAt, &b.CreatedAt, &b.UpdatedAt)
	if err == sql.ErrNoRows {
		return Batch{}, fmt.Errorf("batch %s: %w", batchID, ErrNotFound)
	}
	if err != nil {
		return Batch{}, fmt.Errorf("get batch: %w", err)
	}
	return b, nil
}

// StartBatch moves a freshly created batch into running and stamps started_at.
func (s *QueueStore) StartBatch(ctx context.Context, batchID string) (bool, error) {
	return s.transition(ctx, batchID, []string{BatchStatusPending}, BatchStatusRunning, "started_at")
}

func (s *QueueStore) PauseBatch(ctx context.Context, batchID string) (bool, error) {
	return s.transition(ctx, batchID, []string{BatchStatusRunning}, BatchStatusPaused, "")
}

func (s *QueueStore) ResumeBatch(ctx context.Context, batchID string) (bool, error) {
	return s.transition(ctx, batchID, []string{BatchStatusPaused}, BatchStatusRunning, "")
}

func (s *QueueStore) CancelBatch(ctx context.Context, batchID string) (bool, error) {
	return s.transition(ctx, batchID, []string{BatchStatusRunning, BatchStatusPaused}, BatchStatusCancelled, "")
}

// CompleteBatch is only valid from running; a paused or cancelled batch keeps
// its status even when no pending items remain.
func (s *QueueStore) CompleteBatch(ctx context.Context, batchID string) (bool, error) {
	return s.transition(ctx, batchID, []string{BatchStatusRunning}, BatchStatusCompleted, "completed_at")
}

func (s *QueueStore) transition(ctx context.Context, batchID string, from []string, to, stampCol string) (bool, error) {
	now := time.Now()
	query := `UPDATE batches SET status = $1, updated_at = $2`
	if stampCol != "" {
		query += `, ` + stampCol + ` = $2`
	}
	query += ` WHERE id = $3 AND status = ANY($4)`
	res, err := s.db.ExecContext(ctx, query, to, now, batchID, pq.Array(from))
	if err != nil {
		return false, fmt.Errorf("transition batch to %s: %w", to, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// AddBatchCounts applies one pass's local tallies in a single increment.
func (s *QueueStore) AddBatchCounts(ctx context.Context, batchID string, processed, success, errors int) error {
	_, err := s.db.ExecContext(ctx, `
        UPDATE batches
        SET processed_count = processed_count + $1,
            success_count = success_count + $2,
            error_count = error_count + $3,
            updated_at = $4
        WHERE id = $5
    `, processed, success, errors, time.Now(), batchID)
	if err != nil {
		return fmt.Errorf("add batch counts: %w", err)
	}
	return nil
}

// PendingItems returns up to limit pending items in creation order.
func (s *QueueStore) PendingItems(ctx context.Context, batchID string, limit int) ([]QueueItem, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, batch_id, listing_id, status, attempt_count, error_message, processed_at, created_at, updated_at
        FROM queue_items
        WHERE batch_id = $1 AND status = $2
        ORDER BY id
        LIMIT $3
    `, batchID, ItemStatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch pending items: %w", err)
	}
	defer rows.Close()

	var items []QueueItem
	for rows.Next() {
		var item QueueItem
		err := rows.Scan(&item.ID, &item.BatchID, &item.ListingID, &item.Status, &item.AttemptCount,
			&item.ErrorMessage, &item.ProcessedAt, &item.CreatedAt, &item.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan queue item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// ClaimItem moves one item from pending to processing. False means another
// pass already took it.
func (s *QueueStore) ClaimItem(ctx context.Context, itemID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
        UPDATE queue_items SET status = $1, updated_at = $2
        WHERE id = $3 AND status = $4
    `, ItemStatusProcessing, time.Now(), itemID, ItemStatusPending)
	if err != nil {
		return false, fmt.Errorf("claim item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func (s *QueueStore) MarkItemDone(ctx context.Context, itemID int64) error {
	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
        UPDATE queue_items SET status = $1, processed_at = $2, updated_at = $2
        WHERE id = $3
    `, ItemStatusDone, now, itemID)
	if err != nil {
		return fmt.Errorf("mark item done: %w", err)
	}
	return nil
}

func (s *QueueStore) MarkItemError(ctx context.Context, itemID int64, message string) error {
	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
        UPDATE queue_items
        SET status = $1, error_message = $2, attempt_count = attempt_count + 1,
            processed_at = $3, updated_at = $3
        WHERE id = $4
    `, ItemStatusError, message, now, itemID)
	if err != nil {
		return fmt.Errorf("mark item error: %w", err)
	}
	return nil
}

func (s *QueueStore) CountPending(ctx context.Context, batchID string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
        SELECT COUNT(*) FROM queue_items WHERE batch_id = $1 AND status = $2
    `, batchID, ItemStatusPending).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending: %w", err)
	}
	return n, nil
}

// RequeueErrored is the manual retry path: errored items go back to pending so
// another pass can pick them up.
func (s *QueueStore) RequeueErrored(ctx context.Context, batchID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
        UPDATE queue_items
        SET status = $1, error_message = NULL, processed_at = NULL, updated_at = $2
        WHERE batch_id = $3 AND status = $4
    `, ItemStatusPending, time.Now(), batchID, ItemStatusError)
	if err != nil {
		return 0, fmt.Errorf("requeue errored items: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// ReapStuck returns items stuck in processing (crash mid-call) to pending and
// counts the interrupted attempt.
func (s *QueueStore) ReapStuck(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	res, err := s.db.ExecContext(ctx, `
        UPDATE queue_items
        SET status = $1, attempt_count = attempt_count + 1, updated_at = $2
        WHERE status = $3 AND updated_at < $4
    `, ItemStatusPending, time.Now(), ItemStatusProcessing, cutoff)
	if err != nil {
		return 0, fmt.Errorf("reap stuck items: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		s.logger.Warn("Requeued stuck processing items", zap.Int64("count", n))
	}
	return n, nil
}

// StatusCounts reports how many queue items sit in each status, for metrics.
func (s *QueueStore) StatusCounts(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT status, COUNT(*) FROM queue_items GROUP BY status
    `)
	if err != nil {
		return nil, fmt.Errorf("count items by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// ListBatchesByStatus feeds the background drain worker.
func (s *QueueStore) ListBatchesByStatus(ctx context.Context, status string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id FROM batches WHERE status = $1 ORDER BY created_at
    `, status)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan batch id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
