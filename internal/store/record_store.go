package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"landpub/internal/log"

	"go.uber.org/zap"
)

// RecordStore owns publish records: durable evidence of what was published
// where, used to keep re-runs from double-posting and to support deletion.
type RecordStore struct {
	db     *sql.DB
	logger *log.Logger
}

func NewRecordStore(db *sql.DB, logger *log.Logger) *RecordStore {
	return &RecordStore{db: db, logger: logger}
}

// Upsert writes the outcome of a publish attempt, keyed by
// (platform, listing_id); the latest attempt wins.
func (s *RecordStore) Upsert(ctx context.Context, rec *PublishRecord) error {
	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO publish_records (platform, listing_id, external_post_id, external_url, status, last_error, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
        ON CONFLICT (platform, listing_id) DO UPDATE
        SET external_post_id = EXCLUDED.external_post_id,
            external_url = EXCLUDED.external_url,
            status = EXCLUDED.status,
            last_error = EXCLUDED.last_error,
            updated_at = EXCLUDED.updated_at
    `, rec.Platform, rec.ListingID, rec.ExternalPostID, rec.ExternalURL, rec.Status, rec.LastError, now)
	if err != nil {
		return fmt.Errorf("upsert publish record: %w", err)
	}
	return nil
}

func (s *RecordStore) Get(ctx context.Context, platform string, listingID int64) (PublishRecord, error) {
	var r PublishRecord
	err := s.db.QueryRowContext(ctx, `
        SELECT id, platform, listing_id, external_post_id, external_url, status, last_error, created_at, updated_at
        FROM publish_records
        WHERE platform = $1 AND listing_id = $2
        ORDER BY created_at DESC
        LIMIT 1
    `, platform, listingID).Scan(&r.ID, &r.Platform, &r.ListingID, &r.ExternalPostID,
		&r.ExternalURL, &r.Status, &r.LastError, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return PublishRecord{}, fmt.Errorf("publish record %s/%d: %w", platform, listingID, ErrNotFound)
	}
	if err != nil {
		return PublishRecord{}, fmt.Errorf("get publish record: %w", err)
	}
	return r, nil
}

func (s *RecordStore) List(ctx context.Context, platform string, limit int) ([]PublishRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, platform, listing_id, external_post_id, external_url, status, last_error, created_at, updated_at
        FROM publish_records
        WHERE platform = $1
        ORDER BY updated_at DESC
        LIMIT $2
    `, platform, limit)
	if err != nil {
		return nil, fmt.Errorf("list publish records: %w", err)
	}
	defer rows.Close()

	var records []PublishRecord
	for rows.Next() {
		var r PublishRecord
		err := rows.Scan(&r.ID, &r.Platform, &r.ListingID, &r.ExternalPostID,
			&r.ExternalURL, &r.Status, &r.LastError, &r.CreatedAt, &r.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan publish record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// PublishedListingIDs is the authoritative dedup set for batch opening.
func (s *RecordStore) PublishedListingIDs(ctx context.Context, platform string) (map[int64]bool, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT listing_id FROM publish_records WHERE platform = $1 AND status = $2
    `, platform, RecordStatusPublished)
	if err != nil {
		return nil, fmt.Errorf("list published listing ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[int64]bool)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan listing id: %w", err)
		}
		ids[id] = true
	}
	return ids, rows.Err()
}

// MarkDeleted records that the external post was taken down, which makes the
// listing eligible for re-publishing.
func (s *RecordStore) MarkDeleted(ctx context.Context, platform string, listingID int64) error {
	res, err := s.db.ExecContext(ctx, `
        UPDATE publish_records SET status = $1, updated_at = $2
        WHERE platform = $3 AND listing_id = $4
    `, RecordStatusDeleted, time.Now(), platform, listingID)
	if err != nil {
		return fmt.Errorf("mark record deleted: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("publish record %s/%d: %w", platform, listingID, ErrNotFound)
	}
	s.logger.Info("Marked publish record deleted", zap.String("platform", platform), zap.Int64("listing_id", listingID))
	return nil
}
