package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// ListingStore is a read-only view over the listing catalogue. The publish
// queue never mutates listings.
type ListingStore struct {
	db *sql.DB
}

func NewListingStore(db *sql.DB) *ListingStore {
	return &ListingStore{db: db}
}

const listingColumns = `
    id, title, cadastral_number, area_sqm, price, location, district,
    has_electricity, has_gas, has_water, image_url, map_image_url,
    active, hidden_group, created_at, updated_at`

// Select returns active, non-hidden listings matching the selection in a
// stable order.
func (s *ListingStore) Select(ctx context.Context, sel Selection) ([]Listing, error) {
	query := `SELECT ` + listingColumns + `
        FROM listings
        WHERE active = TRUE AND hidden_group = FALSE`
	args := []interface{}{}
	if len(sel.Districts) > 0 {
		args = append(args, pq.Array(sel.Districts))
		query += fmt.Sprintf(" AND district = ANY($%d)", len(args))
	}
	query += " ORDER BY id"
	if !sel.IncludeAll && sel.MaxCount > 0 {
		args = append(args, sel.MaxCount)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select listings: %w", err)
	}
	defer rows.Close()

	var listings []Listing
	for rows.Next() {
		l, err := scanListing(rows.Scan)
		if err != nil {
			return nil, err
		}
		listings = append(listings, l)
	}
	return listings, rows.Err()
}

func (s *ListingStore) Get(ctx context.Context, listingID int64) (Listing, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+listingColumns+` FROM listings WHERE id = $1`, listingID)
	l, err := scanListing(row.Scan)
	if err == sql.ErrNoRows {
		return Listing{}, fmt.Errorf("listing %d: %w", listingID, ErrNotFound)
	}
	if err != nil {
		return Listing{}, err
	}
	return l, nil
}

func scanListing(scan func(...interface{}) error) (Listing, error) {
	var l Listing
	err := scan(&l.ID, &l.Title, &l.CadastralNumber, &l.AreaSqM, &l.Price, &l.Location,
		&l.District, &l.HasElectricity, &l.HasGas, &l.HasWater, &l.ImageURL, &l.MapImageURL,
		&l.Active, &l.HiddenGroup, &l.CreatedAt, &l.UpdatedAt)
	if err == sql.ErrNoRows {
		return Listing{}, err
	}
	if err != nil {
		return Listing{}, fmt.Errorf("scan listing: %w", err)
	}
	return l, nil
}
