package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// SQLiteDealStore implements DealStore backed by SQLite.
type SQLiteDealStore struct {
	db *sql.DB
}

// NewSQLiteDealStore returns a new SQLiteDealStore.
func NewSQLiteDealStore(db *sql.DB) *SQLiteDealStore {
	return &SQLiteDealStore{db: db}
}

// SaveDeal upserts a deal snapshot. Republishing a deal refreshes its
// attributes but keeps the original created_at.
func (s *SQLiteDealStore) SaveDeal(ctx context.Context, deal *Deal) error {
	cats, err := json.Marshal(NormalizeIDs(deal.Categories))
	if err != nil {
		return fmt.Errorf("encoding deal categories: %w", err)
	}
	stores, err := json.Marshal(NormalizeIDs(deal.Stores))
	if err != nil {
		return fmt.Errorf("encoding deal stores: %w", err)
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO deals (id, title, url, excerpt, discount_percent, categories, stores, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			url = excluded.url,
			excerpt = excluded.excerpt,
			discount_percent = excluded.discount_percent,
			categories = excluded.categories,
			stores = excluded.stores,
			updated_at = excluded.updated_at`,
		deal.ID, deal.Title, deal.URL, deal.Excerpt, deal.DiscountPercent,
		string(cats), string(stores), now, now,
	)
	if err != nil {
		return fmt.Errorf("saving deal %d: %w", deal.ID, err)
	}
	return nil
}

// GetDeal returns a deal by id, or nil if not found.
func (s *SQLiteDealStore) GetDeal(ctx context.Context, id int64) (*Deal, error) {
	d := &Deal{}
	var cats, stores string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, url, excerpt, discount_percent, categories, stores, created_at, updated_at
		FROM deals WHERE id = ?`, id).Scan(
		&d.ID, &d.Title, &d.URL, &d.Excerpt, &d.DiscountPercent,
		&cats, &stores, &d.CreatedAt, &d.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting deal %d: %w", id, err)
	}
	if err := json.Unmarshal([]byte(cats), &d.Categories); err != nil {
		return nil, fmt.Errorf("decoding categories of deal %d: %w", id, err)
	}
	if err := json.Unmarshal([]byte(stores), &d.Stores); err != nil {
		return nil, fmt.Errorf("decoding stores of deal %d: %w", id, err)
	}
	return d, nil
}
