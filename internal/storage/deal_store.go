package storage

import "context"

// DealStore persists the deal snapshots taken at publish time.
type DealStore interface {
	// SaveDeal inserts or replaces a deal snapshot.
	SaveDeal(ctx context.Context, deal *Deal) error
	// GetDeal returns the deal with the given id, or nil if not found.
	GetDeal(ctx context.Context, id int64) (*Deal, error)
}
