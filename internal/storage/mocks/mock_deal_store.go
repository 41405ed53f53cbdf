package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/shaharia-lab/dealnotify/internal/storage"
)

// MockDealStore is a mock implementation of storage.DealStore.
type MockDealStore struct {
	mock.Mock
}

//nolint:revive
func (m *MockDealStore) SaveDeal(ctx context.Context, deal *storage.Deal) error {
	args := m.Called(ctx, deal)
	return args.Error(0)
}

//nolint:revive
func (m *MockDealStore) GetDeal(ctx context.Context, id int64) (*storage.Deal, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*storage.Deal), args.Error(1)
}
