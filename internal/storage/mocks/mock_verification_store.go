package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

// MockVerificationStore is a mock implementation of storage.VerificationStore.
type MockVerificationStore struct {
	mock.Mock
}

//nolint:revive
func (m *MockVerificationStore) CreateCode(ctx context.Context, code string, subscriberID int64, expiresAt time.Time) error {
	args := m.Called(ctx, code, subscriberID, expiresAt)
	return args.Error(0)
}

//nolint:revive
func (m *MockVerificationStore) ConsumeCode(ctx context.Context, code string, now time.Time) (int64, error) {
	args := m.Called(ctx, code, now)
	return args.Get(0).(int64), args.Error(1)
}
