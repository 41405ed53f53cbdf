package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/shaharia-lab/dealnotify/internal/storage"
)

// MockSubscriberStore is a mock implementation of storage.SubscriberStore.
type MockSubscriberStore struct {
	mock.Mock
}

//nolint:revive
func (m *MockSubscriberStore) GetSubscriber(ctx context.Context, id int64) (*storage.Subscriber, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*storage.Subscriber), args.Error(1)
}

//nolint:revive
func (m *MockSubscriberStore) ListEligibleSubscribers(ctx context.Context) ([]*storage.Subscriber, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*storage.Subscriber), args.Error(1)
}

//nolint:revive
func (m *MockSubscriberStore) UpsertSubscriber(ctx context.Context, sub *storage.Subscriber) error {
	args := m.Called(ctx, sub)
	return args.Error(0)
}

//nolint:revive
func (m *MockSubscriberStore) UpdatePreferences(ctx context.Context, id int64, prefs storage.Preferences) error {
	args := m.Called(ctx, id, prefs)
	return args.Error(0)
}

//nolint:revive
func (m *MockSubscriberStore) BindTelegram(ctx context.Context, id int64, chatID int64, username string) error {
	args := m.Called(ctx, id, chatID, username)
	return args.Error(0)
}

//nolint:revive
func (m *MockSubscriberStore) ClearChannelIdentity(ctx context.Context, id int64, channel storage.Channel) error {
	args := m.Called(ctx, id, channel)
	return args.Error(0)
}
