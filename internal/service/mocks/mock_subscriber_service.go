package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/shaharia-lab/dealnotify/internal/service"
	"github.com/shaharia-lab/dealnotify/internal/storage"
)

// MockSubscriberService is a mock implementation of service.SubscriberService.
type MockSubscriberService struct {
	mock.Mock
}

//nolint:revive
func (m *MockSubscriberService) Upsert(ctx context.Context, actor service.Actor, subscriberID int64, input service.SubscriberInput) (*storage.Subscriber, error) {
	args := m.Called(ctx, actor, subscriberID, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*storage.Subscriber), args.Error(1)
}

//nolint:revive
func (m *MockSubscriberService) Get(ctx context.Context, actor service.Actor, subscriberID int64) (*storage.Subscriber, error) {
	args := m.Called(ctx, actor, subscriberID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*storage.Subscriber), args.Error(1)
}
