package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/shaharia-lab/dealnotify/internal/service"
)

// MockPreferenceService is a mock implementation of service.PreferenceService.
type MockPreferenceService struct {
	mock.Mock
}

//nolint:revive
func (m *MockPreferenceService) Get(ctx context.Context, actor service.Actor, subscriberID int64) (*service.PreferencesView, error) {
	args := m.Called(ctx, actor, subscriberID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.PreferencesView), args.Error(1)
}

//nolint:revive
func (m *MockPreferenceService) Save(ctx context.Context, actor service.Actor, subscriberID int64, input service.PreferencesInput) (*service.PreferencesView, error) {
	args := m.Called(ctx, actor, subscriberID, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.PreferencesView), args.Error(1)
}

//nolint:revive
func (m *MockPreferenceService) DisconnectChannel(ctx context.Context, actor service.Actor, subscriberID int64, channel string) (*service.PreferencesView, error) {
	args := m.Called(ctx, actor, subscriberID, channel)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.PreferencesView), args.Error(1)
}
