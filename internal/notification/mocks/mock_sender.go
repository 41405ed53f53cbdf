package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/shaharia-lab/dealnotify/internal/notification"
	"github.com/shaharia-lab/dealnotify/internal/storage"
)

// MockSender is a mock implementation of notification.Sender.
type MockSender struct {
	mock.Mock
	Ch storage.Channel
}

//nolint:revive
func (m *MockSender) Channel() storage.Channel {
	return m.Ch
}

//nolint:revive
func (m *MockSender) Send(ctx context.Context, sub *storage.Subscriber, deal *storage.Deal) notification.Result {
	args := m.Called(ctx, sub, deal)
	return args.Get(0).(notification.Result)
}
