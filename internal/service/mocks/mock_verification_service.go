package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/shaharia-lab/dealnotify/internal/service"
)

// MockVerificationService is a mock implementation of service.VerificationService.
type MockVerificationService struct {
	mock.Mock
}

//nolint:revive
func (m *MockVerificationService) IssueCode(ctx context.Context, actor service.Actor, subscriberID int64) (*service.IssuedCode, error) {
	args := m.Called(ctx, actor, subscriberID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.IssuedCode), args.Error(1)
}

//nolint:revive
func (m *MockVerificationService) Verify(ctx context.Context, text string, chatID int64, username string) (int64, error) {
	args := m.Called(ctx, text, chatID, username)
	return args.Get(0).(int64), args.Error(1)
}
