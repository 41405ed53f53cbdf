package storage

import (
	"context"
	"errors"
	"time"
)

// Verification failures.
var (
	ErrCodeNotFound = errors.New("verification code not found")
	ErrCodeExpired  = errors.New("verification code expired")
	ErrCodeUsed     = errors.New("verification code already used")
)

// VerificationStore persists one-time Telegram verification codes.
type VerificationStore interface {
	// CreateCode stores a new code for subscriberID valid until expiresAt.
	// Earlier unused codes of the same subscriber are invalidated.
	CreateCode(ctx context.Context, code string, subscriberID int64, expiresAt time.Time) error
	// ConsumeCode marks code used and returns its subscriber. It fails with
	// ErrCodeNotFound, ErrCodeExpired or ErrCodeUsed.
	ConsumeCode(ctx context.Context, code string, now time.Time) (int64, error)
}
