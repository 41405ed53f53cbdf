package storage

import (
	"context"
	"errors"
	"time"
)

// ErrTaskNotPending is returned when a transition targets a task that has
// already left the pending state.
var ErrTaskNotPending = errors.New("task is not pending")

// DueQuery selects tasks ready for delivery. Now is compared against
// scheduled_at both in UTC and in Location so rows written under either
// convention become due.
type DueQuery struct {
	Now         time.Time
	Location    *time.Location
	MaxAttempts int
	Limit       int
}

// QueueStore persists delivery tasks. It is the only writer of queue rows.
type QueueStore interface {
	// InsertTask adds a pending task unless a pending or sent task already
	// exists for the same triple. Returns true when a row was inserted.
	InsertTask(ctx context.Context, subscriberID, dealID int64, channel Channel, scheduledAt time.Time) (bool, error)
	// ListDueTasks returns pending tasks that are due and not leased, oldest first.
	ListDueTasks(ctx context.Context, q DueQuery) ([]*QueueTask, error)
	// ClaimTask increments attempts and leases the task until leaseUntil,
	// provided it is still pending with the expected attempt count and no live lease.
	ClaimTask(ctx context.Context, id int64, expectedAttempts int, now, leaseUntil time.Time) (bool, error)
	// IncrementAttempts unconditionally bumps the attempt counter.
	IncrementAttempts(ctx context.Context, id int64) error
	// MarkSent moves a pending task to sent and stamps processed_at.
	MarkSent(ctx context.Context, id int64, at time.Time) error
	// MarkFailed moves a pending task to failed, records msg and stamps processed_at.
	MarkFailed(ctx context.Context, id int64, msg string, at time.Time) error
	// FailExhausted moves pending tasks that used up maxAttempts and hold no
	// live lease to failed. It returns the tasks it moved.
	FailExhausted(ctx context.Context, maxAttempts int, now time.Time, msg string) ([]*QueueTask, error)
	// UpdateError records msg on a pending task and releases its lease.
	UpdateError(ctx context.Context, id int64, msg string) error
	// GetTask returns the task with the given id, or nil if not found.
	GetTask(ctx context.Context, id int64) (*QueueTask, error)
	// CountByStatus returns the number of tasks per status.
	CountByStatus(ctx context.Context) (map[string]int, error)
	// DeleteTerminalBefore removes sent and failed tasks processed before cutoff.
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time, loc *time.Location) (int64, error)
}
