// Package queue is the durable delivery queue: one task per
// (subscriber, deal, channel) with bounded retries and an audit trail.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shaharia-lab/dealnotify/internal/storage"
)

// MaxAttempts bounds delivery attempts per task. Both the due-task
// selection and the engine's failure decision read it.
const MaxAttempts = 3

// DefaultBatchSize is used when DequeueBatch is called with limit <= 0.
const DefaultBatchSize = 50

// Default retention windows, in days.
const (
	DefaultLogRetentionDays   = 30
	DefaultQueueRetentionDays = 7
)

// ChannelResolver returns the channels a subscriber accepts.
type ChannelResolver interface {
	AllowedChannels(ctx context.Context, subscriberID int64) ([]storage.Channel, error)
}

// Entry is an audit record before serialization. Details may be any value
// that encodes to JSON.
type Entry struct {
	SubscriberID int64
	DealID       int64
	Channel      storage.Channel
	Action       string
	Status       string
	Details      any
}

// CleanupResult reports how many rows a retention pass removed.
type CleanupResult struct {
	AuditDeleted   int64 `json:"audit_deleted"`
	TasksDeleted   int64 `json:"tasks_deleted"`
	TasksExhausted int   `json:"tasks_exhausted"`
}

// ExhaustedMessage prefixes the error of tasks failed by FailExhausted.
const ExhaustedMessage = "attempts exhausted"

// Queue wraps the task and audit stores with the queue's state rules.
type Queue struct {
	tasks    storage.QueueStore
	audit    storage.AuditStore
	logger   *slog.Logger
	location *time.Location
	now      func() time.Time
}

// Option configures a Queue.
type Option func(*Queue)

// WithLocation sets the zone legacy rows may have been written in.
func WithLocation(loc *time.Location) Option {
	return func(q *Queue) {
		if loc != nil {
			q.location = loc
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// New creates a Queue.
func New(tasks storage.QueueStore, audit storage.AuditStore, logger *slog.Logger, opts ...Option) *Queue {
	q := &Queue{
		tasks:    tasks,
		audit:    audit,
		logger:   logger,
		location: time.Local,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue queues one task per allowed channel for every subscriber and
// returns how many rows were inserted. Duplicates and invalid input are
// skipped silently; only storage failures are returned.
func (q *Queue) Enqueue(ctx context.Context, subscriberIDs []int64, dealID int64, resolver ChannelResolver) (int, error) {
	queued := 0
	for _, subID := range subscriberIDs {
		channels, err := resolver.AllowedChannels(ctx, subID)
		if err != nil {
			return queued, fmt.Errorf("resolving channels of subscriber %d: %w", subID, err)
		}
		for _, ch := range channels {
			ok, err := q.EnqueueOne(ctx, subID, dealID, ch)
			if err != nil {
				return queued, err
			}
			if ok {
				queued++
			}
		}
	}
	return queued, nil
}

// EnqueueOne inserts a pending task scheduled now. It returns false when a
// pending or sent task already exists for the triple or the input is invalid.
func (q *Queue) EnqueueOne(ctx context.Context, subscriberID, dealID int64, channel storage.Channel) (bool, error) {
	if subscriberID <= 0 || dealID <= 0 || !channel.IsKnown() {
		q.logger.Debug("rejected invalid task",
			"subscriber_id", subscriberID, "deal_id", dealID, "channel", channel)
		return false, nil
	}
	ok, err := q.tasks.InsertTask(ctx, subscriberID, dealID, channel, q.now().UTC())
	if err != nil {
		return false, fmt.Errorf("enqueueing task: %w", err)
	}
	return ok, nil
}

// DequeueBatch returns up to limit due tasks, oldest first.
func (q *Queue) DequeueBatch(ctx context.Context, limit int) ([]*storage.QueueTask, error) {
	if limit <= 0 {
		limit = DefaultBatchSize
	}
	return q.tasks.ListDueTasks(ctx, storage.DueQuery{
		Now:         q.now(),
		Location:    q.location,
		MaxAttempts: MaxAttempts,
		Limit:       limit,
	})
}

// Claim counts an attempt against task and leases it for lease. It returns
// false when a concurrent batch already took the task.
func (q *Queue) Claim(ctx context.Context, task *storage.QueueTask, lease time.Duration) (bool, error) {
	now := q.now()
	ok, err := q.tasks.ClaimTask(ctx, task.ID, task.Attempts, now, now.Add(lease))
	if err != nil {
		return false, err
	}
	if ok {
		task.Attempts++
	}
	return ok, nil
}

// IncrementAttempts bumps the attempt counter of a task.
func (q *Queue) IncrementAttempts(ctx context.Context, taskID int64) error {
	return q.tasks.IncrementAttempts(ctx, taskID)
}

// FailExhausted fails pending tasks that spent MaxAttempts without
// recording an outcome and whose lease has run out.
func (q *Queue) FailExhausted(ctx context.Context) ([]*storage.QueueTask, error) {
	return q.tasks.FailExhausted(ctx, MaxAttempts, q.now(), ExhaustedMessage)
}

// MarkSent records a successful delivery.
func (q *Queue) MarkSent(ctx context.Context, taskID int64) error {
	return q.tasks.MarkSent(ctx, taskID, q.now())
}

// MarkFailed records a terminal failure.
func (q *Queue) MarkFailed(ctx context.Context, taskID int64, msg string) error {
	return q.tasks.MarkFailed(ctx, taskID, msg, q.now())
}

// UpdateError records a retryable failure.
func (q *Queue) UpdateError(ctx context.Context, taskID int64, msg string) error {
	return q.tasks.UpdateError(ctx, taskID, msg)
}

// Stats returns task counts by status.
func (q *Queue) Stats(ctx context.Context) (map[string]int, error) {
	return q.tasks.CountByStatus(ctx)
}

// Log appends an audit entry, serializing Details to JSON.
func (q *Queue) Log(ctx context.Context, e Entry) error {
	details, err := encodeDetails(e.Details)
	if err != nil {
		return err
	}
	entry := storage.AuditEntry{
		Channel:   e.Channel,
		Action:    e.Action,
		Status:    e.Status,
		Details:   details,
		CreatedAt: q.now().UTC(),
	}
	if e.SubscriberID > 0 {
		id := e.SubscriberID
		entry.SubscriberID = &id
	}
	if e.DealID > 0 {
		id := e.DealID
		entry.DealID = &id
	}
	if err := q.audit.AppendAudit(ctx, entry); err != nil {
		return fmt.Errorf("writing audit entry: %w", err)
	}
	return nil
}

// RecentLog returns the newest audit entries.
func (q *Queue) RecentLog(ctx context.Context, limit int) ([]storage.AuditEntry, error) {
	return q.audit.ListAudit(ctx, limit)
}

// Cleanup deletes audit entries older than logRetentionDays and terminal
// tasks processed more than queueRetentionDays ago. Non-positive values
// fall back to the defaults.
func (q *Queue) Cleanup(ctx context.Context, logRetentionDays, queueRetentionDays int) (CleanupResult, error) {
	if logRetentionDays <= 0 {
		logRetentionDays = DefaultLogRetentionDays
	}
	if queueRetentionDays <= 0 {
		queueRetentionDays = DefaultQueueRetentionDays
	}
	now := q.now()

	var res CleanupResult
	var errs []error

	n, err := q.audit.DeleteAuditBefore(ctx, now.AddDate(0, 0, -logRetentionDays), q.location)
	if err != nil {
		errs = append(errs, err)
	}
	res.AuditDeleted = n

	n, err = q.tasks.DeleteTerminalBefore(ctx, now.AddDate(0, 0, -queueRetentionDays), q.location)
	if err != nil {
		errs = append(errs, err)
	}
	res.TasksDeleted = n

	q.logger.Info("queue cleanup finished",
		"audit_deleted", res.AuditDeleted, "tasks_deleted", res.TasksDeleted)
	return res, errors.Join(errs...)
}

func encodeDetails(v any) (string, error) {
	switch d := v.(type) {
	case nil:
		return "{}", nil
	case string:
		if json.Valid([]byte(d)) {
			return d, nil
		}
		v = map[string]string{"message": d}
	case json.RawMessage:
		return string(d), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encoding audit details: %w", err)
	}
	return string(b), nil
}
