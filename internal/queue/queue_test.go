package queue_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaharia-lab/dealnotify/internal/queue"
	"github.com/shaharia-lab/dealnotify/internal/storage"
)

type stubResolver map[int64][]storage.Channel

func (s stubResolver) AllowedChannels(_ context.Context, id int64) ([]storage.Channel, error) {
	if id == 666 {
		return nil, errors.New("lookup failed")
	}
	if ch, ok := s[id]; ok {
		return ch, nil
	}
	return []storage.Channel{storage.ChannelEmail}, nil
}

type fixture struct {
	q     *queue.Queue
	tasks *storage.SQLiteQueueStore
	audit *storage.SQLiteAuditStore
	now   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, _, err := storage.NewSQLiteDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	f := &fixture{
		tasks: storage.NewSQLiteQueueStore(db),
		audit: storage.NewSQLiteAuditStore(db),
		now:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.q = queue.New(f.tasks, f.audit, logger,
		queue.WithLocation(time.UTC),
		queue.WithClock(func() time.Time { return f.now }))
	return f
}

func TestEnqueueOne_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ok, err := f.q.EnqueueOne(ctx, 1, 10, storage.ChannelEmail)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.q.EnqueueOne(ctx, 1, 10, storage.ChannelEmail)
	require.NoError(t, err)
	assert.False(t, ok)

	stats, err := f.q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats[storage.TaskStatusPending])
}

func TestEnqueueOne_InvalidInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, tc := range []struct {
		sub, deal int64
		ch        storage.Channel
	}{
		{0, 10, storage.ChannelEmail},
		{1, 0, storage.ChannelEmail},
		{1, 10, storage.Channel("fax")},
	} {
		ok, err := f.q.EnqueueOne(ctx, tc.sub, tc.deal, tc.ch)
		require.NoError(t, err)
		assert.False(t, ok)
	}
}

func TestEnqueue_CountsInsertedOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	resolver := stubResolver{
		1: {storage.ChannelEmail, storage.ChannelTelegram},
		2: {storage.ChannelPush, storage.Channel("fax")},
	}

	n, err := f.q.Enqueue(ctx, []int64{1, 2, 3}, 10, resolver)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	// Republishing the same deal queues nothing new.
	n, err = f.q.Enqueue(ctx, []int64{1, 2, 3}, 10, resolver)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEnqueue_ResolverError(t *testing.T) {
	f := newFixture(t)
	n, err := f.q.Enqueue(context.Background(), []int64{1, 666}, 10, stubResolver{})
	require.Error(t, err)
	assert.Equal(t, 1, n)
}

func TestDequeueBatch_Ordering(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := f.now

	for i, sub := range []int64{1, 2, 3} {
		f.now = base.Add(time.Duration(i) * time.Minute)
		_, err := f.q.EnqueueOne(ctx, sub, 10, storage.ChannelEmail)
		require.NoError(t, err)
	}
	f.now = base.Add(time.Hour)

	batch, err := f.q.DequeueBatch(ctx, 2)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, int64(1), batch[0].SubscriberID)
	assert.Equal(t, int64(2), batch[1].SubscriberID)

	all, err := f.q.DequeueBatch(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestClaimAndRetryBound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.q.EnqueueOne(ctx, 1, 10, storage.ChannelEmail)
	require.NoError(t, err)

	for attempt := 1; attempt <= queue.MaxAttempts; attempt++ {
		batch, err := f.q.DequeueBatch(ctx, 10)
		require.NoError(t, err)
		require.Len(t, batch, 1, "attempt %d", attempt)

		ok, err := f.q.Claim(ctx, batch[0], time.Minute)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, attempt, batch[0].Attempts)

		require.NoError(t, f.q.UpdateError(ctx, batch[0].ID, "not configured"))
	}

	batch, err := f.q.DequeueBatch(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, batch)
}

func TestClaim_ConcurrentBatchLoses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.q.EnqueueOne(ctx, 1, 10, storage.ChannelEmail)
	require.NoError(t, err)

	a, err := f.q.DequeueBatch(ctx, 10)
	require.NoError(t, err)
	b, err := f.q.DequeueBatch(ctx, 10)
	require.NoError(t, err)

	ok, err := f.q.Claim(ctx, a[0], time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.q.Claim(ctx, b[0], time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, b[0].Attempts)
}

func TestMarkSentAndFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _ = f.q.EnqueueOne(ctx, 1, 10, storage.ChannelEmail)
	_, _ = f.q.EnqueueOne(ctx, 2, 10, storage.ChannelEmail)
	batch, err := f.q.DequeueBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, batch, 2)

	require.NoError(t, f.q.MarkSent(ctx, batch[0].ID))
	require.NoError(t, f.q.MarkFailed(ctx, batch[1].ID, "subscriber not found"))

	failed, err := f.tasks.GetTask(ctx, batch[1].ID)
	require.NoError(t, err)
	assert.Equal(t, storage.TaskStatusFailed, failed.Status)
	assert.Equal(t, "subscriber not found", failed.ErrorMessage)
	require.NotNil(t, failed.ProcessedAt)
	assert.True(t, failed.ProcessedAt.Equal(f.now))

	// A sent task still blocks a duplicate.
	ok, err := f.q.EnqueueOne(ctx, 1, 10, storage.ChannelEmail)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLog_SerializesDetails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.q.Log(ctx, queue.Entry{
		SubscriberID: 1,
		DealID:       10,
		Channel:      storage.ChannelTelegram,
		Action:       storage.AuditActionSend,
		Status:       storage.AuditStatusFailed,
		Details:      map[string]any{"message": "chat not found", "attempt": 2},
	}))
	require.NoError(t, f.q.Log(ctx, queue.Entry{
		DealID:  10,
		Action:  storage.AuditActionEnqueue,
		Status:  storage.AuditStatusSuccess,
		Details: "plain text",
	}))

	entries, err := f.q.RecentLog(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	byAction := map[string]storage.AuditEntry{}
	for _, e := range entries {
		byAction[e.Action] = e
	}

	send := byAction[storage.AuditActionSend]
	var details map[string]any
	require.NoError(t, json.Unmarshal([]byte(send.Details), &details))
	assert.Equal(t, "chat not found", details["message"])
	assert.EqualValues(t, 2, details["attempt"])

	enq := byAction[storage.AuditActionEnqueue]
	assert.Nil(t, enq.SubscriberID)
	assert.JSONEq(t, `{"message":"plain text"}`, enq.Details)
}

func TestCleanup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	start := f.now

	_, _ = f.q.EnqueueOne(ctx, 1, 10, storage.ChannelEmail)
	_, _ = f.q.EnqueueOne(ctx, 2, 10, storage.ChannelEmail)
	batch, _ := f.q.DequeueBatch(ctx, 10)
	require.Len(t, batch, 2)
	require.NoError(t, f.q.MarkSent(ctx, batch[0].ID))
	require.NoError(t, f.q.Log(ctx, queue.Entry{Action: storage.AuditActionSend, Status: storage.AuditStatusSuccess}))

	f.now = start.AddDate(0, 0, 8)
	res, err := f.q.Cleanup(ctx, 30, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.TasksDeleted)
	assert.Zero(t, res.AuditDeleted)

	f.now = start.AddDate(0, 0, 31)
	res, err = f.q.Cleanup(ctx, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.AuditDeleted)

	stats, err := f.q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats[storage.TaskStatusPending], "pending tasks are never cleaned up")
}

func TestFailExhausted_WaitsForLease(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.q.EnqueueOne(ctx, 1, 10, storage.ChannelEmail)
	require.NoError(t, err)
	for attempt := 1; attempt <= queue.MaxAttempts; attempt++ {
		batch, err := f.q.DequeueBatch(ctx, 10)
		require.NoError(t, err)
		require.Len(t, batch, 1)
		ok, err := f.q.Claim(ctx, batch[0], time.Minute)
		require.NoError(t, err)
		require.True(t, ok)
		if attempt < queue.MaxAttempts {
			require.NoError(t, f.q.UpdateError(ctx, batch[0].ID, "timeout"))
		}
	}

	failed, err := f.q.FailExhausted(ctx)
	require.NoError(t, err)
	assert.Empty(t, failed, "the last attempt is still leased")

	f.now = f.now.Add(2 * time.Minute)
	failed, err = f.q.FailExhausted(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, storage.TaskStatusFailed, failed[0].Status)
	assert.Equal(t, queue.ExhaustedMessage+": timeout", failed[0].ErrorMessage)

	stats, err := f.q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats[storage.TaskStatusFailed])
	assert.Equal(t, 0, stats[storage.TaskStatusPending])
}
