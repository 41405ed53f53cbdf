package queue_test

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaharia-lab/dealnotify/internal/queue"
	"github.com/shaharia-lab/dealnotify/internal/storage"
)

func TestStatsCollector(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for sub := int64(1); sub <= 3; sub++ {
		_, err := f.q.EnqueueOne(ctx, sub, 10, storage.ChannelEmail)
		require.NoError(t, err)
	}
	batch, err := f.q.DequeueBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, batch, 3)
	require.NoError(t, f.q.MarkSent(ctx, batch[0].ID))

	reg := prometheus.NewRegistry()
	reg.MustRegister(queue.NewStatsCollector(f.q, 0))

	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP dealnotify_queue_tasks Tasks currently stored in the delivery queue, by status.
# TYPE dealnotify_queue_tasks gauge
dealnotify_queue_tasks{status="failed"} 0
dealnotify_queue_tasks{status="pending"} 2
dealnotify_queue_tasks{status="sent"} 1
`), "dealnotify_queue_tasks"))
}
