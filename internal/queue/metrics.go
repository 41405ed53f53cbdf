package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/shaharia-lab/dealnotify/internal/storage"
)

var tasksDesc = prometheus.NewDesc(
	"dealnotify_queue_tasks",
	"Tasks currently stored in the delivery queue, by status.",
	[]string{"status"}, nil,
)

// StatsCollector reports queue depth on every scrape.
type StatsCollector struct {
	queue   *Queue
	timeout time.Duration
	logger  *slog.Logger
}

// NewStatsCollector returns a collector reading q.Stats with the given
// per-scrape timeout.
func NewStatsCollector(q *Queue, timeout time.Duration) *StatsCollector {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &StatsCollector{queue: q, timeout: timeout, logger: q.logger}
}

// Describe implements prometheus.Collector.
func (c *StatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- tasksDesc
}

// Collect implements prometheus.Collector. Every known status is reported,
// with zero for statuses that have no rows.
func (c *StatsCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	counts, err := c.queue.Stats(ctx)
	if err != nil {
		c.logger.Warn("collecting queue stats", "error", err)
		ch <- prometheus.NewInvalidMetric(tasksDesc, err)
		return
	}
	for _, status := range []string{storage.TaskStatusPending, storage.TaskStatusSent, storage.TaskStatusFailed} {
		ch <- prometheus.MustNewConstMetric(tasksDesc, prometheus.GaugeValue, float64(counts[status]), status)
	}
}
