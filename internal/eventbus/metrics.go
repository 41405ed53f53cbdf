package eventbus

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/shaharia-lab/dealnotify/internal/dispatch"
	"github.com/shaharia-lab/dealnotify/internal/scheduler"
)

// Metrics holds the Prometheus collectors fed by dispatch events.
type Metrics struct {
	DealsQueued prometheus.Counter
	TasksQueued prometheus.Counter
	TasksSent   *prometheus.CounterVec
	TasksFailed *prometheus.CounterVec
	JobRuns     *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		DealsQueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dealnotify",
			Name:      "deals_queued_total",
			Help:      "Published deals that queued at least one notification.",
		}),
		TasksQueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dealnotify",
			Name:      "tasks_queued_total",
			Help:      "Notification tasks inserted into the queue.",
		}),
		TasksSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dealnotify",
			Name:      "tasks_sent_total",
			Help:      "Notifications delivered, by channel.",
		}, []string{"channel"}),
		TasksFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dealnotify",
			Name:      "tasks_failed_total",
			Help:      "Notifications that exhausted their attempts, by channel.",
		}, []string{"channel"}),
		JobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dealnotify",
			Name:      "scheduler_job_runs_total",
			Help:      "Scheduled job runs, by job and outcome.",
		}, []string{"job", "status"}),
	}
	reg.MustRegister(m.DealsQueued, m.TasksQueued, m.TasksSent, m.TasksFailed, m.JobRuns)
	return m
}

// ObserveBus exposes the health of b on reg.
func ObserveBus(reg prometheus.Registerer, b *Bus) {
	reg.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "dealnotify",
			Name:      "eventbus_dropped_total",
			Help:      "Lifecycle events discarded because the bus was full or closed.",
		}, func() float64 { return float64(b.Dropped()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "dealnotify",
			Name:      "eventbus_pending",
			Help:      "Lifecycle events waiting for delivery.",
		}, func() float64 { return float64(b.Pending()) }),
	)
}

// Listener returns the bus listener that updates m.
func (m *Metrics) Listener() Listener {
	return func(e Event) {
		switch e.Type {
		case dispatch.EventDealQueued:
			m.DealsQueued.Inc()
			if n, err := strconv.Atoi(e.Payload["queued"]); err == nil {
				m.TasksQueued.Add(float64(n))
			}
		case dispatch.EventTaskSent:
			m.TasksSent.WithLabelValues(e.Payload["channel"]).Inc()
		case dispatch.EventTaskFailed:
			m.TasksFailed.WithLabelValues(e.Payload["channel"]).Inc()
		case scheduler.EventJobFinished:
			m.JobRuns.WithLabelValues(e.Payload["job"], "success").Inc()
		case scheduler.EventJobFailed:
			m.JobRuns.WithLabelValues(e.Payload["job"], "failed").Inc()
		}
	}
}
