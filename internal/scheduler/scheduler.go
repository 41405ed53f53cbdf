package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"

	"github.com/shaharia-lab/dealnotify/internal/dispatch"
	"github.com/shaharia-lab/dealnotify/internal/queue"
)

// EventPublisher allows the scheduler to emit events without depending on a
// concrete event bus implementation.
type EventPublisher interface {
	Publish(eventType string, payload map[string]string)
}

// Event type constants for job lifecycle notifications.
const (
	EventJobFinished = "scheduler.job.finished"
	EventJobFailed   = "scheduler.job.failed"
)

// Job names.
const (
	JobProcessQueue = "process_queue"
	JobCleanup      = "cleanup"
)

// Runner is the work driven by the scheduler. *dispatch.Engine satisfies it.
type Runner interface {
	ProcessQueue(ctx context.Context) (dispatch.BatchResult, error)
	Cleanup(ctx context.Context) (queue.CleanupResult, error)
}

// Config holds the scheduler configuration.
type Config struct {
	Runner Runner
	Logger *slog.Logger
	// Interval is the period of the batch tick.
	Interval time.Duration
	// CleanupHour and CleanupMinute set the daily retention run in Location.
	CleanupHour   uint
	CleanupMinute uint
	Location      *time.Location
	// JobTimeout bounds one run of either job. Zero means Interval for the
	// batch tick and ten minutes for cleanup.
	JobTimeout time.Duration
	// EventPublisher is optional. When set, job lifecycle events are published.
	EventPublisher EventPublisher
}

// Scheduler triggers queue batches and retention cleanup using gocron.
type Scheduler struct {
	cron   gocron.Scheduler
	cfg    Config
	jobs   map[string]uuid.UUID // job name → gocron job UUID
	mu     sync.Mutex
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new Scheduler.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Runner == nil {
		return nil, fmt.Errorf("scheduler requires a runner")
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %s", cfg.Interval)
	}
	if cfg.CleanupHour > 23 || cfg.CleanupMinute > 59 {
		return nil, fmt.Errorf("cleanup time out of range: %d:%d", cfg.CleanupHour, cfg.CleanupMinute)
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	cron, err := gocron.NewScheduler(gocron.WithLocation(cfg.Location))
	if err != nil {
		return nil, fmt.Errorf("creating gocron scheduler: %w", err)
	}

	return &Scheduler{
		cron:   cron,
		cfg:    cfg,
		jobs:   make(map[string]uuid.UUID),
		logger: cfg.Logger,
	}, nil
}

// Start registers both jobs and starts the gocron scheduler. Jobs run with
// a context derived from ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))

	definitions := []struct {
		name string
		def  gocron.JobDefinition
	}{
		{JobProcessQueue, gocron.DurationJob(s.cfg.Interval)},
		{JobCleanup, gocron.DailyJob(1, gocron.NewAtTimes(
			gocron.NewAtTime(s.cfg.CleanupHour, s.cfg.CleanupMinute, 0),
		))},
	}
	for _, d := range definitions {
		name := d.name
		job, err := s.cron.NewJob(d.def,
			gocron.NewTask(func() { s.runJob(name) }),
			gocron.WithName(name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			s.cancel()
			return fmt.Errorf("scheduling %s: %w", name, err)
		}
		s.jobs[name] = job.ID()
	}

	s.cron.Start()
	s.logger.Info("scheduler started",
		"interval", s.cfg.Interval.String(),
		"cleanup_at", fmt.Sprintf("%02d:%02d", s.cfg.CleanupHour, s.cfg.CleanupMinute),
		"location", s.cfg.Location.String())
	return nil
}

// Stop cancels running jobs and shuts down the gocron scheduler.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	return s.cron.Shutdown()
}

// NextRuns returns the next scheduled run of every registered job.
func (s *Scheduler) NextRuns() map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]time.Time, len(s.jobs))
	for _, job := range s.cron.Jobs() {
		next, err := job.NextRun()
		if err != nil {
			continue
		}
		out[job.Name()] = next
	}
	return out
}
