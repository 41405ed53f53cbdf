package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/shaharia-lab/dealnotify/internal/build"
	"github.com/shaharia-lab/dealnotify/internal/config"
	"github.com/shaharia-lab/dealnotify/internal/dispatch"
	"github.com/shaharia-lab/dealnotify/internal/eventbus"
	"github.com/shaharia-lab/dealnotify/internal/filter"
	"github.com/shaharia-lab/dealnotify/internal/lock"
	"github.com/shaharia-lab/dealnotify/internal/logger"
	"github.com/shaharia-lab/dealnotify/internal/notification"
	"github.com/shaharia-lab/dealnotify/internal/queue"
	"github.com/shaharia-lab/dealnotify/internal/scheduler"
	"github.com/shaharia-lab/dealnotify/internal/storage"
)

const lockPrefix = "dealnotify:"

// app is the wired dependency graph shared by every subcommand.
type app struct {
	cfg      *config.AppConfig
	logger   *slog.Logger
	db       *sql.DB
	bus      *eventbus.Bus
	registry *prometheus.Registry
	channels notification.ChannelsConfig

	subscribers   storage.SubscriberStore
	verifications storage.VerificationStore
	queue         *queue.Queue
	senders       *notification.Registry
	engine        *dispatch.Engine

	closers []io.Closer
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// newApp opens storage and builds the dispatch engine. stderrLogs mirrors
// the system log to standard error for one-shot commands.
func newApp(ctx context.Context, cfg *config.AppConfig, stderrLogs bool) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	sysLogger, logCloser, err := logger.NewSystemLogger(cfg.LogDir(), cfg.SlogLevel(), logger.Options{Stderr: stderrLogs})
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	a.logger = sysLogger
	a.closers = append(a.closers, logCloser)

	a.logger.Info("dealnotify starting",
		slog.String("data_dir", cfg.DataDir),
		slog.String("version", build.Version),
		slog.String("commit", build.CommitSHA),
		slog.String("build_date", build.BuildDate),
	)

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	db, fresh, err := storage.NewSQLiteDB(cfg.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	a.db = db
	a.closers = append(a.closers, db)
	if fresh {
		a.logger.Info("created new database", "path", cfg.DatabasePath())
	}

	a.channels, err = config.LoadChannels(cfg.ChannelsPath())
	if err != nil {
		return nil, fmt.Errorf("loading channels: %w", err)
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := eventbus.NewMetrics(a.registry)

	a.bus = eventbus.New(eventbus.Options{}, a.logger.With("component", "eventbus"))
	a.bus.Subscribe(metrics.Listener())
	a.bus.Subscribe(eventbus.LogListener(a.logger.With("component", "lifecycle"),
		dispatch.EventTaskFailed, scheduler.EventJobFailed))
	eventbus.ObserveBus(a.registry, a.bus)
	a.closers = append(a.closers, closerFunc(func() error { a.bus.Close(); return nil }))

	locker, err := a.newLocker(ctx)
	if err != nil {
		return nil, err
	}

	a.subscribers = storage.NewSQLiteSubscriberStore(db)
	a.verifications = storage.NewSQLiteVerificationStore(db)
	a.queue = queue.New(
		storage.NewSQLiteQueueStore(db),
		storage.NewSQLiteAuditStore(db),
		a.logger.With("component", "queue"),
		queue.WithLocation(loc),
	)
	a.registry.MustRegister(queue.NewStatsCollector(a.queue, 0))

	a.senders = notification.NewRegistry(a.channels.Senders(cfg.SiteName)...)
	a.logger.Info("delivery channels", "enabled", a.senders.Channels())

	a.engine = dispatch.New(
		filter.New(a.subscribers, a.logger.With("component", "filter")),
		a.queue,
		storage.NewSQLiteDealStore(db),
		a.subscribers,
		a.senders,
		dispatch.Config{
			Enabled:            cfg.NotifyEnabled,
			ProcessImmediately: cfg.ProcessImmediately,
			BatchSize:          cfg.BatchSize,
			LogRetentionDays:   cfg.LogRetentionDays,
			QueueRetentionDays: cfg.QueueRetentionDays,
		},
		a.logger.With("component", "dispatch"),
		dispatch.WithClassifier(dispatch.CategoryClassifier(cfg.DealsCategory, cfg.DealFlagMeta)),
		dispatch.WithEventPublisher(a.bus),
		dispatch.WithLocker(locker),
	)
	return a, nil
}

func (a *app) newLocker(ctx context.Context) (dispatch.Locker, error) {
	if a.cfg.RedisURL == "" {
		return lock.NewLocal(), nil
	}
	r, err := lock.NewRedisFromURL(ctx, a.cfg.RedisURL, lockPrefix)
	if err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	a.closers = append(a.closers, r)
	a.logger.Info("using redis batch lock")
	return r, nil
}

// telegram returns the bot client used for webhook replies, or nil when no
// bot token is configured.
func (a *app) telegram() *notification.TelegramSender {
	if !a.channels.Telegram.Configured() {
		return nil
	}
	return notification.NewTelegramSender(a.channels.Telegram.TelegramConfig, a.channels.Telegram.Timeout)
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil && a.logger != nil {
			a.logger.Warn("closing resource", "error", err)
		}
	}
	a.closers = nil
}
