// Package dispatch turns published deals into queued notifications and
// drains the queue through the channel senders.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/shaharia-lab/dealnotify/internal/notification"
	"github.com/shaharia-lab/dealnotify/internal/queue"
	"github.com/shaharia-lab/dealnotify/internal/storage"
)

// Lifecycle event types published by the engine.
const (
	EventDealQueued = "dispatch.deal.queued"
	EventTaskSent   = "dispatch.task.sent"
	EventTaskFailed = "dispatch.task.failed"
)

// ErrInvalidContent is returned for content items without an id.
var ErrInvalidContent = errors.New("content item has no id")

const (
	defaultLease = 5 * time.Minute
	// processLockKey is namespaced by the Locker.
	processLockKey = "process-queue"
	// settleTimeout bounds the bookkeeping that follows a claim.
	settleTimeout = 30 * time.Second
)

// Matcher finds subscribers interested in a deal and the channels they accept.
type Matcher interface {
	FindMatchingSubscribers(ctx context.Context, deal *storage.Deal) ([]int64, error)
	queue.ChannelResolver
}

// EventPublisher is the interface for publishing lifecycle events.
type EventPublisher interface {
	Publish(eventType string, payload map[string]string)
}

// Locker serializes batches across processes. Acquire returns acquired=false
// when another holder owns key.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(context.Context) error, acquired bool, err error)
}

// Config holds the engine's runtime switches.
type Config struct {
	// Enabled is the global on/off switch for publish handling.
	Enabled bool
	// ProcessImmediately runs a batch inline after every publish that queued work.
	ProcessImmediately bool
	BatchSize          int
	LogRetentionDays   int
	QueueRetentionDays int
	// Lease is how long a claimed task stays invisible to other batches.
	Lease time.Duration
}

// PublishResult summarizes one OnContentPublished call.
type PublishResult struct {
	DealID  int64        `json:"deal_id"`
	Skipped bool         `json:"skipped"`
	Reason  string       `json:"reason,omitempty"`
	Matched int          `json:"matched"`
	Queued  int          `json:"queued"`
	Batch   *BatchResult `json:"batch,omitempty"`
}

// BatchResult summarizes one ProcessQueue call.
type BatchResult struct {
	ID        string `json:"id"`
	Busy      bool   `json:"busy,omitempty"`
	Processed int    `json:"processed"`
	Sent      int    `json:"sent"`
	Retried   int    `json:"retried"`
	Failed    int    `json:"failed"`
	Skipped   int    `json:"skipped"`
	Errors    int    `json:"errors"`
}

// Engine is the dispatch orchestrator. Construct one per process with New.
type Engine struct {
	matcher     Matcher
	queue       *queue.Queue
	deals       storage.DealStore
	subscribers storage.SubscriberStore
	senders     *notification.Registry
	cfg         Config
	logger      *slog.Logger

	classify Classifier
	events   EventPublisher
	locker   Locker
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClassifier replaces the deal classifier.
func WithClassifier(c Classifier) Option {
	return func(e *Engine) { e.classify = c }
}

// WithEventPublisher sets where lifecycle events go.
func WithEventPublisher(p EventPublisher) Option {
	return func(e *Engine) { e.events = p }
}

// WithLocker guards ProcessQueue with l.
func WithLocker(l Locker) Option {
	return func(e *Engine) { e.locker = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an Engine.
func New(
	matcher Matcher,
	q *queue.Queue,
	deals storage.DealStore,
	subscribers storage.SubscriberStore,
	senders *notification.Registry,
	cfg Config,
	logger *slog.Logger,
	opts ...Option,
) *Engine {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = queue.DefaultBatchSize
	}
	if cfg.Lease <= 0 {
		cfg.Lease = defaultLease
	}
	e := &Engine{
		matcher:     matcher,
		queue:       q,
		deals:       deals,
		subscribers: subscribers,
		senders:     senders,
		cfg:         cfg,
		logger:      logger,
		classify:    CategoryClassifier("deals", ""),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// OnContentPublished handles a content item entering the published state.
// Calling it again for the same item queues nothing new.
func (e *Engine) OnContentPublished(ctx context.Context, item *ContentItem) (PublishResult, error) {
	if item == nil || item.ID <= 0 {
		return PublishResult{}, ErrInvalidContent
	}
	res := PublishResult{DealID: item.ID}

	switch {
	case !e.cfg.Enabled:
		res.Skipped, res.Reason = true, "notifications disabled"
	case item.Status != StatusPublished:
		res.Skipped, res.Reason = true, "content not published"
	case !e.classify(item):
		res.Skipped, res.Reason = true, "content is not a deal"
	}
	if res.Skipped {
		e.logger.Debug("publish event ignored", "content_id", item.ID, "reason", res.Reason)
		return res, nil
	}

	deal := ExtractDeal(item, e.now())
	if err := e.deals.SaveDeal(ctx, deal); err != nil {
		return res, err
	}

	ids, err := e.matcher.FindMatchingSubscribers(ctx, deal)
	if err != nil {
		return res, fmt.Errorf("matching subscribers for deal %d: %w", deal.ID, err)
	}
	res.Matched = len(ids)

	queued, err := e.queue.Enqueue(ctx, ids, deal.ID, e.matcher)
	res.Queued = queued
	if err != nil {
		return res, err
	}

	if queued > 0 {
		e.audit(ctx, queue.Entry{
			DealID: deal.ID,
			Action: storage.AuditActionEnqueue,
			Status: storage.AuditStatusSuccess,
			Details: map[string]any{
				"title":    deal.Title,
				"discount": deal.DiscountPercent,
				"matched":  res.Matched,
				"queued":   queued,
			},
		})
		e.publish(EventDealQueued, map[string]string{
			"deal_id": strconv.FormatInt(deal.ID, 10),
			"matched": strconv.Itoa(res.Matched),
			"queued":  strconv.Itoa(queued),
		})
	}
	e.logger.Info("deal processed",
		"deal_id", deal.ID, "discount", deal.DiscountPercent,
		"matched", res.Matched, "queued", queued)

	if e.cfg.ProcessImmediately && queued > 0 {
		batch, err := e.ProcessQueue(ctx)
		if err != nil {
			return res, fmt.Errorf("processing queue inline: %w", err)
		}
		res.Batch = &batch
	}
	return res, nil
}

// ProcessQueue pulls one batch of due tasks and attempts each once. A
// failing task never stops the rest of the batch.
func (e *Engine) ProcessQueue(ctx context.Context) (BatchResult, error) {
	res := BatchResult{ID: uuid.NewString()}

	if e.locker != nil {
		unlock, ok, err := e.locker.Acquire(ctx, processLockKey, e.cfg.Lease)
		if err != nil {
			return res, fmt.Errorf("acquiring batch lock: %w", err)
		}
		if !ok {
			e.logger.Info("queue batch already running elsewhere", "batch_id", res.ID)
			res.Busy = true
			return res, nil
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				e.logger.Warn("releasing batch lock", "batch_id", res.ID, "error", err)
			}
		}()
	}

	tasks, err := e.queue.DequeueBatch(ctx, e.cfg.BatchSize)
	if err != nil {
		return res, err
	}

	start := e.now()
	for _, task := range tasks {
		if ctx.Err() != nil {
			break
		}
		e.processTask(ctx, res.ID, task, &res)
	}

	if len(tasks) > 0 {
		e.logger.Info("queue batch finished",
			"batch_id", res.ID,
			"processed", res.Processed,
			"sent", res.Sent,
			"retried", res.Retried,
			"failed", res.Failed,
			"skipped", res.Skipped,
			"errors", res.Errors,
			"duration", e.now().Sub(start).String(),
		)
	}
	return res, ctx.Err()
}

// Cleanup fails tasks stranded after their last attempt, then applies the
// configured retention windows.
func (e *Engine) Cleanup(ctx context.Context) (queue.CleanupResult, error) {
	var errs []error
	stranded, err := e.queue.FailExhausted(ctx)
	if err != nil {
		errs = append(errs, err)
	}
	for _, task := range stranded {
		e.logger.Warn("notification failed permanently",
			"task_id", task.ID, "attempt", task.Attempts, "error", task.ErrorMessage)
		e.audit(ctx, e.taskEntry(task, storage.AuditActionSend, storage.AuditStatusFailed, task.ErrorMessage, ""))
		e.publish(EventTaskFailed, taskPayload(task, task.ErrorMessage))
	}

	res, err := e.queue.Cleanup(ctx, e.cfg.LogRetentionDays, e.cfg.QueueRetentionDays)
	res.TasksExhausted = len(stranded)
	if err != nil {
		errs = append(errs, err)
	}
	err = errors.Join(errs...)

	status := storage.AuditStatusSuccess
	if err != nil {
		status = storage.AuditStatusFailed
	}
	e.audit(ctx, queue.Entry{
		Action:  storage.AuditActionCleanup,
		Status:  status,
		Details: res,
	})
	return res, err
}

func (e *Engine) processTask(ctx context.Context, batchID string, task *storage.QueueTask, res *BatchResult) {
	log := e.logger.With("batch_id", batchID, "task_id", task.ID,
		"subscriber_id", task.SubscriberID, "deal_id", task.DealID, "channel", task.Channel)

	claimed, err := e.queue.Claim(ctx, task, e.cfg.Lease)
	if err != nil {
		log.Error("claiming task", "error", err)
		res.Errors++
		return
	}
	if !claimed {
		log.Info("task claimed by another batch")
		res.Skipped++
		e.audit(ctx, e.taskEntry(task, storage.AuditActionSkip, storage.AuditStatusSkipped,
			"claimed by another batch", batchID))
		return
	}
	res.Processed++

	// A claimed task always records its outcome, even after ctx ends.
	settled, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	deal, sub, missing, err := e.resolve(settled, task)
	if err != nil {
		// Storage trouble is retryable; it counts as an attempt like any other failure.
		e.fail(settled, log, batchID, task, err.Error(), res)
		return
	}
	if missing != "" {
		e.finalize(settled, log, batchID, task, missing, res)
		return
	}

	sender, ok := e.senders.Lookup(task.Channel)
	var result notification.Result
	if !ok {
		result = notification.Failed("unknown delivery method")
	} else {
		result = safeSend(ctx, sender, sub, deal)
	}

	if !result.Success {
		e.fail(settled, log, batchID, task, result.Message, res)
		return
	}

	if err := e.queue.MarkSent(settled, task.ID); err != nil {
		log.Error("marking task sent", "error", err)
		res.Errors++
		return
	}
	res.Sent++
	log.Info("notification sent", "attempt", task.Attempts, "message", result.Message)
	e.audit(settled, e.taskEntry(task, storage.AuditActionSend, storage.AuditStatusSuccess, result.Message, batchID))
	e.publish(EventTaskSent, taskPayload(task, ""))
}

// resolve loads the task's deal and subscriber. missing is non-empty when
// either record no longer exists.
func (e *Engine) resolve(ctx context.Context, task *storage.QueueTask) (*storage.Deal, *storage.Subscriber, string, error) {
	deal, err := e.deals.GetDeal(ctx, task.DealID)
	if err != nil {
		return nil, nil, "", err
	}
	if deal == nil {
		return nil, nil, fmt.Sprintf("deal %d not found", task.DealID), nil
	}
	sub, err := e.subscribers.GetSubscriber(ctx, task.SubscriberID)
	if err != nil {
		return nil, nil, "", err
	}
	if sub == nil {
		return nil, nil, fmt.Sprintf("subscriber %d not found", task.SubscriberID), nil
	}
	return deal, sub, "", nil
}

// fail records a failed attempt: retry while attempts remain, otherwise
// finalize.
func (e *Engine) fail(ctx context.Context, log *slog.Logger, batchID string, task *storage.QueueTask, msg string, res *BatchResult) {
	if task.Attempts >= queue.MaxAttempts {
		e.finalize(ctx, log, batchID, task, msg, res)
		return
	}
	if err := e.queue.UpdateError(ctx, task.ID, msg); err != nil {
		log.Error("recording task error", "error", err)
		res.Errors++
		return
	}
	res.Retried++
	log.Warn("notification attempt failed, will retry",
		"attempt", task.Attempts, "max_attempts", queue.MaxAttempts, "error", msg)
}

func (e *Engine) finalize(ctx context.Context, log *slog.Logger, batchID string, task *storage.QueueTask, msg string, res *BatchResult) {
	if err := e.queue.MarkFailed(ctx, task.ID, msg); err != nil {
		log.Error("marking task failed", "error", err)
		res.Errors++
		return
	}
	res.Failed++
	log.Warn("notification failed permanently", "attempt", task.Attempts, "error", msg)
	e.audit(ctx, e.taskEntry(task, storage.AuditActionSend, storage.AuditStatusFailed, msg, batchID))
	e.publish(EventTaskFailed, taskPayload(task, msg))
}

func (e *Engine) taskEntry(task *storage.QueueTask, action, status, msg, batchID string) queue.Entry {
	return queue.Entry{
		SubscriberID: task.SubscriberID,
		DealID:       task.DealID,
		Channel:      task.Channel,
		Action:       action,
		Status:       status,
		Details: map[string]any{
			"task_id":  task.ID,
			"attempt":  task.Attempts,
			"message":  msg,
			"batch_id": batchID,
		},
	}
}

// audit writes an audit entry. Audit failures are logged, never returned:
// the delivery outcome is already recorded on the task.
func (e *Engine) audit(ctx context.Context, entry queue.Entry) {
	if err := e.queue.Log(ctx, entry); err != nil {
		e.logger.Error("writing audit entry", "action", entry.Action, "error", err)
	}
}

func (e *Engine) publish(eventType string, payload map[string]string) {
	if e.events != nil {
		e.events.Publish(eventType, payload)
	}
}

func taskPayload(task *storage.QueueTask, msg string) map[string]string {
	p := map[string]string{
		"task_id":       strconv.FormatInt(task.ID, 10),
		"subscriber_id": strconv.FormatInt(task.SubscriberID, 10),
		"deal_id":       strconv.FormatInt(task.DealID, 10),
		"channel":       string(task.Channel),
		"attempts":      strconv.Itoa(task.Attempts),
	}
	if msg != "" {
		p["error"] = msg
	}
	return p
}

// safeSend converts a sender panic into a failed result.
func safeSend(ctx context.Context, s notification.Sender, sub *storage.Subscriber, deal *storage.Deal) (res notification.Result) {
	defer func() {
		if r := recover(); r != nil {
			res = notification.Failed("sender panicked: %v", r)
		}
	}()
	return s.Send(ctx, sub, deal)
}
