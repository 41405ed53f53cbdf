package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

const defaultCleanupTimeout = 10 * time.Minute

// runJob executes one run of the named job and publishes its outcome.
func (s *Scheduler) runJob(name string) {
	s.mu.Lock()
	parent := s.ctx
	s.mu.Unlock()
	if parent == nil {
		parent = context.Background()
	}

	ctx, cancel := context.WithTimeout(parent, s.timeoutFor(name))
	defer cancel()

	startedAt := time.Now()
	summary, err := s.execute(ctx, name)
	elapsed := time.Since(startedAt)

	if err != nil {
		s.logger.Error("scheduled job failed", "job", name, "duration", elapsed.String(), "error", err)
		s.publish(EventJobFailed, map[string]string{
			"job":         name,
			"duration_ms": strconv.FormatInt(elapsed.Milliseconds(), 10),
			"error":       err.Error(),
		})
		return
	}

	s.logger.Debug("scheduled job finished", "job", name, "duration", elapsed.String(), "summary", summary)
	payload := map[string]string{
		"job":         name,
		"duration_ms": strconv.FormatInt(elapsed.Milliseconds(), 10),
	}
	for k, v := range summary {
		payload[k] = v
	}
	s.publish(EventJobFinished, payload)
}

func (s *Scheduler) execute(ctx context.Context, name string) (map[string]string, error) {
	switch name {
	case JobProcessQueue:
		res, err := s.cfg.Runner.ProcessQueue(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]string{
			"batch_id":  res.ID,
			"busy":      strconv.FormatBool(res.Busy),
			"processed": strconv.Itoa(res.Processed),
			"sent":      strconv.Itoa(res.Sent),
			"failed":    strconv.Itoa(res.Failed),
		}, nil
	case JobCleanup:
		res, err := s.cfg.Runner.Cleanup(ctx)
		if err != nil {
			return nil, err
		}
		s.logger.Info("retention cleanup finished",
			"audit_deleted", res.AuditDeleted, "tasks_deleted", res.TasksDeleted,
			"tasks_exhausted", res.TasksExhausted)
		return map[string]string{
			"audit_deleted":   strconv.FormatInt(res.AuditDeleted, 10),
			"tasks_deleted":   strconv.FormatInt(res.TasksDeleted, 10),
			"tasks_exhausted": strconv.Itoa(res.TasksExhausted),
		}, nil
	default:
		return nil, fmt.Errorf("unknown job %q", name)
	}
}

func (s *Scheduler) timeoutFor(name string) time.Duration {
	if s.cfg.JobTimeout > 0 {
		return s.cfg.JobTimeout
	}
	if name == JobProcessQueue {
		return s.cfg.Interval
	}
	return defaultCleanupTimeout
}

func (s *Scheduler) publish(eventType string, payload map[string]string) {
	if s.cfg.EventPublisher == nil {
		return
	}
	s.cfg.EventPublisher.Publish(eventType, payload)
}
