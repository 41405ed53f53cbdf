package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLiteQueueStore implements QueueStore backed by SQLite.
type SQLiteQueueStore struct {
	db *sql.DB
}

// NewSQLiteQueueStore returns a new SQLiteQueueStore.
func NewSQLiteQueueStore(db *sql.DB) *SQLiteQueueStore {
	return &SQLiteQueueStore{db: db}
}

const taskColumns = `id, subscriber_id, deal_id, channel, status, attempts,
	scheduled_at, processed_at, error_message, created_at`

func scanTask(row rowScanner) (*QueueTask, error) {
	t := &QueueTask{}
	var scheduledAt, createdAt string
	var processedAt, errMsg sql.NullString
	if err := row.Scan(&t.ID, &t.SubscriberID, &t.DealID, &t.Channel, &t.Status,
		&t.Attempts, &scheduledAt, &processedAt, &errMsg, &createdAt); err != nil {
		return nil, err
	}

	var err error
	if t.ScheduledAt, err = parseTime(scheduledAt); err != nil {
		return nil, err
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if processedAt.Valid {
		pt, err := parseTime(processedAt.String)
		if err != nil {
			return nil, err
		}
		t.ProcessedAt = &pt
	}
	t.ErrorMessage = errMsg.String
	return t, nil
}

// InsertTask relies on the partial unique index over active triples, so the
// duplicate check and the insert are a single statement.
func (s *SQLiteQueueStore) InsertTask(ctx context.Context, subscriberID, dealID int64, channel Channel, scheduledAt time.Time) (bool, error) {
	now := FormatTime(time.Now().UTC())
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO queue_tasks (subscriber_id, deal_id, channel, status, attempts, scheduled_at, created_at)
		VALUES (?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT DO NOTHING`,
		subscriberID, dealID, string(channel), TaskStatusPending,
		FormatTime(scheduledAt.UTC()), now,
	)
	if err != nil {
		return false, fmt.Errorf("inserting task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("inserting task: %w", err)
	}
	return n == 1, nil
}

// ListDueTasks returns due pending tasks ordered by scheduled_at ascending.
func (s *SQLiteQueueStore) ListDueTasks(ctx context.Context, q DueQuery) ([]*QueueTask, error) {
	loc := q.Location
	if loc == nil {
		loc = time.Local
	}
	nowUTC := FormatTime(q.Now.UTC())
	nowLocal := FormatTime(q.Now.In(loc))

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+`
		FROM queue_tasks
		WHERE status = ?
		  AND attempts < ?
		  AND (scheduled_at <= ? OR scheduled_at <= ?)
		  AND (locked_until IS NULL OR locked_until <= ?)
		ORDER BY scheduled_at ASC, id ASC
		LIMIT ?`,
		TaskStatusPending, q.MaxAttempts, nowUTC, nowLocal, nowUTC, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("querying due tasks: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	tasks := make([]*QueueTask, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning task row: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating task rows: %w", err)
	}
	return tasks, nil
}

// ClaimTask is a compare-and-swap on (status, attempts, lease).
func (s *SQLiteQueueStore) ClaimTask(ctx context.Context, id int64, expectedAttempts int, now, leaseUntil time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE queue_tasks
		SET attempts = attempts + 1, locked_until = ?
		WHERE id = ? AND status = ? AND attempts = ?
		  AND (locked_until IS NULL OR locked_until <= ?)`,
		FormatTime(leaseUntil.UTC()), id, TaskStatusPending, expectedAttempts,
		FormatTime(now.UTC()),
	)
	if err != nil {
		return false, fmt.Errorf("claiming task %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claiming task %d: %w", id, err)
	}
	return n == 1, nil
}

// IncrementAttempts bumps the attempt counter of a task.
func (s *SQLiteQueueStore) IncrementAttempts(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE queue_tasks SET attempts = attempts + 1 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("incrementing attempts of task %d: %w", id, err)
	}
	return nil
}

// MarkSent moves a pending task to sent.
func (s *SQLiteQueueStore) MarkSent(ctx context.Context, id int64, at time.Time) error {
	return s.transition(ctx, id, "marking task sent", `
		UPDATE queue_tasks
		SET status = ?, processed_at = ?, error_message = NULL, locked_until = NULL
		WHERE id = ? AND status = ?`,
		TaskStatusSent, FormatTime(at.UTC()), id, TaskStatusPending)
}

// MarkFailed moves a pending task to failed.
func (s *SQLiteQueueStore) MarkFailed(ctx context.Context, id int64, msg string, at time.Time) error {
	return s.transition(ctx, id, "marking task failed", `
		UPDATE queue_tasks
		SET status = ?, processed_at = ?, error_message = ?, locked_until = NULL
		WHERE id = ? AND status = ?`,
		TaskStatusFailed, FormatTime(at.UTC()), msg, id, TaskStatusPending)
}

// FailExhausted settles rows whose final attempt never recorded an outcome,
// for example after a crash between claim and transition. The last error,
// when present, is kept after msg.
func (s *SQLiteQueueStore) FailExhausted(ctx context.Context, maxAttempts int, now time.Time, msg string) ([]*QueueTask, error) {
	nowUTC := FormatTime(now.UTC())
	var failed []*QueueTask
	err := inTx(ctx, s.db, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT `+taskColumns+`
			FROM queue_tasks
			WHERE status = ?
			  AND attempts >= ?
			  AND (locked_until IS NULL OR locked_until <= ?)
			ORDER BY id ASC`,
			TaskStatusPending, maxAttempts, nowUTC)
		if err != nil {
			return err
		}
		var stranded []*QueueTask
		for rows.Next() {
			t, err := scanTask(rows)
			if err != nil {
				_ = rows.Close()
				return err
			}
			stranded = append(stranded, t)
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return err
		}
		if err := rows.Close(); err != nil {
			return err
		}

		for _, t := range stranded {
			reason := msg
			if t.ErrorMessage != "" {
				reason = msg + ": " + t.ErrorMessage
			}
			res, err := tx.ExecContext(ctx, `
				UPDATE queue_tasks
				SET status = ?, processed_at = ?, error_message = ?, locked_until = NULL
				WHERE id = ? AND status = ?`,
				TaskStatusFailed, nowUTC, reason, t.ID, TaskStatusPending)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if n == 0 {
				continue
			}
			processed := now.UTC().Truncate(time.Second)
			t.Status = TaskStatusFailed
			t.ErrorMessage = reason
			t.ProcessedAt = &processed
			failed = append(failed, t)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failing exhausted tasks: %w", err)
	}
	return failed, nil
}

// UpdateError records the last failure and makes the task visible to the next batch.
func (s *SQLiteQueueStore) UpdateError(ctx context.Context, id int64, msg string) error {
	return s.transition(ctx, id, "updating task error", `
		UPDATE queue_tasks
		SET error_message = ?, locked_until = NULL
		WHERE id = ? AND status = ?`,
		msg, id, TaskStatusPending)
}

func (s *SQLiteQueueStore) transition(ctx context.Context, id int64, op, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s %d: %w", op, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s %d: %w", op, id, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", op, id, ErrTaskNotPending)
	}
	return nil
}

// GetTask returns a task by id, or nil if not found.
func (s *SQLiteQueueStore) GetTask(ctx context.Context, id int64) (*QueueTask, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM queue_tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting task %d: %w", id, err)
	}
	return t, nil
}

// CountByStatus returns task counts keyed by status.
func (s *SQLiteQueueStore) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM queue_tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("counting tasks: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	counts := map[string]int{
		TaskStatusPending: 0,
		TaskStatusSent:    0,
		TaskStatusFailed:  0,
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scanning task count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// DeleteTerminalBefore deletes sent and failed tasks processed before cutoff.
// A row must be older than the cutoff under both the UTC and the local
// reading of its timestamp.
func (s *SQLiteQueueStore) DeleteTerminalBefore(ctx context.Context, cutoff time.Time, loc *time.Location) (int64, error) {
	if loc == nil {
		loc = time.Local
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM queue_tasks
		WHERE status IN (?, ?)
		  AND processed_at IS NOT NULL
		  AND processed_at < ? AND processed_at < ?`,
		TaskStatusSent, TaskStatusFailed,
		FormatTime(cutoff.UTC()), FormatTime(cutoff.In(loc)),
	)
	if err != nil {
		return 0, fmt.Errorf("deleting old tasks: %w", err)
	}
	return res.RowsAffected()
}
