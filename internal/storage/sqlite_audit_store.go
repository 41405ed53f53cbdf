package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SQLiteAuditStore implements AuditStore backed by SQLite.
type SQLiteAuditStore struct {
	db *sql.DB
}

// NewSQLiteAuditStore returns a new SQLiteAuditStore.
func NewSQLiteAuditStore(db *sql.DB) *SQLiteAuditStore {
	return &SQLiteAuditStore{db: db}
}

// AppendAudit inserts an audit record into the database.
func (s *SQLiteAuditStore) AppendAudit(ctx context.Context, entry AuditEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	if entry.Details == "" {
		entry.Details = "{}"
	}
	var channel sql.NullString
	if entry.Channel != "" {
		channel = sql.NullString{String: string(entry.Channel), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (subscriber_id, deal_id, channel, action, status, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.SubscriberID, entry.DealID, channel,
		entry.Action, entry.Status, entry.Details, FormatTime(entry.CreatedAt.UTC()),
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}
	return nil
}

// ListAudit returns the most recent entries, newest first.
func (s *SQLiteAuditStore) ListAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, subscriber_id, deal_id, channel, action, status, details, created_at
		FROM audit_log
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	entries := make([]AuditEntry, 0)
	for rows.Next() {
		var e AuditEntry
		var subID, dealID sql.NullInt64
		var channel sql.NullString
		var createdAt string
		if err := rows.Scan(&e.ID, &subID, &dealID, &channel, &e.Action,
			&e.Status, &e.Details, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning audit row: %w", err)
		}
		if subID.Valid {
			e.SubscriberID = &subID.Int64
		}
		if dealID.Valid {
			e.DealID = &dealID.Int64
		}
		e.Channel = Channel(channel.String)
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit rows: %w", err)
	}
	return entries, nil
}

// DeleteAuditBefore removes entries older than cutoff under both the UTC
// and the local reading of created_at.
func (s *SQLiteAuditStore) DeleteAuditBefore(ctx context.Context, cutoff time.Time, loc *time.Location) (int64, error) {
	if loc == nil {
		loc = time.Local
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM audit_log WHERE created_at < ? AND created_at < ?`,
		FormatTime(cutoff.UTC()), FormatTime(cutoff.In(loc)))
	if err != nil {
		return 0, fmt.Errorf("deleting old audit entries: %w", err)
	}
	return res.RowsAffected()
}
