package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLiteVerificationStore implements VerificationStore backed by SQLite.
type SQLiteVerificationStore struct {
	db *sql.DB
}

// NewSQLiteVerificationStore returns a new SQLiteVerificationStore.
func NewSQLiteVerificationStore(db *sql.DB) *SQLiteVerificationStore {
	return &SQLiteVerificationStore{db: db}
}

// staleCodeAge bounds how long expired codes are kept to answer "expired"
// instead of "not found".
const staleCodeAge = 24 * time.Hour

// CreateCode stores a fresh code and retires older unused codes of the subscriber.
func (s *SQLiteVerificationStore) CreateCode(ctx context.Context, code string, subscriberID int64, expiresAt time.Time) error {
	nowUTC := time.Now().UTC()
	now := FormatTime(nowUTC)

	err := inTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM telegram_verifications WHERE expires_at < ?`,
			FormatTime(nowUTC.Add(-staleCodeAge))); err != nil {
			return fmt.Errorf("purging stale codes: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE telegram_verifications SET used_at = ? WHERE subscriber_id = ? AND used_at IS NULL`,
			now, subscriberID); err != nil {
			return fmt.Errorf("retiring old codes: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO telegram_verifications (code, subscriber_id, expires_at, created_at)
			VALUES (?, ?, ?, ?)`,
			code, subscriberID, FormatTime(expiresAt.UTC()), now); err != nil {
			return fmt.Errorf("inserting code: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("creating code for subscriber %d: %w", subscriberID, err)
	}
	return nil
}

// ConsumeCode validates and burns a code in one transaction.
func (s *SQLiteVerificationStore) ConsumeCode(ctx context.Context, code string, now time.Time) (int64, error) {
	var subscriberID int64
	err := inTx(ctx, s.db, func(tx *sql.Tx) error {
		var (
			expiresAt string
			usedAt    sql.NullString
		)
		err := tx.QueryRowContext(ctx,
			`SELECT subscriber_id, expires_at, used_at FROM telegram_verifications WHERE code = ?`,
			code).Scan(&subscriberID, &expiresAt, &usedAt)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return ErrCodeNotFound
		case err != nil:
			return fmt.Errorf("looking up code: %w", err)
		case usedAt.Valid:
			return ErrCodeUsed
		}

		exp, err := parseTime(expiresAt)
		if err != nil {
			return err
		}
		if !now.Before(exp) {
			return ErrCodeExpired
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE telegram_verifications SET used_at = ? WHERE code = ? AND used_at IS NULL`,
			FormatTime(now.UTC()), code)
		if err != nil {
			return fmt.Errorf("consuming code: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrCodeUsed
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return subscriberID, nil
}
