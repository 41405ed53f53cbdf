package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"slices"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver.
)

type migration struct {
	version int
	name    string
	sql     string
}

// migrations are applied in order, each once, and recorded in
// schema_migrations.
var migrations = []migration{
	{
		version: 1,
		name:    "dispatch queue",
		sql: `
CREATE TABLE subscribers (
    id                INTEGER PRIMARY KEY,
    email             TEXT NOT NULL DEFAULT '',
    display_name      TEXT NOT NULL DEFAULT '',
    tier              INTEGER NOT NULL DEFAULT 0,
    telegram_chat_id  INTEGER NOT NULL DEFAULT 0,
    telegram_username TEXT NOT NULL DEFAULT '',
    push_id           TEXT NOT NULL DEFAULT '',
    preferences       TEXT NOT NULL DEFAULT '{}',
    created_at        DATETIME NOT NULL,
    updated_at        DATETIME NOT NULL
);

CREATE TABLE deals (
    id               INTEGER PRIMARY KEY,
    title            TEXT NOT NULL DEFAULT '',
    url              TEXT NOT NULL DEFAULT '',
    excerpt          TEXT NOT NULL DEFAULT '',
    discount_percent INTEGER NOT NULL DEFAULT 0,
    categories       TEXT NOT NULL DEFAULT '[]',
    stores           TEXT NOT NULL DEFAULT '[]',
    created_at       DATETIME NOT NULL,
    updated_at       DATETIME NOT NULL
);

CREATE TABLE queue_tasks (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    subscriber_id INTEGER NOT NULL,
    deal_id       INTEGER NOT NULL,
    channel       TEXT NOT NULL,
    status        TEXT NOT NULL DEFAULT 'pending',
    attempts      INTEGER NOT NULL DEFAULT 0,
    scheduled_at  TEXT NOT NULL,
    locked_until  TEXT,
    processed_at  TEXT,
    error_message TEXT,
    created_at    TEXT NOT NULL
);
CREATE INDEX idx_queue_tasks_due ON queue_tasks(status, scheduled_at);
CREATE INDEX idx_queue_tasks_processed ON queue_tasks(status, processed_at);
CREATE UNIQUE INDEX idx_queue_tasks_active_triple
    ON queue_tasks(subscriber_id, deal_id, channel)
    WHERE status IN ('pending', 'sent');

CREATE TABLE audit_log (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    subscriber_id INTEGER,
    deal_id       INTEGER,
    channel       TEXT,
    action        TEXT NOT NULL,
    status        TEXT NOT NULL,
    details       TEXT NOT NULL DEFAULT '{}',
    created_at    TEXT NOT NULL
);
CREATE INDEX idx_audit_log_created ON audit_log(created_at);
`,
	},
	{
		version: 2,
		name:    "telegram verification codes",
		sql: `
CREATE TABLE telegram_verifications (
    code          TEXT PRIMARY KEY,
    subscriber_id INTEGER NOT NULL,
    expires_at    TEXT NOT NULL,
    used_at       TEXT,
    created_at    TEXT NOT NULL
);
CREATE INDEX idx_telegram_verifications_subscriber ON telegram_verifications(subscriber_id);
`,
	},
}

var sqlitePragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA foreign_keys=ON",
	"PRAGMA synchronous=NORMAL",
}

// NewSQLiteDB opens the database at dbPath and brings its schema up to
// date. fresh reports whether the base schema was created by this call.
func NewSQLiteDB(dbPath string) (db *sql.DB, fresh bool, err error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0750); err != nil {
			return nil, false, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err = sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, false, fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		if err == nil {
			return
		}
		if cerr := db.Close(); cerr != nil {
			log.Printf("closing database after setup error: %v", cerr)
		}
	}()

	// One connection: SQLite has a single writer, and ":memory:" databases
	// exist per connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, p := range sqlitePragmas {
		if _, err = db.ExecContext(ctx, p); err != nil {
			return nil, false, fmt.Errorf("%s: %w", p, err)
		}
	}

	applied, err := migrate(ctx, db)
	if err != nil {
		return nil, false, err
	}
	return db, slices.Contains(applied, 1), nil
}

// SchemaVersion returns the highest applied migration.
func SchemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	var v int
	err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return v, nil
}

// migrate applies pending migrations and returns their versions.
func migrate(ctx context.Context, db *sql.DB) ([]int, error) {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		name       TEXT NOT NULL DEFAULT '',
		applied_at TEXT NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("creating schema_migrations: %w", err)
	}

	current, err := SchemaVersion(ctx, db)
	if err != nil {
		return nil, err
	}

	var applied []int
	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		err := inTx(ctx, db, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.sql); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				"INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)",
				m.version, m.name, FormatTime(time.Now().UTC()))
			return err
		})
		if err != nil {
			return applied, fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
		applied = append(applied, m.version)
	}
	return applied, nil
}

// inTx runs fn in a transaction, rolling back when fn fails.
func inTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			log.Printf("rolling back transaction: %v", rbErr)
		}
		return err
	}
	return tx.Commit()
}
