package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLiteSubscriberStore implements SubscriberStore backed by SQLite.
type SQLiteSubscriberStore struct {
	db *sql.DB
}

// NewSQLiteSubscriberStore returns a new SQLiteSubscriberStore.
func NewSQLiteSubscriberStore(db *sql.DB) *SQLiteSubscriberStore {
	return &SQLiteSubscriberStore{db: db}
}

const subscriberColumns = `id, email, display_name, tier, telegram_chat_id, telegram_username,
	push_id, preferences, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscriber(row rowScanner) (*Subscriber, error) {
	s := &Subscriber{}
	var prefs string
	if err := row.Scan(&s.ID, &s.Email, &s.DisplayName, &s.Tier, &s.TelegramChatID,
		&s.TelegramUsername, &s.PushID, &prefs, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.Preferences = DecodePreferences(prefs, s.Tier)
	return s, nil
}

// GetSubscriber returns a subscriber by id, or nil if not found.
func (s *SQLiteSubscriberStore) GetSubscriber(ctx context.Context, id int64) (*Subscriber, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+subscriberColumns+` FROM subscribers WHERE id = ?`, id)
	sub, err := scanSubscriber(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting subscriber %d: %w", id, err)
	}
	return sub, nil
}

// ListEligibleSubscribers returns subscribers with a qualifying tier whose
// preferences have notifications enabled.
func (s *SQLiteSubscriberStore) ListEligibleSubscribers(ctx context.Context) ([]*Subscriber, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+subscriberColumns+` FROM subscribers
		WHERE tier BETWEEN ? AND ?
		ORDER BY id`, TierBasic, TierPro)
	if err != nil {
		return nil, fmt.Errorf("listing subscribers: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	subs := make([]*Subscriber, 0)
	for rows.Next() {
		sub, err := scanSubscriber(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning subscriber row: %w", err)
		}
		if !sub.Preferences.NotificationsEnabled {
			continue
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating subscriber rows: %w", err)
	}
	return subs, nil
}

// UpsertSubscriber inserts a subscriber or updates its profile fields.
func (s *SQLiteSubscriberStore) UpsertSubscriber(ctx context.Context, sub *Subscriber) error {
	prefs, err := EncodePreferences(sub.Preferences)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO subscribers (id, email, display_name, tier, telegram_chat_id,
			telegram_username, push_id, preferences, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			email = excluded.email,
			display_name = excluded.display_name,
			tier = excluded.tier,
			push_id = CASE WHEN excluded.push_id != '' THEN excluded.push_id ELSE subscribers.push_id END,
			updated_at = excluded.updated_at`,
		sub.ID, sub.Email, sub.DisplayName, sub.Tier, sub.TelegramChatID,
		sub.TelegramUsername, sub.PushID, prefs, now, now,
	)
	if err != nil {
		return fmt.Errorf("upserting subscriber %d: %w", sub.ID, err)
	}
	return nil
}

// UpdatePreferences replaces the preferences document of a subscriber.
func (s *SQLiteSubscriberStore) UpdatePreferences(ctx context.Context, id int64, prefs Preferences) error {
	raw, err := EncodePreferences(prefs)
	if err != nil {
		return err
	}
	return s.execOne(ctx, id, "updating preferences",
		`UPDATE subscribers SET preferences = ?, updated_at = ? WHERE id = ?`,
		raw, time.Now().UTC(), id)
}

// BindTelegram stores the verified Telegram chat of a subscriber.
func (s *SQLiteSubscriberStore) BindTelegram(ctx context.Context, id int64, chatID int64, username string) error {
	return s.execOne(ctx, id, "binding telegram",
		`UPDATE subscribers SET telegram_chat_id = ?, telegram_username = ?, updated_at = ? WHERE id = ?`,
		chatID, username, time.Now().UTC(), id)
}

// ClearChannelIdentity forgets the identity associated with channel.
// Email addresses belong to the host account and are never cleared.
func (s *SQLiteSubscriberStore) ClearChannelIdentity(ctx context.Context, id int64, channel Channel) error {
	switch channel {
	case ChannelTelegram:
		return s.execOne(ctx, id, "clearing telegram identity",
			`UPDATE subscribers SET telegram_chat_id = 0, telegram_username = '', updated_at = ? WHERE id = ?`,
			time.Now().UTC(), id)
	case ChannelPush:
		return s.execOne(ctx, id, "clearing push identity",
			`UPDATE subscribers SET push_id = '', updated_at = ? WHERE id = ?`,
			time.Now().UTC(), id)
	default:
		return nil
	}
}

// ErrSubscriberNotFound is returned by writes that target a missing subscriber.
var ErrSubscriberNotFound = errors.New("subscriber not found")

func (s *SQLiteSubscriberStore) execOne(ctx context.Context, id int64, op, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s for subscriber %d: %w", op, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s for subscriber %d: %w", op, id, err)
	}
	if n == 0 {
		return fmt.Errorf("%s for subscriber %d: %w", op, id, ErrSubscriberNotFound)
	}
	return nil
}
