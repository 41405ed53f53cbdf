package storage

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Channel identifies a delivery mechanism.
type Channel string

// Supported delivery channels.
const (
	ChannelEmail    Channel = "email"
	ChannelPush     Channel = "push"
	ChannelTelegram Channel = "telegram"
)

// KnownChannels lists every channel the dispatcher can deliver through.
var KnownChannels = []Channel{ChannelEmail, ChannelPush, ChannelTelegram}

// IsKnown reports whether c is one of KnownChannels.
func (c Channel) IsKnown() bool {
	return slices.Contains(KnownChannels, c)
}

// ParseChannel normalizes s and returns the matching Channel.
func ParseChannel(s string) (Channel, error) {
	c := Channel(strings.ToLower(strings.TrimSpace(s)))
	if !c.IsKnown() {
		return "", fmt.Errorf("unknown channel %q", s)
	}
	return c, nil
}

// Task status values.
const (
	TaskStatusPending = "pending"
	TaskStatusSent    = "sent"
	TaskStatusFailed  = "failed"
)

// Tier bounds how many filters a subscriber may configure. Zero means the
// subscriber holds no qualifying tier role.
type Tier int

// Tier values.
const (
	TierNone  Tier = 0
	TierBasic Tier = 1
	TierPlus  Tier = 2
	TierPro   Tier = 3
)

// Valid reports whether t is a qualifying tier.
func (t Tier) Valid() bool {
	return t >= TierBasic && t <= TierPro
}

// Preferences is the typed form of a subscriber's saved notification
// preferences.
type Preferences struct {
	NotificationsEnabled bool      `json:"notifications_enabled"`
	Channels             []Channel `json:"channels"`
	MinDiscount          *int      `json:"min_discount,omitempty"`
	CategoryAllowlist    []int64   `json:"category_allowlist"`
	StoreAllowlist       []int64   `json:"store_allowlist"`
	// Tier is loaded from the subscriber record, never from the JSON document.
	Tier Tier `json:"-"`
}

// DefaultChannels applies when a subscriber has not selected any channel.
var DefaultChannels = []Channel{ChannelEmail}

// EffectiveChannels returns the selected channels, or DefaultChannels when
// the selection is empty.
func (p Preferences) EffectiveChannels() []Channel {
	if len(p.Channels) == 0 {
		return slices.Clone(DefaultChannels)
	}
	return slices.Clone(p.Channels)
}

// AllowsChannel reports whether c is among the effective channels.
func (p Preferences) AllowsChannel(c Channel) bool {
	return slices.Contains(p.EffectiveChannels(), c)
}

// ActiveFilterCount counts the discount filter (if set) plus both allow-lists.
func (p Preferences) ActiveFilterCount() int {
	n := len(p.CategoryAllowlist) + len(p.StoreAllowlist)
	if p.MinDiscount != nil {
		n++
	}
	return n
}

// Subscriber is a user account that can receive deal notifications.
type Subscriber struct {
	ID               int64       `json:"id"`
	Email            string      `json:"email"`
	DisplayName      string      `json:"display_name"`
	Tier             Tier        `json:"tier"`
	TelegramChatID   int64       `json:"telegram_chat_id"`
	TelegramUsername string      `json:"telegram_username"`
	PushID           string      `json:"push_id"`
	Preferences      Preferences `json:"preferences"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// Deal is the immutable snapshot of a published deal used for matching.
type Deal struct {
	ID              int64     `json:"id"`
	Title           string    `json:"title"`
	URL             string    `json:"url"`
	Excerpt         string    `json:"excerpt"`
	DiscountPercent int       `json:"discount_percent"`
	Categories      []int64   `json:"categories"`
	Stores          []int64   `json:"stores"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// QueueTask is one (subscriber, deal, channel) delivery attempt.
type QueueTask struct {
	ID           int64      `json:"id"`
	SubscriberID int64      `json:"subscriber_id"`
	DealID       int64      `json:"deal_id"`
	Channel      Channel    `json:"channel"`
	Status       string     `json:"status"`
	Attempts     int        `json:"attempts"`
	ScheduledAt  time.Time  `json:"scheduled_at"`
	ProcessedAt  *time.Time `json:"processed_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// AuditEntry is an append-only record of a significant queue event.
type AuditEntry struct {
	ID           int64     `json:"id"`
	SubscriberID *int64    `json:"subscriber_id,omitempty"`
	DealID       *int64    `json:"deal_id,omitempty"`
	Channel      Channel   `json:"channel,omitempty"`
	Action       string    `json:"action"`
	Status       string    `json:"status"`
	Details      string    `json:"details"`
	CreatedAt    time.Time `json:"created_at"`
}

// sqlTimeLayout is the text layout of every timestamp column written by
// the queue, audit and verification stores.
const sqlTimeLayout = "2006-01-02 15:04:05"

// FormatTime renders t in the stored text layout. The caller chooses the
// location.
func FormatTime(t time.Time) string {
	return t.Format(sqlTimeLayout)
}

// parseTime reads a stored timestamp. Rows are interpreted as UTC.
func parseTime(s string) (time.Time, error) {
	t, err := time.ParseInLocation(sqlTimeLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}
