package storage

import "context"

// SubscriberStore is the read boundary for subscriber records and the
// narrow set of writes the dispatcher is allowed to make.
type SubscriberStore interface {
	// GetSubscriber returns the subscriber with the given id, or nil if not found.
	GetSubscriber(ctx context.Context, id int64) (*Subscriber, error)
	// ListEligibleSubscribers returns subscribers that opted in and hold a qualifying tier.
	ListEligibleSubscribers(ctx context.Context) ([]*Subscriber, error)
	// UpsertSubscriber creates or updates the profile fields of a subscriber.
	// Preferences and channel identities are left untouched on update.
	UpsertSubscriber(ctx context.Context, sub *Subscriber) error
	// UpdatePreferences replaces the stored preferences document.
	UpdatePreferences(ctx context.Context, id int64, prefs Preferences) error
	// BindTelegram stores the verified Telegram chat for a subscriber.
	BindTelegram(ctx context.Context, id int64, chatID int64, username string) error
	// ClearChannelIdentity removes the channel-specific identity (chat id, push id).
	ClearChannelIdentity(ctx context.Context, id int64, channel Channel) error
}
