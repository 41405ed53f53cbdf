// Package filter decides which subscribers want to hear about a deal and
// through which channels.
package filter

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/shaharia-lab/dealnotify/internal/storage"
)

// Filter evaluates subscriber preferences against deals. It never writes.
type Filter struct {
	subscribers storage.SubscriberStore
	logger      *slog.Logger
}

// New returns a Filter reading from subscribers.
func New(subscribers storage.SubscriberStore, logger *slog.Logger) *Filter {
	return &Filter{subscribers: subscribers, logger: logger}
}

// FindMatchingSubscribers returns the ids of every eligible subscriber whose
// preferences match deal.
func (f *Filter) FindMatchingSubscribers(ctx context.Context, deal *storage.Deal) ([]int64, error) {
	subs, err := f.subscribers.ListEligibleSubscribers(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing eligible subscribers: %w", err)
	}

	ids := make([]int64, 0, len(subs))
	for _, sub := range subs {
		if MatchPreferences(sub.Preferences, deal) {
			ids = append(ids, sub.ID)
		}
	}
	f.logger.Debug("matched subscribers",
		"deal_id", deal.ID, "eligible", len(subs), "matched", len(ids))
	return ids, nil
}

// Matches reports whether the subscriber with the given id matches deal.
// A missing subscriber does not match.
func (f *Filter) Matches(ctx context.Context, subscriberID int64, deal *storage.Deal) (bool, error) {
	sub, err := f.subscribers.GetSubscriber(ctx, subscriberID)
	if err != nil {
		return false, err
	}
	if sub == nil {
		return false, nil
	}
	return MatchPreferences(sub.Preferences, deal), nil
}

// AllowedChannels returns the channels a subscriber selected, or
// storage.DefaultChannels when none are set.
func (f *Filter) AllowedChannels(ctx context.Context, subscriberID int64) ([]storage.Channel, error) {
	sub, err := f.subscribers.GetSubscriber(ctx, subscriberID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return slices.Clone(storage.DefaultChannels), nil
	}
	return sub.Preferences.EffectiveChannels(), nil
}

// MatchPreferences evaluates the gates in order and stops at the first that
// fails: eligibility, discount, category, store, tier limits.
func MatchPreferences(prefs storage.Preferences, deal *storage.Deal) bool {
	if !prefs.NotificationsEnabled || !prefs.Tier.Valid() {
		return false
	}
	if prefs.MinDiscount != nil && deal.DiscountPercent < *prefs.MinDiscount {
		return false
	}
	if len(prefs.CategoryAllowlist) > 0 && !intersects(prefs.CategoryAllowlist, deal.Categories) {
		return false
	}
	if len(prefs.StoreAllowlist) > 0 && !intersects(prefs.StoreAllowlist, deal.Stores) {
		return false
	}
	// Over-limit preference sets fail closed.
	return ValidateLimits(prefs) == nil
}

func intersects(a, b []int64) bool {
	for _, v := range a {
		if slices.Contains(b, v) {
			return true
		}
	}
	return false
}
