package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"

	"github.com/shaharia-lab/dealnotify/internal/filter"
	"github.com/shaharia-lab/dealnotify/internal/storage"
)

// PreferencesInput is a save request. Channels are given by name.
type PreferencesInput struct {
	NotificationsEnabled bool     `json:"notifications_enabled"`
	Channels             []string `json:"channels"`
	MinDiscount          *int     `json:"min_discount"`
	CategoryAllowlist    []int64  `json:"category_allowlist"`
	StoreAllowlist       []int64  `json:"store_allowlist"`
}

// ChannelStatus reports whether a channel identity is connected.
type ChannelStatus struct {
	Connected bool   `json:"connected"`
	Handle    string `json:"handle,omitempty"`
}

// PreferencesView is the read model returned to the subscriber.
type PreferencesView struct {
	SubscriberID int64                             `json:"subscriber_id"`
	Tier         storage.Tier                      `json:"tier"`
	Limits       *filter.Limits                    `json:"limits,omitempty"`
	Preferences  storage.Preferences               `json:"preferences"`
	Channels     map[storage.Channel]ChannelStatus `json:"channel_status"`
}

// PreferenceService is the write boundary for subscriber preferences.
type PreferenceService interface {
	// Get returns the subscriber's preferences and channel connections.
	Get(ctx context.Context, actor Actor, subscriberID int64) (*PreferencesView, error)

	// Save validates input and replaces the stored preferences. On any
	// error the stored preferences are left unchanged.
	Save(ctx context.Context, actor Actor, subscriberID int64, input PreferencesInput) (*PreferencesView, error)

	// DisconnectChannel removes channel from the subscriber's selection and
	// forgets its identity.
	DisconnectChannel(ctx context.Context, actor Actor, subscriberID int64, channel string) (*PreferencesView, error)
}

type preferenceService struct {
	subscribers storage.SubscriberStore
	events      EventPublisher
	logger      *slog.Logger
}

// NewPreferenceService returns a PreferenceService backed by subscribers.
// events may be nil.
func NewPreferenceService(subscribers storage.SubscriberStore, events EventPublisher, logger *slog.Logger) PreferenceService {
	return &preferenceService{subscribers: subscribers, events: publisherOrNoop(events), logger: logger}
}

func (s *preferenceService) Get(ctx context.Context, actor Actor, subscriberID int64) (*PreferencesView, error) {
	if err := authorize(actor, subscriberID); err != nil {
		return nil, err
	}
	sub, err := s.load(ctx, subscriberID)
	if err != nil {
		return nil, err
	}
	return newPreferencesView(sub), nil
}

func (s *preferenceService) Save(ctx context.Context, actor Actor, subscriberID int64, input PreferencesInput) (*PreferencesView, error) {
	if err := authorize(actor, subscriberID); err != nil {
		return nil, err
	}
	sub, err := s.load(ctx, subscriberID)
	if err != nil {
		return nil, err
	}

	prefs, err := validatePreferences(sub, input)
	if err != nil {
		return nil, err
	}

	if err := s.subscribers.UpdatePreferences(ctx, subscriberID, prefs); err != nil {
		return nil, fmt.Errorf("saving preferences: %w", err)
	}
	sub.Preferences = prefs

	s.logger.Info("preferences saved",
		"subscriber_id", subscriberID,
		"enabled", prefs.NotificationsEnabled,
		"channels", len(prefs.Channels),
		"filters", prefs.ActiveFilterCount())
	s.events.Publish(EventPreferencesUpdated, map[string]string{
		"subscriber_id": strconv.FormatInt(subscriberID, 10),
	})
	return newPreferencesView(sub), nil
}

func (s *preferenceService) DisconnectChannel(ctx context.Context, actor Actor, subscriberID int64, channel string) (*PreferencesView, error) {
	if err := authorize(actor, subscriberID); err != nil {
		return nil, err
	}
	ch, err := storage.ParseChannel(channel)
	if err != nil {
		return nil, &ValidationError{Field: "channel", Message: err.Error()}
	}
	sub, err := s.load(ctx, subscriberID)
	if err != nil {
		return nil, err
	}

	prefs := sub.Preferences
	prefs.Channels = slices.DeleteFunc(prefs.EffectiveChannels(), func(c storage.Channel) bool { return c == ch })
	if len(prefs.Channels) == 0 {
		// An empty selection would fall back to the default channel.
		prefs.NotificationsEnabled = false
	}

	if err := s.subscribers.UpdatePreferences(ctx, subscriberID, prefs); err != nil {
		return nil, fmt.Errorf("saving preferences: %w", err)
	}
	if err := s.subscribers.ClearChannelIdentity(ctx, subscriberID, ch); err != nil {
		return nil, fmt.Errorf("clearing %s identity: %w", ch, err)
	}
	sub.Preferences = prefs
	switch ch {
	case storage.ChannelTelegram:
		sub.TelegramChatID, sub.TelegramUsername = 0, ""
	case storage.ChannelPush:
		sub.PushID = ""
	}

	s.logger.Info("channel disconnected", "subscriber_id", subscriberID, "channel", ch)
	s.events.Publish(EventChannelDisconnected, map[string]string{
		"subscriber_id": strconv.FormatInt(subscriberID, 10),
		"channel":       string(ch),
	})
	return newPreferencesView(sub), nil
}

func (s *preferenceService) load(ctx context.Context, id int64) (*storage.Subscriber, error) {
	sub, err := s.subscribers.GetSubscriber(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting subscriber %d: %w", id, err)
	}
	if sub == nil {
		return nil, subscriberNotFound(id)
	}
	return sub, nil
}

// validatePreferences checks input against the subscriber's tier and
// connected identities and returns the normalized preferences.
func validatePreferences(sub *storage.Subscriber, input PreferencesInput) (storage.Preferences, error) {
	prefs := storage.Preferences{
		NotificationsEnabled: input.NotificationsEnabled,
		Channels:             make([]storage.Channel, 0, len(input.Channels)),
		Tier:                 sub.Tier,
	}

	for _, name := range input.Channels {
		ch, err := storage.ParseChannel(name)
		if err != nil {
			return prefs, &ValidationError{Field: "channels", Message: err.Error()}
		}
		if slices.Contains(prefs.Channels, ch) {
			continue
		}
		switch {
		case ch == storage.ChannelTelegram && sub.TelegramChatID == 0:
			return prefs, &ValidationError{Field: "channels", Message: "connect telegram before enabling it"}
		case ch == storage.ChannelPush && sub.PushID == "":
			return prefs, &ValidationError{Field: "channels", Message: "register for push notifications before enabling them"}
		}
		prefs.Channels = append(prefs.Channels, ch)
	}

	if input.MinDiscount != nil {
		v := *input.MinDiscount
		if !storage.ValidMinDiscount(v) {
			return prefs, &ValidationError{
				Field: "min_discount",
				Message: fmt.Sprintf("must be between %d and %d in steps of %d",
					storage.MinDiscountFloor, storage.MinDiscountCeil, storage.MinDiscountStep),
			}
		}
		prefs.MinDiscount = &v
	}

	var err error
	if prefs.CategoryAllowlist, err = validateIDs("category_allowlist", input.CategoryAllowlist); err != nil {
		return prefs, err
	}
	if prefs.StoreAllowlist, err = validateIDs("store_allowlist", input.StoreAllowlist); err != nil {
		return prefs, err
	}

	if !sub.Tier.Valid() {
		return prefs, &ValidationError{Field: "tier", Message: "subscriber does not hold a qualifying tier"}
	}
	if err := filter.ValidateLimits(prefs); err != nil {
		var le *filter.LimitError
		if errors.As(err, &le) {
			return prefs, &ValidationError{Field: le.Dimension, Message: le.Error()}
		}
		return prefs, &ValidationError{Message: err.Error()}
	}
	return prefs, nil
}

func validateIDs(field string, ids []int64) ([]int64, error) {
	for _, id := range ids {
		if id <= 0 {
			return nil, &ValidationError{Field: field, Message: fmt.Sprintf("invalid id %d", id)}
		}
	}
	return storage.NormalizeIDs(ids), nil
}

func newPreferencesView(sub *storage.Subscriber) *PreferencesView {
	v := &PreferencesView{
		SubscriberID: sub.ID,
		Tier:         sub.Tier,
		Preferences:  sub.Preferences,
		Channels: map[storage.Channel]ChannelStatus{
			storage.ChannelEmail:    {Connected: sub.Email != "", Handle: sub.Email},
			storage.ChannelTelegram: {Connected: sub.TelegramChatID != 0, Handle: sub.TelegramUsername},
			storage.ChannelPush:     {Connected: sub.PushID != ""},
		},
	}
	if l, ok := filter.LimitsFor(sub.Tier); ok {
		v.Limits = &l
	}
	return v
}
