package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/shaharia-lab/dealnotify/internal/storage"
)

// SubscriberInput is a profile pushed by the host system.
type SubscriberInput struct {
	Email       string       `json:"email"`
	DisplayName string       `json:"display_name"`
	Tier        storage.Tier `json:"tier"`
	PushID      string       `json:"push_id"`
}

// SubscriberService syncs subscriber profiles from the host system.
type SubscriberService interface {
	// Upsert creates or updates the profile of subscriberID. Admin only.
	Upsert(ctx context.Context, actor Actor, subscriberID int64, input SubscriberInput) (*storage.Subscriber, error)

	// Get returns a subscriber.
	Get(ctx context.Context, actor Actor, subscriberID int64) (*storage.Subscriber, error)
}

type subscriberService struct {
	subscribers storage.SubscriberStore
	logger      *slog.Logger
}

// NewSubscriberService returns a SubscriberService backed by subscribers.
func NewSubscriberService(subscribers storage.SubscriberStore, logger *slog.Logger) SubscriberService {
	return &subscriberService{subscribers: subscribers, logger: logger}
}

func (s *subscriberService) Upsert(ctx context.Context, actor Actor, subscriberID int64, input SubscriberInput) (*storage.Subscriber, error) {
	if !actor.Admin {
		return nil, &AuthorizationError{Message: "only the host system may sync subscribers"}
	}
	if subscriberID <= 0 {
		return nil, &ValidationError{Field: "id", Message: "must be a positive integer"}
	}
	email := strings.TrimSpace(input.Email)
	if email != "" {
		addr, err := mail.ParseAddress(email)
		if err != nil {
			return nil, &ValidationError{Field: "email", Message: "invalid email address"}
		}
		email = addr.Address
	}
	if input.Tier < storage.TierNone || input.Tier > storage.TierPro {
		return nil, &ValidationError{Field: "tier", Message: fmt.Sprintf("must be between %d and %d", storage.TierNone, storage.TierPro)}
	}

	sub := &storage.Subscriber{
		ID:          subscriberID,
		Email:       email,
		DisplayName: strings.TrimSpace(input.DisplayName),
		Tier:        input.Tier,
		PushID:      strings.TrimSpace(input.PushID),
	}
	if err := s.subscribers.UpsertSubscriber(ctx, sub); err != nil {
		return nil, fmt.Errorf("upserting subscriber: %w", err)
	}

	saved, err := s.subscribers.GetSubscriber(ctx, subscriberID)
	if err != nil {
		return nil, fmt.Errorf("reloading subscriber: %w", err)
	}
	if saved == nil {
		return nil, subscriberNotFound(subscriberID)
	}
	s.logger.Info("subscriber synced", "subscriber_id", subscriberID, "tier", saved.Tier)
	return saved, nil
}

func (s *subscriberService) Get(ctx context.Context, actor Actor, subscriberID int64) (*storage.Subscriber, error) {
	if err := authorize(actor, subscriberID); err != nil {
		return nil, err
	}
	sub, err := s.subscribers.GetSubscriber(ctx, subscriberID)
	if err != nil {
		return nil, fmt.Errorf("getting subscriber %d: %w", subscriberID, err)
	}
	if sub == nil {
		return nil, subscriberNotFound(subscriberID)
	}
	return sub, nil
}
