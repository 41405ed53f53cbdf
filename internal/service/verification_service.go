package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"regexp"
	"strconv"
	"time"

	"github.com/shaharia-lab/dealnotify/internal/storage"
)

// Verification code parameters.
const (
	VerificationCodeDigits = 6
	VerificationCodeTTL    = 10 * time.Minute
)

// CodeExpiredMessage is the ValidationError message for an expired code.
const CodeExpiredMessage = "verification code expired"

var codeRE = regexp.MustCompile(`\b(\d{6})\b`)

// IssuedCode is a freshly created verification code.
type IssuedCode struct {
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
	// DeepLink opens the bot with the code prefilled, when the bot username is known.
	DeepLink string `json:"deep_link,omitempty"`
}

// VerificationService links Telegram chats to subscribers with one-time codes.
type VerificationService interface {
	// IssueCode creates a code the subscriber sends to the bot.
	IssueCode(ctx context.Context, actor Actor, subscriberID int64) (*IssuedCode, error)

	// Verify consumes the code found in text and binds chatID to its
	// subscriber, enabling the telegram channel. It returns the subscriber id.
	Verify(ctx context.Context, text string, chatID int64, username string) (int64, error)
}

type verificationService struct {
	codes       storage.VerificationStore
	subscribers storage.SubscriberStore
	events      EventPublisher
	botUsername string
	logger      *slog.Logger
	now         func() time.Time
}

// NewVerificationService returns a VerificationService. botUsername may be
// empty; events may be nil.
func NewVerificationService(
	codes storage.VerificationStore,
	subscribers storage.SubscriberStore,
	events EventPublisher,
	botUsername string,
	logger *slog.Logger,
) VerificationService {
	return &verificationService{
		codes:       codes,
		subscribers: subscribers,
		events:      publisherOrNoop(events),
		botUsername: botUsername,
		logger:      logger,
		now:         time.Now,
	}
}

func (s *verificationService) IssueCode(ctx context.Context, actor Actor, subscriberID int64) (*IssuedCode, error) {
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

	expires := s.now().UTC().Add(VerificationCodeTTL)
	var lastErr error
	// A collision with another subscriber's live code fails the insert; try a fresh code.
	for range 3 {
		code, err := randomCode()
		if err != nil {
			return nil, err
		}
		if lastErr = s.codes.CreateCode(ctx, code, subscriberID, expires); lastErr == nil {
			issued := &IssuedCode{Code: code, ExpiresAt: expires}
			if s.botUsername != "" {
				issued.DeepLink = fmt.Sprintf("https://t.me/%s?start=%s", s.botUsername, code)
			}
			s.logger.Info("telegram verification code issued", "subscriber_id", subscriberID)
			return issued, nil
		}
	}
	return nil, fmt.Errorf("creating verification code: %w", lastErr)
}

func (s *verificationService) Verify(ctx context.Context, text string, chatID int64, username string) (int64, error) {
	if chatID == 0 {
		return 0, &ValidationError{Field: "chat_id", Message: "missing chat"}
	}
	m := codeRE.FindStringSubmatch(text)
	if m == nil {
		return 0, &ValidationError{Field: "code", Message: "message does not contain a verification code"}
	}

	subscriberID, err := s.codes.ConsumeCode(ctx, m[1], s.now().UTC())
	switch {
	case errors.Is(err, storage.ErrCodeNotFound):
		return 0, &NotFoundError{Resource: "verification code", ID: m[1]}
	case errors.Is(err, storage.ErrCodeExpired):
		return 0, &ValidationError{Field: "code", Message: CodeExpiredMessage}
	case errors.Is(err, storage.ErrCodeUsed):
		return 0, &ConflictError{Resource: "verification code", ID: m[1], Reason: "already used"}
	case err != nil:
		return 0, fmt.Errorf("consuming verification code: %w", err)
	}

	sub, err := s.subscribers.GetSubscriber(ctx, subscriberID)
	if err != nil {
		return 0, fmt.Errorf("getting subscriber %d: %w", subscriberID, err)
	}
	if sub == nil {
		return 0, subscriberNotFound(subscriberID)
	}

	if err := s.subscribers.BindTelegram(ctx, subscriberID, chatID, username); err != nil {
		return 0, fmt.Errorf("binding telegram chat: %w", err)
	}
	prefs := sub.Preferences
	if !prefs.AllowsChannel(storage.ChannelTelegram) {
		prefs.Channels = append(prefs.EffectiveChannels(), storage.ChannelTelegram)
		if err := s.subscribers.UpdatePreferences(ctx, subscriberID, prefs); err != nil {
			return 0, fmt.Errorf("enabling telegram channel: %w", err)
		}
	}

	s.logger.Info("telegram connected", "subscriber_id", subscriberID, "chat_id", chatID)
	s.events.Publish(EventTelegramConnected, map[string]string{
		"subscriber_id": strconv.FormatInt(subscriberID, 10),
	})
	return subscriberID, nil
}

func randomCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("generating verification code: %w", err)
	}
	return fmt.Sprintf("%0*d", VerificationCodeDigits, n.Int64()), nil
}
