package notification

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	tele "gopkg.in/telebot.v4"

	"github.com/shaharia-lab/dealnotify/internal/storage"
)

// ErrTelegramNotConfigured is returned when no bot token is configured.
var ErrTelegramNotConfigured = errors.New("telegram bot is not configured")

// TelegramSender delivers deals as Telegram messages. The bot runs in
// offline mode: it only calls the Bot API, it never polls for updates.
type TelegramSender struct {
	bot     *tele.Bot
	initErr error
	timeout time.Duration
}

// NewTelegramSender builds the bot client. Configuration problems are
// reported by Send, so a misconfigured channel still yields a failed task
// rather than preventing startup.
func NewTelegramSender(config TelegramConfig, timeout time.Duration) *TelegramSender {
	s := &TelegramSender{timeout: timeoutOr(timeout, DefaultTelegramTimeout)}
	if !config.Configured() {
		s.initErr = ErrTelegramNotConfigured
		return s
	}
	bot, err := tele.NewBot(tele.Settings{
		URL:     strings.TrimRight(config.APIURL, "/"),
		Token:   config.BotToken,
		Offline: true,
		Client: &http.Client{
			Timeout:   s.timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	})
	if err != nil {
		s.initErr = fmt.Errorf("creating telegram bot: %w", err)
		return s
	}
	s.bot = bot
	return s
}

// Channel returns storage.ChannelTelegram.
func (s *TelegramSender) Channel() storage.Channel { return storage.ChannelTelegram }

// Send posts deal to the subscriber's verified chat.
func (s *TelegramSender) Send(ctx context.Context, sub *storage.Subscriber, deal *storage.Deal) Result {
	if res, ok := precheck(sub, deal, storage.ChannelTelegram); !ok {
		return res
	}
	if s.initErr != nil {
		return Failed("%v", s.initErr)
	}
	if sub.TelegramChatID == 0 {
		return Failed("subscriber has not connected telegram")
	}
	if err := s.SendText(ctx, sub.TelegramChatID, buildTelegramText(deal)); err != nil {
		return Failed("telegram delivery failed: %v", err)
	}
	return Sent(fmt.Sprintf("telegram message sent to chat %d", sub.TelegramChatID))
}

// SendText posts an HTML-formatted message to chatID.
func (s *TelegramSender) SendText(ctx context.Context, chatID int64, text string) error {
	if s.initErr != nil {
		return s.initErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.bot.Send(&tele.Chat{ID: chatID}, text, &tele.SendOptions{
		ParseMode: tele.ModeHTML,
	})
	return err
}

// SetWebhook points the bot's updates at publicURL. Telegram echoes secret
// in the X-Telegram-Bot-Api-Secret-Token header of every call.
func (s *TelegramSender) SetWebhook(publicURL, secret string) error {
	if s.initErr != nil {
		return s.initErr
	}
	return s.bot.SetWebhook(&tele.Webhook{
		SecretToken:    secret,
		AllowedUpdates: []string{"message"},
		Endpoint:       &tele.WebhookEndpoint{PublicURL: publicURL},
	})
}
