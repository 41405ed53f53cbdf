package notification

import "time"

// Default per-request timeouts.
const (
	DefaultEmailTimeout    = 30 * time.Second
	DefaultTelegramTimeout = 10 * time.Second
	DefaultPushTimeout     = 30 * time.Second
)

// SMTPConfig holds connection parameters for the email sender.
type SMTPConfig struct {
	Host       string `yaml:"host" json:"host"`
	Port       int    `yaml:"port" json:"port"`
	Username   string `yaml:"username" json:"username"`
	Password   string `yaml:"password" json:"-"`
	FromAddr   string `yaml:"from_address" json:"from_address"`
	FromName   string `yaml:"from_name" json:"from_name"`
	Encryption string `yaml:"encryption" json:"encryption"` // "none", "starttls", "ssl_tls"
}

// Configured reports whether the minimum SMTP settings are present.
func (c SMTPConfig) Configured() bool {
	return c.Host != "" && c.FromAddr != ""
}

// TelegramConfig holds the bot credentials.
type TelegramConfig struct {
	BotToken string `yaml:"bot_token" json:"-"`
	// APIURL overrides the Bot API endpoint. Empty means api.telegram.org.
	APIURL string `yaml:"api_url" json:"api_url"`
	// WebhookSecret must match the X-Telegram-Bot-Api-Secret-Token header of
	// inbound webhook calls.
	WebhookSecret string `yaml:"webhook_secret" json:"-"`
	BotUsername   string `yaml:"bot_username" json:"bot_username"`
}

// Configured reports whether a bot token is present.
func (c TelegramConfig) Configured() bool {
	return c.BotToken != ""
}

// PushConfig holds the OneSignal application credentials.
type PushConfig struct {
	AppID      string `yaml:"app_id" json:"app_id"`
	RESTAPIKey string `yaml:"rest_api_key" json:"-"`
	// APIURL overrides the notifications endpoint.
	APIURL string `yaml:"api_url" json:"api_url"`
}

// Configured reports whether both the app id and the REST key are present.
func (c PushConfig) Configured() bool {
	return c.AppID != "" && c.RESTAPIKey != ""
}

// ChannelSettings configures one channel.
type ChannelSettings struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// RatePerSecond caps sends on this channel. Zero disables the limit.
	RatePerSecond float64       `yaml:"rate_per_second" json:"rate_per_second"`
	Timeout       time.Duration `yaml:"timeout" json:"timeout"`
}

// EmailChannel configures the email channel.
type EmailChannel struct {
	ChannelSettings `yaml:",inline"`
	SMTP            SMTPConfig `yaml:"smtp" json:"smtp"`
}

// TelegramChannel configures the Telegram channel.
type TelegramChannel struct {
	ChannelSettings `yaml:",inline"`
	TelegramConfig  `yaml:",inline"`
}

// PushChannel configures the web push channel.
type PushChannel struct {
	ChannelSettings `yaml:",inline"`
	PushConfig      `yaml:",inline"`
}

// ChannelsConfig is the provider configuration loaded from the channels file.
type ChannelsConfig struct {
	Email    EmailChannel    `yaml:"email" json:"email"`
	Telegram TelegramChannel `yaml:"telegram" json:"telegram"`
	Push     PushChannel     `yaml:"push" json:"push"`
}

func timeoutOr(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// Senders builds a sender for every enabled channel, wrapped with the
// channel's rate limit.
func (c ChannelsConfig) Senders(siteName string) []Sender {
	var out []Sender
	if c.Email.Enabled {
		out = append(out, RateLimited(
			NewEmailSender(c.Email.SMTP, siteName, c.Email.Timeout), c.Email.RatePerSecond))
	}
	if c.Telegram.Enabled {
		out = append(out, RateLimited(
			NewTelegramSender(c.Telegram.TelegramConfig, c.Telegram.Timeout), c.Telegram.RatePerSecond))
	}
	if c.Push.Enabled {
		out = append(out, RateLimited(
			NewPushSender(c.Push.PushConfig, siteName, c.Push.Timeout), c.Push.RatePerSecond))
	}
	return out
}
