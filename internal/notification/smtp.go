package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/shaharia-lab/dealnotify/internal/storage"
)

// EmailSender delivers deals by SMTP using the go-mail library.
type EmailSender struct {
	config   SMTPConfig
	siteName string
	timeout  time.Duration
}

// NewEmailSender creates an EmailSender. A zero timeout selects
// DefaultEmailTimeout.
func NewEmailSender(config SMTPConfig, siteName string, timeout time.Duration) *EmailSender {
	if siteName == "" {
		siteName = DefaultSiteName
	}
	return &EmailSender{
		config:   config,
		siteName: siteName,
		timeout:  timeoutOr(timeout, DefaultEmailTimeout),
	}
}

// Channel returns storage.ChannelEmail.
func (s *EmailSender) Channel() storage.Channel { return storage.ChannelEmail }

// Send delivers deal to the subscriber's email address.
func (s *EmailSender) Send(ctx context.Context, sub *storage.Subscriber, deal *storage.Deal) Result {
	if res, ok := precheck(sub, deal, storage.ChannelEmail); !ok {
		return res
	}
	if !s.config.Configured() {
		return Failed("email provider is not configured")
	}
	if sub.Email == "" {
		return Failed("subscriber has no email address")
	}

	m, err := s.buildMessage(sub, deal)
	if err != nil {
		return Failed("%v", err)
	}

	opts := []mail.Option{
		mail.WithTLSPolicy(tlsPolicyFromEncryption(s.config.Encryption)),
		mail.WithTimeout(s.timeout),
	}
	if s.config.Port > 0 {
		opts = append(opts, mail.WithPort(s.config.Port))
	}
	if s.config.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.config.Username),
			mail.WithPassword(s.config.Password),
		)
	}
	c, err := mail.NewClient(s.config.Host, opts...)
	if err != nil {
		return Failed("failed to create mail client: %v", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := c.DialAndSendWithContext(ctx, m); err != nil {
		return Failed("smtp delivery failed: %v", err)
	}
	return Sent("email sent to " + sub.Email)
}

func (s *EmailSender) buildMessage(sub *storage.Subscriber, deal *storage.Deal) (*mail.Msg, error) {
	m := mail.NewMsg()
	fromName := s.config.FromName
	if fromName == "" {
		fromName = s.siteName
	}
	if err := m.FromFormat(fromName, s.config.FromAddr); err != nil {
		return nil, fmt.Errorf("invalid from address: %w", err)
	}
	if err := m.To(sub.Email); err != nil {
		return nil, fmt.Errorf("invalid recipient %q: %w", sub.Email, err)
	}
	m.Subject(buildSubject(s.siteName, deal))

	// Plain-text fallback for clients that don't render HTML.
	m.SetBodyString(mail.TypeTextPlain, buildPlainText(s.siteName, sub, deal))
	if html, err := buildEmailHTML(s.siteName, sub, deal); err == nil {
		m.AddAlternativeString(mail.TypeTextHTML, html)
	}
	return m, nil
}

// tlsPolicyFromEncryption converts the encryption string to a go-mail TLSPolicy.
func tlsPolicyFromEncryption(enc string) mail.TLSPolicy {
	switch enc {
	case "ssl_tls":
		return mail.TLSMandatory
	case "starttls":
		return mail.TLSOpportunistic
	default:
		return mail.NoTLS
	}
}
