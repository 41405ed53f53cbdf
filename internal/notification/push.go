package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/shaharia-lab/dealnotify/internal/build"
	"github.com/shaharia-lab/dealnotify/internal/storage"
)

// DefaultPushAPIURL is the OneSignal create-notification endpoint.
const DefaultPushAPIURL = "https://api.onesignal.com/notifications"

// PushSender delivers deals as web push notifications through OneSignal.
type PushSender struct {
	config   PushConfig
	siteName string
	client   *http.Client
}

// NewPushSender creates a PushSender. A zero timeout selects
// DefaultPushTimeout.
func NewPushSender(config PushConfig, siteName string, timeout time.Duration) *PushSender {
	if config.APIURL == "" {
		config.APIURL = DefaultPushAPIURL
	}
	if siteName == "" {
		siteName = DefaultSiteName
	}
	return &PushSender{
		config:   config,
		siteName: siteName,
		client: &http.Client{
			Timeout:   timeoutOr(timeout, DefaultPushTimeout),
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Channel returns storage.ChannelPush.
func (s *PushSender) Channel() storage.Channel { return storage.ChannelPush }

type pushRequest struct {
	AppID                  string            `json:"app_id"`
	IncludeSubscriptionIDs []string          `json:"include_subscription_ids"`
	TargetChannel          string            `json:"target_channel"`
	Headings               map[string]string `json:"headings"`
	Contents               map[string]string `json:"contents"`
	URL                    string            `json:"url,omitempty"`
	Data                   map[string]any    `json:"data,omitempty"`
}

type pushResponse struct {
	ID     string          `json:"id"`
	Errors json.RawMessage `json:"errors,omitempty"`
}

// Send posts deal to the subscriber's push subscription.
func (s *PushSender) Send(ctx context.Context, sub *storage.Subscriber, deal *storage.Deal) Result {
	if res, ok := precheck(sub, deal, storage.ChannelPush); !ok {
		return res
	}
	if !s.config.Configured() {
		return Failed("push provider is not configured")
	}
	if sub.PushID == "" {
		return Failed("subscriber has no push subscription")
	}

	contents := deal.Title
	if deal.Excerpt != "" {
		contents = truncate(deal.Excerpt, 180)
	}
	body, err := json.Marshal(pushRequest{
		AppID:                  s.config.AppID,
		IncludeSubscriptionIDs: []string{sub.PushID},
		TargetChannel:          "push",
		Headings:               map[string]string{"en": buildPushHeading(s.siteName, deal)},
		Contents:               map[string]string{"en": contents},
		URL:                    deal.URL,
		Data:                   map[string]any{"deal_id": deal.ID},
	})
	if err != nil {
		return Failed("encoding push request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIURL, bytes.NewReader(body))
	if err != nil {
		return Failed("building push request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Key "+s.config.RESTAPIKey)
	req.Header.Set("User-Agent", build.UserAgent())

	resp, err := s.client.Do(req)
	if err != nil {
		return Failed("push request failed: %v", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Failed("push provider returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out pushResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return Failed("decoding push response: %v", err)
	}
	if out.ID == "" {
		if len(out.Errors) > 0 && string(out.Errors) != "null" {
			return Failed("push provider rejected notification: %s", string(out.Errors))
		}
		return Failed("push provider returned no notification id")
	}
	return Sent(fmt.Sprintf("push notification %s created", out.ID))
}
