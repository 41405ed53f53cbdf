package api_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/shaharia-lab/dealnotify/internal/api"
	"github.com/shaharia-lab/dealnotify/internal/build"
	"github.com/shaharia-lab/dealnotify/internal/dispatch"
	"github.com/shaharia-lab/dealnotify/internal/queue"
	"github.com/shaharia-lab/dealnotify/internal/service"
	svcmocks "github.com/shaharia-lab/dealnotify/internal/service/mocks"
	"github.com/shaharia-lab/dealnotify/internal/storage"
)

const (
	adminToken    = "admin-secret"
	webhookSecret = "hook-secret"
)

type mockEngine struct {
	mock.Mock
}

func (m *mockEngine) OnContentPublished(ctx context.Context, item *dispatch.ContentItem) (dispatch.PublishResult, error) {
	args := m.Called(ctx, item)
	return args.Get(0).(dispatch.PublishResult), args.Error(1)
}

func (m *mockEngine) ProcessQueue(ctx context.Context) (dispatch.BatchResult, error) {
	args := m.Called(ctx)
	return args.Get(0).(dispatch.BatchResult), args.Error(1)
}

func (m *mockEngine) Cleanup(ctx context.Context) (queue.CleanupResult, error) {
	args := m.Called(ctx)
	return args.Get(0).(queue.CleanupResult), args.Error(1)
}

type mockQueue struct {
	mock.Mock
}

func (m *mockQueue) Stats(ctx context.Context) (map[string]int, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]int), args.Error(1)
}

func (m *mockQueue) RecentLog(ctx context.Context, limit int) ([]storage.AuditEntry, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]storage.AuditEntry), args.Error(1)
}

type sentMessage struct {
	chatID int64
	text   string
}

type recordingReplier struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (r *recordingReplier) SendText(_ context.Context, chatID int64, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentMessage{chatID: chatID, text: text})
	return nil
}

// testHarness bundles the mocks and router used by every test.
type testHarness struct {
	engine        *mockEngine
	queue         *mockQueue
	preferences   *svcmocks.MockPreferenceService
	subscribers   *svcmocks.MockSubscriberService
	verifications *svcmocks.MockVerificationService
	replier       *recordingReplier
	router        chi.Router
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()

	h := &testHarness{
		engine:        new(mockEngine),
		queue:         new(mockQueue),
		preferences:   new(svcmocks.MockPreferenceService),
		subscribers:   new(svcmocks.MockSubscriberService),
		verifications: new(svcmocks.MockVerificationService),
		replier:       &recordingReplier{},
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := api.New(api.Deps{
		Engine:        h.engine,
		Queue:         h.queue,
		Preferences:   h.preferences,
		Subscribers:   h.subscribers,
		Verifications: h.verifications,
		Telegram:      h.replier,
		Channels:      []storage.Channel{storage.ChannelEmail, storage.ChannelTelegram},
	}, api.Auth{AdminToken: adminToken, WebhookSecret: webhookSecret}, logger)

	r := chi.NewRouter()
	srv.Mount(r)
	h.router = r
	return h
}

func (h *testHarness) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func adminRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+adminToken)
	return req
}

func subscriberRequest(method, target, body string, subscriberID int64) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(api.HeaderSubscriberID, fmt.Sprint(subscriberID))
	return req
}

// ---------- Admin routes ----------

func TestAdminRoutesRequireToken(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		auth   string
	}{
		{name: "publish without token", method: http.MethodPost, path: "/events/content-published"},
		{name: "process with wrong token", method: http.MethodPost, path: "/queue/process", auth: "Bearer nope"},
		{name: "cleanup with basic auth", method: http.MethodPost, path: "/queue/cleanup", auth: "Basic " + adminToken},
		{name: "stats without token", method: http.MethodGet, path: "/queue/stats"},
		{name: "audit without token", method: http.MethodGet, path: "/audit"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			req := httptest.NewRequest(tc.method, tc.path, strings.NewReader("{}"))
			if tc.auth != "" {
				req.Header.Set("Authorization", tc.auth)
			}
			w := h.do(req)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			h.engine.AssertNotCalled(t, "OnContentPublished", mock.Anything, mock.Anything)
			h.engine.AssertNotCalled(t, "ProcessQueue", mock.Anything)
		})
	}
}

func TestAdminRoutesDisabledWithoutConfiguredToken(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := new(mockEngine)
	srv := api.New(api.Deps{Engine: engine}, api.Auth{}, logger)
	r := chi.NewRouter()
	srv.Mount(r)

	req := httptest.NewRequest(http.MethodPost, "/queue/process", nil)
	req.Header.Set("Authorization", "Bearer ")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	engine.AssertNotCalled(t, "ProcessQueue", mock.Anything)
}

func TestContentPublished(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		result     dispatch.PublishResult
		err        error
		wantStatus int
	}{
		{
			name:       "queued",
			body:       `{"id":7,"status":"published","title":"Laptop 40% off"}`,
			result:     dispatch.PublishResult{DealID: 7, Matched: 2, Queued: 3},
			wantStatus: http.StatusAccepted,
		},
		{
			name:       "skipped",
			body:       `{"id":7,"status":"draft"}`,
			result:     dispatch.PublishResult{DealID: 7, Skipped: true, Reason: "content not published"},
			wantStatus: http.StatusOK,
		},
		{
			name:       "invalid content",
			body:       `{"id":0}`,
			err:        dispatch.ErrInvalidContent,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "engine error",
			body:       `{"id":7,"status":"published"}`,
			err:        fmt.Errorf("db down"),
			wantStatus: http.StatusInternalServerError,
		},
		{
			name:       "invalid JSON",
			body:       `{bad`,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.engine.On("OnContentPublished", mock.Anything, mock.AnythingOfType("*dispatch.ContentItem")).
				Return(tc.result, tc.err)

			w := h.do(adminRequest(http.MethodPost, "/events/content-published", tc.body))
			assert.Equal(t, tc.wantStatus, w.Code)

			if tc.wantStatus == http.StatusAccepted || tc.wantStatus == http.StatusOK {
				var got dispatch.PublishResult
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
				assert.Equal(t, tc.result, got)
			}
		})
	}
}

func TestContentPublished_PassesItemThrough(t *testing.T) {
	h := newHarness(t)
	h.engine.On("OnContentPublished", mock.Anything, mock.MatchedBy(func(item *dispatch.ContentItem) bool {
		return item.ID == 9 && item.Meta["discount_percent"] == "25" &&
			len(item.Terms) == 1 && item.Terms[0].Slug == "deals"
	})).Return(dispatch.PublishResult{DealID: 9}, nil)

	body := `{"id":9,"status":"published","terms":[{"id":1,"taxonomy":"category","slug":"deals"}],"meta":{"discount_percent":"25"}}`
	w := h.do(adminRequest(http.MethodPost, "/events/content-published", body))

	assert.Equal(t, http.StatusAccepted, w.Code)
	h.engine.AssertExpectations(t)
}

func TestProcessQueue(t *testing.T) {
	tests := []struct {
		name       string
		result     dispatch.BatchResult
		err        error
		wantStatus int
	}{
		{name: "batch", result: dispatch.BatchResult{ID: "b1", Processed: 2, Sent: 2}, wantStatus: http.StatusOK},
		{name: "busy", result: dispatch.BatchResult{ID: "b2", Busy: true}, wantStatus: http.StatusOK},
		{name: "error", err: fmt.Errorf("db down"), wantStatus: http.StatusInternalServerError},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.engine.On("ProcessQueue", mock.Anything).Return(tc.result, tc.err)

			w := h.do(adminRequest(http.MethodPost, "/queue/process", ""))
			assert.Equal(t, tc.wantStatus, w.Code)
			if tc.wantStatus == http.StatusOK {
				var got dispatch.BatchResult
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
				assert.Equal(t, tc.result, got)
			}
		})
	}
}

func TestCleanup(t *testing.T) {
	h := newHarness(t)
	h.engine.On("Cleanup", mock.Anything).Return(queue.CleanupResult{AuditDeleted: 4, TasksDeleted: 2, TasksExhausted: 1}, nil)

	w := h.do(adminRequest(http.MethodPost, "/queue/cleanup", ""))

	require.Equal(t, http.StatusOK, w.Code)
	var got queue.CleanupResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, int64(4), got.AuditDeleted)
	assert.Equal(t, int64(2), got.TasksDeleted)
	assert.Equal(t, 1, got.TasksExhausted)
}

func TestQueueStats(t *testing.T) {
	h := newHarness(t)
	h.queue.On("Stats", mock.Anything).Return(map[string]int{"pending": 3, "sent": 10, "failed": 1}, nil)

	w := h.do(adminRequest(http.MethodGet, "/queue/stats", ""))

	require.Equal(t, http.StatusOK, w.Code)
	var got map[string]int
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, 3, got["pending"])
}

func TestAuditLog(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		wantLimit int
	}{
		{name: "default limit", query: "", wantLimit: 50},
		{name: "explicit limit", query: "?limit=5", wantLimit: 5},
		{name: "invalid limit falls back", query: "?limit=abc", wantLimit: 50},
		{name: "negative limit falls back", query: "?limit=-3", wantLimit: 50},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.queue.On("RecentLog", mock.Anything, tc.wantLimit).
				Return([]storage.AuditEntry{{ID: 1, Action: storage.AuditActionSend, Status: storage.AuditStatusSuccess}}, nil)

			w := h.do(adminRequest(http.MethodGet, "/audit"+tc.query, ""))
			assert.Equal(t, http.StatusOK, w.Code)
			h.queue.AssertExpectations(t)
		})
	}
}

// ---------- Subscribers and preferences ----------

func TestUpsertSubscriber(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		body       string
		admin      bool
		err        error
		wantStatus int
	}{
		{name: "admin upsert", path: "/subscribers/5", body: `{"email":"a@example.com","tier":2}`, admin: true, wantStatus: http.StatusOK},
		{name: "not admin", path: "/subscribers/5", body: `{"email":"a@example.com"}`, err: &service.AuthorizationError{}, wantStatus: http.StatusForbidden},
		{name: "validation", path: "/subscribers/5", body: `{"email":"nope"}`, admin: true, err: &service.ValidationError{Field: "email", Message: "invalid"}, wantStatus: http.StatusBadRequest},
		{name: "bad id", path: "/subscribers/abc", body: `{}`, admin: true, wantStatus: http.StatusBadRequest},
		{name: "invalid JSON", path: "/subscribers/5", body: `{bad`, admin: true, wantStatus: http.StatusBadRequest},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			var sub *storage.Subscriber
			if tc.err == nil {
				sub = &storage.Subscriber{ID: 5, Email: "a@example.com", Tier: storage.TierPlus}
			}
			h.subscribers.On("Upsert", mock.Anything, service.Actor{Admin: tc.admin}, int64(5), mock.AnythingOfType("service.SubscriberInput")).
				Return(sub, tc.err)

			req := httptest.NewRequest(http.MethodPut, tc.path, strings.NewReader(tc.body))
			if tc.admin {
				req.Header.Set("Authorization", "Bearer "+adminToken)
			}
			w := h.do(req)
			assert.Equal(t, tc.wantStatus, w.Code)
		})
	}
}

func TestGetSubscriber(t *testing.T) {
	h := newHarness(t)
	h.subscribers.On("Get", mock.Anything, service.Actor{SubscriberID: 5}, int64(5)).
		Return(&storage.Subscriber{ID: 5, Email: "a@example.com"}, nil)

	w := h.do(subscriberRequest(http.MethodGet, "/subscribers/5", "", 5))

	require.Equal(t, http.StatusOK, w.Code)
	var got storage.Subscriber
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "a@example.com", got.Email)
}

func TestGetPreferences(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{name: "success", wantStatus: http.StatusOK},
		{name: "not found", err: &service.NotFoundError{Resource: "subscriber", ID: "5"}, wantStatus: http.StatusNotFound},
		{name: "forbidden", err: &service.AuthorizationError{Message: "no"}, wantStatus: http.StatusForbidden},
		{name: "internal", err: fmt.Errorf("db down"), wantStatus: http.StatusInternalServerError},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			var view *service.PreferencesView
			if tc.err == nil {
				view = &service.PreferencesView{SubscriberID: 5, Tier: storage.TierBasic}
			}
			h.preferences.On("Get", mock.Anything, service.Actor{SubscriberID: 5}, int64(5)).Return(view, tc.err)

			w := h.do(subscriberRequest(http.MethodGet, "/subscribers/5/preferences", "", 5))
			assert.Equal(t, tc.wantStatus, w.Code)
		})
	}
}

func TestSavePreferences(t *testing.T) {
	h := newHarness(t)
	minDiscount := 30
	want := service.PreferencesInput{
		NotificationsEnabled: true,
		Channels:             []string{"email", "telegram"},
		MinDiscount:          &minDiscount,
		CategoryAllowlist:    []int64{3},
		StoreAllowlist:       []int64{},
	}
	h.preferences.On("Save", mock.Anything, service.Actor{SubscriberID: 5}, int64(5), want).
		Return(&service.PreferencesView{SubscriberID: 5}, nil)

	body := `{"notifications_enabled":true,"channels":["email","telegram"],"min_discount":30,"category_allowlist":[3],"store_allowlist":[]}`
	w := h.do(subscriberRequest(http.MethodPut, "/subscribers/5/preferences", body, 5))

	assert.Equal(t, http.StatusOK, w.Code)
	h.preferences.AssertExpectations(t)
}

func TestSavePreferences_ValidationError(t *testing.T) {
	h := newHarness(t)
	h.preferences.On("Save", mock.Anything, mock.Anything, int64(5), mock.Anything).
		Return(nil, &service.ValidationError{Field: "min_discount", Message: "must be between 10 and 90 in steps of 5"})

	w := h.do(subscriberRequest(http.MethodPut, "/subscribers/5/preferences", `{"min_discount":33}`, 5))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "min_discount")
}

func TestDisconnectChannel(t *testing.T) {
	h := newHarness(t)
	h.preferences.On("DisconnectChannel", mock.Anything, service.Actor{SubscriberID: 5}, int64(5), "telegram").
		Return(&service.PreferencesView{SubscriberID: 5}, nil)

	w := h.do(subscriberRequest(http.MethodDelete, "/subscribers/5/channels/telegram", "", 5))

	assert.Equal(t, http.StatusOK, w.Code)
	h.preferences.AssertExpectations(t)
}

func TestAdminTokenActsAsAdminOnSubscriberRoutes(t *testing.T) {
	h := newHarness(t)
	h.preferences.On("Get", mock.Anything, service.Actor{Admin: true}, int64(8)).
		Return(&service.PreferencesView{SubscriberID: 8}, nil)

	w := h.do(adminRequest(http.MethodGet, "/subscribers/8/preferences", ""))

	assert.Equal(t, http.StatusOK, w.Code)
	h.preferences.AssertExpectations(t)
}

func TestInvalidSubscriberHeaderIsAnonymous(t *testing.T) {
	h := newHarness(t)
	h.preferences.On("Get", mock.Anything, service.Actor{}, int64(5)).
		Return(nil, &service.AuthorizationError{})

	req := httptest.NewRequest(http.MethodGet, "/subscribers/5/preferences", nil)
	req.Header.Set(api.HeaderSubscriberID, "not-a-number")
	w := h.do(req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestIssueTelegramCode(t *testing.T) {
	h := newHarness(t)
	expires := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	h.verifications.On("IssueCode", mock.Anything, service.Actor{SubscriberID: 5}, int64(5)).
		Return(&service.IssuedCode{Code: "123456", ExpiresAt: expires, DeepLink: "https://t.me/dealsbot?start=123456"}, nil)

	w := h.do(subscriberRequest(http.MethodPost, "/subscribers/5/telegram/code", "", 5))

	require.Equal(t, http.StatusCreated, w.Code)
	var got service.IssuedCode
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "123456", got.Code)
	assert.True(t, expires.Equal(got.ExpiresAt))
}

// ---------- Telegram webhook ----------

func webhookRequest(body, secret string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/telegram/webhook", strings.NewReader(body))
	if secret != "" {
		req.Header.Set(api.HeaderTelegramSecret, secret)
	}
	return req
}

const startUpdate = `{"update_id":1,"message":{"message_id":2,"from":{"id":99,"username":"dealfan"},"chat":{"id":4242,"type":"private"},"text":"/start 123456"}}`

func TestTelegramWebhook_RejectsBadSecret(t *testing.T) {
	h := newHarness(t)

	w := h.do(webhookRequest(startUpdate, "wrong"))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	h.verifications.AssertNotCalled(t, "Verify", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestTelegramWebhook_Connects(t *testing.T) {
	h := newHarness(t)
	h.verifications.On("Verify", mock.Anything, "/start 123456", int64(4242), "dealfan").Return(int64(5), nil)

	w := h.do(webhookRequest(startUpdate, webhookSecret))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"connected"`)
	require.Len(t, h.replier.sent, 1)
	assert.Equal(t, int64(4242), h.replier.sent[0].chatID)
	assert.Contains(t, h.replier.sent[0].text, "connected")
}

func TestTelegramWebhook_Failures(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantReply string
	}{
		{name: "unknown code", err: &service.NotFoundError{Resource: "verification code", ID: "123456"}, wantReply: "not valid"},
		{name: "expired code", err: &service.ValidationError{Field: "code", Message: service.CodeExpiredMessage}, wantReply: "expired"},
		{name: "used code", err: &service.ConflictError{Resource: "verification code", ID: "123456"}, wantReply: "already used"},
		{name: "no code", err: &service.ValidationError{Field: "code", Message: "message does not contain a verification code"}, wantReply: "6-digit code"},
		{name: "internal", err: fmt.Errorf("db down"), wantReply: "went wrong"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.verifications.On("Verify", mock.Anything, mock.Anything, int64(4242), "dealfan").Return(int64(0), tc.err)

			w := h.do(webhookRequest(startUpdate, webhookSecret))

			assert.Equal(t, http.StatusOK, w.Code)
			assert.Contains(t, w.Body.String(), `"rejected"`)
			require.Len(t, h.replier.sent, 1)
			assert.Contains(t, h.replier.sent[0].text, tc.wantReply)
		})
	}
}

func TestTelegramWebhook_IgnoresNonMessageUpdates(t *testing.T) {
	h := newHarness(t)

	w := h.do(webhookRequest(`{"update_id":3}`, webhookSecret))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ignored")
	assert.Empty(t, h.replier.sent)
}

func TestVersion(t *testing.T) {
	h := newHarness(t)

	w := h.do(httptest.NewRequest(http.MethodGet, "/version", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var got map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, build.Version, got["version"])
	assert.Contains(t, got, "commit")
	assert.Equal(t, []any{"email", "telegram"}, got["channels"])
	assert.Equal(t, true, got["telegram_webhook"])
}

func TestVersion_NoChannels(t *testing.T) {
	srv := api.New(api.Deps{}, api.Auth{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	r := chi.NewRouter()
	srv.Mount(r)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/version", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"version":"`+build.Version+`","commit":"`+build.CommitSHA+`","build_date":"`+build.BuildDate+`","channels":[],"telegram_webhook":false}`, w.Body.String())
}
