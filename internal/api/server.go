package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/shaharia-lab/dealnotify/internal/dispatch"
	"github.com/shaharia-lab/dealnotify/internal/queue"
	"github.com/shaharia-lab/dealnotify/internal/service"
	"github.com/shaharia-lab/dealnotify/internal/storage"
)

// Header names read from inbound requests.
const (
	HeaderSubscriberID   = "X-Subscriber-ID"
	HeaderTelegramSecret = "X-Telegram-Bot-Api-Secret-Token" //nolint:gosec
)

const errInvalidJSONBody = "invalid JSON body"

// Dispatcher is the part of the dispatch engine driven over HTTP.
type Dispatcher interface {
	OnContentPublished(ctx context.Context, item *dispatch.ContentItem) (dispatch.PublishResult, error)
	ProcessQueue(ctx context.Context) (dispatch.BatchResult, error)
	Cleanup(ctx context.Context) (queue.CleanupResult, error)
}

// QueueInspector exposes read-only queue state.
type QueueInspector interface {
	Stats(ctx context.Context) (map[string]int, error)
	RecentLog(ctx context.Context, limit int) ([]storage.AuditEntry, error)
}

// TelegramReplier answers the chat that sent a webhook update.
type TelegramReplier interface {
	SendText(ctx context.Context, chatID int64, text string) error
}

// Deps groups the collaborators of the API server. Telegram may be nil.
type Deps struct {
	Engine        Dispatcher
	Queue         QueueInspector
	Preferences   service.PreferenceService
	Subscribers   service.SubscriberService
	Verifications service.VerificationService
	Telegram      TelegramReplier
	// Channels lists the delivery channels with configured senders.
	Channels []storage.Channel
}

// Auth holds the shared secrets checked by the API.
type Auth struct {
	// AdminToken is the bearer token granting admin rights. Empty disables
	// every admin-only route.
	AdminToken string
	// WebhookSecret is compared with Telegram's secret token header when set.
	WebhookSecret string
}

// Server holds all dependencies for the REST API handlers.
type Server struct {
	deps   Deps
	auth   Auth
	logger *slog.Logger
}

// New creates a new API Server backed by the provided dependencies.
func New(deps Deps, auth Auth, logger *slog.Logger) *Server {
	return &Server{deps: deps, auth: auth, logger: logger}
}

// Mount registers all API routes under the given router.
func (s *Server) Mount(r chi.Router) {
	// Host integration, admin only
	r.Group(func(r chi.Router) {
		r.Use(s.requireAdmin)
		r.Post("/events/content-published", s.handleContentPublished)
		r.Post("/queue/process", s.handleProcessQueue)
		r.Post("/queue/cleanup", s.handleCleanup)
		r.Get("/queue/stats", s.handleQueueStats)
		r.Get("/audit", s.handleAuditLog)
	})

	// Subscribers
	r.Get("/subscribers/{id}", s.handleGetSubscriber)
	r.Put("/subscribers/{id}", s.handleUpsertSubscriber)
	r.Get("/subscribers/{id}/preferences", s.handleGetPreferences)
	r.Put("/subscribers/{id}/preferences", s.handleSavePreferences)
	r.Delete("/subscribers/{id}/channels/{channel}", s.handleDisconnectChannel)
	r.Post("/subscribers/{id}/telegram/code", s.handleIssueTelegramCode)

	// Telegram bot
	r.Post("/telegram/webhook", s.handleTelegramWebhook)

	r.Get("/version", s.handleVersion)
}

// ─── Shared helpers ───────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// httpErr maps service errors to HTTP status codes.
func httpErr(w http.ResponseWriter, err error) {
	var (
		notFound   *service.NotFoundError
		validation *service.ValidationError
		conflict   *service.ConflictError
		authz      *service.AuthorizationError
	)
	switch {
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, notFound.Error())
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, validation.Error())
	case errors.As(err, &conflict):
		writeError(w, http.StatusConflict, conflict.Error())
	case errors.As(err, &authz):
		writeError(w, http.StatusForbidden, authz.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// actorFrom identifies the caller. A valid admin bearer token wins over the
// subscriber header.
func (s *Server) actorFrom(r *http.Request) service.Actor {
	var a service.Actor
	if s.isAdmin(r) {
		a.Admin = true
	}
	if raw := strings.TrimSpace(r.Header.Get(HeaderSubscriberID)); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil && id > 0 {
			a.SubscriberID = id
		}
	}
	return a
}

func (s *Server) isAdmin(r *http.Request) bool {
	if s.auth.AdminToken == "" {
		return false
	}
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(s.auth.AdminToken)) == 1
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.isAdmin(r) {
			writeError(w, http.StatusUnauthorized, "admin token required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// subscriberID parses the {id} URL parameter, writing a 400 on failure.
func subscriberID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid subscriber id")
		return 0, false
	}
	return id, true
}
