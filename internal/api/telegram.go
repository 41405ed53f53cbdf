package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"

	tele "gopkg.in/telebot.v4"

	"github.com/shaharia-lab/dealnotify/internal/service"
)

// Bot replies to verification attempts.
const (
	replyConnected = "Telegram notifications are connected. You will receive new deals here."
	replyNoCode    = "Send the 6-digit code shown on your notification settings page."
	replyUnknown   = "That code is not valid. Request a new one from your notification settings."
	replyExpired   = "That code has expired. Request a new one from your notification settings."
	replyUsed      = "That code was already used."
	replyFailed    = "Something went wrong. Please try again later."
)

// handleTelegramWebhook consumes a bot update carrying a verification code.
// Telegram retries non-2xx responses, so verification failures are answered
// in the chat and acknowledged with 200.
func (s *Server) handleTelegramWebhook(w http.ResponseWriter, r *http.Request) {
	if s.auth.WebhookSecret != "" {
		got := r.Header.Get(HeaderTelegramSecret)
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.auth.WebhookSecret)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid webhook secret")
			return
		}
	}

	var update tele.Update
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeError(w, http.StatusBadRequest, errInvalidJSONBody)
		return
	}
	m := update.Message
	if m == nil || m.Chat == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}
	var username string
	if m.Sender != nil {
		username = m.Sender.Username
	}

	subscriberID, err := s.deps.Verifications.Verify(r.Context(), m.Text, m.Chat.ID, username)
	reply := verifyReply(err)
	if err != nil && reply == replyFailed {
		s.logger.Error("telegram verification failed", "chat_id", m.Chat.ID, "error", err)
	}
	s.reply(r, m.Chat.ID, reply)

	if err != nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "rejected", "reason": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "connected", "subscriber_id": subscriberID})
}

func (s *Server) reply(r *http.Request, chatID int64, text string) {
	if s.deps.Telegram == nil {
		return
	}
	if err := s.deps.Telegram.SendText(r.Context(), chatID, text); err != nil {
		s.logger.Warn("telegram reply failed", "chat_id", chatID, "error", err)
	}
}

func verifyReply(err error) string {
	var (
		notFound   *service.NotFoundError
		validation *service.ValidationError
		conflict   *service.ConflictError
	)
	switch {
	case err == nil:
		return replyConnected
	case errors.As(err, &notFound):
		return replyUnknown
	case errors.As(err, &conflict):
		return replyUsed
	case errors.As(err, &validation):
		if validation.Field == "code" && validation.Message == service.CodeExpiredMessage {
			return replyExpired
		}
		return replyNoCode
	default:
		return replyFailed
	}
}
