package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/shaharia-lab/dealnotify/internal/service"
)

func (s *Server) handleGetSubscriber(w http.ResponseWriter, r *http.Request) {
	id, ok := subscriberID(w, r)
	if !ok {
		return
	}
	sub, err := s.deps.Subscribers.Get(r.Context(), s.actorFrom(r), id)
	if err != nil {
		httpErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// handleUpsertSubscriber syncs a profile pushed by the host system.
func (s *Server) handleUpsertSubscriber(w http.ResponseWriter, r *http.Request) {
	id, ok := subscriberID(w, r)
	if !ok {
		return
	}
	var input service.SubscriberInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, errInvalidJSONBody)
		return
	}

	sub, err := s.deps.Subscribers.Upsert(r.Context(), s.actorFrom(r), id, input)
	if err != nil {
		httpErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (s *Server) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	id, ok := subscriberID(w, r)
	if !ok {
		return
	}
	view, err := s.deps.Preferences.Get(r.Context(), s.actorFrom(r), id)
	if err != nil {
		httpErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleSavePreferences(w http.ResponseWriter, r *http.Request) {
	id, ok := subscriberID(w, r)
	if !ok {
		return
	}
	var input service.PreferencesInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, errInvalidJSONBody)
		return
	}

	view, err := s.deps.Preferences.Save(r.Context(), s.actorFrom(r), id, input)
	if err != nil {
		httpErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleDisconnectChannel(w http.ResponseWriter, r *http.Request) {
	id, ok := subscriberID(w, r)
	if !ok {
		return
	}
	view, err := s.deps.Preferences.DisconnectChannel(r.Context(), s.actorFrom(r), id, chi.URLParam(r, "channel"))
	if err != nil {
		httpErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handleIssueTelegramCode creates a one-time code the subscriber sends to the bot.
func (s *Server) handleIssueTelegramCode(w http.ResponseWriter, r *http.Request) {
	id, ok := subscriberID(w, r)
	if !ok {
		return
	}
	code, err := s.deps.Verifications.IssueCode(r.Context(), s.actorFrom(r), id)
	if err != nil {
		httpErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, code)
}
