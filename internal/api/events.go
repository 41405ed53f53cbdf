package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/shaharia-lab/dealnotify/internal/dispatch"
)

const defaultAuditLimit = 50

// handleContentPublished receives the host's publish event for one content item.
func (s *Server) handleContentPublished(w http.ResponseWriter, r *http.Request) {
	var item dispatch.ContentItem
	if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
		writeError(w, http.StatusBadRequest, errInvalidJSONBody)
		return
	}

	res, err := s.deps.Engine.OnContentPublished(r.Context(), &item)
	if errors.Is(err, dispatch.ErrInvalidContent) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("content published handler failed", "content_id", item.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to process publish event")
		return
	}

	status := http.StatusAccepted
	if res.Skipped {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}

func (s *Server) handleProcessQueue(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Engine.ProcessQueue(r.Context())
	if err != nil {
		s.logger.Error("queue batch failed", "batch_id", res.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to process queue")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Engine.Cleanup(r.Context())
	if err != nil {
		s.logger.Error("queue cleanup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to clean up queue")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Queue.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load queue stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleAuditLog returns recent audit entries.
// Accepts an optional ?limit=N query parameter (default 50).
func (s *Server) handleAuditLog(w http.ResponseWriter, r *http.Request) {
	limit := defaultAuditLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}

	entries, err := s.deps.Queue.RecentLog(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list audit log")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
