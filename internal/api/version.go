package api

import (
	"net/http"

	"github.com/shaharia-lab/dealnotify/internal/build"
	"github.com/shaharia-lab/dealnotify/internal/storage"
)

type versionResponse struct {
	Version   string            `json:"version"`
	Commit    string            `json:"commit"`
	BuildDate string            `json:"build_date"`
	Channels  []storage.Channel `json:"channels"`
	Webhook   bool              `json:"telegram_webhook"`
}

// handleVersion reports the build and which delivery channels this
// instance can send through.
func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	channels := s.deps.Channels
	if channels == nil {
		channels = []storage.Channel{}
	}
	writeJSON(w, http.StatusOK, versionResponse{
		Version:   build.Version,
		Commit:    build.CommitSHA,
		BuildDate: build.BuildDate,
		Channels:  channels,
		Webhook:   s.deps.Telegram != nil,
	})
}
