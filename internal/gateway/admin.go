package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/crosswire/crosswire/internal/manifest"
	"github.com/crosswire/crosswire/internal/store"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type channelStatus struct {
	ChannelID string `json:"channel_id"`
	Status    string `json:"status"`
	Enabled   bool   `json:"enabled"`
	LastError string `json:"last_error,omitempty"`
}

// handleChannelStatus reports every configured channel and the
// middleware chain size.
func (s *Server) handleChannelStatus(w http.ResponseWriter, r *http.Request) {
	out := struct {
		Initialized     bool            `json:"initialized"`
		Channels        []channelStatus `json:"channels"`
		MiddlewareCount int             `json:"middleware_count"`
	}{
		Initialized:     true,
		Channels:        []channelStatus{},
		MiddlewareCount: s.config.Bus.MiddlewareCount(),
	}

	if s.config.ConfigStore != nil {
		configs, err := s.config.ConfigStore.ListConfigs(r.Context())
		if err != nil {
			s.logger.Error("channel status query failed", "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "status unavailable"})
			return
		}
		for _, cfg := range configs {
			out.Channels = append(out.Channels, channelStatus{
				ChannelID: cfg.ChannelID,
				Status:    string(cfg.Status),
				Enabled:   cfg.Enabled,
				LastError: cfg.LastError,
			})
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleManifestList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.config.Manifests.List())
}

func (s *Server) handleManifestGet(w http.ResponseWriter, r *http.Request) {
	m, err := s.config.Manifests.Get(r.PathValue("id"))
	if errors.Is(err, manifest.ErrManifestNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "manifest not found"})
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// handleManifestValidate checks a candidate configuration against the
// manifest's declared fields.
func (s *Server) handleManifestValidate(w http.ResponseWriter, r *http.Request) {
	var cfg map[string]string
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if err := s.config.Manifests.ValidateConfig(r.PathValue("id"), cfg); err != nil {
		if errors.Is(err, manifest.ErrManifestNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "manifest not found"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"valid": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"valid": true})
}

// handleManifestTest runs a structured diagnostic for a configured
// channel: manifest presence, stored config, and recent events.
func (s *Server) handleManifestTest(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	diag := struct {
		ChannelID  string                `json:"channel_id"`
		Manifest   bool                  `json:"manifest_found"`
		Configured bool                  `json:"configured"`
		Status     string                `json:"status,omitempty"`
		Events     []*store.ChannelEvent `json:"recent_events,omitempty"`
	}{ChannelID: id}

	if _, err := s.config.Manifests.Get(id); err == nil {
		diag.Manifest = true
	}
	if s.config.ConfigStore != nil {
		if cfg, err := s.config.ConfigStore.GetConfig(r.Context(), id); err == nil {
			diag.Configured = true
			diag.Status = string(cfg.Status)
		}
		if events, err := s.config.ConfigStore.GetRecentEvents(r.Context(), id, 10); err == nil {
			diag.Events = events
		}
	}

	status := http.StatusOK
	if !diag.Manifest {
		status = http.StatusNotFound
	}
	writeJSON(w, status, diag)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
