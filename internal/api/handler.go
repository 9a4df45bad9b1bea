// Package api exposes the ingestion and playback pipeline over HTTP.
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"reelstream/internal/ipfs"
	"reelstream/internal/localengine"
	"reelstream/internal/models"
	"reelstream/internal/observability/metrics"
	"reelstream/internal/pipeline"
	"reelstream/internal/playback"
	"reelstream/internal/store"
	"reelstream/internal/watchqueue"
)

// WatchStats reads per-video watch aggregates.
type WatchStats interface {
	Summary(videoID string) (models.WatchSummary, bool)
}

// Handler serves the video API.
type Handler struct {
	Repo         store.Repository
	Orchestrator *pipeline.Orchestrator
	Playback     *playback.Manager
	Gateway      ipfs.Client
	Converter    *localengine.Converter
	Queue        watchqueue.Queue
	Stats        WatchStats
	Metrics      *metrics.Recorder
	Logger       *slog.Logger

	local localCache
}

// NewHandler constructs the API handler.
func NewHandler(h Handler) *Handler {
	if h.Logger == nil {
		h.Logger = slog.Default()
	}
	if h.Metrics == nil {
		h.Metrics = metrics.Default()
	}
	return &h
}

// Register attaches the API routes to the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/videos", h.handleVideos)
	mux.HandleFunc("/api/videos/", h.handleVideoSubroutes)
	mux.HandleFunc("/api/content/", h.handleContent)
	mux.HandleFunc("/api/playback", h.handlePlaybackOpen)
	mux.HandleFunc("/api/playback/", h.handlePlaybackSubroutes)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decodeJSON(r *http.Request, target any) error {
	defer func() {
		_, _ = io.Copy(io.Discard, r.Body)
	}()
	decoder := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := decoder.Decode(target); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}
