package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"reelstream/internal/localengine"
	"reelstream/internal/models"
	"reelstream/internal/playback"
	"reelstream/internal/store"
)

type openPlaybackRequest struct {
	VideoID string `json:"videoId"`
}

type sessionResponse struct {
	SessionID   string `json:"sessionId"`
	VideoID     string `json:"videoId"`
	Tier        string `json:"tier"`
	PlaybackURL string `json:"playbackUrl"`
}

func (h *Handler) handlePlaybackOpen(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	var req openPlaybackRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	asset, err := h.Repo.GetAsset(r.Context(), strings.TrimSpace(req.VideoID))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	session, err := h.Playback.Open(r.Context(), asset)
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse{
		SessionID:   session.ID,
		VideoID:     session.VideoID,
		Tier:        session.Tier().String(),
		PlaybackURL: session.PlaybackURL(),
	})
}

func (h *Handler) handlePlaybackSubroutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/playback/")
	sessionID, action, _ := strings.Cut(rest, "/")
	if sessionID == "" {
		writeError(w, http.StatusNotFound, fmt.Errorf("session id is required"))
		return
	}
	session, ok := h.Playback.Get(sessionID)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown session %s", sessionID))
		return
	}
	switch {
	case action == "error":
		h.reportPlaybackError(w, r, session)
	case action == "event":
		h.playbackEvent(w, r, session)
	case action == "reset":
		h.resetPlayback(w, r, session)
	case action == "local.m3u8":
		h.localManifest(w, r, session)
	case strings.HasSuffix(action, ".ts"):
		h.localSegment(w, r, session, action)
	default:
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown action %q", action))
	}
}

func (h *Handler) reportPlaybackError(w http.ResponseWriter, r *http.Request, session *playback.Session) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	var report playback.Report
	if err := decodeJSON(r, &report); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	decision, err := session.HandleError(report)
	if err != nil {
		if playback.IsKind(err, playback.AllTiersExhausted) {
			writeJSON(w, http.StatusConflict, map[string]string{
				"error": err.Error(),
				"kind":  string(playback.AllTiersExhausted),
			})
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if decision.Tier == models.TierLocalTranscode {
		decision.PlaybackURL = fmt.Sprintf("/api/playback/%s/local.m3u8", session.ID)
	}
	writeJSON(w, http.StatusOK, decision)
}

type playbackEventRequest struct {
	Type            string `json:"type"`
	DurationSeconds int    `json:"durationSec"`
	Liked           bool   `json:"liked"`
}

func (h *Handler) playbackEvent(w http.ResponseWriter, r *http.Request, session *playback.Session) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	var req playbackEventRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	switch strings.ToLower(strings.TrimSpace(req.Type)) {
	case "start":
		session.NotifyStart()
	case "complete":
		session.NotifyComplete(req.DurationSeconds, req.Liked)
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown event type %q", req.Type))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (h *Handler) resetPlayback(w http.ResponseWriter, r *http.Request, session *playback.Session) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	fresh, err := h.Playback.Reset(r.Context(), session.ID)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse{
		SessionID:   fresh.ID,
		VideoID:     fresh.VideoID,
		Tier:        fresh.Tier().String(),
		PlaybackURL: fresh.PlaybackURL(),
	})
}

// localCache holds converted segment sets keyed by video id so repeated
// sessions for one video convert once.
type localCache struct {
	mu      sync.Mutex
	results map[string]*localengine.Result
}

func (c *localCache) get(videoID string) (*localengine.Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	result, ok := c.results[videoID]
	return result, ok
}

func (c *localCache) put(videoID string, result *localengine.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.results == nil {
		c.results = make(map[string]*localengine.Result)
	}
	c.results[videoID] = result
}

func (h *Handler) localResult(ctx context.Context, session *playback.Session) (*localengine.Result, error) {
	if result, ok := h.local.get(session.VideoID); ok {
		return result, nil
	}
	asset, err := h.Repo.GetAsset(ctx, session.VideoID)
	if err != nil {
		return nil, err
	}
	data, _, err := h.Gateway.FetchViaProxy(ctx, asset.ContentID)
	if err != nil {
		return nil, err
	}
	result, err := h.Converter.Convert(ctx, data, asset.ContentID)
	if err != nil {
		return nil, err
	}
	h.local.put(session.VideoID, &result)
	return &result, nil
}

func (h *Handler) localManifest(w http.ResponseWriter, r *http.Request, session *playback.Session) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	if session.Tier() != models.TierLocalTranscode {
		writeError(w, http.StatusConflict, fmt.Errorf("session is at tier %s", session.Tier()))
		return
	}
	result, err := h.localResult(r.Context(), session)
	if err != nil {
		writeError(w, localErrorStatus(err), err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	_, _ = w.Write(result.Manifest)
}

func (h *Handler) localSegment(w http.ResponseWriter, r *http.Request, session *playback.Session, name string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	if session.Tier() != models.TierLocalTranscode {
		writeError(w, http.StatusConflict, fmt.Errorf("session is at tier %s", session.Tier()))
		return
	}
	result, ok := h.local.get(session.VideoID)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("no converted output for session %s", session.ID))
		return
	}
	for _, segment := range result.Segments {
		if segment.Name == name {
			w.Header().Set("Content-Type", "video/mp2t")
			_, _ = w.Write(segment.Data)
			return
		}
	}
	writeError(w, http.StatusNotFound, fmt.Errorf("unknown segment %q", name))
}

func localErrorStatus(err error) int {
	switch {
	case localengine.IsKind(err, localengine.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case localengine.IsKind(err, localengine.ErrTimeout):
		return http.StatusGatewayTimeout
	case localengine.IsKind(err, localengine.ErrEngineLoadFailed):
		return http.StatusServiceUnavailable
	case localengine.IsKind(err, localengine.ErrEncodeFailed):
		return http.StatusBadGateway
	default:
		return http.StatusBadGateway
	}
}
