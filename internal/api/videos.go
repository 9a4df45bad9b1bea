package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"reelstream/internal/ipfs"
	"reelstream/internal/livepeer"
	"reelstream/internal/metadata"
	"reelstream/internal/models"
	"reelstream/internal/pipeline"
	"reelstream/internal/store"
)

// multipartMemoryLimit bounds what ParseMultipartForm keeps in memory;
// larger parts spill to temp files.
const multipartMemoryLimit = 8 << 20

func (h *Handler) handleVideos(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.uploadVideo(w, r)
	case http.MethodGet:
		h.listVideos(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
	}
}

func (h *Handler) uploadVideo(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, pipeline.MaxUploadBytes+multipartMemoryLimit)
	if err := r.ParseMultipartForm(multipartMemoryLimit); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("parse upload: %w", err))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("file part is required"))
		return
	}
	defer func() {
		_ = file.Close()
	}()

	data, err := io.ReadAll(io.LimitReader(file, pipeline.MaxUploadBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("read upload: %w", err))
		return
	}
	if len(data) > pipeline.MaxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Errorf("upload exceeds %d bytes", pipeline.MaxUploadBytes))
		return
	}

	var tags []string
	for _, raw := range r.MultipartForm.Value["tags"] {
		for _, tag := range strings.Split(raw, ",") {
			if trimmed := strings.TrimSpace(tag); trimmed != "" {
				tags = append(tags, trimmed)
			}
		}
	}

	asset, err := h.Orchestrator.Upload(r.Context(), pipeline.UploadRequest{
		Data:     data,
		Filename: header.Filename,
		Title:    r.FormValue("title"),
		Tags:     tags,
	})
	if err != nil {
		writeError(w, uploadErrorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, asset)
}

func uploadErrorStatus(err error) int {
	switch {
	case errors.Is(err, metadata.ErrDuplicateID), errors.Is(err, store.ErrDuplicateID):
		return http.StatusConflict
	case ipfs.IsKind(err, ipfs.ErrUpload):
		return http.StatusBadGateway
	case livepeer.IsKind(err, livepeer.ErrSubmit):
		return http.StatusBadGateway
	default:
		return http.StatusBadRequest
	}
}

func (h *Handler) listVideos(w http.ResponseWriter, r *http.Request) {
	assets, err := h.Repo.ListAssets(r.Context(), store.ListFilter{
		Tag: strings.TrimSpace(r.URL.Query().Get("tag")),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if assets == nil {
		assets = []models.VideoAsset{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"videos": assets})
}

func (h *Handler) handleVideoSubroutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/videos/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		writeError(w, http.StatusNotFound, fmt.Errorf("video id is required"))
		return
	}
	switch action {
	case "":
		h.getVideo(w, r, id)
	case "watch":
		h.logWatch(w, r, id)
	case "analytics":
		h.videoAnalytics(w, r, id)
	default:
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown action %q", action))
	}
}

func (h *Handler) getVideo(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	asset, err := h.Repo.GetAsset(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, asset)
}

type watchRequest struct {
	DurationSeconds int  `json:"durationSec"`
	Liked           bool `json:"liked"`
	Completed       bool `json:"completed"`
}

func (h *Handler) logWatch(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	var req watchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if _, err := h.Repo.GetAsset(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	event := models.WatchEvent{
		VideoID:         id,
		DurationSeconds: req.DurationSeconds,
		Liked:           req.Liked,
		Completed:       req.Completed,
		Timestamp:       time.Now().UTC(),
	}
	// Fire and forget: a failed publish loses a sample, not the request.
	if err := h.Queue.Publish(r.Context(), event); err != nil {
		h.Logger.Warn("watch event publish failed", "video_id", id, "error", err)
	}
	h.Metrics.WatchEvent("logged")
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (h *Handler) videoAnalytics(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	if _, err := h.Repo.GetAsset(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	summary, ok := h.Stats.Summary(id)
	if !ok {
		summary = models.WatchSummary{VideoID: id}
	}
	writeJSON(w, http.StatusOK, summary)
}
