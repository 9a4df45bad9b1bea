package api

import (
	"fmt"
	"net/http"
	"strings"

	"reelstream/internal/ipfs"
)

// handleContent serves pinned bytes for the direct playback tier. The
// gateway tries the metadata store's proxy first and falls back to the
// public gateway.
func (h *Handler) handleContent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	cid := strings.TrimPrefix(r.URL.Path, "/api/content/")
	if cid == "" || strings.Contains(cid, "/") {
		writeError(w, http.StatusNotFound, fmt.Errorf("content id is required"))
		return
	}

	data, contentType, err := h.Gateway.FetchViaProxy(r.Context(), cid)
	if err != nil {
		if ipfs.IsKind(err, ipfs.ErrFetch) {
			writeError(w, http.StatusBadGateway, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=86400, immutable")
	_, _ = w.Write(data)
}
