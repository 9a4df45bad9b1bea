package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"reelstream/internal/models"
)

func newTestClient(server *httptest.Server) Client {
	return NewClient(Config{BaseURL: server.URL, HTTPClient: server.Client()})
}

// TestCreateVideoMetadata verifies the record shape posted to the store.
func TestCreateVideoMetadata(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/videos" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var record VideoMetadata
		if err := json.NewDecoder(r.Body).Decode(&record); err != nil {
			t.Fatalf("decode record: %v", err)
		}
		if record.VideoID != "vid-1" || record.StorageRef != "ipfs:QmTest" {
			t.Fatalf("unexpected record: %+v", record)
		}
		if record.Timestamp == 0 {
			t.Fatal("expected a timestamp")
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	client := newTestClient(server)
	ref := models.StorageRef{Scheme: models.SchemeIPFS, ID: "QmTest"}
	if err := client.CreateVideoMetadata(context.Background(), "vid-1", "Demo", []string{"fun"}, ref); err != nil {
		t.Fatalf("CreateVideoMetadata: %v", err)
	}
}

// TestCreateDuplicateID verifies a conflict maps to the duplicate-id error.
func TestCreateDuplicateID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "exists", http.StatusConflict)
	}))
	defer server.Close()

	client := newTestClient(server)
	err := client.CreateVideoMetadata(context.Background(), "vid-1", "Demo", nil, models.StorageRef{Scheme: models.SchemeIPFS, ID: "Qm"})
	if !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("expected duplicate-id error, got %v", err)
	}
}

// TestGetVideoMetadata verifies record retrieval and the not-found mapping.
func TestGetVideoMetadata(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/videos/vid-1":
			_ = json.NewEncoder(w).Encode(VideoMetadata{VideoID: "vid-1", Title: "Demo", StorageRef: "livepeer:pb-1"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := newTestClient(server)
	record, err := client.GetVideoMetadata(context.Background(), "vid-1")
	if err != nil {
		t.Fatalf("GetVideoMetadata: %v", err)
	}
	if record.StorageRef != "livepeer:pb-1" {
		t.Fatalf("unexpected record: %+v", record)
	}
	if _, err := client.GetVideoMetadata(context.Background(), "vid-2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not-found, got %v", err)
	}
}

// TestUpdateVideoMetadata verifies the storage-ref swap request.
func TestUpdateVideoMetadata(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/videos/vid-1" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var payload map[string]string
		_ = json.NewDecoder(r.Body).Decode(&payload)
		if payload["storageRef"] != "livepeer:pb-1" {
			t.Fatalf("unexpected payload: %v", payload)
		}
	}))
	defer server.Close()

	client := newTestClient(server)
	ref := models.StorageRef{Scheme: models.SchemeLivepeer, ID: "pb-1"}
	if err := client.UpdateVideoMetadata(context.Background(), "vid-1", ref); err != nil {
		t.Fatalf("UpdateVideoMetadata: %v", err)
	}
}

// TestLogWatchEvent verifies watch events post to the per-video endpoint.
func TestLogWatchEvent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/videos/vid-1/watch" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		var ev models.WatchEvent
		_ = json.NewDecoder(r.Body).Decode(&ev)
		if !ev.Completed || ev.DurationSeconds != 30 {
			t.Fatalf("unexpected event: %+v", ev)
		}
	}))
	defer server.Close()

	client := newTestClient(server)
	ev := models.WatchEvent{VideoID: "vid-1", DurationSeconds: 30, Completed: true}
	if err := client.LogWatchEvent(context.Background(), ev); err != nil {
		t.Fatalf("LogWatchEvent: %v", err)
	}
}

// TestProxyContentCap verifies proxied reads respect the response cap.
func TestProxyContentCap(t *testing.T) {
	big := make([]byte, maxProxyBytes+1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ipfs/QmSmall":
			w.Header().Set("Content-Type", "video/mp4")
			_, _ = w.Write([]byte("content"))
		case "/ipfs/QmBig":
			_, _ = w.Write(big)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := newTestClient(server)
	data, contentType, status, err := client.ProxyContent(context.Background(), "QmSmall")
	if err != nil {
		t.Fatalf("ProxyContent: %v", err)
	}
	if string(data) != "content" || contentType != "video/mp4" || status != http.StatusOK {
		t.Fatalf("unexpected response %q %q %d", data, contentType, status)
	}
	if _, _, _, err := client.ProxyContent(context.Background(), "QmBig"); err == nil {
		t.Fatal("expected oversize response to error")
	}
}

// TestNoopClient verifies detached mode drops writes and fails reads.
func TestNoopClient(t *testing.T) {
	client := NewClient(Config{})
	if client.Enabled() {
		t.Fatal("client without base URL must report disabled")
	}
	if err := client.CreateVideoMetadata(context.Background(), "vid-1", "Demo", nil, models.StorageRef{Scheme: models.SchemeIPFS, ID: "Qm"}); err != nil {
		t.Fatalf("noop create must succeed, got %v", err)
	}
	if _, err := client.GetVideoMetadata(context.Background(), "vid-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not-found, got %v", err)
	}
	if _, _, _, err := client.ProxyContent(context.Background(), "Qm"); err == nil {
		t.Fatal("expected proxy to fail when detached")
	}
}
