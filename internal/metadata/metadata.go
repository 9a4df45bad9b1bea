// Package metadata talks to the external metadata store that owns the
// canonical video records and the watch-event log. Its request shapes
// are fixed by that service and are not redesigned here.
package metadata

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"reelstream/internal/models"
)

const (
	defaultTimeout = 10 * time.Second

	// maxProxyBytes caps proxied content responses; larger objects must be
	// fetched from the public gateway directly.
	maxProxyBytes = 10 << 20
)

var (
	// ErrNotFound means the store has no record for the video id.
	ErrNotFound = errors.New("video metadata not found")
	// ErrDuplicateID means a record with the video id already exists.
	ErrDuplicateID = errors.New("video id already registered")
)

// VideoMetadata is the store's canonical record shape.
type VideoMetadata struct {
	VideoID    string   `json:"videoId"`
	Title      string   `json:"title"`
	Tags       []string `json:"tags"`
	StorageRef string   `json:"storageRef"`
	Timestamp  int64    `json:"timestamp"`
}

// Client is the metadata collaborator consumed by the pipeline and the
// playback engine.
type Client interface {
	Enabled() bool
	CreateVideoMetadata(ctx context.Context, videoID, title string, tags []string, storageRef models.StorageRef) error
	GetVideoMetadata(ctx context.Context, videoID string) (VideoMetadata, error)
	UpdateVideoMetadata(ctx context.Context, videoID string, storageRef models.StorageRef) error
	LogWatchEvent(ctx context.Context, ev models.WatchEvent) error
	ProxyContent(ctx context.Context, cid string) ([]byte, string, int, error)
}

// Config stores connectivity for the metadata service.
type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Enabled reports whether a service URL is configured.
func (c Config) Enabled() bool {
	return strings.TrimSpace(c.BaseURL) != ""
}

// NewClient constructs a metadata client, degrading to a logging noop
// when no service URL is configured.
func NewClient(cfg Config) Client {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if !cfg.Enabled() {
		cfg.Logger.Warn("metadata store not configured, running detached")
		return noopClient{logger: cfg.Logger}
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: defaultTimeout}
	}
	return &httpClient{
		base:   strings.TrimRight(cfg.BaseURL, "/"),
		client: cfg.HTTPClient,
		logger: cfg.Logger,
	}
}

type httpClient struct {
	base   string
	client *http.Client
	logger *slog.Logger
}

func (c *httpClient) Enabled() bool { return true }

func (c *httpClient) CreateVideoMetadata(ctx context.Context, videoID, title string, tags []string, storageRef models.StorageRef) error {
	record := VideoMetadata{
		VideoID:    videoID,
		Title:      title,
		Tags:       tags,
		StorageRef: storageRef.String(),
		Timestamp:  time.Now().UnixMilli(),
	}
	resp, err := c.doJSON(ctx, http.MethodPost, "/videos", record)
	if err != nil {
		return err
	}
	defer drain(resp)
	switch {
	case resp.StatusCode == http.StatusConflict:
		return fmt.Errorf("create %s: %w", videoID, ErrDuplicateID)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("create %s: store returned %d", videoID, resp.StatusCode)
	}
	return nil
}

func (c *httpClient) GetVideoMetadata(ctx context.Context, videoID string) (VideoMetadata, error) {
	resp, err := c.doJSON(ctx, http.MethodGet, "/videos/"+videoID, nil)
	if err != nil {
		return VideoMetadata{}, err
	}
	defer drain(resp)
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return VideoMetadata{}, fmt.Errorf("get %s: %w", videoID, ErrNotFound)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return VideoMetadata{}, fmt.Errorf("get %s: store returned %d", videoID, resp.StatusCode)
	}
	var record VideoMetadata
	if err := json.NewDecoder(resp.Body).Decode(&record); err != nil {
		return VideoMetadata{}, fmt.Errorf("get %s: decode record: %w", videoID, err)
	}
	return record, nil
}

// UpdateVideoMetadata swaps the storage reference, typically from the
// pinned original to the transcoded playback id.
func (c *httpClient) UpdateVideoMetadata(ctx context.Context, videoID string, storageRef models.StorageRef) error {
	payload := map[string]string{"storageRef": storageRef.String()}
	resp, err := c.doJSON(ctx, http.MethodPut, "/videos/"+videoID, payload)
	if err != nil {
		return err
	}
	defer drain(resp)
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("update %s: %w", videoID, ErrNotFound)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("update %s: store returned %d", videoID, resp.StatusCode)
	}
	return nil
}

func (c *httpClient) LogWatchEvent(ctx context.Context, ev models.WatchEvent) error {
	resp, err := c.doJSON(ctx, http.MethodPost, "/videos/"+ev.VideoID+"/watch", ev)
	if err != nil {
		return err
	}
	defer drain(resp)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("watch event %s: store returned %d", ev.VideoID, resp.StatusCode)
	}
	return nil
}

// ProxyContent fetches pinned bytes through the store's gateway proxy.
// Responses over the proxy cap are truncated upstream, so oversize reads
// here indicate a protocol violation and are rejected.
func (c *httpClient) ProxyContent(ctx context.Context, cid string) ([]byte, string, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/ipfs/"+cid, nil)
	if err != nil {
		return nil, "", 0, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, "", 0, err
	}
	defer drain(resp)

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxProxyBytes+1))
	if err != nil {
		return nil, "", resp.StatusCode, fmt.Errorf("proxy %s: read body: %w", cid, err)
	}
	if len(data) > maxProxyBytes {
		return nil, "", resp.StatusCode, fmt.Errorf("proxy %s: response exceeds %d bytes", cid, maxProxyBytes)
	}
	return data, resp.Header.Get("Content-Type"), resp.StatusCode, nil
}

func (c *httpClient) doJSON(ctx context.Context, method, path string, payload any) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.client.Do(req)
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
}

// noopClient keeps the pipeline functional when the store is absent.
// Writes are logged and dropped; reads report not found.
type noopClient struct {
	logger *slog.Logger
}

func (n noopClient) Enabled() bool { return false }

func (n noopClient) CreateVideoMetadata(ctx context.Context, videoID, title string, tags []string, storageRef models.StorageRef) error {
	n.logger.Debug("metadata create dropped", "video_id", videoID)
	return nil
}

func (n noopClient) GetVideoMetadata(ctx context.Context, videoID string) (VideoMetadata, error) {
	return VideoMetadata{}, fmt.Errorf("get %s: %w", videoID, ErrNotFound)
}

func (n noopClient) UpdateVideoMetadata(ctx context.Context, videoID string, storageRef models.StorageRef) error {
	n.logger.Debug("metadata update dropped", "video_id", videoID)
	return nil
}

func (n noopClient) LogWatchEvent(ctx context.Context, ev models.WatchEvent) error {
	n.logger.Debug("watch event dropped", "video_id", ev.VideoID)
	return nil
}

func (n noopClient) ProxyContent(ctx context.Context, cid string) ([]byte, string, int, error) {
	return nil, "", 0, fmt.Errorf("metadata store not configured")
}
