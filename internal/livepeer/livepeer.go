// Package livepeer drives the remote transcoding provider: creating
// import jobs from a source URL, polling them to a terminal state, and
// deriving playback URLs from the opaque playback identifier.
package livepeer

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
	"reelstream/internal/retry"
)

const (
	defaultAPIBase      = "https://livepeer.studio"
	defaultPlaybackBase = "https://livepeercdn.studio"
	defaultTimeout      = 15 * time.Second
)

// Profile is one output rung of the encoding ladder.
type Profile struct {
	Name    string `json:"name"`
	Bitrate int    `json:"bitrate"`
	FPS     int    `json:"fps"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
}

// DefaultProfiles is the standard short-video ladder.
func DefaultProfiles() []Profile {
	return []Profile{
		{Name: "720p", Bitrate: 2_000_000, FPS: 30, Width: 1280, Height: 720},
		{Name: "480p", Bitrate: 1_000_000, FPS: 30, Width: 854, Height: 480},
		{Name: "360p", Bitrate: 500_000, FPS: 30, Width: 640, Height: 360},
	}
}

// Config stores connectivity information for the transcoder API.
type Config struct {
	APIKey       string
	APIBase      string
	PlaybackBase string
	HTTPClient   *http.Client
	Logger       *slog.Logger

	// Poll bounds PollUntilReady; defaults to 30 attempts at 5s.
	Poll retry.Policy
}

// Enabled reports whether jobs can be submitted.
func (c Config) Enabled() bool {
	return strings.TrimSpace(c.APIKey) != ""
}

// JobResult identifies a created transcode job.
type JobResult struct {
	JobID      string
	PlaybackID string
}

// AssetInfo describes a finished job's playback output.
type AssetInfo struct {
	JobID           string
	PlaybackID      string
	PlaybackURL     string
	ThumbnailURL    string
	DurationSeconds float64
}

// Client is the remote transcode service consumed by the pipeline.
type Client interface {
	Enabled() bool
	CreateJob(ctx context.Context, name, sourceURL string, profiles []Profile) (JobResult, error)
	PollUntilReady(ctx context.Context, jobID string) (AssetInfo, error)
	ManifestURL(playbackID string) string
	ThumbnailURL(playbackID string, atSeconds float64) string
}

// NewClient constructs a transcoder client, degrading to a disabled
// implementation when no API key is configured.
func NewClient(cfg Config) Client {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.APIBase == "" {
		cfg.APIBase = defaultAPIBase
	}
	if cfg.PlaybackBase == "" {
		cfg.PlaybackBase = defaultPlaybackBase
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: defaultTimeout}
	}
	if cfg.Poll.MaxAttempts <= 0 {
		cfg.Poll = retry.Default()
	}
	if !cfg.Enabled() {
		return disabledClient{playbackBase: strings.TrimRight(cfg.PlaybackBase, "/")}
	}
	return &studioClient{cfg: cfg, logger: cfg.Logger}
}

type studioClient struct {
	cfg    Config
	logger *slog.Logger
}

func (c *studioClient) Enabled() bool { return true }

type createJobRequest struct {
	Name     string    `json:"name"`
	URL      string    `json:"url"`
	Profiles []Profile `json:"profiles,omitempty"`
}

type assetEnvelope struct {
	Asset struct {
		ID         string `json:"id"`
		PlaybackID string `json:"playbackId"`
	} `json:"asset"`
	Task struct {
		ID string `json:"id"`
	} `json:"task"`
}

// CreateJob submits a transcode request for a publicly fetchable source
// URL. The provider exposes two equivalent creation endpoints; the
// alternate shape is attempted before a submit failure is surfaced.
func (c *studioClient) CreateJob(ctx context.Context, name, sourceURL string, profiles []Profile) (JobResult, error) {
	if strings.TrimSpace(sourceURL) == "" {
		return JobResult{}, &Error{Kind: ErrSubmit, Err: fmt.Errorf("source URL is required")}
	}
	payload := createJobRequest{Name: strings.TrimSpace(name), URL: sourceURL, Profiles: profiles}

	result, primaryErr := c.submit(ctx, "/api/asset/upload/url", payload)
	if primaryErr == nil {
		return result, nil
	}
	c.logger.Warn("job submit failed, trying alternate endpoint", "name", name, "error", primaryErr)

	result, altErr := c.submit(ctx, "/api/asset/import", payload)
	if altErr == nil {
		return result, nil
	}
	return JobResult{}, &Error{Kind: ErrSubmit, Err: errors.Join(primaryErr, altErr)}
}

func (c *studioClient) submit(ctx context.Context, path string, payload createJobRequest) (JobResult, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return JobResult{}, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.cfg.APIBase, "/")+path, bytes.NewReader(body))
	if err != nil {
		return JobResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(c.cfg.APIKey))

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return JobResult{}, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return JobResult{}, fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(detail)))
	}

	var envelope assetEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return JobResult{}, fmt.Errorf("decode response: %w", err)
	}
	if envelope.Asset.ID == "" {
		return JobResult{}, fmt.Errorf("response carried no asset id")
	}
	return JobResult{JobID: envelope.Asset.ID, PlaybackID: envelope.Asset.PlaybackID}, nil
}

type jobStatusResponse struct {
	ID         string `json:"id"`
	PlaybackID string `json:"playbackId"`
	Status     struct {
		Phase        string `json:"phase"`
		ErrorMessage string `json:"errorMessage"`
	} `json:"status"`
	VideoSpec struct {
		DurationSeconds float64 `json:"duration"`
	} `json:"videoSpec"`
}

func (r jobStatusResponse) jobStatus() models.TranscodeJobStatus {
	switch strings.ToLower(r.Status.Phase) {
	case "ready":
		return models.JobReady
	case "failed":
		return models.JobFailed
	default:
		return models.JobPending
	}
}

var errJobPending = errors.New("job still pending")

// PollUntilReady drives the fixed-interval polling state machine: pending
// sleeps and retries, ready returns, failed surfaces immediately, and an
// exhausted attempt budget is a timeout. The status endpoint is never
// called more than the policy's MaxAttempts. Intended to run detached
// from the caller that created the job.
func (c *studioClient) PollUntilReady(ctx context.Context, jobID string) (AssetInfo, error) {
	var info AssetInfo
	err := c.cfg.Poll.Do(ctx, func(ctx context.Context) error {
		status, err := c.jobStatus(ctx, jobID)
		if err != nil {
			return err
		}
		switch status.jobStatus() {
		case models.JobReady:
			playbackID := status.PlaybackID
			info = AssetInfo{
				JobID:           jobID,
				PlaybackID:      playbackID,
				PlaybackURL:     c.ManifestURL(playbackID),
				ThumbnailURL:    c.ThumbnailURL(playbackID, 0),
				DurationSeconds: status.VideoSpec.DurationSeconds,
			}
			return nil
		case models.JobFailed:
			message := status.Status.ErrorMessage
			if message == "" {
				message = "job failed"
			}
			return retry.Terminal(&Error{Kind: ErrRemoteFailure, JobID: jobID, Err: errors.New(message)})
		default:
			return errJobPending
		}
	})
	if err == nil {
		return info, nil
	}
	var te *Error
	if errors.As(err, &te) {
		return AssetInfo{}, err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return AssetInfo{}, ctxErr
	}
	return AssetInfo{}, &Error{Kind: ErrTimeout, JobID: jobID, Err: err}
}

func (c *studioClient) jobStatus(ctx context.Context, jobID string) (jobStatusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(c.cfg.APIBase, "/")+"/api/asset/"+jobID, nil)
	if err != nil {
		return jobStatusResponse{}, err
	}
	req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(c.cfg.APIKey))

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return jobStatusResponse{}, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return jobStatusResponse{}, fmt.Errorf("status endpoint returned %d", resp.StatusCode)
	}
	var status jobStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return jobStatusResponse{}, fmt.Errorf("decode status: %w", err)
	}
	return status, nil
}

// ManifestURL derives the adaptive manifest location from a playback id.
// Pure string construction; no network call.
func (c *studioClient) ManifestURL(playbackID string) string {
	return manifestURL(strings.TrimRight(c.cfg.PlaybackBase, "/"), playbackID)
}

// ThumbnailURL derives the thumbnail location, optionally at an offset.
func (c *studioClient) ThumbnailURL(playbackID string, atSeconds float64) string {
	return thumbnailURL(strings.TrimRight(c.cfg.PlaybackBase, "/"), playbackID, atSeconds)
}

type disabledClient struct {
	playbackBase string
}

func (d disabledClient) Enabled() bool { return false }

func (d disabledClient) CreateJob(ctx context.Context, name, sourceURL string, profiles []Profile) (JobResult, error) {
	return JobResult{}, &Error{Kind: ErrSubmit, Err: fmt.Errorf("remote transcoder not configured")}
}

func (d disabledClient) PollUntilReady(ctx context.Context, jobID string) (AssetInfo, error) {
	return AssetInfo{}, &Error{Kind: ErrTimeout, JobID: jobID, Err: fmt.Errorf("remote transcoder not configured")}
}

func (d disabledClient) ManifestURL(playbackID string) string {
	return manifestURL(d.playbackBase, playbackID)
}

func (d disabledClient) ThumbnailURL(playbackID string, atSeconds float64) string {
	return thumbnailURL(d.playbackBase, playbackID, atSeconds)
}

func manifestURL(base, playbackID string) string {
	if strings.TrimSpace(playbackID) == "" {
		return ""
	}
	return fmt.Sprintf("%s/hls/%s/index.m3u8", base, playbackID)
}

func thumbnailURL(base, playbackID string, atSeconds float64) string {
	if strings.TrimSpace(playbackID) == "" {
		return ""
	}
	url := fmt.Sprintf("%s/hls/%s/thumbnail.jpg", base, playbackID)
	if atSeconds > 0 {
		url = fmt.Sprintf("%s?time=%gs", url, atSeconds)
	}
	return url
}
