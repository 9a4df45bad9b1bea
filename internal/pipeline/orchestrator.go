// Package pipeline drives a video from raw upload bytes to a playable
// asset: pin the content, register metadata, submit the remote
// transcode job, and hand the job to the background poller. Upload
// returns as soon as the job is submitted; the poller owns the asset
// from then on.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"reelstream/internal/ipfs"
	"reelstream/internal/livepeer"
	"reelstream/internal/metadata"
	"reelstream/internal/models"
	"reelstream/internal/observability/metrics"
	"reelstream/internal/store"
)

// MaxUploadBytes caps accepted uploads. Shared with the local transcode
// path so anything accepted here can still fall back to local conversion.
const MaxUploadBytes = 100 << 20

// Config wires the orchestrator's collaborators.
type Config struct {
	Repo       store.Repository
	Gateway    ipfs.Client
	Transcoder livepeer.Client
	Metadata   metadata.Client
	Poller     *PollManager
	Metrics    *metrics.Recorder
	Logger     *slog.Logger
}

// UploadRequest carries one upload.
type UploadRequest struct {
	Data     []byte
	Filename string
	Title    string
	Tags     []string
}

// Orchestrator runs the synchronous half of the ingestion pipeline.
type Orchestrator struct {
	repo       store.Repository
	gateway    ipfs.Client
	transcoder livepeer.Client
	metadata   metadata.Client
	poller     *PollManager
	metrics    *metrics.Recorder
	logger     *slog.Logger
}

// NewOrchestrator constructs the upload pipeline.
func NewOrchestrator(cfg Config) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Default()
	}
	return &Orchestrator{
		repo:       cfg.Repo,
		gateway:    cfg.Gateway,
		transcoder: cfg.Transcoder,
		metadata:   cfg.Metadata,
		poller:     cfg.Poller,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
	}
}

// Upload pins the content, registers it, and submits the transcode job.
// It returns a partial asset in AwaitingTranscode; the poller later
// drives it to Ready or Failed. Failures before job submission propagate
// to the caller directly; a submit failure also marks the asset Failed.
func (o *Orchestrator) Upload(ctx context.Context, req UploadRequest) (*models.VideoAsset, error) {
	if len(req.Data) == 0 {
		return nil, fmt.Errorf("upload is empty")
	}
	if len(req.Data) > MaxUploadBytes {
		return nil, fmt.Errorf("upload is %d bytes, cap is %d", len(req.Data), MaxUploadBytes)
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, fmt.Errorf("title is required")
	}

	o.metrics.UploadEvent("received")
	pinned, err := o.gateway.Upload(ctx, req.Data, ipfs.UploadMetadata{Name: req.Filename})
	if err != nil {
		o.metrics.UploadEvent("pin_failed")
		return nil, err
	}

	asset := models.VideoAsset{
		ID:        deriveAssetID(pinned.Fingerprint),
		ContentID: pinned.CID,
		Title:     title,
		Tags:      normalizeTags(req.Tags),
		Status:    models.StatusUploading,
	}
	if err := o.repo.CreateAsset(ctx, asset); err != nil {
		return nil, fmt.Errorf("persist asset: %w", err)
	}

	contentRef := models.StorageRef{Scheme: models.SchemeIPFS, ID: pinned.CID}
	if err := o.metadata.CreateVideoMetadata(ctx, asset.ID, title, asset.Tags, contentRef); err != nil {
		o.failAsset(ctx, asset.ID, err)
		return nil, fmt.Errorf("register metadata: %w", err)
	}

	job, err := o.transcoder.CreateJob(ctx, title, o.gateway.PublicURL(pinned.CID), livepeer.DefaultProfiles())
	if err != nil {
		o.metrics.JobEvent("remote", "submit_failed")
		o.failAsset(ctx, asset.ID, err)
		return nil, err
	}
	o.metrics.JobEvent("remote", "submitted")

	status := models.StatusAwaitingTranscode
	updated, err := o.repo.UpdateAsset(ctx, asset.ID, store.AssetUpdate{
		Status:           &status,
		RemoteJobID:      &job.JobID,
		RemotePlaybackID: &job.PlaybackID,
	})
	if err != nil {
		return nil, fmt.Errorf("record job: %w", err)
	}

	o.poller.Enqueue(asset.ID)
	o.metrics.UploadEvent("accepted")
	o.logger.Info("upload accepted",
		"video_id", asset.ID,
		"content_id", pinned.CID,
		"job_id", job.JobID,
		"size_bytes", len(req.Data))
	return &updated, nil
}

// failAsset marks the asset failed with the cause. Best effort: the
// caller is already propagating the original error.
func (o *Orchestrator) failAsset(ctx context.Context, id string, cause error) {
	failed := models.StatusFailed
	message := cause.Error()
	if _, err := o.repo.UpdateAsset(ctx, id, store.AssetUpdate{Status: &failed, Error: &message}); err != nil {
		o.logger.Error("failed to mark asset failed", "video_id", id, "error", err, "cause", cause)
	}
}

// deriveAssetID builds a locally unique, content-correlated id: a
// fingerprint prefix ties it to the bytes, the timestamp and random tail
// keep re-uploads of the same content distinct.
func deriveAssetID(fingerprint string) string {
	prefix := fingerprint
	if len(prefix) > 12 {
		prefix = prefix[:12]
	}
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UTC().Unix(), uuid.NewString()[:8])
}

func normalizeTags(tags []string) []string {
	var out []string
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		trimmed := strings.ToLower(strings.TrimSpace(tag))
		if trimmed == "" {
			continue
		}
		if _, dup := seen[trimmed]; dup {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}
