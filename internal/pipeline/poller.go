package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"reelstream/internal/livepeer"
	"reelstream/internal/metadata"
	"reelstream/internal/models"
	"reelstream/internal/observability/metrics"
	"reelstream/internal/store"
)

// PollManagerConfig configures the background transcode poller.
type PollManagerConfig struct {
	Repo       store.Repository
	Transcoder livepeer.Client
	Metadata   metadata.Client
	Metrics    *metrics.Recorder
	Logger     *slog.Logger
	Workers    int
	QueueSize  int

	// OnAssetUpdate observes terminal poll outcomes. Optional.
	OnAssetUpdate func(models.VideoAsset)
}

const (
	defaultPollWorkers   = 2
	defaultPollQueueSize = 64
)

// PollManager drives submitted transcode jobs to a terminal state. It is
// the only writer of an asset's derived fields once Upload has returned.
type PollManager struct {
	repo       store.Repository
	transcoder livepeer.Client
	metadata   metadata.Client
	metrics    *metrics.Recorder
	logger     *slog.Logger
	workers    int
	onUpdate   func(models.VideoAsset)

	ctx    context.Context
	cancel context.CancelFunc

	queue chan string
	wg    sync.WaitGroup

	mu       sync.Mutex
	inFlight map[string]struct{}
	started  bool
}

// NewPollManager constructs the poller. Call Start to begin work.
func NewPollManager(cfg PollManagerConfig) *PollManager {
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultPollWorkers
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultPollQueueSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &PollManager{
		repo:       cfg.Repo,
		transcoder: cfg.Transcoder,
		metadata:   cfg.Metadata,
		metrics:    recorder,
		logger:     logger,
		workers:    workers,
		onUpdate:   cfg.OnAssetUpdate,
		ctx:        ctx,
		cancel:     cancel,
		queue:      make(chan string, queueSize),
		inFlight:   make(map[string]struct{}),
	}
}

// Start launches the workers and requeues assets left pending by a
// previous run.
func (p *PollManager) Start() {
	if p == nil {
		return
	}
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}

	go p.recoverPending()
}

// Shutdown stops the workers, waiting up to the context deadline.
func (p *PollManager) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	p.cancel()
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Enqueue schedules an asset for polling.
func (p *PollManager) Enqueue(assetID string) {
	if p == nil || strings.TrimSpace(assetID) == "" {
		return
	}
	select {
	case <-p.ctx.Done():
		return
	default:
	}
	select {
	case p.queue <- assetID:
	case <-p.ctx.Done():
	}
}

func (p *PollManager) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case assetID := <-p.queue:
			if strings.TrimSpace(assetID) == "" {
				continue
			}
			asset, err := p.repo.GetAsset(p.ctx, assetID)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					p.logger.Error("poll lookup failed", "video_id", assetID, "error", err)
				}
				continue
			}
			if asset.Status.Terminal() || asset.RemoteJobID == "" {
				continue
			}
			if !p.beginWork(asset.RemoteJobID) {
				continue
			}
			p.poll(asset)
			p.finishWork(asset.RemoteJobID)
		}
	}
}

// beginWork dedups by job id so no two poll loops run for one job.
func (p *PollManager) beginWork(jobID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.inFlight[jobID]; exists {
		return false
	}
	p.inFlight[jobID] = struct{}{}
	return true
}

func (p *PollManager) finishWork(jobID string) {
	p.mu.Lock()
	delete(p.inFlight, jobID)
	p.mu.Unlock()
}

func (p *PollManager) recoverPending() {
	pending, err := p.repo.ListPending(p.ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			p.logger.Error("pending asset recovery failed", "error", err)
		}
		return
	}
	for _, asset := range pending {
		select {
		case <-p.ctx.Done():
			return
		default:
		}
		p.Enqueue(asset.ID)
	}
	if len(pending) > 0 {
		p.logger.Info("requeued pending assets", "count", len(pending))
	}
}

func (p *PollManager) poll(asset models.VideoAsset) {
	p.metrics.PollStarted()
	defer p.metrics.PollFinished()

	info, err := p.transcoder.PollUntilReady(p.ctx, asset.RemoteJobID)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			// Shutdown, not an outcome. The asset stays pending and is
			// recovered on the next start.
			return
		}
		p.metrics.JobEvent("remote", failureLabel(err))
		p.failAsset(asset, err)
		return
	}

	ready := models.StatusReady
	playbackID := info.PlaybackID
	if playbackID == "" {
		playbackID = asset.RemotePlaybackID
	}
	updated, err := p.repo.UpdateAsset(p.ctx, asset.ID, store.AssetUpdate{
		Status:           &ready,
		RemotePlaybackID: &playbackID,
		PlaybackURL:      &info.PlaybackURL,
		ThumbnailURL:     &info.ThumbnailURL,
		DurationSeconds:  &info.DurationSeconds,
	})
	if err != nil {
		p.logger.Error("failed to mark asset ready", "video_id", asset.ID, "error", err)
		return
	}
	p.metrics.JobEvent("remote", "ready")

	// The canonical record now points at the playable rendition instead
	// of the raw pinned bytes.
	playbackRef := models.StorageRef{Scheme: models.SchemeLivepeer, ID: playbackID}
	if err := p.metadata.UpdateVideoMetadata(p.ctx, asset.ID, playbackRef); err != nil {
		p.logger.Warn("storage ref update failed", "video_id", asset.ID, "error", err)
	}

	p.logger.Info("asset ready",
		"video_id", asset.ID,
		"job_id", asset.RemoteJobID,
		"playback_url", info.PlaybackURL,
		"duration_seconds", info.DurationSeconds)
	p.report(updated)
}

func (p *PollManager) failAsset(asset models.VideoAsset, cause error) {
	failed := models.StatusFailed
	message := cause.Error()
	updated, err := p.repo.UpdateAsset(p.ctx, asset.ID, store.AssetUpdate{Status: &failed, Error: &message})
	if err != nil {
		p.logger.Error("failed to mark asset failed", "video_id", asset.ID, "error", err, "cause", cause)
		return
	}
	p.logger.Error("remote transcode failed", "video_id", asset.ID, "job_id", asset.RemoteJobID, "error", cause)
	p.report(updated)
}

func (p *PollManager) report(asset models.VideoAsset) {
	if p.onUpdate != nil {
		p.onUpdate(asset)
	}
}

func failureLabel(err error) string {
	switch {
	case livepeer.IsKind(err, livepeer.ErrTimeout):
		return "timeout"
	case livepeer.IsKind(err, livepeer.ErrRemoteFailure):
		return "remote_failure"
	default:
		return "poll_error"
	}
}
