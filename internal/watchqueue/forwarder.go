package watchqueue

import (
	"context"
	"log/slog"

	"reelstream/internal/metadata"
)

// Forwarder drains a queue subscription into the metadata store. Delivery
// failures are logged and dropped; the store is not the source of truth
// for playback.
type Forwarder struct {
	queue  Queue
	client metadata.Client
	logger *slog.Logger
}

// NewForwarder wires a queue to the metadata collaborator.
func NewForwarder(queue Queue, client metadata.Client, logger *slog.Logger) *Forwarder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Forwarder{queue: queue, client: client, logger: logger}
}

// Run consumes events until the context is cancelled.
func (f *Forwarder) Run(ctx context.Context) {
	if !f.client.Enabled() {
		f.logger.Info("metadata store detached, watch events stay local")
		return
	}
	sub := f.queue.Subscribe()
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := f.client.LogWatchEvent(ctx, event); err != nil {
				f.logger.Warn("watch event delivery failed", "video_id", event.VideoID, "error", err)
			}
		}
	}
}
