package playback

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"reelstream/internal/livepeer"
	"reelstream/internal/models"
	"reelstream/internal/observability/metrics"
	"reelstream/internal/retry"
	"reelstream/internal/watchqueue"
)

// Config wires the playback manager's collaborators.
type Config struct {
	Queue      watchqueue.Queue
	Transcoder livepeer.Client
	Metrics    *metrics.Recorder
	Logger     *slog.Logger

	// AllowDirect gates the DirectRemote tier. When false, a fatal
	// failure at the adaptive tier exhausts the session immediately.
	AllowDirect bool

	// Retry budgets in-place recovery per tier.
	Retry retry.Policy

	// ContentURL derives the direct-tier URL for a content id.
	ContentURL func(contentID string) string
}

// Manager owns the live playback sessions.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager constructs a session manager.
func NewManager(cfg Config) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Default()
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = retry.Policy{MaxAttempts: 3, Interval: time.Second}
	}
	if cfg.ContentURL == nil {
		cfg.ContentURL = func(contentID string) string {
			return "/api/content/" + contentID
		}
	}
	return &Manager{
		cfg:      cfg,
		logger:   cfg.Logger,
		sessions: make(map[string]*Session),
	}
}

// Open starts a session for a ready asset at the adaptive tier.
func (m *Manager) Open(ctx context.Context, asset models.VideoAsset) (*Session, error) {
	if asset.Status != models.StatusReady {
		return nil, fmt.Errorf("asset %s is %s, not ready for playback", asset.ID, asset.Status)
	}
	manifestURL := asset.PlaybackURL
	if manifestURL == "" && asset.RemotePlaybackID != "" {
		manifestURL = m.cfg.Transcoder.ManifestURL(asset.RemotePlaybackID)
	}
	if manifestURL == "" {
		return nil, fmt.Errorf("asset %s has no playback source", asset.ID)
	}

	session := &Session{
		ID:          uuid.NewString(),
		VideoID:     asset.ID,
		asset:       asset,
		manifestURL: manifestURL,
		directURL:   m.cfg.ContentURL(asset.ContentID),
		allowDirect: m.cfg.AllowDirect,
		retryPolicy: m.cfg.Retry,
		notify: notifier{
			queue:   m.cfg.Queue,
			metrics: m.cfg.Metrics,
			logger:  m.logger,
		},
		tier:        models.TierAdaptiveRemote,
		retriesLeft: m.cfg.Retry.MaxAttempts,
		createdAt:   time.Now().UTC(),
	}

	m.mu.Lock()
	m.sessions[session.ID] = session
	m.mu.Unlock()

	m.logger.Info("playback session opened",
		"session_id", session.ID,
		"video_id", asset.ID,
		"tier", session.tier.String())
	return session, nil
}

// Get looks up a live session.
func (m *Manager) Get(sessionID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[sessionID]
	return session, ok
}

// Reset replaces a session with a fresh one for the same asset, back at
// the adaptive tier. The old session is closed.
func (m *Manager) Reset(ctx context.Context, sessionID string) (*Session, error) {
	m.mu.Lock()
	old, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown session %s", sessionID)
	}
	return m.Open(ctx, old.asset)
}

// Close drops a session.
func (m *Manager) Close(sessionID string) {
	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()
}

// notifier fans session side effects out to the queue and the metrics
// recorder. Queue failures are logged and dropped.
type notifier struct {
	queue   watchqueue.Queue
	metrics *metrics.Recorder
	logger  *slog.Logger
}

func (n notifier) watchEvent(ev models.WatchEvent, label string) {
	if n.metrics != nil {
		n.metrics.WatchEvent(label)
	}
	if n.queue == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := n.queue.Publish(ctx, ev); err != nil && n.logger != nil {
		n.logger.Warn("watch event publish failed", "video_id", ev.VideoID, "event", label, "error", err)
	}
}

func (n notifier) tierAdvance(tier string) {
	if n.metrics != nil {
		n.metrics.TierAdvance(tier)
	}
}

func (n notifier) playbackError(class string) {
	if n.metrics != nil {
		n.metrics.PlaybackError(class)
	}
}
