package models

import (
	"fmt"
	"strings"
	"time"
)

// AssetStatus tracks a video asset through the ingestion pipeline.
// Transitions are monotonic: Uploading -> AwaitingTranscode -> Ready or
// Failed. No state is ever re-entered.
type AssetStatus string

const (
	StatusUploading         AssetStatus = "uploading"
	StatusAwaitingTranscode AssetStatus = "awaiting_transcode"
	StatusReady             AssetStatus = "ready"
	StatusFailed            AssetStatus = "failed"
)

var statusRank = map[AssetStatus]int{
	StatusUploading:         0,
	StatusAwaitingTranscode: 1,
	StatusReady:             2,
	StatusFailed:            2,
}

// Valid reports whether the status is one of the known lifecycle states.
func (s AssetStatus) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// Terminal reports whether no further transitions are allowed.
func (s AssetStatus) Terminal() bool {
	return s == StatusReady || s == StatusFailed
}

// CanTransition reports whether moving to next preserves the monotonic
// lifecycle ordering. Failed is reachable from any non-terminal state.
func (s AssetStatus) CanTransition(next AssetStatus) bool {
	if !s.Valid() || !next.Valid() {
		return false
	}
	if s.Terminal() {
		return false
	}
	if next == StatusFailed {
		return true
	}
	return statusRank[next] == statusRank[s]+1
}

// VideoAsset is the identity and processing state of one uploaded video.
//
// The orchestrator owns the asset through the upload call; after Upload
// returns, the background poller is the only writer of the derived fields
// (status, playback, thumbnail, duration, error). ID and ContentID are
// immutable once assigned.
type VideoAsset struct {
	ID               string      `json:"id"`
	ContentID        string      `json:"contentId"`
	Title            string      `json:"title"`
	Tags             []string    `json:"tags,omitempty"`
	RemoteJobID      string      `json:"remoteJobId,omitempty"`
	RemotePlaybackID string      `json:"remotePlaybackId,omitempty"`
	Status           AssetStatus `json:"status"`
	PlaybackURL      string      `json:"playbackUrl,omitempty"`
	ThumbnailURL     string      `json:"thumbnailUrl,omitempty"`
	DurationSeconds  float64     `json:"durationSeconds,omitempty"`
	Error            string      `json:"error,omitempty"`
	CreatedAt        time.Time   `json:"createdAt"`
	UpdatedAt        time.Time   `json:"updatedAt"`
}

// HasTag reports whether the asset carries the given tag.
func (a VideoAsset) HasTag(tag string) bool {
	for _, t := range a.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// PlaybackTier identifies one rung of the playback fallback ladder.
// Tiers only ever advance forward within a session.
type PlaybackTier int

const (
	TierAdaptiveRemote PlaybackTier = iota
	TierDirectRemote
	TierLocalTranscode
)

func (t PlaybackTier) String() string {
	switch t {
	case TierAdaptiveRemote:
		return "adaptive_remote"
	case TierDirectRemote:
		return "direct_remote"
	case TierLocalTranscode:
		return "local_transcode"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// Next returns the following tier on the ladder. ok is false when the
// receiver is already the terminal tier.
func (t PlaybackTier) Next() (PlaybackTier, bool) {
	if t >= TierLocalTranscode {
		return t, false
	}
	return t + 1, true
}

// TranscodeJobStatus is the remote transcoder's view of a job.
type TranscodeJobStatus string

const (
	JobPending TranscodeJobStatus = "pending"
	JobReady   TranscodeJobStatus = "ready"
	JobFailed  TranscodeJobStatus = "failed"
)

// Terminal reports whether polling should stop for this status.
func (s TranscodeJobStatus) Terminal() bool {
	return s == JobReady || s == JobFailed
}

// Storage reference schemes persisted in video metadata. The prefix lets
// downstream readers dispatch to the right service without extra lookups.
const (
	SchemeIPFS     = "ipfs"
	SchemeLivepeer = "livepeer"
)

// StorageRef is a scheme-tagged reference to stored video content,
// encoded as "ipfs:<contentId>" or "livepeer:<playbackId>".
type StorageRef struct {
	Scheme string
	ID     string
}

func (r StorageRef) String() string {
	return r.Scheme + ":" + r.ID
}

// ParseStorageRef decodes a scheme-tagged storage reference.
func ParseStorageRef(raw string) (StorageRef, error) {
	trimmed := strings.TrimSpace(raw)
	scheme, id, found := strings.Cut(trimmed, ":")
	if !found || scheme == "" || id == "" {
		return StorageRef{}, fmt.Errorf("malformed storage ref %q", raw)
	}
	switch scheme {
	case SchemeIPFS, SchemeLivepeer:
		return StorageRef{Scheme: scheme, ID: id}, nil
	default:
		return StorageRef{}, fmt.Errorf("unknown storage ref scheme %q", scheme)
	}
}

// WatchEvent records one playback observation for a video.
type WatchEvent struct {
	VideoID         string    `json:"videoId"`
	DurationSeconds int       `json:"durationSec"`
	Liked           bool      `json:"liked"`
	Completed       bool      `json:"completed"`
	Timestamp       time.Time `json:"timestamp"`
}

// WatchSummary aggregates the watch events observed for one video.
type WatchSummary struct {
	VideoID             string  `json:"videoId"`
	TotalViews          uint64  `json:"totalViews"`
	TotalLikes          uint64  `json:"totalLikes"`
	TotalCompletions    uint64  `json:"totalCompletions"`
	AvgWatchDurationSec float64 `json:"avgWatchDurationSec"`
}
