package playback

import (
	"fmt"
	"sync"
	"time"

	"reelstream/internal/models"
	"reelstream/internal/retry"
)

// maxAdvances bounds ladder movement: AdaptiveRemote to DirectRemote to
// LocalTranscode is the whole ladder.
const maxAdvances = 2

// Decision tells the player what to do after a reported failure.
type Decision struct {
	Kind        ErrorKind           `json:"kind"`
	Recoverable bool                `json:"recoverable"`
	Tier        models.PlaybackTier `json:"-"`
	TierName    string              `json:"tier"`
	Advanced    bool                `json:"advanced"`
	PlaybackURL string              `json:"playbackUrl,omitempty"`
	RetriesLeft int                 `json:"retriesLeft,omitempty"`
}

// Session is one viewer's playback attempt at one asset. The tier only
// moves forward; a manual retry goes through Manager.Reset and gets a
// fresh session.
type Session struct {
	ID      string
	VideoID string

	asset       models.VideoAsset
	manifestURL string
	directURL   string
	allowDirect bool
	retryPolicy retry.Policy
	notify      notifier

	mu           sync.Mutex
	tier         models.PlaybackTier
	advances     int
	retriesLeft  int
	history      []ErrorKind
	exhausted    bool
	startSent    bool
	completeSent bool
	createdAt    time.Time
}

// Tier reports the session's current ladder position.
func (s *Session) Tier() models.PlaybackTier {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tier
}

// PlaybackURL reports the source the player should use at the current
// tier. Empty at the local tier: the player fetches converted segments
// through the conversion endpoint instead.
func (s *Session) PlaybackURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.urlForTier(s.tier)
}

// History returns the fatal classifications the session has absorbed.
func (s *Session) History() []ErrorKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ErrorKind(nil), s.history...)
}

func (s *Session) urlForTier(tier models.PlaybackTier) string {
	switch tier {
	case models.TierAdaptiveRemote:
		return s.manifestURL
	case models.TierDirectRemote:
		return s.directURL
	default:
		return ""
	}
}

// HandleError classifies a reported failure and decides the reaction.
// Recoverable failures consume the per-tier retry budget and stay on the
// tier; fatal failures advance the ladder. A session whose ladder is
// spent answers every further report with AllTiersExhausted.
func (s *Session) HandleError(report Report) (Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.exhausted {
		return Decision{}, &Error{Kind: AllTiersExhausted, Err: fmt.Errorf("session %s has no tiers left", s.ID)}
	}

	kind := Classify(report)
	if !kind.Fatal() && s.retriesLeft > 0 {
		s.retriesLeft--
		return Decision{
			Kind:        kind,
			Recoverable: true,
			Tier:        s.tier,
			TierName:    s.tier.String(),
			PlaybackURL: s.urlForTier(s.tier),
			RetriesLeft: s.retriesLeft,
		}, nil
	}
	// A recoverable failure with no budget left escalates: the tier is
	// not getting healthier by retrying.

	if len(s.history) < maxAdvances+1 {
		s.history = append(s.history, kind)
	}
	s.notify.playbackError(string(kind))

	next, ok := s.tier.Next()
	if !ok || s.advances >= maxAdvances {
		s.exhausted = true
		return Decision{}, &Error{Kind: AllTiersExhausted, Err: fmt.Errorf("failure at terminal tier %s", s.tier)}
	}
	if next == models.TierDirectRemote && !s.allowDirect {
		// Policy denies the direct tier and the ladder does not skip
		// rungs, so the session is spent immediately.
		s.exhausted = true
		return Decision{}, &Error{Kind: AllTiersExhausted, Err: fmt.Errorf("direct playback denied by policy after %s", kind)}
	}

	s.tier = next
	s.advances++
	s.retriesLeft = s.retryPolicy.MaxAttempts
	s.notify.tierAdvance(next.String())
	return Decision{
		Kind:        kind,
		Tier:        next,
		TierName:    next.String(),
		Advanced:    true,
		PlaybackURL: s.urlForTier(next),
		RetriesLeft: s.retriesLeft,
	}, nil
}

// NotifyStart records the first successful play start. Later calls are
// no-ops; delivery failures are logged by the notifier, never surfaced.
func (s *Session) NotifyStart() {
	s.mu.Lock()
	if s.startSent {
		s.mu.Unlock()
		return
	}
	s.startSent = true
	s.mu.Unlock()

	s.notify.watchEvent(models.WatchEvent{
		VideoID:   s.VideoID,
		Timestamp: time.Now().UTC(),
	}, "start")
}

// NotifyComplete records natural end-of-stream, at most once per session.
func (s *Session) NotifyComplete(durationSeconds int, liked bool) {
	s.mu.Lock()
	if s.completeSent {
		s.mu.Unlock()
		return
	}
	s.completeSent = true
	s.mu.Unlock()

	s.notify.watchEvent(models.WatchEvent{
		VideoID:         s.VideoID,
		DurationSeconds: durationSeconds,
		Liked:           liked,
		Completed:       true,
		Timestamp:       time.Now().UTC(),
	}, "complete")
}
