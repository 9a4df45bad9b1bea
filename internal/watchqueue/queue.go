// Package watchqueue moves watch events from the playback path to the
// metadata collaborator without ever blocking the player. Events flow
// fire-and-forget; a dropped event costs an analytics sample, not a
// playback session.
package watchqueue

import (
	"context"
	"errors"
	"sync"

	"reelstream/internal/models"
)

// Queue accepts watch events for asynchronous delivery.
type Queue interface {
	Publish(ctx context.Context, event models.WatchEvent) error
	Subscribe() Subscription
}

// Subscription is an active event stream.
type Subscription interface {
	Events() <-chan models.WatchEvent
	Close()
}

// NewMemoryQueue initialises an in-memory queue suitable for tests and
// single-process deployments. Published events are also retained for
// per-video summaries.
func NewMemoryQueue(buffer int) *MemoryQueue {
	if buffer <= 0 {
		buffer = 32
	}
	return &MemoryQueue{
		subs:   make(map[*memorySubscription]struct{}),
		totals: make(map[string]*tally),
		buffer: buffer,
	}
}

type tally struct {
	views       uint64
	likes       uint64
	completions uint64
	durationSum float64
}

// MemoryQueue fans events out to subscribers and aggregates them.
type MemoryQueue struct {
	mu     sync.RWMutex
	subs   map[*memorySubscription]struct{}
	totals map[string]*tally
	buffer int
}

func (q *MemoryQueue) Publish(ctx context.Context, event models.WatchEvent) error {
	if event.VideoID == "" {
		return errors.New("video id is required")
	}
	q.mu.Lock()
	t, ok := q.totals[event.VideoID]
	if !ok {
		t = &tally{}
		q.totals[event.VideoID] = t
	}
	t.views++
	if event.Liked {
		t.likes++
	}
	if event.Completed {
		t.completions++
	}
	t.durationSum += float64(event.DurationSeconds)
	q.mu.Unlock()

	q.mu.RLock()
	defer q.mu.RUnlock()
	for sub := range q.subs {
		select {
		case sub.ch <- event:
		case <-ctx.Done():
			return ctx.Err()
		default:
			// Drop instead of blocking. Consumers are expected to
			// drain promptly.
		}
	}
	return nil
}

func (q *MemoryQueue) Subscribe() Subscription {
	sub := &memorySubscription{
		queue: q,
		ch:    make(chan models.WatchEvent, q.buffer),
	}
	q.mu.Lock()
	q.subs[sub] = struct{}{}
	q.mu.Unlock()
	return sub
}

// Summary reports the aggregate watch stats observed for one video.
func (q *MemoryQueue) Summary(videoID string) (models.WatchSummary, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	t, ok := q.totals[videoID]
	if !ok {
		return models.WatchSummary{}, false
	}
	summary := models.WatchSummary{
		VideoID:          videoID,
		TotalViews:       t.views,
		TotalLikes:       t.likes,
		TotalCompletions: t.completions,
	}
	if t.views > 0 {
		summary.AvgWatchDurationSec = t.durationSum / float64(t.views)
	}
	return summary, true
}

type memorySubscription struct {
	once  sync.Once
	queue *MemoryQueue
	ch    chan models.WatchEvent
}

func (s *memorySubscription) Events() <-chan models.WatchEvent {
	return s.ch
}

func (s *memorySubscription) Close() {
	s.once.Do(func() {
		s.queue.mu.Lock()
		delete(s.queue.subs, s)
		s.queue.mu.Unlock()
		close(s.ch)
	})
}

// Tee publishes to both queues; subscriptions come from the primary.
// Used to keep local summaries live while a broker carries delivery.
func Tee(primary, secondary Queue) Queue {
	return teeQueue{primary: primary, secondary: secondary}
}

type teeQueue struct {
	primary   Queue
	secondary Queue
}

func (t teeQueue) Publish(ctx context.Context, event models.WatchEvent) error {
	err := t.primary.Publish(ctx, event)
	if secondaryErr := t.secondary.Publish(ctx, event); err == nil {
		err = secondaryErr
	}
	return err
}

func (t teeQueue) Subscribe() Subscription {
	return t.primary.Subscribe()
}
