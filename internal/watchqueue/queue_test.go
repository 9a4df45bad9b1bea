package watchqueue

import (
	"context"
	"sync"
	"testing"
	"time"

	"reelstream/internal/models"
)

// TestMemoryQueueFanOut verifies published events reach subscribers.
func TestMemoryQueueFanOut(t *testing.T) {
	queue := NewMemoryQueue(4)
	sub := queue.Subscribe()
	defer sub.Close()

	ev := models.WatchEvent{VideoID: "vid-1", DurationSeconds: 15, Liked: true}
	if err := queue.Publish(context.Background(), ev); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	select {
	case got := <-sub.Events():
		if got.VideoID != "vid-1" || !got.Liked {
			t.Fatalf("unexpected event: %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("event never delivered")
	}
}

// TestMemoryQueueRejectsAnonymousEvent verifies events without a video id
// are refused.
func TestMemoryQueueRejectsAnonymousEvent(t *testing.T) {
	queue := NewMemoryQueue(4)
	if err := queue.Publish(context.Background(), models.WatchEvent{}); err == nil {
		t.Fatal("expected publish to fail without a video id")
	}
}

// TestMemoryQueueSummary verifies the per-video aggregate.
func TestMemoryQueueSummary(t *testing.T) {
	queue := NewMemoryQueue(4)
	ctx := context.Background()
	events := []models.WatchEvent{
		{VideoID: "vid-1", DurationSeconds: 10, Liked: true},
		{VideoID: "vid-1", DurationSeconds: 30, Completed: true},
		{VideoID: "vid-2", DurationSeconds: 5},
	}
	for _, ev := range events {
		if err := queue.Publish(ctx, ev); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	summary, ok := queue.Summary("vid-1")
	if !ok {
		t.Fatal("expected a summary for vid-1")
	}
	if summary.TotalViews != 2 || summary.TotalLikes != 1 || summary.TotalCompletions != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if summary.AvgWatchDurationSec != 20 {
		t.Fatalf("unexpected average duration %f", summary.AvgWatchDurationSec)
	}
	if _, ok := queue.Summary("vid-9"); ok {
		t.Fatal("expected no summary for unseen video")
	}
}

// TestMemoryQueueDropsWhenSubscriberIsFull verifies a slow consumer never
// blocks publishers.
func TestMemoryQueueDropsWhenSubscriberIsFull(t *testing.T) {
	queue := NewMemoryQueue(1)
	sub := queue.Subscribe()
	defer sub.Close()

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		done := make(chan error, 1)
		go func() {
			done <- queue.Publish(ctx, models.WatchEvent{VideoID: "vid-1"})
		}()
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("Publish: %v", err)
			}
		case <-time.After(time.Second):
			t.Fatal("publish blocked on a full subscriber")
		}
	}
}

// TestTeePublishesToBoth verifies the tee keeps local summaries live while
// delegating delivery.
func TestTeePublishesToBoth(t *testing.T) {
	primary := NewMemoryQueue(4)
	secondary := NewMemoryQueue(4)
	queue := Tee(primary, secondary)

	if err := queue.Publish(context.Background(), models.WatchEvent{VideoID: "vid-1"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if _, ok := primary.Summary("vid-1"); !ok {
		t.Fatal("primary missed the event")
	}
	if _, ok := secondary.Summary("vid-1"); !ok {
		t.Fatal("secondary missed the event")
	}
}

// TestSubscriptionCloseIsIdempotent verifies double close does not panic.
func TestSubscriptionCloseIsIdempotent(t *testing.T) {
	queue := NewMemoryQueue(4)
	sub := queue.Subscribe()
	sub.Close()
	sub.Close()
}

// TestConcurrentPublish verifies the aggregate stays consistent under
// concurrent publishers.
func TestConcurrentPublish(t *testing.T) {
	queue := NewMemoryQueue(4)
	ctx := context.Background()

	const publishers = 8
	const perPublisher = 50
	var wg sync.WaitGroup
	for i := 0; i < publishers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perPublisher; j++ {
				_ = queue.Publish(ctx, models.WatchEvent{VideoID: "vid-1", DurationSeconds: 10})
			}
		}()
	}
	wg.Wait()

	summary, ok := queue.Summary("vid-1")
	if !ok {
		t.Fatal("expected a summary")
	}
	if summary.TotalViews != publishers*perPublisher {
		t.Fatalf("expected %d views, got %d", publishers*perPublisher, summary.TotalViews)
	}
	if summary.AvgWatchDurationSec != 10 {
		t.Fatalf("unexpected average duration %f", summary.AvgWatchDurationSec)
	}
}
