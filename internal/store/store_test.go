package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"reelstream/internal/models"
)

func newAsset(id string, tags ...string) models.VideoAsset {
	return models.VideoAsset{
		ID:        id,
		ContentID: "Qm" + id,
		Title:     "Video " + id,
		Tags:      tags,
		Status:    models.StatusUploading,
	}
}

func statusPtr(s models.AssetStatus) *models.AssetStatus { return &s }

func stringPtr(s string) *string { return &s }

// TestCreateAndGet covers the basic round trip and duplicate rejection.
func TestCreateAndGet(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	if err := repo.CreateAsset(ctx, newAsset("vid-1")); err != nil {
		t.Fatalf("CreateAsset: %v", err)
	}
	if err := repo.CreateAsset(ctx, newAsset("vid-1")); !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("expected duplicate-id error, got %v", err)
	}

	asset, err := repo.GetAsset(ctx, "vid-1")
	if err != nil {
		t.Fatalf("GetAsset: %v", err)
	}
	if asset.Status != models.StatusUploading || asset.CreatedAt.IsZero() {
		t.Fatalf("unexpected asset: %+v", asset)
	}
	if _, err := repo.GetAsset(ctx, "vid-9"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not-found, got %v", err)
	}
}

// TestUpdateEnforcesLifecycle verifies the monotonic status rules are
// applied on every write.
func TestUpdateEnforcesLifecycle(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	if err := repo.CreateAsset(ctx, newAsset("vid-1")); err != nil {
		t.Fatalf("CreateAsset: %v", err)
	}

	asset, err := repo.UpdateAsset(ctx, "vid-1", AssetUpdate{
		Status:      statusPtr(models.StatusAwaitingTranscode),
		RemoteJobID: stringPtr("job-1"),
	})
	if err != nil {
		t.Fatalf("UpdateAsset: %v", err)
	}
	if asset.Status != models.StatusAwaitingTranscode || asset.RemoteJobID != "job-1" {
		t.Fatalf("unexpected asset: %+v", asset)
	}

	if _, err := repo.UpdateAsset(ctx, "vid-1", AssetUpdate{Status: statusPtr(models.StatusUploading)}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}

	if _, err := repo.UpdateAsset(ctx, "vid-1", AssetUpdate{Status: statusPtr(models.StatusReady)}); err != nil {
		t.Fatalf("advance to ready: %v", err)
	}
	if _, err := repo.UpdateAsset(ctx, "vid-1", AssetUpdate{Status: statusPtr(models.StatusFailed)}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("terminal state must not transition, got %v", err)
	}
}

// TestUpdateNilFieldsAreUntouched verifies the pointer-field update
// semantics.
func TestUpdateNilFieldsAreUntouched(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	asset := newAsset("vid-1")
	asset.PlaybackURL = "https://cdn/hls/pb/index.m3u8"
	if err := repo.CreateAsset(ctx, asset); err != nil {
		t.Fatalf("CreateAsset: %v", err)
	}

	updated, err := repo.UpdateAsset(ctx, "vid-1", AssetUpdate{ThumbnailURL: stringPtr("https://cdn/thumb.jpg")})
	if err != nil {
		t.Fatalf("UpdateAsset: %v", err)
	}
	if updated.PlaybackURL != asset.PlaybackURL {
		t.Fatal("playback URL must be untouched by a nil field")
	}
	if updated.ThumbnailURL != "https://cdn/thumb.jpg" {
		t.Fatalf("unexpected thumbnail %q", updated.ThumbnailURL)
	}
}

// TestListAssetsFiltersByTag verifies listing order and tag filtering.
func TestListAssetsFiltersByTag(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	older := newAsset("vid-1", "fun")
	older.CreatedAt = time.Now().UTC().Add(-time.Hour)
	if err := repo.CreateAsset(ctx, older); err != nil {
		t.Fatalf("CreateAsset: %v", err)
	}
	if err := repo.CreateAsset(ctx, newAsset("vid-2", "music")); err != nil {
		t.Fatalf("CreateAsset: %v", err)
	}
	if err := repo.CreateAsset(ctx, newAsset("vid-3", "fun", "music")); err != nil {
		t.Fatalf("CreateAsset: %v", err)
	}

	all, err := repo.ListAssets(ctx, ListFilter{})
	if err != nil {
		t.Fatalf("ListAssets: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 assets, got %d", len(all))
	}
	if all[len(all)-1].ID != "vid-1" {
		t.Fatal("expected newest-first ordering")
	}

	fun, err := repo.ListAssets(ctx, ListFilter{Tag: "fun"})
	if err != nil {
		t.Fatalf("ListAssets: %v", err)
	}
	if len(fun) != 2 {
		t.Fatalf("expected 2 tagged assets, got %d", len(fun))
	}
}

// TestListPending verifies restart recovery only sees assets with an
// outstanding remote job.
func TestListPending(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	waiting := newAsset("vid-1")
	waiting.Status = models.StatusAwaitingTranscode
	waiting.RemoteJobID = "job-1"
	if err := repo.CreateAsset(ctx, waiting); err != nil {
		t.Fatalf("CreateAsset: %v", err)
	}

	ready := newAsset("vid-2")
	ready.Status = models.StatusReady
	if err := repo.CreateAsset(ctx, ready); err != nil {
		t.Fatalf("CreateAsset: %v", err)
	}

	jobless := newAsset("vid-3")
	jobless.Status = models.StatusAwaitingTranscode
	if err := repo.CreateAsset(ctx, jobless); err != nil {
		t.Fatalf("CreateAsset: %v", err)
	}

	pending, err := repo.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != "vid-1" {
		t.Fatalf("unexpected pending set: %+v", pending)
	}
}
