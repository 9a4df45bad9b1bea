// Package store persists video assets. The repository is the single
// source of truth for asset lifecycle state; status updates are checked
// against the monotonic lifecycle before they land.
package store

import (
	"context"
	"errors"

	"reelstream/internal/models"
)

var (
	// ErrNotFound means no asset exists for the id.
	ErrNotFound = errors.New("asset not found")
	// ErrDuplicateID means an asset with the id already exists.
	ErrDuplicateID = errors.New("asset id already exists")
	// ErrInvalidTransition means the update would move the asset backwards
	// or out of a terminal state.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// AssetUpdate carries the mutable fields of an asset. Nil pointers leave
// the stored value untouched.
type AssetUpdate struct {
	Status           *models.AssetStatus
	RemoteJobID      *string
	RemotePlaybackID *string
	PlaybackURL      *string
	ThumbnailURL     *string
	DurationSeconds  *float64
	Error            *string
}

// ListFilter narrows ListAssets results.
type ListFilter struct {
	Tag string
}

// Repository stores video assets.
type Repository interface {
	CreateAsset(ctx context.Context, asset models.VideoAsset) error
	GetAsset(ctx context.Context, id string) (models.VideoAsset, error)
	ListAssets(ctx context.Context, filter ListFilter) ([]models.VideoAsset, error)
	UpdateAsset(ctx context.Context, id string, update AssetUpdate) (models.VideoAsset, error)
	// ListPending returns assets still awaiting a transcode outcome, used
	// to resume polling after a restart.
	ListPending(ctx context.Context) ([]models.VideoAsset, error)
	Close(ctx context.Context) error
}

// applyUpdate merges update into asset, enforcing the status lifecycle.
// Shared by the memory and postgres implementations.
func applyUpdate(asset *models.VideoAsset, update AssetUpdate) error {
	if update.Status != nil && *update.Status != asset.Status {
		if !asset.Status.CanTransition(*update.Status) {
			return ErrInvalidTransition
		}
		asset.Status = *update.Status
	}
	if update.RemoteJobID != nil {
		asset.RemoteJobID = *update.RemoteJobID
	}
	if update.RemotePlaybackID != nil {
		asset.RemotePlaybackID = *update.RemotePlaybackID
	}
	if update.PlaybackURL != nil {
		asset.PlaybackURL = *update.PlaybackURL
	}
	if update.ThumbnailURL != nil {
		asset.ThumbnailURL = *update.ThumbnailURL
	}
	if update.DurationSeconds != nil {
		asset.DurationSeconds = *update.DurationSeconds
	}
	if update.Error != nil {
		asset.Error = *update.Error
	}
	return nil
}
