package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"reelstream/internal/models"
)

// NewMemoryRepository initialises an in-memory repository for tests and
// single-process deployments without a database.
func NewMemoryRepository() Repository {
	return &memoryRepository{assets: make(map[string]models.VideoAsset)}
}

type memoryRepository struct {
	mu     sync.RWMutex
	assets map[string]models.VideoAsset
}

func (r *memoryRepository) CreateAsset(ctx context.Context, asset models.VideoAsset) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.assets[asset.ID]; exists {
		return ErrDuplicateID
	}
	now := time.Now().UTC()
	if asset.CreatedAt.IsZero() {
		asset.CreatedAt = now
	}
	asset.UpdatedAt = now
	asset.Tags = append([]string(nil), asset.Tags...)
	r.assets[asset.ID] = asset
	return nil
}

func (r *memoryRepository) GetAsset(ctx context.Context, id string) (models.VideoAsset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	asset, ok := r.assets[id]
	if !ok {
		return models.VideoAsset{}, ErrNotFound
	}
	return asset, nil
}

func (r *memoryRepository) ListAssets(ctx context.Context, filter ListFilter) ([]models.VideoAsset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	assets := make([]models.VideoAsset, 0, len(r.assets))
	for _, asset := range r.assets {
		if filter.Tag != "" && !asset.HasTag(filter.Tag) {
			continue
		}
		assets = append(assets, asset)
	}
	sort.Slice(assets, func(i, j int) bool {
		if assets[i].CreatedAt.Equal(assets[j].CreatedAt) {
			return assets[i].ID < assets[j].ID
		}
		return assets[i].CreatedAt.After(assets[j].CreatedAt)
	})
	return assets, nil
}

func (r *memoryRepository) UpdateAsset(ctx context.Context, id string, update AssetUpdate) (models.VideoAsset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	asset, ok := r.assets[id]
	if !ok {
		return models.VideoAsset{}, ErrNotFound
	}
	if err := applyUpdate(&asset, update); err != nil {
		return models.VideoAsset{}, err
	}
	asset.UpdatedAt = time.Now().UTC()
	r.assets[id] = asset
	return asset, nil
}

func (r *memoryRepository) ListPending(ctx context.Context) ([]models.VideoAsset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var pending []models.VideoAsset
	for _, asset := range r.assets {
		if asset.Status == models.StatusAwaitingTranscode && asset.RemoteJobID != "" {
			pending = append(pending, asset)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	return pending, nil
}

func (r *memoryRepository) Close(ctx context.Context) error { return nil }
