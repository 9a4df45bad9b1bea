package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"reelstream/internal/models"
)

// PostgresConfig describes how the repository initialises its Postgres
// connection pool.
type PostgresConfig struct {
	DSN                 string
	MaxConnections      int32
	MinConnections      int32
	MaxConnLifetime     time.Duration
	MaxConnIdleTime     time.Duration
	HealthCheckInterval time.Duration
	ConnectTimeout      time.Duration
	ApplicationName     string
}

const assetColumns = `id, content_id, title, tags, remote_job_id, remote_playback_id,
	status, playback_url, thumbnail_url, duration_seconds, last_error, created_at, updated_at`

// NewPostgresRepository opens a Postgres-backed repository and applies
// the schema migration.
func NewPostgresRepository(ctx context.Context, cfg PostgresConfig) (Repository, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	if cfg.MinConnections >= 0 {
		poolCfg.MinConns = cfg.MinConnections
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckInterval > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheckInterval
	}
	if cfg.ConnectTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}
	if cfg.ApplicationName != "" {
		if poolCfg.ConnConfig.RuntimeParams == nil {
			poolCfg.ConnConfig.RuntimeParams = make(map[string]string)
		}
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	repo := &postgresRepository{pool: pool}
	if err := repo.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply migration: %w", err)
	}
	return repo, nil
}

type postgresRepository struct {
	pool *pgxpool.Pool
}

func (r *postgresRepository) migrate(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS video_assets (
	id                 TEXT PRIMARY KEY,
	content_id         TEXT NOT NULL,
	title              TEXT NOT NULL DEFAULT '',
	tags               TEXT[] NOT NULL DEFAULT '{}',
	remote_job_id      TEXT NOT NULL DEFAULT '',
	remote_playback_id TEXT NOT NULL DEFAULT '',
	status             TEXT NOT NULL,
	playback_url       TEXT NOT NULL DEFAULT '',
	thumbnail_url      TEXT NOT NULL DEFAULT '',
	duration_seconds   DOUBLE PRECISION NOT NULL DEFAULT 0,
	last_error         TEXT NOT NULL DEFAULT '',
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS video_assets_status_idx ON video_assets (status);
CREATE INDEX IF NOT EXISTS video_assets_tags_idx ON video_assets USING GIN (tags);
`)
	return err
}

func (r *postgresRepository) CreateAsset(ctx context.Context, asset models.VideoAsset) error {
	now := time.Now().UTC()
	if asset.CreatedAt.IsZero() {
		asset.CreatedAt = now
	}
	_, err := r.pool.Exec(ctx, `
INSERT INTO video_assets (`+assetColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		asset.ID, asset.ContentID, asset.Title, asset.Tags, asset.RemoteJobID,
		asset.RemotePlaybackID, string(asset.Status), asset.PlaybackURL,
		asset.ThumbnailURL, asset.DurationSeconds, asset.Error, asset.CreatedAt, now)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateID
		}
		return fmt.Errorf("insert asset: %w", err)
	}
	return nil
}

func (r *postgresRepository) GetAsset(ctx context.Context, id string) (models.VideoAsset, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+assetColumns+` FROM video_assets WHERE id = $1`, id)
	return scanAsset(row)
}

func (r *postgresRepository) ListAssets(ctx context.Context, filter ListFilter) ([]models.VideoAsset, error) {
	query := `SELECT ` + assetColumns + ` FROM video_assets`
	args := []any{}
	if filter.Tag != "" {
		query += ` WHERE $1 = ANY(tags)`
		args = append(args, filter.Tag)
	}
	query += ` ORDER BY created_at DESC, id`
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	defer rows.Close()
	return collectAssets(rows)
}

// UpdateAsset applies the update inside a transaction so the lifecycle
// check and the write see the same row.
func (r *postgresRepository) UpdateAsset(ctx context.Context, id string, update AssetUpdate) (models.VideoAsset, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return models.VideoAsset{}, fmt.Errorf("begin update: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	row := tx.QueryRow(ctx, `SELECT `+assetColumns+` FROM video_assets WHERE id = $1 FOR UPDATE`, id)
	asset, err := scanAsset(row)
	if err != nil {
		return models.VideoAsset{}, err
	}
	if err := applyUpdate(&asset, update); err != nil {
		return models.VideoAsset{}, err
	}
	asset.UpdatedAt = time.Now().UTC()

	_, err = tx.Exec(ctx, `
UPDATE video_assets SET
	remote_job_id = $2, remote_playback_id = $3, status = $4, playback_url = $5,
	thumbnail_url = $6, duration_seconds = $7, last_error = $8, updated_at = $9
WHERE id = $1`,
		asset.ID, asset.RemoteJobID, asset.RemotePlaybackID, string(asset.Status),
		asset.PlaybackURL, asset.ThumbnailURL, asset.DurationSeconds, asset.Error, asset.UpdatedAt)
	if err != nil {
		return models.VideoAsset{}, fmt.Errorf("update asset: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return models.VideoAsset{}, fmt.Errorf("commit update: %w", err)
	}
	return asset, nil
}

func (r *postgresRepository) ListPending(ctx context.Context) ([]models.VideoAsset, error) {
	rows, err := r.pool.Query(ctx, `
SELECT `+assetColumns+` FROM video_assets
WHERE status = $1 AND remote_job_id <> ''
ORDER BY created_at`, string(models.StatusAwaitingTranscode))
	if err != nil {
		return nil, fmt.Errorf("list pending assets: %w", err)
	}
	defer rows.Close()
	return collectAssets(rows)
}

func (r *postgresRepository) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func scanAsset(row pgx.Row) (models.VideoAsset, error) {
	var asset models.VideoAsset
	var status string
	err := row.Scan(&asset.ID, &asset.ContentID, &asset.Title, &asset.Tags,
		&asset.RemoteJobID, &asset.RemotePlaybackID, &status, &asset.PlaybackURL,
		&asset.ThumbnailURL, &asset.DurationSeconds, &asset.Error,
		&asset.CreatedAt, &asset.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.VideoAsset{}, ErrNotFound
		}
		return models.VideoAsset{}, fmt.Errorf("scan asset: %w", err)
	}
	asset.Status = models.AssetStatus(status)
	return asset, nil
}

func collectAssets(rows pgx.Rows) ([]models.VideoAsset, error) {
	var assets []models.VideoAsset
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, asset)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate assets: %w", err)
	}
	return assets, nil
}

var _ Repository = (*postgresRepository)(nil)
