package visualization

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var pgSchema = []string{
	`CREATE TABLE IF NOT EXISTS visualizations (
    content_id     TEXT PRIMARY KEY,
    status         TEXT NOT NULL,
    created_at     TIMESTAMPTZ NOT NULL,
    updated_at     TIMESTAMPTZ NOT NULL,
    record         JSONB NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS visualizations_created_at_idx ON visualizations (created_at DESC)`,
}

// PostgresRepository stores Visualizations as JSONB rows keyed by content id.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresPool opens a pgx pool with the service defaults.
func NewPostgresPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database url is required")
	}
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	poolCfg.MaxConns = 4
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	return pool, nil
}

// NewPostgresRepository ensures the schema exists and returns the repository.
func NewPostgresRepository(ctx context.Context, pool *pgxpool.Pool) (*PostgresRepository, error) {
	for _, stmt := range pgSchema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return nil, fmt.Errorf("ensure visualizations schema: %w", err)
		}
	}
	return &PostgresRepository{pool: pool}, nil
}

func (r *PostgresRepository) Get(ctx context.Context, contentID string) (*Visualization, error) {
	row := r.pool.QueryRow(ctx, `SELECT record FROM visualizations WHERE content_id = $1`, contentID)
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var v Visualization
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode visualization %s: %w", contentID, err)
	}
	return &v, nil
}

func (r *PostgresRepository) Upsert(ctx context.Context, v *Visualization) error {
	if v == nil || v.ContentID == "" {
		return fmt.Errorf("upsert visualization: content id is required")
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode visualization %s: %w", v.ContentID, err)
	}
	_, err = r.pool.Exec(ctx, `
INSERT INTO visualizations (content_id, status, created_at, updated_at, record)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (content_id) DO UPDATE
SET status = EXCLUDED.status,
    created_at = EXCLUDED.created_at,
    updated_at = EXCLUDED.updated_at,
    record = EXCLUDED.record;
`, v.ContentID, string(v.Status), v.CreatedAt, v.UpdatedAt, raw)
	return err
}

func (r *PostgresRepository) List(ctx context.Context, limit int) ([]*Visualization, error) {
	query := `SELECT record FROM visualizations ORDER BY created_at DESC, content_id ASC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Visualization
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var v Visualization
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode visualization: %w", err)
		}
		items = append(items, &v)
	}
	return items, rows.Err()
}

var _ Repository = (*PostgresRepository)(nil)
