package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/your-org/iaction/internal/config"
	"github.com/your-org/iaction/internal/models"
)

const detectionsSchema = `
CREATE TABLE IF NOT EXISTS detections (
	id                UUID PRIMARY KEY,
	name              TEXT NOT NULL,
	phrase            TEXT NOT NULL,
	webhook_url       TEXT NOT NULL DEFAULT '',
	enabled_cameras   TEXT[] NOT NULL DEFAULT '{}',
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_triggered_at TIMESTAMPTZ,
	trigger_count     INTEGER NOT NULL DEFAULT 0
)`

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Migrate creates the detections table if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, detectionsSchema); err != nil {
		return fmt.Errorf("migrate detections: %w", err)
	}
	return nil
}

func (s *PostgresStore) LoadDetections(ctx context.Context) ([]models.Detection, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, phrase, webhook_url, enabled_cameras, created_at, last_triggered_at, trigger_count
		 FROM detections ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("load detections: %w", err)
	}
	defer rows.Close()

	var out []models.Detection
	for rows.Next() {
		var d models.Detection
		if err := rows.Scan(&d.ID, &d.Name, &d.Phrase, &d.WebhookURL, &d.EnabledCameras,
			&d.CreatedAt, &d.LastTriggeredAt, &d.TriggerCount); err != nil {
			return nil, fmt.Errorf("scan detection: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// SaveDetections replaces the stored set with detections in one transaction.
func (s *PostgresStore) SaveDetections(ctx context.Context, detections []models.Detection) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	ids := make([]string, 0, len(detections))
	for _, d := range detections {
		cameras := d.EnabledCameras
		if cameras == nil {
			cameras = []string{}
		}
		batch.Queue(
			`INSERT INTO detections (id, name, phrase, webhook_url, enabled_cameras, created_at, last_triggered_at, trigger_count)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 ON CONFLICT (id) DO UPDATE SET
			   name = EXCLUDED.name,
			   phrase = EXCLUDED.phrase,
			   webhook_url = EXCLUDED.webhook_url,
			   enabled_cameras = EXCLUDED.enabled_cameras,
			   last_triggered_at = EXCLUDED.last_triggered_at,
			   trigger_count = EXCLUDED.trigger_count`,
			d.ID, d.Name, d.Phrase, d.WebhookURL, cameras, d.CreatedAt, d.LastTriggeredAt, d.TriggerCount,
		)
		ids = append(ids, d.ID.String())
	}
	batch.Queue(`DELETE FROM detections WHERE NOT (id::text = ANY($1))`, ids)

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("save detections: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit detections: %w", err)
	}
	return nil
}
