// Package voiceprint persists the global speaker centroids of finished runs
// to PostgreSQL/pgvector, so future runs can look up who a voice belongs to
// across recordings. The registry is optional; the pipeline treats every
// failure here as non-fatal.
package voiceprint

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

const schemaTemplate = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS voiceprints (
    run_id      TEXT NOT NULL,
    speaker     TEXT NOT NULL,
    embedding   vector(%d) NOT NULL,
    duration    DOUBLE PRECISION NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (run_id, speaker)
);
`

// Registry stores one centroid embedding per (run, global speaker).
// Safe for concurrent use.
type Registry struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Open connects to the registry database at dsn, registers pgvector types on
// every connection, and ensures the voiceprints table exists with the given
// embedding dimension. Changing the dimension after the first run requires a
// manual schema change.
func Open(ctx context.Context, dsn string, dim int, logger *slog.Logger) (*Registry, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("voiceprint: embedding dimension must be positive, got %d", dim)
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("voiceprint: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("voiceprint: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("voiceprint: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, fmt.Sprintf(schemaTemplate, dim)); err != nil {
		pool.Close()
		return nil, fmt.Errorf("voiceprint: ensure schema: %w", err)
	}

	return &Registry{pool: pool, logger: logger}, nil
}

// Store upserts the centroid embedding of one global speaker.
func (r *Registry) Store(ctx context.Context, runID, speaker string, embedding []float32, duration float64) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO voiceprints (run_id, speaker, embedding, duration)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (run_id, speaker)
		DO UPDATE SET embedding = EXCLUDED.embedding, duration = EXCLUDED.duration`,
		runID, speaker, pgvector.NewVector(embedding), duration)
	if err != nil {
		return fmt.Errorf("voiceprint: store %s/%s: %w", runID, speaker, err)
	}
	return nil
}

// Match is a nearest-neighbour hit from a previous run.
type Match struct {
	RunID    string
	Speaker  string
	Distance float64
}

// Nearest returns the limit closest stored voiceprints to embedding by
// cosine distance, nearest first. Matches from excludeRunID are skipped so a
// run never matches against itself.
func (r *Registry) Nearest(ctx context.Context, embedding []float32, excludeRunID string, limit int) ([]Match, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT run_id, speaker, embedding <=> $1 AS distance
		FROM   voiceprints
		WHERE  run_id <> $2
		ORDER BY distance
		LIMIT  $3`,
		pgvector.NewVector(embedding), excludeRunID, limit)
	if err != nil {
		return nil, fmt.Errorf("voiceprint: nearest: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.RunID, &m.Speaker, &m.Distance); err != nil {
			return nil, fmt.Errorf("voiceprint: scan: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("voiceprint: nearest: %w", err)
	}
	return matches, nil
}

// Ping verifies database connectivity. Used as a readiness probe.
func (r *Registry) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close releases the underlying connection pool.
func (r *Registry) Close() {
	r.pool.Close()
}
