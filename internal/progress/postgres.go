package progress

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// identRe accepts plain SQL identifiers. The table name is interpolated
// into statements, so anything else is rejected up front.
var identRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PostgresReporter persists run progress to a PostgreSQL table, one row per
// run keyed by run_id.
type PostgresReporter struct {
	pool  *pgxpool.Pool
	table string
}

var _ Reporter = (*PostgresReporter)(nil)

// NewPostgresReporter connects to dsn and ensures the progress table exists.
func NewPostgresReporter(ctx context.Context, dsn, table string) (*PostgresReporter, error) {
	if !identRe.MatchString(table) {
		return nil, fmt.Errorf("progress: invalid table name %q", table)
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("progress: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("progress: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("progress: ping: %w", err)
	}

	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		run_id       TEXT PRIMARY KEY,
		current_step TEXT NOT NULL,
		progress     INT  NOT NULL,
		updated_at   TIMESTAMPTZ NOT NULL
	)`, table)
	if _, err := pool.Exec(ctx, ddl); err != nil {
		pool.Close()
		return nil, fmt.Errorf("progress: ensure table %s: %w", table, err)
	}

	return &PostgresReporter{pool: pool, table: table}, nil
}

// Update implements Reporter. It upserts the run's row with the step name,
// derived percentage, and the current UTC time. A failed step keeps the
// row's existing progress, so the percentage still shows how far the run
// got before it died.
func (r *PostgresReporter) Update(ctx context.Context, runID string, step Step) error {
	if runID == "" {
		return fmt.Errorf("progress: run ID is required")
	}
	if _, err := r.pool.Exec(ctx, upsertQuery(r.table, step), runID, string(step), step.Percent(), time.Now().UTC()); err != nil {
		return fmt.Errorf("progress: update %s: %w", runID, err)
	}
	return nil
}

// upsertQuery builds the upsert statement for step. StepFailed overwrites
// current_step and updated_at only; every other step also advances progress.
func upsertQuery(table string, step Step) string {
	progressSet := ",\n		    progress = EXCLUDED.progress"
	if step == StepFailed {
		progressSet = ""
	}
	return fmt.Sprintf(`INSERT INTO %s (run_id, current_step, progress, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (run_id) DO UPDATE
		SET current_step = EXCLUDED.current_step,
		    updated_at = EXCLUDED.updated_at%s`, table, progressSet)
}

// Ping verifies database connectivity. Used as a readiness probe.
func (r *PostgresReporter) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close releases all connections held by the underlying pool.
func (r *PostgresReporter) Close() {
	r.pool.Close()
}
