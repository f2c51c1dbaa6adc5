package sink

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/helios-research/flow-data/internal/model"
)

const observationsSchema = `
CREATE TABLE IF NOT EXISTS observations (
    source       TEXT NOT NULL,
    dataset      TEXT NOT NULL,
    scope        TEXT NOT NULL,
    content_hash TEXT NOT NULL,
    payload      JSONB NOT NULL,
    observed_at  TIMESTAMPTZ NOT NULL,
    fetched_at   TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (source, dataset, scope, content_hash)
);
CREATE INDEX IF NOT EXISTS idx_observations_fetched_at
    ON observations (fetched_at);
CREATE INDEX IF NOT EXISTS idx_observations_dataset_scope
    ON observations (dataset, scope, fetched_at);
`

const upsertObservation = `
INSERT INTO observations (source, dataset, scope, content_hash, payload, observed_at, fetched_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (source, dataset, scope, content_hash)
DO UPDATE SET fetched_at = EXCLUDED.fetched_at
RETURNING (xmax = 0)
`

// PostgresArchive is the durable observation store backed by a pgx pool.
type PostgresArchive struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresArchive creates an archive over an existing pool.
func NewPostgresArchive(pool *pgxpool.Pool, logger *slog.Logger) *PostgresArchive {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresArchive{pool: pool, logger: logger}
}

// EnsureSchema creates the observations table and indexes if missing.
func (a *PostgresArchive) EnsureSchema(ctx context.Context) error {
	if _, err := a.pool.Exec(ctx, observationsSchema); err != nil {
		return fmt.Errorf("ensure observations schema: %w", err)
	}
	return nil
}

// Write upserts one observation. An identical payload for the same
// (source, dataset, scope) only advances fetched_at; xmax = 0 distinguishes a
// fresh insert from a conflict update.
func (a *PostgresArchive) Write(ctx context.Context, rec model.Record, hash string) (bool, error) {
	var inserted bool
	err := a.pool.QueryRow(ctx, upsertObservation,
		string(rec.Source),
		rec.Dataset,
		rec.Scope,
		hash,
		rec.Payload,
		rec.ObservedAt,
		rec.FetchedAt,
	).Scan(&inserted)
	if err != nil {
		return false, fmt.Errorf("upsert observation: %w", err)
	}
	return inserted, nil
}

// StoredObservation is one archived row returned by range queries.
type StoredObservation struct {
	Source     model.Source
	Dataset    string
	Scope      string
	Hash       string
	Payload    []byte
	ObservedAt time.Time
	FetchedAt  time.Time
}

// QueryRange returns observations for a dataset/scope fetched within
// [from, to), newest first.
func (a *PostgresArchive) QueryRange(ctx context.Context, dataset, scope string, from, to time.Time) ([]StoredObservation, error) {
	rows, err := a.pool.Query(ctx, `
		SELECT source, dataset, scope, content_hash, payload, observed_at, fetched_at
		FROM observations
		WHERE dataset = $1 AND scope = $2 AND fetched_at >= $3 AND fetched_at < $4
		ORDER BY fetched_at DESC`,
		dataset, scope, from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("query observations: %w", err)
	}
	defer rows.Close()

	var out []StoredObservation
	for rows.Next() {
		var o StoredObservation
		if err := rows.Scan(&o.Source, &o.Dataset, &o.Scope, &o.Hash, &o.Payload, &o.ObservedAt, &o.FetchedAt); err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate observations: %w", err)
	}
	return out, nil
}
