package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// DB wraps a PostgreSQL connection pool for durable outcome auditing.
// The in-memory history store remains the source of truth for the
// recent-history API; this layer only adds a persistent trail.
type DB struct {
	pool *pgxpool.Pool
}

// New creates a new database connection pool.
func New(ctx context.Context, dsn string) (*DB, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing database DSN: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 1
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	log.Info().Msg("connected to PostgreSQL")
	return &DB{pool: pool}, nil
}

// Close shuts down the connection pool.
func (db *DB) Close() {
	db.pool.Close()
}

// Healthy checks database connectivity.
func (db *DB) Healthy(ctx context.Context) bool {
	return db.pool.Ping(ctx) == nil
}

// InsertOutcome persists one query outcome.
func (db *DB) InsertOutcome(ctx context.Context, row *OutcomeRow) error {
	if row.ID == "" {
		row.ID = uuid.New().String()
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO outcomes (id, question, spl, source, confidence, success,
			error_kind, result_count, processing_time_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := db.pool.Exec(ctx, query,
		row.ID,
		truncateForDB(row.Question, 1000),
		truncateForDB(row.SPL, 5000),
		row.Source, row.Confidence, row.Success,
		row.ErrorKind, row.ResultCount, row.ProcessingTimeMS,
		row.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting outcome: %w", err)
	}
	return nil
}

// ListOutcomes returns persisted outcomes matching the filter, newest first.
func (db *DB) ListOutcomes(ctx context.Context, filter OutcomeFilter) ([]*OutcomeRow, error) {
	query := `
		SELECT id, question, spl, source, confidence, success,
			error_kind, result_count, processing_time_ms, created_at
		FROM outcomes WHERE 1=1`
	args := []any{}
	argn := 1

	if filter.Success != nil {
		query += fmt.Sprintf(" AND success = $%d", argn)
		args = append(args, *filter.Success)
		argn++
	}
	if filter.ErrorKind != "" {
		query += fmt.Sprintf(" AND error_kind = $%d", argn)
		args = append(args, filter.ErrorKind)
		argn++
	}
	if filter.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argn)
		args = append(args, *filter.Since)
		argn++
	}

	limit := filter.Limit
	if limit < 1 || limit > 1000 {
		limit = 100
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", argn)
	args = append(args, limit)

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying outcomes: %w", err)
	}
	defer rows.Close()

	var out []*OutcomeRow
	for rows.Next() {
		var row OutcomeRow
		if err := rows.Scan(
			&row.ID, &row.Question, &row.SPL, &row.Source, &row.Confidence,
			&row.Success, &row.ErrorKind, &row.ResultCount,
			&row.ProcessingTimeMS, &row.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning outcome: %w", err)
		}
		out = append(out, &row)
	}
	return out, rows.Err()
}

// EnsureSchema creates the outcomes table when it does not exist.
func (db *DB) EnsureSchema(ctx context.Context) error {
	_, err := db.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS outcomes (
			id                 TEXT PRIMARY KEY,
			question           TEXT NOT NULL DEFAULT '',
			spl                TEXT NOT NULL,
			source             TEXT NOT NULL DEFAULT '',
			confidence         TEXT NOT NULL DEFAULT '',
			success            BOOLEAN NOT NULL,
			error_kind         TEXT NOT NULL DEFAULT '',
			result_count       INTEGER NOT NULL DEFAULT 0,
			processing_time_ms BIGINT NOT NULL DEFAULT 0,
			created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("creating outcomes table: %w", err)
	}
	return nil
}

func truncateForDB(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
