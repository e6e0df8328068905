package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresLog persists Entries to a Postgres table via pgxpool, grounded
// on control_plane/store/postgres.go's pool-construction idiom.
type PostgresLog struct {
	pool *pgxpool.Pool
}

// NewPostgresLog connects to connString and returns a PostgresLog, pinging
// the pool once to fail fast on misconfiguration.
func NewPostgresLog(ctx context.Context, connString string) (*PostgresLog, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("audit: parsing postgres dsn: %w", err)
	}
	config.MaxConns = 10
	config.MinConns = 1
	config.MaxConnLifetime = time.Hour

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("audit: creating postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("audit: pinging postgres: %w", err)
	}
	return &PostgresLog{pool: pool}, nil
}

// Close releases the underlying connection pool.
func (l *PostgresLog) Close() { l.pool.Close() }

// Append implements Log.
func (l *PostgresLog) Append(ctx context.Context, e Entry) error {
	const query = `
		INSERT INTO audit_entries (kind, router, detail, outcome, created_at)
		VALUES ($1, $2, $3, $4, NOW())`
	_, err := l.pool.Exec(ctx, query, e.Kind, e.Router, e.Detail, e.Outcome)
	if err != nil {
		return fmt.Errorf("audit: appending entry: %w", err)
	}
	return nil
}

// Recent implements Log.
func (l *PostgresLog) Recent(ctx context.Context, limit int) ([]Entry, error) {
	const query = `
		SELECT id, kind, router, detail, outcome, created_at
		FROM audit_entries
		ORDER BY created_at DESC
		LIMIT $1`
	rows, err := l.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: querying recent entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Kind, &e.Router, &e.Detail, &e.Outcome, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("audit: scanning entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
