package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/distance-finder/internal/db"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgres connects a PostgresStore.
func NewPostgres(ctx context.Context, connString string, poolCfg db.PoolConfig) (*PostgresStore, error) {
	pool, err := db.Connect(ctx, connString, poolCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresWithPool wraps an existing pool.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS directory_usage (
	service    TEXT NOT NULL,
	month      TEXT NOT NULL,
	calls      INTEGER NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (service, month)
)`

// Migrate creates the usage table.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// MonthlyUsage returns the calls recorded for service in month.
func (s *PostgresStore) MonthlyUsage(ctx context.Context, service, month string) (int, error) {
	var calls int
	err := s.pool.QueryRow(ctx,
		`SELECT calls FROM directory_usage WHERE service = $1 AND month = $2`,
		service, month,
	).Scan(&calls)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, eris.Wrap(err, "postgres: monthly usage")
	}
	return calls, nil
}

// IncrementUsage adds n calls and returns the new total.
func (s *PostgresStore) IncrementUsage(ctx context.Context, service, month string, n int) (int, error) {
	var calls int
	err := s.pool.QueryRow(ctx, `
		INSERT INTO directory_usage (service, month, calls, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (service, month) DO UPDATE SET
			calls = directory_usage.calls + EXCLUDED.calls,
			updated_at = now()
		RETURNING calls`,
		service, month, n,
	).Scan(&calls)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: increment usage")
	}
	return calls, nil
}
