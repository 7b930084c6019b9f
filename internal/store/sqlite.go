package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// Pragmas are per connection; a single writer also avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS directory_usage (
	service    TEXT NOT NULL,
	month      TEXT NOT NULL,
	calls      INTEGER NOT NULL DEFAULT 0,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (service, month)
);
`

// Migrate creates the usage table.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// MonthlyUsage returns the calls recorded for service in month.
func (s *SQLiteStore) MonthlyUsage(ctx context.Context, service, month string) (int, error) {
	var calls int
	err := s.db.QueryRowContext(ctx,
		`SELECT calls FROM directory_usage WHERE service = ? AND month = ?`,
		service, month,
	).Scan(&calls)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: monthly usage")
	}
	return calls, nil
}

// IncrementUsage adds n calls and returns the new total.
func (s *SQLiteStore) IncrementUsage(ctx context.Context, service, month string, n int) (int, error) {
	var calls int
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO directory_usage (service, month, calls, updated_at)
		VALUES (?, ?, ?, datetime('now'))
		ON CONFLICT (service, month) DO UPDATE SET
			calls = directory_usage.calls + excluded.calls,
			updated_at = excluded.updated_at
		RETURNING calls`,
		service, month, n,
	).Scan(&calls)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: increment usage")
	}
	return calls, nil
}
