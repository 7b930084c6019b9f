// Package store persists the business directory's monthly call counter.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/distance-finder/internal/db"
)

// Store tracks directory calls per service and calendar month.
type Store interface {
	MonthlyUsage(ctx context.Context, service, month string) (int, error)
	IncrementUsage(ctx context.Context, service, month string, n int) (int, error)
	Migrate(ctx context.Context) error
	Close() error
}

// Month formats t as the usage bucket key (UTC, YYYY-MM).
func Month(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// Config selects and configures a backend.
type Config struct {
	Driver string        `yaml:"driver" mapstructure:"driver"`
	DSN    string        `yaml:"dsn" mapstructure:"dsn"`
	Pool   db.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// Open connects to the configured backend and migrates it.
func Open(ctx context.Context, cfg Config) (Store, error) {
	var (
		s   Store
		err error
	)
	switch cfg.Driver {
	case "", "sqlite":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = "distance-finder.db"
		}
		s, err = NewSQLite(dsn)
	case "postgres":
		s, err = NewPostgres(ctx, cfg.DSN, cfg.Pool)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}
