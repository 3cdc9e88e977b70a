package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Options selects and configures a backend.
type Options struct {
	Driver  string
	Path    string // sqlite file path
	DSN     string // postgres connection string
	Timeout time.Duration
}

// Open connects to the configured backend and applies its migrations.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Driver {
	case "", DriverSQLite:
		db, err := NewDB(opts.Path)
		if err != nil {
			return nil, err
		}
		db.SetTimeout(opts.Timeout)
		return db, nil
	case DriverPostgres:
		pool, err := pgxpool.New(ctx, opts.DSN)
		if err != nil {
			return nil, err
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		st := NewPostgres(pool, opts.Timeout)
		if err := st.Migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return st, nil
	}
	return nil, fmt.Errorf("unknown database driver %q", opts.Driver)
}
