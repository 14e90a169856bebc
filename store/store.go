// Package store selects and opens the configured storage backend.
package store

import (
	"context"
	"fmt"

	"github.com/AlterionX/auric-regia/config"
	"github.com/AlterionX/auric-regia/counter"
	"github.com/AlterionX/auric-regia/goals"
	"github.com/AlterionX/auric-regia/store/postgres"
	"github.com/AlterionX/auric-regia/store/sqlite"
)

// Backend is a store serving both counters and goals.
type Backend interface {
	counter.Store
	goals.Store
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Reset(ctx context.Context) error
	Close() error
}

var (
	_ Backend = (*sqlite.Store)(nil)
	_ Backend = (*postgres.Store)(nil)
)

// Open connects to PostgreSQL when DATABASE_URL is set and to SQLite
// otherwise, and ensures the schema exists.
func Open(ctx context.Context, cfg config.Config) (Backend, string, error) {
	if cfg.UsePostgres() {
		pool, err := postgres.Connect(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
		if err != nil {
			return nil, "", err
		}
		s := postgres.New(pool)
		if err := s.Migrate(ctx); err != nil {
			s.Close()
			return nil, "", err
		}
		return s, "postgres", nil
	}

	s, err := sqlite.New(cfg.SQLitePath)
	if err != nil {
		return nil, "", fmt.Errorf("open sqlite %q: %w", cfg.SQLitePath, err)
	}
	return s, "sqlite", nil
}
