package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/custodia-labs/keapsync/internal/adapters/driven/storage/postgres/migrations"
	"github.com/custodia-labs/keapsync/internal/core/ports/driven"
)

// connectTimeout bounds the initial ping so a bad DATABASE_URL fails fast.
const connectTimeout = 10 * time.Second

// Store is the Postgres-backed storage. It exposes the record, checkpoint
// and telemetry stores over one connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a connection pool, fails fast if the database is
// unreachable and applies pending migrations.
func NewStore(ctx context.Context, dbURL string) (*Store, error) {
	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	pool, err := pgxpool.New(pingCtx, dbURL)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, db, migrations.FS)
	if err != nil {
		return fmt.Errorf("creating migration provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

// Ping validates connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close shuts down the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// RecordSink returns a RecordSink backed by this store.
func (s *Store) RecordSink() driven.RecordSink {
	return &recordSink{pool: s.pool}
}

// CheckpointStore returns a CheckpointStore backed by this store.
func (s *Store) CheckpointStore() driven.CheckpointStore {
	return &checkpointStore{pool: s.pool}
}

// TelemetryStore returns a TelemetryStore backed by this store.
func (s *Store) TelemetryStore() driven.TelemetryStore {
	return &telemetryStore{pool: s.pool}
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
