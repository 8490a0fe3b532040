// Package storage provides the PostgreSQL storage layer for the run monitor.
//
// It manages the connection pool and the queries the engine and the HTTP
// surface issue against runs, notifications, api_keys, run_triggers and the
// organization/member/user tables.
package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/metric"

	"github.com/mlop-ai/monitor/internal/telemetry"
)

// DB wraps a pgxpool.Pool for all relational queries.
type DB struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New creates a new DB with a connection pool and verifies connectivity.
func New(ctx context.Context, dsn string, logger *slog.Logger) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: parse pool DSN: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("storage: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping pool: %w", err)
	}

	return &DB{pool: pool, logger: logger}, nil
}

// Pool returns the underlying connection pool for use by other packages.
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// Ping checks connectivity to the database.
func (db *DB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// Close shuts down the connection pool.
func (db *DB) Close() {
	db.pool.Close()
}

// RegisterPoolMetrics registers observable OTEL gauges for pool utilization.
// Call after telemetry.Init so the gauges bind to the configured provider.
func (db *DB) RegisterPoolMetrics() {
	meter := telemetry.Meter("mlop-monitor/storage")

	_, _ = meter.Int64ObservableGauge("mlop.monitor.db.pool.acquired",
		metric.WithDescription("Connections currently in use"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(db.pool.Stat().AcquiredConns()))
			return nil
		}),
	)
	_, _ = meter.Int64ObservableGauge("mlop.monitor.db.pool.idle",
		metric.WithDescription("Idle connections in the pool"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(db.pool.Stat().IdleConns()))
			return nil
		}),
	)
}
