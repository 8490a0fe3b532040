package metricstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mlop-ai/monitor/internal/model"
)

// Postgres reads metric samples from the mlop_metrics table created by the
// embedded migrations.
type Postgres struct {
	pool  *pgxpool.Pool
	owned bool
}

// NewPostgres connects to dsn. The pool is closed by Close.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("metricstore: create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("metricstore: ping postgres: %w", err)
	}
	return &Postgres{pool: pool, owned: true}, nil
}

// NewPostgresFromPool shares an existing pool; Close leaves it open.
func NewPostgresFromPool(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

const pgLastSeenQuery = `SELECT MAX(time) FROM ` + Table + `
WHERE "projectName" = $1 AND "runId" = $2 AND "tenantId" = $3`

// LastSeen implements Store.
func (p *Postgres) LastSeen(ctx context.Context, key Key) (time.Time, error) {
	var last *time.Time
	if err := p.pool.QueryRow(ctx, pgLastSeenQuery, key.Project, key.RunID, key.TenantID).Scan(&last); err != nil {
		return time.Time{}, fmt.Errorf("metricstore: postgres last seen: %w", err)
	}
	if last == nil || noData(*last) {
		return time.Time{}, ErrNoData
	}
	return model.NormalizeUTC(*last), nil
}

func pgViolationQuery(rule model.Rule) (string, error) {
	op, err := comparison(rule)
	if err != nil {
		return "", err
	}
	return `SELECT time, value FROM ` + Table + `
WHERE "projectName" = $1 AND "runId" = $2 AND "tenantId" = $3
  AND "logName" = $4 AND value ` + op + ` $5
ORDER BY time DESC
LIMIT 1`, nil
}

// LatestViolation implements Store.
func (p *Postgres) LatestViolation(ctx context.Context, key Key, rule model.Rule) (Sample, error) {
	q, err := pgViolationQuery(rule)
	if err != nil {
		return Sample{}, err
	}
	var s Sample
	err = p.pool.QueryRow(ctx, q, key.Project, key.RunID, key.TenantID, rule.Metric, rule.Threshold).
		Scan(&s.Time, &s.Value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Sample{}, ErrNoData
		}
		return Sample{}, fmt.Errorf("metricstore: postgres violation: %w", err)
	}
	s.Time = model.NormalizeUTC(s.Time)
	return s, nil
}

// Record inserts a sample. Used to seed fixtures and by local tooling.
func (p *Postgres) Record(ctx context.Context, key Key, metric string, s Sample) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO `+Table+` ("tenantId", "projectName", "runId", "logName", value, time)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		key.TenantID, key.Project, key.RunID, metric, s.Value, s.Time,
	)
	if err != nil {
		return fmt.Errorf("metricstore: postgres record: %w", err)
	}
	return nil
}

// Ping implements Store.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close implements Store.
func (p *Postgres) Close() error {
	if p.owned {
		p.pool.Close()
	}
	return nil
}
