package metricstore

import (
	"context"
	"crypto/tls"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/mlop-ai/monitor/internal/model"
)

// ClickHouseConfig configures the ClickHouse backend.
type ClickHouseConfig struct {
	Addr     string // host:port
	HTTP     bool   // HTTP protocol instead of native TCP
	TLS      bool
	Database string
	Username string
	Password string
}

// ClickHouse reads metric samples from a ClickHouse mlop_metrics table.
type ClickHouse struct {
	conn driver.Conn
}

// NewClickHouse opens a connection and verifies it with a ping.
func NewClickHouse(ctx context.Context, cfg ClickHouseConfig) (*ClickHouse, error) {
	opts := &clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		DialTimeout: 5 * time.Second,
		Protocol:    clickhouse.Native,
	}
	if cfg.HTTP {
		opts.Protocol = clickhouse.HTTP
	}
	if cfg.TLS {
		opts.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("metricstore: open clickhouse: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("metricstore: ping clickhouse: %w", err)
	}
	return &ClickHouse{conn: conn}, nil
}

const chLastSeenQuery = `SELECT MAX(time) AS last_metric_time
FROM ` + Table + `
WHERE projectName = @projectName
  AND runId = @runId
  AND tenantId = @tenantId`

// LastSeen implements Store.
func (c *ClickHouse) LastSeen(ctx context.Context, key Key) (time.Time, error) {
	var last time.Time
	err := c.conn.QueryRow(ctx, chLastSeenQuery,
		clickhouse.Named("projectName", key.Project),
		clickhouse.Named("runId", key.RunID),
		clickhouse.Named("tenantId", key.TenantID),
	).Scan(&last)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, ErrNoData
		}
		return time.Time{}, fmt.Errorf("metricstore: clickhouse last seen: %w", err)
	}
	if noData(last) {
		return time.Time{}, ErrNoData
	}
	return model.NormalizeUTC(last), nil
}

func chViolationQuery(rule model.Rule) (string, error) {
	op, err := comparison(rule)
	if err != nil {
		return "", err
	}
	return `SELECT time AS last_metric_time, value
FROM ` + Table + `
WHERE projectName = @projectName
  AND runId = @runId
  AND tenantId = @tenantId
  AND logName = @logName
  AND value ` + op + ` @threshold
ORDER BY time DESC
LIMIT 1`, nil
}

// LatestViolation implements Store.
func (c *ClickHouse) LatestViolation(ctx context.Context, key Key, rule model.Rule) (Sample, error) {
	q, err := chViolationQuery(rule)
	if err != nil {
		return Sample{}, err
	}
	var s Sample
	err = c.conn.QueryRow(ctx, q,
		clickhouse.Named("projectName", key.Project),
		clickhouse.Named("runId", key.RunID),
		clickhouse.Named("tenantId", key.TenantID),
		clickhouse.Named("logName", rule.Metric),
		clickhouse.Named("threshold", rule.Threshold),
	).Scan(&s.Time, &s.Value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Sample{}, ErrNoData
		}
		return Sample{}, fmt.Errorf("metricstore: clickhouse violation: %w", err)
	}
	if s.Time.IsZero() {
		return Sample{}, ErrNoData
	}
	s.Time = model.NormalizeUTC(s.Time)
	return s, nil
}

// Ping implements Store.
func (c *ClickHouse) Ping(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

// Close implements Store.
func (c *ClickHouse) Close() error {
	return c.conn.Close()
}
