// Package metricstore answers the two questions the monitor asks of the
// time-series metric store: when did a run last record anything, and what is
// the most recent sample of a metric that violates a threshold rule.
//
// Three backends share the mlop_metrics layout (tenantId, projectName, runId,
// logName, value, time): ClickHouse (the production store), a Postgres table
// for small deployments, and InfluxDB.
package metricstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mlop-ai/monitor/internal/model"
)

// ErrNoData is returned when the store holds no matching sample.
var ErrNoData = errors.New("metricstore: no data")

// Table is the table (or measurement) holding metric samples.
const Table = "mlop_metrics"

// Key locates a run's samples.
type Key struct {
	Project  string
	RunID    int64
	TenantID string
}

// KeyFor builds the metric key of a run. The run must have a project.
func KeyFor(run model.Run) Key {
	return Key{Project: run.ProjectName, RunID: run.ID, TenantID: run.OrgID}
}

// Sample is one observed metric value.
type Sample struct {
	Time  time.Time
	Value float64
}

// Store is the read contract the engine depends on.
type Store interface {
	// LastSeen returns the time of the newest sample of any metric for key,
	// normalized to UTC. ErrNoData when none exists.
	LastSeen(ctx context.Context, key Key) (time.Time, error)
	// LatestViolation returns the newest sample of rule.Metric whose value
	// satisfies the rule. ErrNoData when none exists.
	LatestViolation(ctx context.Context, key Key, rule model.Rule) (Sample, error)
	// Ping checks connectivity.
	Ping(ctx context.Context) error
	Close() error
}

// noData reports whether a MAX(time) result means "no sample": the zero
// time or the Unix epoch (what ClickHouse returns for MAX over an empty set).
func noData(t time.Time) bool {
	return t.IsZero() || t.Unix() == 0
}

// comparison returns the SQL/Flux comparison for rule. Only the validated
// operator set is ever interpolated into a query.
func comparison(rule model.Rule) (string, error) {
	if !rule.Operator.Valid() {
		return "", fmt.Errorf("metricstore: unsupported operator %q", rule.Operator)
	}
	return string(rule.Operator), nil
}
