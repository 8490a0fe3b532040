// Package monitor is the run health and threshold alerting engine. Each poll
// cycle loads every RUNNING run, asks the metric store whether it is still
// alive and whether any configured threshold rule is violated, and hands
// failures and cancellations to the notification dispatcher.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/mlop-ai/monitor/internal/metricstore"
	"github.com/mlop-ai/monitor/internal/model"
	"github.com/mlop-ai/monitor/internal/storage"
	"github.com/mlop-ai/monitor/internal/telemetry"
)

// RunStore selects runs for evaluation.
type RunStore interface {
	ListRunsByStatus(ctx context.Context, status model.RunStatus) ([]model.Run, error)
}

// Notifier applies a status transition and delivers its alert.
type Notifier interface {
	Transition(ctx context.Context, run model.Run, to model.RunStatus, alert model.Alert) (model.Notification, error)
}

// Outcome is the result of evaluating one run or one check.
type Outcome int

const (
	// OutcomeActive means the run is healthy; nothing changed.
	OutcomeActive Outcome = iota
	// OutcomeFailed means the run was moved to FAILED.
	OutcomeFailed
	// OutcomeCancelled means the run was moved to CANCELLED.
	OutcomeCancelled
	// OutcomeSkipped means the run could not be evaluated this cycle.
	OutcomeSkipped
	// OutcomeAnomaly means the last-seen gap exceeded the upper bound and was ignored.
	OutcomeAnomaly
	// OutcomeRejected means a rule was invalid and never queried.
	OutcomeRejected
	// OutcomeConflict means another writer changed the run's status first.
	OutcomeConflict
)

func (o Outcome) String() string {
	switch o {
	case OutcomeActive:
		return "active"
	case OutcomeFailed:
		return "failed"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeAnomaly:
		return "anomaly"
	case OutcomeRejected:
		return "rejected"
	case OutcomeConflict:
		return "conflict"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// terminal reports whether the run left RUNNING (or someone else moved it).
func (o Outcome) terminal() bool {
	return o == OutcomeFailed || o == OutcomeCancelled || o == OutcomeConflict
}

// Config holds engine settings.
type Config struct {
	// GracePeriod is how long a run may go without new metrics.
	GracePeriod time.Duration
	// UpperBound discards implausibly old last-seen times as data anomalies.
	UpperBound time.Duration
	// QueryTimeout bounds each metric store call.
	QueryTimeout time.Duration
	// Workers bounds how many runs are evaluated concurrently.
	Workers int
}

// Engine evaluates runs against the metric store.
type Engine struct {
	runs     RunStore
	metrics  metricstore.Store
	notifier Notifier
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time

	transitions metric.Int64Counter
	evalErrors  metric.Int64Counter
}

// NewEngine creates an Engine. Zero config values take the service defaults.
func NewEngine(runs RunStore, metrics metricstore.Store, notifier Notifier, cfg Config, logger *slog.Logger) *Engine {
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = 60 * time.Second
	}
	if cfg.UpperBound <= 0 {
		cfg.UpperBound = 16384 * 24 * time.Hour
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 5 * time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	e := &Engine{
		runs:     runs,
		metrics:  metrics,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
	meter := telemetry.Meter("mlop-monitor/engine")
	e.transitions, _ = meter.Int64Counter("mlop.monitor.transitions",
		metric.WithDescription("Run status transitions applied by the engine"))
	e.evalErrors, _ = meter.Int64Counter("mlop.monitor.evaluation_errors",
		metric.WithDescription("Runs skipped because evaluation failed"))
	return e
}

// EvaluateRun applies the liveness check and then every threshold rule in
// order. Evaluation stops as soon as the run leaves RUNNING. A metric store
// failure skips the rest of the run for this cycle.
func (e *Engine) EvaluateRun(ctx context.Context, run model.Run, now time.Time) (Outcome, error) {
	if run.Status != model.RunStatusRunning {
		return OutcomeSkipped, nil
	}
	if !run.HasProject() {
		return OutcomeSkipped, nil
	}

	result, err := e.CheckLiveness(ctx, run, now)
	if err != nil || result.terminal() {
		return result, err
	}

	for _, rule := range run.Rules {
		out, err := e.CheckThreshold(ctx, run, rule, now)
		if err != nil {
			return OutcomeSkipped, err
		}
		if out.terminal() {
			return out, nil
		}
	}
	return result, nil
}

// evaluateSafely runs EvaluateRun and converts a panic into an error so one
// run can never take down the cycle.
func (e *Engine) evaluateSafely(ctx context.Context, run model.Run) (out Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("monitor: panic evaluating run",
				"run_id", run.ID, "panic", r, "stack", string(debug.Stack()))
			out, err = OutcomeSkipped, fmt.Errorf("monitor: panic evaluating run %d: %v", run.ID, r)
		}
	}()
	out, err = e.EvaluateRun(ctx, run, e.now())
	if err != nil {
		e.evalErrors.Add(ctx, 1)
	}
	return out, err
}

// transition hands a stale or violating run to the notifier and maps the
// storage race onto OutcomeConflict.
func (e *Engine) transition(ctx context.Context, run model.Run, to model.RunStatus, alert model.Alert, success Outcome) (Outcome, error) {
	_, err := e.notifier.Transition(ctx, run, to, alert)
	if errors.Is(err, storage.ErrStatusConflict) {
		e.logger.Info("monitor: run status changed concurrently, no alert sent",
			"run_id", run.ID, "org_id", run.OrgID, "wanted", to)
		return OutcomeConflict, nil
	}
	if err != nil {
		return OutcomeSkipped, fmt.Errorf("monitor: transition run %d to %s: %w", run.ID, to, err)
	}
	e.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("to", string(to))))
	return success, nil
}

func (e *Engine) queryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.cfg.QueryTimeout)
}
