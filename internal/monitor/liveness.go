package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mlop-ai/monitor/internal/metricstore"
	"github.com/mlop-ai/monitor/internal/model"
)

const stalledSummary = "The run may have stalled and requires attention."

// CheckLiveness fails a run whose newest metric is older than the grace
// period. A run that never recorded a metric is judged by its updatedAt
// column instead, and only once that too is older than the grace period.
// Gaps at or beyond the upper bound are treated as bad data and ignored.
func (e *Engine) CheckLiveness(ctx context.Context, run model.Run, now time.Time) (Outcome, error) {
	qctx, cancel := e.queryContext(ctx)
	lastSeen, err := e.metrics.LastSeen(qctx, metricstore.KeyFor(run))
	cancel()

	switch {
	case errors.Is(err, metricstore.ErrNoData):
		if now.Sub(run.UpdatedAt) <= e.cfg.GracePeriod {
			return OutcomeActive, nil
		}
		lastSeen = run.UpdatedAt
	case err != nil:
		return OutcomeSkipped, fmt.Errorf("monitor: liveness query for run %d: %w", run.ID, err)
	}

	lastSeen = model.NormalizeUTC(lastSeen)
	diff := now.Sub(lastSeen)

	switch {
	case diff <= e.cfg.GracePeriod:
		return OutcomeActive, nil
	case diff >= e.cfg.UpperBound:
		e.logger.Warn("monitor: last seen beyond upper bound, ignoring",
			"run_id", run.ID, "org_id", run.OrgID, "project", run.ProjectName,
			"last_seen", lastSeen, "diff", diff)
		return OutcomeAnomaly, nil
	}

	e.logger.Info("monitor: run stale",
		"run_id", run.ID, "org_id", run.OrgID, "project", run.ProjectName,
		"last_seen", lastSeen, "diff_seconds", int64(diff/time.Second))

	alert := model.Alert{
		Title:    "Reason",
		Body:     fmt.Sprintf("last update exceeded %d seconds", int64(e.cfg.GracePeriod/time.Second)),
		Type:     model.NotificationRunFailed,
		Email:    true,
		Subject:  "mlop: status update",
		Summary:  stalledSummary,
		LastSeen: &lastSeen,
		Elapsed:  diff,
		DedupKey: "liveness",
	}
	return e.transition(ctx, run, model.RunStatusFailed, alert, OutcomeFailed)
}
