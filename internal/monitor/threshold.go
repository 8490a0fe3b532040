package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mlop-ai/monitor/internal/metricstore"
	"github.com/mlop-ai/monitor/internal/model"
)

// CheckThreshold cancels a run when the newest sample of rule.Metric that
// satisfies the rule exists. Invalid rules are rejected without a query.
func (e *Engine) CheckThreshold(ctx context.Context, run model.Run, rule model.Rule, now time.Time) (Outcome, error) {
	if !rule.Valid() {
		e.logger.Debug("monitor: invalid threshold rule rejected",
			"run_id", run.ID, "metric", rule.Metric, "operator", rule.Operator)
		return OutcomeRejected, nil
	}

	qctx, cancel := e.queryContext(ctx)
	sample, err := e.metrics.LatestViolation(qctx, metricstore.KeyFor(run), rule)
	cancel()
	switch {
	case errors.Is(err, metricstore.ErrNoData):
		return OutcomeActive, nil
	case err != nil:
		return OutcomeSkipped, fmt.Errorf("monitor: threshold query for run %d on %s: %w", run.ID, rule.Metric, err)
	}

	reason := fmt.Sprintf("%s value %s %s %s",
		rule.Metric, model.FormatNumber(sample.Value), rule.Operator, model.FormatNumber(rule.Threshold))
	e.logger.Info("monitor: threshold violated",
		"run_id", run.ID, "org_id", run.OrgID, "project", run.ProjectName,
		"rule", rule.String(), "value", sample.Value, "at", sample.Time)

	at := sample.Time
	alert := model.Alert{
		Title:    "Reason",
		Body:     reason,
		Type:     model.NotificationRunCancelled,
		Email:    true,
		Subject:  fmt.Sprintf("mlop: threshold on %s exceeded for run %s in %s", rule.Metric, run.Name, run.ProjectName),
		Summary:  reason,
		LastSeen: &at,
		Elapsed:  now.Sub(at),
		DedupKey: rule.Key(),
	}
	return e.transition(ctx, run, model.RunStatusCancelled, alert, OutcomeCancelled)
}
