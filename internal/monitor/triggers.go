package monitor

import (
	"context"
	"fmt"

	"github.com/mlop-ai/monitor/internal/model"
)

// TriggerStore reads recorded triggers and applies the resulting status.
type TriggerStore interface {
	ListRunTriggers(ctx context.Context, runID int64) ([]model.RunTrigger, error)
	SetRunStatus(ctx context.Context, runID int64, from, to model.RunStatus) error
}

// ResolveTriggers applies any recorded CANCEL trigger to a RUNNING run and
// returns the run's resulting status with the triggers that were considered.
// Runs that already left RUNNING are reported as-is. No notification is
// written for trigger cancellations; the trigger record itself is the audit
// trail. storage.ErrStatusConflict is returned when the run changed status
// between the read and the update.
func ResolveTriggers(ctx context.Context, store TriggerStore, run model.Run) (model.RunStatus, []model.RunTrigger, error) {
	triggers, err := store.ListRunTriggers(ctx, run.ID)
	if err != nil {
		return run.Status, nil, err
	}
	if run.Status != model.RunStatusRunning {
		return run.Status, triggers, nil
	}
	for _, t := range triggers {
		if t.TriggerType != model.TriggerCancel {
			continue
		}
		if err := store.SetRunStatus(ctx, run.ID, run.Status, model.RunStatusCancelled); err != nil {
			return run.Status, triggers, fmt.Errorf("monitor: resolve cancel trigger %d: %w", t.ID, err)
		}
		return model.RunStatusCancelled, triggers, nil
	}
	return run.Status, triggers, nil
}
