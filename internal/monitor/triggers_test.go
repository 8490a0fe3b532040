package monitor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlop-ai/monitor/internal/model"
	"github.com/mlop-ai/monitor/internal/storage"
)

type fakeTriggers struct {
	triggers []model.RunTrigger
	status   model.RunStatus
	updates  int
}

func (f *fakeTriggers) ListRunTriggers(context.Context, int64) ([]model.RunTrigger, error) {
	return f.triggers, nil
}

func (f *fakeTriggers) SetRunStatus(_ context.Context, _ int64, from, to model.RunStatus) error {
	if f.status != from {
		return storage.ErrStatusConflict
	}
	f.status = to
	f.updates++
	return nil
}

func TestResolveTriggersCancelsRunningRun(t *testing.T) {
	store := &fakeTriggers{
		status: model.RunStatusRunning,
		triggers: []model.RunTrigger{
			{ID: 1, RunID: 9, TriggerType: "NOTE", Trigger: "checkpoint"},
			{ID: 2, RunID: 9, TriggerType: model.TriggerCancel, Trigger: "user requested"},
		},
	}
	status, triggers, err := ResolveTriggers(context.Background(), store, model.Run{ID: 9, Status: model.RunStatusRunning})
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCancelled, status)
	assert.Len(t, triggers, 2)
	assert.Equal(t, 1, store.updates)
}

func TestResolveTriggersWithoutCancel(t *testing.T) {
	store := &fakeTriggers{status: model.RunStatusRunning}
	status, triggers, err := ResolveTriggers(context.Background(), store, model.Run{ID: 9, Status: model.RunStatusRunning})
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusRunning, status)
	assert.Empty(t, triggers)
	assert.Zero(t, store.updates)
}

func TestResolveTriggersLeavesFinishedRuns(t *testing.T) {
	store := &fakeTriggers{
		status:   model.RunStatusCompleted,
		triggers: []model.RunTrigger{{ID: 1, TriggerType: model.TriggerCancel}},
	}
	status, _, err := ResolveTriggers(context.Background(), store, model.Run{ID: 9, Status: model.RunStatusCompleted})
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, status)
	assert.Zero(t, store.updates)
}

func TestResolveTriggersConflict(t *testing.T) {
	store := &fakeTriggers{
		status:   model.RunStatusFailed,
		triggers: []model.RunTrigger{{ID: 1, TriggerType: model.TriggerCancel}},
	}
	_, _, err := ResolveTriggers(context.Background(), store, model.Run{ID: 9, Status: model.RunStatusRunning})
	assert.ErrorIs(t, err, storage.ErrStatusConflict)
}
