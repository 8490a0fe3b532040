package storage

import (
	"context"
	"fmt"

	"github.com/mlop-ai/monitor/internal/model"
)

// ListRunTriggers returns every trigger recorded against a run, oldest first.
func (db *DB) ListRunTriggers(ctx context.Context, runID int64) ([]model.RunTrigger, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, "runId", "triggerType", trigger, "createdAt"
		 FROM run_triggers WHERE "runId" = $1 ORDER BY "createdAt", id`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list run triggers: %w", err)
	}
	defer rows.Close()

	var out []model.RunTrigger
	for rows.Next() {
		var (
			t   model.RunTrigger
			typ string
		)
		if err := rows.Scan(&t.ID, &t.RunID, &typ, &t.Trigger, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan run trigger: %w", err)
		}
		t.TriggerType = model.TriggerType(typ)
		out = append(out, t)
	}
	return out, rows.Err()
}

// CreateRunTrigger records a trigger against a run.
func (db *DB) CreateRunTrigger(ctx context.Context, t model.RunTrigger) (model.RunTrigger, error) {
	err := db.pool.QueryRow(ctx,
		`INSERT INTO run_triggers ("runId", "triggerType", trigger)
		 VALUES ($1, $2, $3) RETURNING id, "createdAt"`,
		t.RunID, string(t.TriggerType), t.Trigger,
	).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		return model.RunTrigger{}, fmt.Errorf("storage: create run trigger: %w", err)
	}
	return t, nil
}
