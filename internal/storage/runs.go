package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mlop-ai/monitor/internal/model"
)

// runColumns selects a run with its project name and organization slug.
// Runs without a project come back with a NULL project id and empty name.
const runColumns = `r.id, r.name, r."projectId", COALESCE(p.name, ''), r."organizationId",
	COALESCE(o.slug, ''), r.status, r."loggerSettings", r."statusUpdated", r."updatedAt"`

const runFrom = `FROM runs r
	LEFT JOIN projects p ON p.id = r."projectId"
	LEFT JOIN organization o ON o.id = r."organizationId"`

// ListRunsByStatus returns every run currently in status, ordered by id.
// Threshold rules are parsed here; malformed rules are dropped and logged.
func (db *DB) ListRunsByStatus(ctx context.Context, status model.RunStatus) ([]model.Run, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+runColumns+` `+runFrom+` WHERE r.status = $1 ORDER BY r.id`,
		string(status),
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list runs by status: %w", err)
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		run, err := db.scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: list runs by status: %w", err)
	}
	return runs, nil
}

// GetRunInOrg retrieves a run by id, scoped to the given organization.
// Returns ErrNotFound when the run is absent or belongs to another org.
func (db *DB) GetRunInOrg(ctx context.Context, runID int64, orgID string) (model.Run, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+runColumns+` `+runFrom+` WHERE r.id = $1 AND r."organizationId" = $2`,
		runID, orgID,
	)
	run, err := db.scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Run{}, ErrNotFound
		}
		return model.Run{}, fmt.Errorf("storage: get run: %w", err)
	}
	return run, nil
}

// TransitionRun moves a run from `from` to `to` and appends n in one
// transaction. The update only matches while the run is still in `from`;
// otherwise ErrStatusConflict is returned and nothing is written.
func (db *DB) TransitionRun(ctx context.Context, runID int64, from, to model.RunStatus, n model.Notification) (model.Notification, error) {
	var out model.Notification
	err := statusWriteRetry.do(ctx, func() error {
		return pgx.BeginFunc(ctx, db.pool, func(tx pgx.Tx) error {
			tag, err := tx.Exec(ctx,
				`UPDATE runs SET status = $1, "statusUpdated" = now(), "updatedAt" = now()
				 WHERE id = $2 AND status = $3`,
				string(to), runID, string(from),
			)
			if err != nil {
				return fmt.Errorf("storage: update run status: %w", err)
			}
			if tag.RowsAffected() == 0 {
				return ErrStatusConflict
			}
			n.RunID = runID
			out, err = insertNotification(ctx, tx, n)
			return err
		})
	})
	if err != nil {
		return model.Notification{}, err
	}
	return out, nil
}

// SetRunStatus performs the conditional status update without a notification.
func (db *DB) SetRunStatus(ctx context.Context, runID int64, from, to model.RunStatus) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE runs SET status = $1, "statusUpdated" = now(), "updatedAt" = now()
		 WHERE id = $2 AND status = $3`,
		string(to), runID, string(from),
	)
	if err != nil {
		return fmt.Errorf("storage: set run status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStatusConflict
	}
	return nil
}

// CreateRun inserts a run. The product creates runs through its own API;
// this exists for fixtures.
func (db *DB) CreateRun(ctx context.Context, run model.Run, loggerSettings []byte) (model.Run, error) {
	if run.Status == "" {
		run.Status = model.RunStatusRunning
	}
	if run.UpdatedAt.IsZero() {
		run.UpdatedAt = time.Now().UTC()
	}
	err := db.pool.QueryRow(ctx,
		`INSERT INTO runs (name, "projectId", "organizationId", status, "loggerSettings", "updatedAt")
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		run.Name, run.ProjectID, run.OrgID, string(run.Status), loggerSettings, run.UpdatedAt,
	).Scan(&run.ID)
	if err != nil {
		return model.Run{}, fmt.Errorf("storage: create run: %w", err)
	}
	return run, nil
}

func (db *DB) scanRun(row pgx.Row) (model.Run, error) {
	var (
		run      model.Run
		status   string
		settings []byte
	)
	if err := row.Scan(
		&run.ID, &run.Name, &run.ProjectID, &run.ProjectName, &run.OrgID,
		&run.OrgSlug, &status, &settings, &run.StatusUpdated, &run.UpdatedAt,
	); err != nil {
		return model.Run{}, err
	}
	st, err := model.ParseRunStatus(status)
	if err != nil {
		db.logger.Warn("storage: unrecognized run status", "run_id", run.ID, "status", status)
		st = model.RunStatus(status)
	}
	run.Status = st

	rules, err := model.ParseRuleSet(settings)
	if err != nil {
		db.logger.Warn("storage: dropped invalid threshold rules",
			"run_id", run.ID, "org_id", run.OrgID, "error", err)
	}
	run.Rules = rules
	return run, nil
}
