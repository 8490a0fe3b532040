package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mlop-ai/monitor/internal/model"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// InsertNotification appends a notification row outside any status change.
func (db *DB) InsertNotification(ctx context.Context, n model.Notification) (model.Notification, error) {
	return insertNotification(ctx, db.pool, n)
}

func insertNotification(ctx context.Context, q querier, n model.Notification) (model.Notification, error) {
	err := q.QueryRow(ctx,
		`INSERT INTO notifications ("runId", "organizationId", type, content)
		 VALUES ($1, $2, $3, $4) RETURNING id, "createdAt"`,
		n.RunID, n.OrgID, n.Type, n.Content,
	).Scan(&n.ID, &n.CreatedAt)
	if err != nil {
		return model.Notification{}, fmt.Errorf("storage: insert notification: %w", err)
	}
	return n, nil
}

// ListNotifications returns the notifications of a run, newest first.
func (db *DB) ListNotifications(ctx context.Context, runID int64) ([]model.Notification, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, "runId", "organizationId", type, content, "createdAt"
		 FROM notifications WHERE "runId" = $1 ORDER BY "createdAt" DESC, id DESC`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list notifications: %w", err)
	}
	defer rows.Close()

	var out []model.Notification
	for rows.Next() {
		var n model.Notification
		if err := rows.Scan(&n.ID, &n.RunID, &n.OrgID, &n.Type, &n.Content, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan notification: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
