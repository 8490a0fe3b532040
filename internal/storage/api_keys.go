package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mlop-ai/monitor/internal/model"
)

// CreateAPIKey inserts an API key whose Key is already normalized.
func (db *DB) CreateAPIKey(ctx context.Context, key model.APIKey) (model.APIKey, error) {
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now().UTC()
	}
	err := db.pool.QueryRow(ctx,
		`INSERT INTO api_keys (key, name, "organizationId", "expiresAt", "createdAt")
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		key.Key, key.Name, key.OrgID, key.ExpiresAt, key.CreatedAt,
	).Scan(&key.ID)
	if err != nil {
		return model.APIKey{}, fmt.Errorf("storage: create api key: %w", err)
	}
	return key, nil
}

// GetAPIKey looks up an API key by its normalized value. Expired keys are
// returned as-is; the caller decides what expiry means.
// Returns ErrNotFound if no key matches.
func (db *DB) GetAPIKey(ctx context.Context, normalized string) (model.APIKey, error) {
	var k model.APIKey
	err := db.pool.QueryRow(ctx,
		`SELECT id, key, name, "organizationId", "expiresAt", "createdAt"
		 FROM api_keys WHERE key = $1`,
		normalized,
	).Scan(&k.ID, &k.Key, &k.Name, &k.OrgID, &k.ExpiresAt, &k.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.APIKey{}, ErrNotFound
		}
		return model.APIKey{}, fmt.Errorf("storage: get api key: %w", err)
	}
	return k, nil
}
