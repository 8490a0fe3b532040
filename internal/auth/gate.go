package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mlop-ai/monitor/internal/model"
	"github.com/mlop-ai/monitor/internal/storage"
)

var (
	// ErrUnauthorized means the key is missing, unknown or expired.
	ErrUnauthorized = errors.New("auth: unauthorized")
	// ErrRunNotFound means the run does not exist in the key's organization.
	ErrRunNotFound = errors.New("auth: run not found")
)

// Store is the lookup surface the gate needs.
type Store interface {
	GetAPIKey(ctx context.Context, normalized string) (model.APIKey, error)
	GetRunInOrg(ctx context.Context, runID int64, orgID string) (model.Run, error)
}

// Gate authenticates API keys.
type Gate struct {
	store Store
	now   func() time.Time
}

// NewGate creates a Gate backed by store.
func NewGate(store Store) *Gate {
	return &Gate{store: store, now: time.Now}
}

// Authenticate resolves a raw bearer key to its API key record.
func (g *Gate) Authenticate(ctx context.Context, rawKey string) (model.APIKey, error) {
	if rawKey == "" {
		return model.APIKey{}, ErrUnauthorized
	}
	key, err := g.store.GetAPIKey(ctx, NormalizeKey(rawKey))
	if errors.Is(err, storage.ErrNotFound) {
		return model.APIKey{}, ErrUnauthorized
	}
	if err != nil {
		return model.APIKey{}, fmt.Errorf("auth: lookup api key: %w", err)
	}
	if key.Expired(g.now()) {
		return model.APIKey{}, ErrUnauthorized
	}
	return key, nil
}

// ResolveRun authenticates rawKey and loads runID within the key's
// organization. A run in another organization is indistinguishable from a
// missing one.
func (g *Gate) ResolveRun(ctx context.Context, rawKey string, runID int64) (model.Run, error) {
	key, err := g.Authenticate(ctx, rawKey)
	if err != nil {
		return model.Run{}, err
	}
	return g.RunForKey(ctx, key, runID)
}

// RunForKey loads runID within the organization of an authenticated key.
func (g *Gate) RunForKey(ctx context.Context, key model.APIKey, runID int64) (model.Run, error) {
	run, err := g.store.GetRunInOrg(ctx, runID, key.OrgID)
	if errors.Is(err, storage.ErrNotFound) {
		return model.Run{}, ErrRunNotFound
	}
	if err != nil {
		return model.Run{}, fmt.Errorf("auth: load run: %w", err)
	}
	return run, nil
}
