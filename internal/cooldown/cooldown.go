// Package cooldown rate-limits repeated engine alerts. Each dedup key may
// fire at most once per window; the first caller inside a window wins.
package cooldown

import (
	"context"
	"sync"
	"time"
)

// Store decides whether an alert for key may fire at now. A true result
// also starts a new window for key.
type Store interface {
	Allow(ctx context.Context, key string, now time.Time) (bool, error)
}

// Disabled allows every alert.
type Disabled struct{}

// Allow implements Store.
func (Disabled) Allow(context.Context, string, time.Time) (bool, error) { return true, nil }

// Memory keeps windows in process memory. State is lost on restart, which
// at worst repeats one alert per key.
type Memory struct {
	window time.Duration

	mu   sync.Mutex
	last map[string]time.Time
}

// NewMemory creates an in-memory store with the given window.
func NewMemory(window time.Duration) *Memory {
	return &Memory{window: window, last: make(map[string]time.Time)}
}

// Allow implements Store.
func (m *Memory) Allow(_ context.Context, key string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if last, ok := m.last[key]; ok && now.Sub(last) < m.window {
		return false, nil
	}
	m.last[key] = now
	m.evict(now)
	return true, nil
}

// evict drops expired windows once the map grows, keeping memory bounded by
// the number of keys active within one window.
func (m *Memory) evict(now time.Time) {
	if len(m.last) < 1024 {
		return
	}
	for k, t := range m.last {
		if now.Sub(t) >= m.window {
			delete(m.last, k)
		}
	}
}
