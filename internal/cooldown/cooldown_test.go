package cooldown

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestMemoryWindow(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(10 * time.Minute)
	now := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

	ok, err := m.Allow(ctx, "run:1:liveness", now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = m.Allow(ctx, "run:1:liveness", now.Add(9*time.Minute))
	assert.False(t, ok, "inside the window")

	ok, _ = m.Allow(ctx, "run:1:threshold:loss", now.Add(time.Minute))
	assert.True(t, ok, "keys are independent")

	ok, _ = m.Allow(ctx, "run:1:liveness", now.Add(10*time.Minute))
	assert.True(t, ok, "window elapsed")
}

func TestMemoryConcurrentSingleWinner(t *testing.T) {
	m := NewMemory(time.Hour)
	now := time.Now()
	var (
		wg      sync.WaitGroup
		allowed atomic.Int32
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := m.Allow(context.Background(), "k", now); ok {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), allowed.Load())
}

func TestMemoryEvictsExpired(t *testing.T) {
	m := NewMemory(time.Minute)
	now := time.Now()
	for i := 0; i < 1100; i++ {
		_, _ = m.Allow(context.Background(), fmt.Sprintf("k%d", i), now)
	}
	_, _ = m.Allow(context.Background(), "fresh", now.Add(2*time.Minute))
	assert.Len(t, m.last, 1)
}

func TestDisabled(t *testing.T) {
	for i := 0; i < 3; i++ {
		ok, err := Disabled{}.Allow(context.Background(), "k", time.Now())
		require.NoError(t, err)
		assert.True(t, ok)
	}
}

func TestRedisWindow(t *testing.T) {
	if testing.Short() {
		t.Skip("requires a Redis container")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	r, err := NewRedis(ctx, fmt.Sprintf("redis://%s:%s/0", host, port.Port()), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	ok, err := r.Allow(ctx, "run:1:liveness", time.Now())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.Allow(ctx, "run:1:liveness", time.Now())
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Eventually(t, func() bool {
		ok, err := r.Allow(ctx, "run:1:liveness", time.Now())
		return err == nil && ok
	}, 5*time.Second, 100*time.Millisecond)
}
