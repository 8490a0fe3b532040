package metricstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/mlop-ai/monitor/internal/model"
)

func startClickHouse(t *testing.T) *ClickHouse {
	t.Helper()
	if testing.Short() {
		t.Skip("requires a ClickHouse container")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "clickhouse/clickhouse-server:24.8-alpine",
			ExposedPorts: []string{"9000/tcp", "8123/tcp"},
			Env: map[string]string{
				"CLICKHOUSE_DB":       "mlop",
				"CLICKHOUSE_USER":     "mlop",
				"CLICKHOUSE_PASSWORD": "mlop",
			},
			WaitingFor: wait.ForHTTP("/ping").WithPort("8123/tcp").WithStartupTimeout(90 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "9000")
	require.NoError(t, err)

	ch, err := NewClickHouse(ctx, ClickHouseConfig{
		Addr:     fmt.Sprintf("%s:%s", host, port.Port()),
		Database: "mlop",
		Username: "mlop",
		Password: "mlop",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ch.Close() })

	require.NoError(t, ch.conn.Exec(ctx, `CREATE TABLE mlop_metrics (
		tenantId String,
		projectName String,
		runId Int64,
		logName String,
		value Float64,
		time DateTime64(3, 'UTC')
	) ENGINE = MergeTree ORDER BY (tenantId, projectName, runId, time)`))
	return ch
}

func insertSamples(t *testing.T, ch *ClickHouse, key Key, metric string, samples ...Sample) {
	t.Helper()
	ctx := context.Background()
	batch, err := ch.conn.PrepareBatch(ctx, "INSERT INTO mlop_metrics")
	require.NoError(t, err)
	for _, s := range samples {
		require.NoError(t, batch.Append(key.TenantID, key.Project, key.RunID, metric, s.Value, s.Time))
	}
	require.NoError(t, batch.Send())
}

func TestClickHouseStore(t *testing.T) {
	ch := startClickHouse(t)
	ctx := context.Background()
	key := Key{Project: "vision", RunID: 7, TenantID: "org-ch"}

	// MAX(time) over no rows is the epoch, which must read as no data.
	_, err := ch.LastSeen(ctx, key)
	assert.ErrorIs(t, err, ErrNoData)

	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	insertSamples(t, ch, key, "loss",
		Sample{Time: base, Value: 4},
		Sample{Time: base.Add(time.Second), Value: 12},
		Sample{Time: base.Add(2 * time.Second), Value: 3},
	)

	last, err := ch.LastSeen(ctx, key)
	require.NoError(t, err)
	assert.True(t, base.Add(2*time.Second).Equal(last))

	s, err := ch.LatestViolation(ctx, key, model.Rule{Metric: "loss", Threshold: 10, Operator: model.OpGreater})
	require.NoError(t, err)
	assert.Equal(t, 12.0, s.Value)

	_, err = ch.LatestViolation(ctx, key, model.Rule{Metric: "loss", Threshold: 0, Operator: model.OpLess})
	assert.ErrorIs(t, err, ErrNoData)
}
