package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitDisabledWithoutEndpoint(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "mlop-monitor"})
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))

	// The no-op providers still hand out usable instruments.
	counter, err := Meter("test").Int64Counter("test.count")
	require.NoError(t, err)
	counter.Add(context.Background(), 1)

	_, span := Tracer("test").Start(context.Background(), "noop")
	span.End()
}
