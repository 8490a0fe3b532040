package model_test

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlop-ai/monitor/internal/model"
)

func TestAlertPayloadDefaults(t *testing.T) {
	var req model.AlertRequest
	require.NoError(t, json.Unmarshal([]byte(`{"runId": 4, "alert": {}}`), &req))
	require.NoError(t, model.Validate(req))

	p := req.Alert.WithDefaults()
	assert.Equal(t, "Alert", p.Title)
	assert.Equal(t, model.LevelInfo, p.Level)
	require.NotNil(t, p.Email)
	assert.False(t, *p.Email)

	a := p.ToAlert()
	assert.Equal(t, "INFO", a.Type)
	assert.False(t, a.Email)
	assert.Empty(t, a.DedupKey)
	assert.True(t, a.Timestamp.IsZero())
	assert.Nil(t, a.LastSeen)
}

func TestAlertPayloadExplicit(t *testing.T) {
	var req model.AlertRequest
	body := `{"runId": 4, "alert": {"title": "Diverged", "body": "nan loss", "level": "ERROR", "email": true, "timestamp": 1700000000000}}`
	require.NoError(t, json.Unmarshal([]byte(body), &req))
	require.NoError(t, model.Validate(req))

	a := req.Alert.WithDefaults().ToAlert()
	assert.Equal(t, "Diverged: nan loss", a.Content())
	assert.Equal(t, "ERROR", a.Type)
	assert.True(t, a.Email)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), a.Timestamp)
	require.NotNil(t, a.LastSeen)
	assert.Equal(t, a.Timestamp, *a.LastSeen)
}

func TestValidateRejectsBadRequests(t *testing.T) {
	assert.Error(t, model.Validate(model.TriggerRequest{}))
	assert.Error(t, model.Validate(model.TriggerRequest{RunID: -1}))
	assert.NoError(t, model.Validate(model.TriggerRequest{RunID: 1}))

	for _, level := range []string{"CRITICAL", "DEBUG", "RUN_FAILED", "custom-tag"} {
		assert.NoError(t, model.Validate(model.AlertRequest{RunID: 1, Alert: model.AlertPayload{Level: level}}), level)
	}
	assert.Error(t, model.Validate(model.AlertRequest{RunID: 1, Alert: model.AlertPayload{Level: strings.Repeat("X", 65)}}))
	assert.Error(t, model.Validate(model.AlertRequest{RunID: 1, Alert: model.AlertPayload{URL: "not a url"}}))
	assert.NoError(t, model.Validate(model.AlertRequest{RunID: 1, Alert: model.AlertPayload{URL: "https://hooks.example.com/x"}}))
}
