package model

import (
	"time"
)

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Standard error codes.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// TriggerRequest is the request body for POST /api/runs/trigger.
type TriggerRequest struct {
	RunID int64 `json:"runId" validate:"required,gt=0"`
}

// TriggerResponse reports the run status after pending triggers were resolved.
type TriggerResponse struct {
	Status   RunStatus    `json:"status"`
	Triggers []RunTrigger `json:"triggers"`
}

// AlertRequest is the request body for POST /api/runs/alert.
type AlertRequest struct {
	RunID int64        `json:"runId" validate:"required,gt=0"`
	Alert AlertPayload `json:"alert"`
}

// AlertPayload is a manual alert raised by an SDK or an external system.
// Absent fields take defaults in WithDefaults.
type AlertPayload struct {
	Timestamp *int64 `json:"timestamp,omitempty"`
	Title     string `json:"title,omitempty" validate:"max=255"`
	Body      string `json:"body,omitempty" validate:"max=65536"`
	Level     string `json:"level,omitempty" validate:"max=64"`
	Email     *bool  `json:"email,omitempty"`
	URL       string `json:"url,omitempty" validate:"omitempty,url"`
}

// WithDefaults fills absent fields: title "Alert", level INFO, email off.
func (p AlertPayload) WithDefaults() AlertPayload {
	if p.Title == "" {
		p.Title = "Alert"
	}
	if p.Level == "" {
		p.Level = LevelInfo
	}
	if p.Email == nil {
		off := false
		p.Email = &off
	}
	return p
}

// ToAlert converts a payload (after WithDefaults) into an undeduplicated Alert.
// Timestamp is interpreted as Unix milliseconds.
func (p AlertPayload) ToAlert() Alert {
	a := Alert{
		Title: p.Title,
		Body:  p.Body,
		Type:  p.Level,
		Email: p.Email != nil && *p.Email,
	}
	if p.Timestamp != nil {
		a.Timestamp = time.UnixMilli(*p.Timestamp).UTC()
		at := a.Timestamp
		a.LastSeen = &at
	}
	return a
}

// AlertResponse is the response body for POST /api/runs/alert.
type AlertResponse struct {
	Status       string `json:"status"`
	Notification int64  `json:"notificationId,omitempty"`
	URL          string `json:"url,omitempty"`
}

// Validate runs struct-tag validation on HTTP request bodies.
func Validate(v any) error {
	return ruleValidator.Struct(v)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status      string     `json:"status"`
	Version     string     `json:"version"`
	Postgres    string     `json:"postgres"`
	MetricStore string     `json:"metric_store,omitempty"`
	Uptime      int64      `json:"uptime_seconds"`
	LastCycle   *time.Time `json:"last_cycle,omitempty"`
	LastLoaded  int        `json:"last_cycle_runs"`
}
