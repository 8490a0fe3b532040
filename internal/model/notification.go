package model

import (
	"strconv"
	"time"
)

// Notification types written by the engine. Manual alerts use their level as
// the type, any tag the caller chooses.
const (
	NotificationRunFailed    = "RUN_FAILED"
	NotificationRunCancelled = "RUN_CANCELLED"
)

// Common alert levels. Level defaults to INFO.
const (
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

// Notification is an append-only record that something happened to a run.
type Notification struct {
	ID        int64     `json:"id"`
	RunID     int64     `json:"run_id"`
	OrgID     string    `json:"organization_id"`
	Type      string    `json:"type"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Alert is a notification before it is persisted, plus the delivery details
// that never reach the notifications table.
type Alert struct {
	Title string
	Body  string
	// Type is stored as the notification type.
	Type  string
	Email bool
	// Subject overrides the default email subject.
	Subject string
	// Summary is the reason line rendered in the email body.
	Summary string
	// LastSeen is the last observed activity of the run, when known.
	LastSeen *time.Time
	// Elapsed is the time since LastSeen at evaluation.
	Elapsed time.Duration
	// DedupKey groups repeated engine alerts for cooldown. Empty means the
	// alert is never suppressed.
	DedupKey string
	// Timestamp is when the alert was raised; zero means now.
	Timestamp time.Time
}

// Content is the persisted notification text: "{title}: {body}", also when
// body is empty.
func (a Alert) Content() string {
	return a.Title + ": " + a.Body
}

// FormatNumber renders a metric value or threshold in its shortest form
// ("12", "0.25", "1e+21").
func FormatNumber(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
