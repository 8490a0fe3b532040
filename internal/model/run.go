// Package model defines the core domain types for the run monitor.
//
// Types mirror the rows of the relational store (runs, notifications,
// api_keys, run_triggers) and the samples of the metric store. They carry no
// persistence logic; see internal/storage and internal/metricstore.
package model

import (
	"fmt"
	"time"
)

// RunStatus is the lifecycle state of a tracked run. The same type is used for
// comparisons and assignments everywhere; the raw strings only appear at the
// storage boundary.
type RunStatus string

const (
	RunStatusRunning    RunStatus = "RUNNING"
	RunStatusCompleted  RunStatus = "COMPLETED"
	RunStatusFailed     RunStatus = "FAILED"
	RunStatusTerminated RunStatus = "TERMINATED"
	RunStatusCancelled  RunStatus = "CANCELLED"
)

// ParseRunStatus converts a stored status string into a RunStatus.
func ParseRunStatus(s string) (RunStatus, error) {
	switch st := RunStatus(s); st {
	case RunStatusRunning, RunStatusCompleted, RunStatusFailed, RunStatusTerminated, RunStatusCancelled:
		return st, nil
	default:
		return "", fmt.Errorf("model: unknown run status %q", s)
	}
}

// IsTerminal reports whether no engine-driven transition can leave s.
func (s RunStatus) IsTerminal() bool {
	return s != RunStatusRunning
}

// CanTransition reports whether the monitor may move a run from s to next.
// Only RUNNING -> FAILED and RUNNING -> CANCELLED are owned by the monitor;
// COMPLETED and TERMINATED are assigned elsewhere.
func (s RunStatus) CanTransition(next RunStatus) bool {
	if s != RunStatusRunning {
		return false
	}
	return next == RunStatusFailed || next == RunStatusCancelled
}

// Run is one tracked execution of an experiment.
type Run struct {
	ID            int64      `json:"id"`
	Name          string     `json:"name"`
	ProjectID     *int64     `json:"project_id,omitempty"`
	ProjectName   string     `json:"project_name,omitempty"`
	OrgID         string     `json:"organization_id"`
	OrgSlug       string     `json:"organization_slug,omitempty"`
	Status        RunStatus  `json:"status"`
	Rules         RuleSet    `json:"rules,omitempty"`
	StatusUpdated *time.Time `json:"status_updated,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// HasProject reports whether the run is attached to a project. Runs without a
// project cannot be located in the metric store.
func (r Run) HasProject() bool {
	return r.ProjectID != nil && r.ProjectName != ""
}

// TriggerType classifies an externally recorded run trigger.
type TriggerType string

const (
	TriggerCancel TriggerType = "CANCEL"
)

// RunTrigger is an externally recorded request against a run, resolved by the
// trigger endpoint rather than the poll loop.
type RunTrigger struct {
	ID          int64       `json:"id"`
	RunID       int64       `json:"run_id"`
	TriggerType TriggerType `json:"trigger_type"`
	Trigger     string      `json:"trigger"`
	CreatedAt   time.Time   `json:"created_at"`
}

// NormalizeUTC returns t as an absolute UTC instant. Metric stores that hand
// back naive timestamps are decoded by their drivers in time.Local or UTC;
// both are re-expressed in UTC here.
func NormalizeUTC(t time.Time) time.Time {
	return t.UTC()
}
