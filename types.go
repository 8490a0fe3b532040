package monitor

import "time"

// RunRef locates a run's samples in a metric store.
type RunRef struct {
	Project  string
	RunID    int64
	TenantID string
}

// ThresholdRule is one configured threshold: the run is cancelled when a
// sample of Metric satisfies value <Operator> Threshold. Operator is one of
// "<", "<=", ">" or ">=".
type ThresholdRule struct {
	Metric    string
	Operator  string
	Threshold float64
}

// Sample is one observed metric value.
type Sample struct {
	Time  time.Time
	Value float64
}

// Email is one rendered alert message for one recipient.
type Email struct {
	To      string
	Subject string
	HTML    string
}

// CycleResult summarizes one poll cycle.
type CycleResult struct {
	StartedAt time.Time
	Duration  time.Duration
	Loaded    int
	Failed    int
	Cancelled int
	Skipped   int
	Errors    int
}
