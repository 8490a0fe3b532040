package monitor

import (
	"context"
	"time"
)

// MetricStore is a time-series backend the engine can query instead of the
// built-in ClickHouse, Postgres and InfluxDB stores. It receives only
// validated rules; ok=false means no matching sample exists.
type MetricStore interface {
	LastSeen(ctx context.Context, run RunRef) (t time.Time, ok bool, err error)
	LatestViolation(ctx context.Context, run RunRef, rule ThresholdRule) (s Sample, ok bool, err error)
	Ping(ctx context.Context) error
	Close() error
}

// Mailer delivers one alert email. When provided via WithMailer it replaces
// the SMTP relay configured through SMTP_SERVER.
type Mailer interface {
	Send(ctx context.Context, email Email) error
}
