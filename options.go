package monitor

import (
	"io/fs"
	"log/slog"
)

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported; callers use the With* functions.
type resolvedOptions struct {
	port            int
	databaseURL     string
	logger          *slog.Logger
	version         string
	metricStore     MetricStore
	mailer          Mailer
	extraMigrations []fs.FS
}

// WithPort overrides the TCP port from config (MONITOR_PORT env var).
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithDatabaseURL overrides the database connection string from config
// (DATABASE_DIRECT_URL env var).
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in the health endpoint and logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithMetricStore replaces the metric store selected by METRICS_BACKEND.
// The App closes it on shutdown.
func WithMetricStore(s MetricStore) Option {
	return func(o *resolvedOptions) { o.metricStore = s }
}

// WithMailer replaces the SMTP or log mailer.
func WithMailer(m Mailer) Option {
	return func(o *resolvedOptions) { o.mailer = m }
}

// WithExtraMigrations adds a SQL migration filesystem applied after the
// embedded migrations. Multiple filesystems are applied in registration order.
func WithExtraMigrations(dir fs.FS) Option {
	return func(o *resolvedOptions) { o.extraMigrations = append(o.extraMigrations, dir) }
}
