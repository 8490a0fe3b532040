// Package config loads and validates application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Metric store backends.
const (
	BackendClickHouse = "clickhouse"
	BackendPostgres   = "postgres"
	BackendInflux     = "influx"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	MaxRequestBodyBytes int64

	// Relational store.
	DatabaseURL    string
	SkipMigrations bool

	// Metric store.
	MetricsBackend     string
	ClickHouseURL      string // http(s):// selects the HTTP protocol, anything else native TCP.
	ClickHouseUser     string
	ClickHousePassword string
	ClickHouseDatabase string
	MetricsDatabaseURL string // Postgres backend; defaults to DatabaseURL.
	InfluxURL          string
	InfluxToken        string
	InfluxOrg          string
	InfluxBucket       string

	// SMTP settings. An empty host selects the log-only mailer.
	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	SMTPFrom     string
	AppHost      string // Base URL for run deep links in emails.

	// Cooldown store. Empty keeps cooldown state in memory.
	RedisURL string

	// Engine settings.
	GracePeriod   time.Duration
	PollInterval  time.Duration
	UpperBound    time.Duration
	QueryTimeout  time.Duration
	CycleTimeout  time.Duration
	Workers       int
	AlertCooldown time.Duration

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	LogLevel string
}

// Load reads configuration from environment variables with defaults.
// Malformed values are collected and reported together.
func Load() (Config, error) {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	cfg := Config{
		DatabaseURL:        envStr("DATABASE_DIRECT_URL", os.Getenv("DATABASE_URL")),
		MetricsBackend:     strings.ToLower(envStr("METRICS_BACKEND", BackendClickHouse)),
		ClickHouseURL:      envStr("CLICKHOUSE_URL", "http://localhost:8123"),
		ClickHouseUser:     envStr("CLICKHOUSE_USER", "default"),
		ClickHousePassword: envStr("CLICKHOUSE_PASSWORD", ""),
		ClickHouseDatabase: envStr("CLICKHOUSE_DATABASE", "default"),
		InfluxURL:          envStr("INFLUXDB_URL", "http://localhost:8086"),
		InfluxToken:        envStr("INFLUXDB_TOKEN", ""),
		InfluxOrg:          envStr("INFLUXDB_ORG", ""),
		InfluxBucket:       envStr("INFLUXDB_BUCKET", "mlop_metrics"),
		SMTPHost:           envStr("SMTP_SERVER", ""),
		SMTPUser:           envStr("SMTP_USERNAME", ""),
		SMTPPassword:       envStr("SMTP_PASSWORD", ""),
		SMTPFrom:           envStr("SMTP_FROM_ADDRESS", "noreply@mlop.ai"),
		AppHost:            strings.TrimRight(envStr("APP_HOST", "http://localhost:3000"), "/"),
		RedisURL:           envStr("REDIS_URL", ""),
		OTELEndpoint:       envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName:        envStr("OTEL_SERVICE_NAME", "mlop-monitor"),
		LogLevel:           envStr("MONITOR_LOG_LEVEL", "info"),
	}
	cfg.MetricsDatabaseURL = envStr("METRICS_DATABASE_URL", cfg.DatabaseURL)

	var err error
	cfg.Port, err = envInt("MONITOR_PORT", 3004)
	collect(err)
	cfg.ReadTimeout, err = envDuration("MONITOR_READ_TIMEOUT", 30*time.Second)
	collect(err)
	cfg.WriteTimeout, err = envDuration("MONITOR_WRITE_TIMEOUT", 30*time.Second)
	collect(err)
	maxBody, err := envInt("MONITOR_MAX_REQUEST_BODY_BYTES", 1*1024*1024) // 1 MB default
	collect(err)
	cfg.MaxRequestBodyBytes = int64(maxBody)
	cfg.SkipMigrations, err = envBool("MONITOR_SKIP_MIGRATIONS", false)
	collect(err)
	cfg.SMTPPort, err = envInt("SMTP_PORT", 587)
	collect(err)
	cfg.GracePeriod, err = envDuration("MONITOR_GRACE", 60*time.Second)
	collect(err)
	cfg.PollInterval, err = envDuration("MONITOR_INTERVAL", 10*time.Second)
	collect(err)
	cfg.UpperBound, err = envDuration("MONITOR_UPPER_BOUND", 16384*24*time.Hour)
	collect(err)
	cfg.QueryTimeout, err = envDuration("MONITOR_QUERY_TIMEOUT", 5*time.Second)
	collect(err)
	cfg.CycleTimeout, err = envDuration("MONITOR_CYCLE_TIMEOUT", 2*time.Minute)
	collect(err)
	cfg.Workers, err = envInt("MONITOR_WORKERS", 4)
	collect(err)
	cfg.AlertCooldown, err = envDuration("MONITOR_ALERT_COOLDOWN", 10*time.Minute)
	collect(err)
	cfg.OTELInsecure, err = envBool("OTEL_EXPORTER_OTLP_INSECURE", false)
	collect(err)

	if len(errs) > 0 {
		return Config{}, fmt.Errorf("config: %w", errors.Join(errs...))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present and consistent.
func (c Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("config: DATABASE_DIRECT_URL is required")
	}
	switch c.MetricsBackend {
	case BackendClickHouse:
		if _, _, err := c.ClickHouseAddr(); err != nil {
			return err
		}
	case BackendPostgres:
		if c.MetricsDatabaseURL == "" {
			return fmt.Errorf("config: METRICS_DATABASE_URL is required for the postgres backend")
		}
	case BackendInflux:
		if c.InfluxURL == "" || c.InfluxOrg == "" || c.InfluxBucket == "" {
			return fmt.Errorf("config: INFLUXDB_URL, INFLUXDB_ORG and INFLUXDB_BUCKET are required for the influx backend")
		}
	default:
		return fmt.Errorf("config: METRICS_BACKEND %q is not one of clickhouse, postgres, influx", c.MetricsBackend)
	}
	if c.GracePeriod <= 0 {
		return fmt.Errorf("config: MONITOR_GRACE must be positive")
	}
	if c.UpperBound <= c.GracePeriod {
		return fmt.Errorf("config: MONITOR_UPPER_BOUND must exceed MONITOR_GRACE")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("config: MONITOR_INTERVAL must be positive")
	}
	if c.QueryTimeout <= 0 || c.CycleTimeout <= 0 {
		return fmt.Errorf("config: MONITOR_QUERY_TIMEOUT and MONITOR_CYCLE_TIMEOUT must be positive")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("config: MONITOR_WORKERS must be positive")
	}
	if c.AlertCooldown < 0 {
		return fmt.Errorf("config: MONITOR_ALERT_COOLDOWN must not be negative")
	}
	if c.MaxRequestBodyBytes <= 0 {
		return fmt.Errorf("config: MONITOR_MAX_REQUEST_BODY_BYTES must be positive")
	}
	return nil
}

// ClickHouseAddr splits CLICKHOUSE_URL into host:port and reports whether the
// HTTP protocol should be used. A bare host:port selects the native protocol.
func (c Config) ClickHouseAddr() (addr string, useHTTP bool, err error) {
	raw := c.ClickHouseURL
	if !strings.Contains(raw, "://") {
		raw = "clickhouse://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", false, fmt.Errorf("config: CLICKHOUSE_URL=%q is not a valid URL", c.ClickHouseURL)
	}
	useHTTP = u.Scheme == "http" || u.Scheme == "https"
	host := u.Host
	if u.Port() == "" {
		switch u.Scheme {
		case "http":
			host += ":8123"
		case "https":
			host += ":8443"
		default:
			host += ":9000"
		}
	}
	return host, useHTTP, nil
}

// ClickHouseTLS reports whether the ClickHouse URL requests TLS.
func (c Config) ClickHouseTLS() bool {
	return strings.HasPrefix(c.ClickHouseURL, "https://")
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	return n, nil
}

func envBool(key string, defaultVal bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s=%q is not a valid boolean", key, v)
	}
	return b, nil
}

func envDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid duration", key, v)
	}
	return d, nil
}
