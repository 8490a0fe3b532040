// Package monitor is the public API for running the mlop run monitor: the
// poll loop that fails stalled runs and cancels runs whose metrics cross a
// configured threshold, plus the small HTTP surface for cancel triggers and
// manual alerts.
//
//	app, err := monitor.New(
//	    monitor.WithVersion(version),
//	    monitor.WithLogger(logger),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The root package imports internal/*; internal/* never imports the root.
// Public types are standalone structs and the adapters that convert them
// live in this file.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/joho/godotenv"

	"github.com/mlop-ai/monitor/api"
	"github.com/mlop-ai/monitor/internal/auth"
	"github.com/mlop-ai/monitor/internal/config"
	"github.com/mlop-ai/monitor/internal/cooldown"
	"github.com/mlop-ai/monitor/internal/mail"
	"github.com/mlop-ai/monitor/internal/metricstore"
	"github.com/mlop-ai/monitor/internal/model"
	engine "github.com/mlop-ai/monitor/internal/monitor"
	"github.com/mlop-ai/monitor/internal/notify"
	"github.com/mlop-ai/monitor/internal/server"
	"github.com/mlop-ai/monitor/internal/storage"
	"github.com/mlop-ai/monitor/internal/telemetry"
	"github.com/mlop-ai/monitor/migrations"
)

// App is the monitor lifecycle. Construct with New(), run with Run() or
// RunOnce(). App has no public fields; use New() options to configure it.
type App struct {
	cfg          config.Config
	db           *storage.DB
	metrics      metricstore.Store
	cooldown     cooldown.Store
	poller       *engine.Poller
	srv          *server.Server
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
}

// New initialises the monitor. It connects to both stores, runs migrations
// and wires all subsystems. It does NOT start any goroutines or accept HTTP
// connections; call Run() or RunOnce().
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("monitor starting", "version", version, "port", cfg.Port, "metrics_backend", cfg.MetricsBackend)

	ctx := context.Background()

	otelShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Endpoint:    cfg.OTELEndpoint,
		ServiceName: cfg.ServiceName,
		Version:     version,
		Insecure:    cfg.OTELInsecure,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	a := &App{cfg: cfg, otelShutdown: otelShutdown, logger: logger, version: version}

	db, err := storage.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("storage: %w", err)
	}
	a.db = db
	db.RegisterPoolMetrics()

	if cfg.SkipMigrations {
		logger.Info("embedded migrations skipped by config")
	} else if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		a.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	for i, extraFS := range o.extraMigrations {
		if err := db.RunMigrations(ctx, extraFS); err != nil {
			a.Close()
			return nil, fmt.Errorf("extra migrations[%d]: %w", i, err)
		}
	}

	// Verify the product schema is reachable; with MONITOR_SKIP_MIGRATIONS a
	// wrong database only shows up here.
	var schemaOK bool
	if err := db.Pool().QueryRow(ctx,
		`SELECT EXISTS (SELECT FROM information_schema.tables WHERE table_schema = 'public' AND table_name = 'runs')`,
	).Scan(&schemaOK); err != nil {
		a.Close()
		return nil, fmt.Errorf("schema verification: %w", err)
	}
	if !schemaOK {
		a.Close()
		return nil, errors.New("schema verification: table 'runs' does not exist")
	}

	if o.metricStore != nil {
		a.metrics = &metricStoreAdapter{s: o.metricStore}
		logger.Info("metric store: external")
	} else {
		a.metrics, err = newMetricStore(ctx, cfg, db, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	a.cooldown, err = newCooldown(ctx, cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	var sender mail.Sender
	switch {
	case o.mailer != nil:
		sender = &mailerAdapter{m: o.mailer}
	case cfg.SMTPHost != "":
		sender = mail.NewSMTP(mail.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		})
		logger.Info("mail: smtp", "host", cfg.SMTPHost, "port", cfg.SMTPPort)
	default:
		sender = mail.NewLog(logger)
		logger.Warn("mail: no SMTP_SERVER configured, alert emails are only logged")
	}

	dispatcher, err := notify.New(db, sender, a.cooldown, notify.Config{
		AppHost:     cfg.AppHost,
		SendTimeout: cfg.QueryTimeout,
	}, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	eng := engine.NewEngine(db, a.metrics, dispatcher, engine.Config{
		GracePeriod:  cfg.GracePeriod,
		UpperBound:   cfg.UpperBound,
		QueryTimeout: cfg.QueryTimeout,
		Workers:      cfg.Workers,
	}, logger)
	a.poller = engine.NewPoller(eng, logger, cfg.PollInterval, cfg.CycleTimeout)

	a.srv = server.New(server.ServerConfig{
		Gate:                auth.NewGate(db),
		Triggers:            db,
		Alerter:             dispatcher,
		DB:                  db,
		Metrics:             a.metrics,
		Cycles:              a.poller,
		Logger:              logger,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		OpenAPISpec:         api.OpenAPISpec,
	})

	return a, nil
}

// Run starts the poll loop and the HTTP server, then blocks until ctx is
// cancelled or a fatal server error occurs. On return the App is closed;
// callers should not call Close separately.
func (a *App) Run(ctx context.Context) error {
	a.poller.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	a.shutdown()
	return runErr
}

// RunOnce executes a single poll cycle without serving HTTP, then closes
// the App.
func (a *App) RunOnce(ctx context.Context) (CycleResult, error) {
	defer a.Close()
	cycleCtx, cancel := context.WithTimeout(ctx, a.cfg.CycleTimeout)
	defer cancel()
	s, err := a.poller.RunCycle(cycleCtx)
	if err != nil {
		return CycleResult{}, err
	}
	return CycleResult{
		StartedAt: s.StartedAt,
		Duration:  s.Duration,
		Loaded:    s.Loaded,
		Failed:    s.Failed,
		Cancelled: s.Cancelled,
		Skipped:   s.Skipped,
		Errors:    s.Errors,
	}, nil
}

// shutdown stops accepting HTTP requests, lets the in-flight cycle finish,
// then releases every backing store.
func (a *App) shutdown() {
	a.logger.Info("monitor shutting down")

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := a.srv.Shutdown(httpCtx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}
	httpCancel()

	drainCtx, drainCancel := context.WithTimeout(context.Background(), a.cfg.CycleTimeout)
	a.poller.Drain(drainCtx)
	drainCancel()

	a.Close()
	a.logger.Info("monitor stopped")
}

// Close releases the stores and flushes telemetry. It is safe on a
// partially constructed App.
func (a *App) Close() {
	if a.metrics != nil {
		if err := a.metrics.Close(); err != nil {
			a.logger.Warn("metric store close", "error", err)
		}
	}
	if c, ok := a.cooldown.(io.Closer); ok {
		_ = c.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
	if a.otelShutdown != nil {
		if err := a.otelShutdown(context.Background()); err != nil {
			a.logger.Warn("telemetry shutdown", "error", err)
		}
	}
}

func newMetricStore(ctx context.Context, cfg config.Config, db *storage.DB, logger *slog.Logger) (metricstore.Store, error) {
	switch cfg.MetricsBackend {
	case config.BackendPostgres:
		if cfg.MetricsDatabaseURL == cfg.DatabaseURL {
			logger.Info("metric store: postgres (shared pool)")
			return metricstore.NewPostgresFromPool(db.Pool()), nil
		}
		s, err := metricstore.NewPostgres(ctx, cfg.MetricsDatabaseURL)
		if err != nil {
			return nil, err
		}
		logger.Info("metric store: postgres")
		return s, nil

	case config.BackendInflux:
		s, err := metricstore.NewInflux(ctx, metricstore.InfluxConfig{
			URL:    cfg.InfluxURL,
			Token:  cfg.InfluxToken,
			Org:    cfg.InfluxOrg,
			Bucket: cfg.InfluxBucket,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("metric store: influxdb", "url", cfg.InfluxURL, "bucket", cfg.InfluxBucket)
		return s, nil

	default:
		addr, useHTTP, err := cfg.ClickHouseAddr()
		if err != nil {
			return nil, fmt.Errorf("metricstore: %w", err)
		}
		s, err := metricstore.NewClickHouse(ctx, metricstore.ClickHouseConfig{
			Addr:     addr,
			HTTP:     useHTTP,
			TLS:      cfg.ClickHouseTLS(),
			Database: cfg.ClickHouseDatabase,
			Username: cfg.ClickHouseUser,
			Password: cfg.ClickHousePassword,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("metric store: clickhouse", "addr", addr, "http", useHTTP)
		return s, nil
	}
}

func newCooldown(ctx context.Context, cfg config.Config, logger *slog.Logger) (cooldown.Store, error) {
	switch {
	case cfg.AlertCooldown <= 0:
		logger.Info("alert cooldown: disabled")
		return cooldown.Disabled{}, nil
	case cfg.RedisURL != "":
		r, err := cooldown.NewRedis(ctx, cfg.RedisURL, cfg.AlertCooldown)
		if err != nil {
			return nil, err
		}
		logger.Info("alert cooldown: redis", "window", cfg.AlertCooldown)
		return r, nil
	default:
		logger.Info("alert cooldown: memory", "window", cfg.AlertCooldown)
		return cooldown.NewMemory(cfg.AlertCooldown), nil
	}
}

// ── Adapters: public interfaces → internal contracts ──────────────────────────

// metricStoreAdapter wraps a public MetricStore to satisfy metricstore.Store.
type metricStoreAdapter struct {
	s MetricStore
}

func toRunRef(k metricstore.Key) RunRef {
	return RunRef{Project: k.Project, RunID: k.RunID, TenantID: k.TenantID}
}

func (a *metricStoreAdapter) LastSeen(ctx context.Context, key metricstore.Key) (time.Time, error) {
	t, ok, err := a.s.LastSeen(ctx, toRunRef(key))
	if err != nil {
		return time.Time{}, err
	}
	if !ok {
		return time.Time{}, metricstore.ErrNoData
	}
	return model.NormalizeUTC(t), nil
}

func (a *metricStoreAdapter) LatestViolation(ctx context.Context, key metricstore.Key, rule model.Rule) (metricstore.Sample, error) {
	s, ok, err := a.s.LatestViolation(ctx, toRunRef(key), ThresholdRule{
		Metric:    rule.Metric,
		Operator:  string(rule.Operator),
		Threshold: rule.Threshold,
	})
	if err != nil {
		return metricstore.Sample{}, err
	}
	if !ok {
		return metricstore.Sample{}, metricstore.ErrNoData
	}
	return metricstore.Sample{Time: model.NormalizeUTC(s.Time), Value: s.Value}, nil
}

func (a *metricStoreAdapter) Ping(ctx context.Context) error { return a.s.Ping(ctx) }
func (a *metricStoreAdapter) Close() error                   { return a.s.Close() }

// mailerAdapter wraps a public Mailer to satisfy mail.Sender.
type mailerAdapter struct {
	m Mailer
}

func (a *mailerAdapter) Send(ctx context.Context, msg mail.Message) error {
	return a.m.Send(ctx, Email{To: msg.To, Subject: msg.Subject, HTML: msg.HTML})
}
