package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/mlop-ai/monitor/internal/model"
	"github.com/mlop-ai/monitor/internal/telemetry"
)

// CycleSummary reports what one poll cycle did.
type CycleSummary struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Loaded    int           `json:"loaded"`
	Skipped   int           `json:"skipped"`
	Active    int           `json:"active"`
	Failed    int           `json:"failed"`
	Cancelled int           `json:"cancelled"`
	Conflicts int           `json:"conflicts"`
	Anomalies int           `json:"anomalies"`
	Errors    int           `json:"errors"`
}

func (s *CycleSummary) record(out Outcome, err error) {
	if err != nil {
		s.Errors++
		return
	}
	switch out {
	case OutcomeFailed:
		s.Failed++
	case OutcomeCancelled:
		s.Cancelled++
	case OutcomeConflict:
		s.Conflicts++
	case OutcomeAnomaly:
		s.Anomalies++
	case OutcomeSkipped:
		s.Skipped++
	default:
		s.Active++
	}
}

// Poller drives the engine on a fixed interval.
type Poller struct {
	engine       *Engine
	logger       *slog.Logger
	interval     time.Duration
	cycleTimeout time.Duration

	started    atomic.Bool
	cancelLoop context.CancelFunc
	done       chan struct{}
	once       sync.Once

	mu   sync.Mutex
	last CycleSummary

	cycles        metric.Int64Counter
	cycleFailures metric.Int64Counter
	cycleDuration metric.Float64Histogram
}

// NewPoller creates a poller. A zero cycleTimeout bounds each cycle by the
// poll interval.
func NewPoller(engine *Engine, logger *slog.Logger, interval, cycleTimeout time.Duration) *Poller {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if cycleTimeout <= 0 {
		cycleTimeout = interval
	}
	p := &Poller{
		engine:       engine,
		logger:       logger,
		interval:     interval,
		cycleTimeout: cycleTimeout,
		done:         make(chan struct{}),
	}
	meter := telemetry.Meter("mlop-monitor/poller")
	p.cycles, _ = meter.Int64Counter("mlop.monitor.cycles",
		metric.WithDescription("Completed poll cycles"))
	p.cycleFailures, _ = meter.Int64Counter("mlop.monitor.cycle_failures",
		metric.WithDescription("Poll cycles that could not load runs"))
	p.cycleDuration, _ = meter.Float64Histogram("mlop.monitor.cycle_duration",
		metric.WithDescription("Wall time of a poll cycle"),
		metric.WithUnit("s"))
	return p
}

// Start begins the background poll loop. The first cycle runs immediately.
// It is safe to call only once; subsequent calls are no-ops and log a warning.
func (p *Poller) Start(ctx context.Context) {
	if !p.started.CompareAndSwap(false, true) {
		p.logger.Warn("monitor: Start called more than once, ignoring")
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	p.cancelLoop = cancel
	go p.pollLoop(loopCtx)
}

// Drain stops the poll loop and blocks until the in-flight cycle returns or
// ctx expires.
func (p *Poller) Drain(ctx context.Context) {
	if p.cancelLoop == nil {
		return
	}
	p.cancelLoop()
	select {
	case <-p.done:
	case <-ctx.Done():
		p.logger.Warn("monitor: drain timed out")
	}
}

// LastCycle returns the summary of the most recently finished cycle. The
// zero value means no cycle has completed yet.
func (p *Poller) LastCycle() CycleSummary {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

func (p *Poller) pollLoop(ctx context.Context) {
	defer p.once.Do(func() { close(p.done) })

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	cycleCtx, cancel := context.WithTimeout(ctx, p.cycleTimeout)
	defer cancel()
	if _, err := p.RunCycle(cycleCtx); err != nil && ctx.Err() == nil {
		p.logger.Error("monitor: cycle failed", "error", err)
	}
}

// RunCycle evaluates every RUNNING run once. Runs are evaluated concurrently
// up to the engine's worker limit; a failure or panic in one run never stops
// the others. The only error returned is a failure to load the run list.
func (p *Poller) RunCycle(ctx context.Context) (CycleSummary, error) {
	summary := CycleSummary{StartedAt: p.engine.now().UTC()}
	start := time.Now()

	runs, err := p.engine.runs.ListRunsByStatus(ctx, model.RunStatusRunning)
	if err != nil {
		p.cycleFailures.Add(ctx, 1)
		return summary, fmt.Errorf("monitor: load running runs: %w", err)
	}
	summary.Loaded = len(runs)

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(p.engine.cfg.Workers)
	for _, run := range runs {
		if !run.HasProject() {
			p.logger.Info("monitor: run has no project, skipping", "run_id", run.ID, "org_id", run.OrgID)
			mu.Lock()
			summary.Skipped++
			mu.Unlock()
			continue
		}
		run := run
		g.Go(func() error {
			out, err := p.engine.evaluateSafely(ctx, run)
			if err != nil {
				p.logger.Error("monitor: evaluate run", "run_id", run.ID, "org_id", run.OrgID, "error", err)
			}
			mu.Lock()
			summary.record(out, err)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	summary.Duration = time.Since(start)
	p.cycles.Add(ctx, 1)
	p.cycleDuration.Record(ctx, summary.Duration.Seconds())

	p.mu.Lock()
	p.last = summary
	p.mu.Unlock()

	p.logger.Info("monitor: cycle complete",
		"loaded", summary.Loaded,
		"failed", summary.Failed,
		"cancelled", summary.Cancelled,
		"skipped", summary.Skipped,
		"errors", summary.Errors,
		"duration_ms", summary.Duration.Milliseconds())
	return summary, nil
}
