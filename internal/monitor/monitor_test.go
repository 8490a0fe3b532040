package monitor

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlop-ai/monitor/internal/mail"
	"github.com/mlop-ai/monitor/internal/metricstore"
	"github.com/mlop-ai/monitor/internal/model"
	"github.com/mlop-ai/monitor/internal/notify"
	"github.com/mlop-ai/monitor/internal/storage"
)

var testNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

// fakeMetrics serves canned samples keyed by run ID.
type fakeMetrics struct {
	mu       sync.Mutex
	lastSeen map[int64]time.Time
	samples  map[int64]map[string][]metricstore.Sample
	err      error
	panicFor int64
	queries  int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{
		lastSeen: map[int64]time.Time{},
		samples:  map[int64]map[string][]metricstore.Sample{},
	}
}

func (m *fakeMetrics) add(runID int64, metric string, at time.Time, v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.samples[runID] == nil {
		m.samples[runID] = map[string][]metricstore.Sample{}
	}
	m.samples[runID][metric] = append(m.samples[runID][metric], metricstore.Sample{Time: at, Value: v})
	if at.After(m.lastSeen[runID]) {
		m.lastSeen[runID] = at
	}
}

func (m *fakeMetrics) LastSeen(_ context.Context, key metricstore.Key) (time.Time, error) {
	if m.panicFor != 0 && key.RunID == m.panicFor {
		panic("corrupt sample")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries++
	if m.err != nil {
		return time.Time{}, m.err
	}
	t, ok := m.lastSeen[key.RunID]
	if !ok {
		return time.Time{}, metricstore.ErrNoData
	}
	return t, nil
}

func (m *fakeMetrics) LatestViolation(_ context.Context, key metricstore.Key, rule model.Rule) (metricstore.Sample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries++
	if m.err != nil {
		return metricstore.Sample{}, m.err
	}
	var hits []metricstore.Sample
	for _, s := range m.samples[key.RunID][rule.Metric] {
		if rule.Operator.Compare(s.Value, rule.Threshold) {
			hits = append(hits, s)
		}
	}
	if len(hits) == 0 {
		return metricstore.Sample{}, metricstore.ErrNoData
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Time.After(hits[j].Time) })
	return hits[0], nil
}

func (m *fakeMetrics) Ping(context.Context) error { return nil }
func (m *fakeMetrics) Close() error               { return nil }

// fakeWorld is the relational store: runs, notifications and members, with
// the same conditional-update semantics as storage.TransitionRun.
type fakeWorld struct {
	mu            sync.Mutex
	runs          map[int64]*model.Run
	notifications []model.Notification
	emails        []string
}

func newFakeWorld(runs ...model.Run) *fakeWorld {
	w := &fakeWorld{runs: map[int64]*model.Run{}, emails: []string{"owner@example.com"}}
	for i := range runs {
		r := runs[i]
		w.runs[r.ID] = &r
	}
	return w
}

func (w *fakeWorld) ListRunsByStatus(_ context.Context, status model.RunStatus) ([]model.Run, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []model.Run
	for _, r := range w.runs {
		if r.Status == status {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (w *fakeWorld) TransitionRun(_ context.Context, runID int64, from, to model.RunStatus, n model.Notification) (model.Notification, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	r, ok := w.runs[runID]
	if !ok {
		return model.Notification{}, storage.ErrNotFound
	}
	if r.Status != from {
		return model.Notification{}, storage.ErrStatusConflict
	}
	r.Status = to
	n.ID = int64(len(w.notifications) + 1)
	w.notifications = append(w.notifications, n)
	return n, nil
}

func (w *fakeWorld) InsertNotification(_ context.Context, n model.Notification) (model.Notification, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	n.ID = int64(len(w.notifications) + 1)
	w.notifications = append(w.notifications, n)
	return n, nil
}

func (w *fakeWorld) ListMemberEmails(context.Context, string) ([]string, error) {
	return w.emails, nil
}

func (w *fakeWorld) status(id int64) model.RunStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.runs[id].Status
}

type fakeSender struct {
	mu   sync.Mutex
	sent []mail.Message
}

func (s *fakeSender) Send(_ context.Context, msg mail.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type harness struct {
	world   *fakeWorld
	metrics *fakeMetrics
	sender  *fakeSender
	engine  *Engine
}

func newHarness(t *testing.T, runs ...model.Run) *harness {
	t.Helper()
	h := &harness{world: newFakeWorld(runs...), metrics: newFakeMetrics(), sender: &fakeSender{}}
	d, err := notify.New(h.world, h.sender, nil, notify.Config{AppHost: "https://app.mlop.ai"}, discardLogger())
	require.NoError(t, err)
	h.engine = NewEngine(h.world, h.metrics, d, Config{
		GracePeriod: 60 * time.Second,
		UpperBound:  16384 * 24 * time.Hour,
		Workers:     2,
	}, discardLogger())
	h.engine.now = func() time.Time { return testNow }
	return h
}

func runningRun(id int64, rules ...model.Rule) model.Run {
	pid := int64(7)
	return model.Run{
		ID: id, Name: "run-" + string(rune('a'+id%26)), ProjectID: &pid, ProjectName: "vision",
		OrgID: "org-1", OrgSlug: "acme", Status: model.RunStatusRunning,
		Rules: rules, UpdatedAt: testNow.Add(-5 * time.Second),
	}
}

func TestNoMetricsWithinGraceStaysActive(t *testing.T) {
	run := runningRun(1)
	h := newHarness(t, run)

	out, err := h.engine.EvaluateRun(context.Background(), run, testNow)
	require.NoError(t, err)
	assert.Equal(t, OutcomeActive, out)
	assert.Equal(t, model.RunStatusRunning, h.world.status(1))
	assert.Empty(t, h.world.notifications)
}

func TestNoMetricsFallsBackToUpdatedAt(t *testing.T) {
	run := runningRun(1)
	run.UpdatedAt = testNow.Add(-2 * time.Minute)
	h := newHarness(t, run)

	out, err := h.engine.EvaluateRun(context.Background(), run, testNow)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, out)
	assert.Equal(t, model.RunStatusFailed, h.world.status(1))
}

func TestStaleRunFails(t *testing.T) {
	run := runningRun(1)
	h := newHarness(t, run)
	h.metrics.add(1, "loss", testNow.Add(-61*time.Second), 0.3)

	out, err := h.engine.EvaluateRun(context.Background(), run, testNow)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, out)
	assert.Equal(t, model.RunStatusFailed, h.world.status(1))

	require.Len(t, h.world.notifications, 1)
	n := h.world.notifications[0]
	assert.Equal(t, model.NotificationRunFailed, n.Type)
	assert.Equal(t, "Reason: last update exceeded 60 seconds", n.Content)

	require.Len(t, h.sender.sent, 1)
	assert.Equal(t, "mlop: status update", h.sender.sent[0].Subject)
	assert.Contains(t, h.sender.sent[0].HTML, "61 seconds")
}

func TestRecentMetricsStayActive(t *testing.T) {
	run := runningRun(1)
	h := newHarness(t, run)
	h.metrics.add(1, "loss", testNow.Add(-59*time.Second), 0.3)

	out, err := h.engine.EvaluateRun(context.Background(), run, testNow)
	require.NoError(t, err)
	assert.Equal(t, OutcomeActive, out)
	assert.Empty(t, h.world.notifications)
}

func TestUpperBoundIgnoresAncientLastSeen(t *testing.T) {
	run := runningRun(1)
	h := newHarness(t, run)
	h.metrics.add(1, "loss", testNow.Add(-20000*24*time.Hour), 0.3)

	out, err := h.engine.EvaluateRun(context.Background(), run, testNow)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAnomaly, out)
	assert.Equal(t, model.RunStatusRunning, h.world.status(1))
	assert.Empty(t, h.world.notifications)
}

func TestThresholdViolationCancels(t *testing.T) {
	run := runningRun(1, model.Rule{Metric: "loss", Threshold: 10, Operator: model.OpGreater})
	h := newHarness(t, run)
	h.metrics.add(1, "loss", testNow.Add(-20*time.Second), 3)
	h.metrics.add(1, "loss", testNow.Add(-10*time.Second), 12)

	out, err := h.engine.EvaluateRun(context.Background(), run, testNow)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCancelled, out)
	assert.Equal(t, model.RunStatusCancelled, h.world.status(1))

	require.Len(t, h.world.notifications, 1)
	assert.Equal(t, model.NotificationRunCancelled, h.world.notifications[0].Type)
	assert.Equal(t, "Reason: loss value 12 > 10", h.world.notifications[0].Content)
	require.Len(t, h.sender.sent, 1)
	assert.Equal(t, "mlop: threshold on loss exceeded for run "+run.Name+" in vision", h.sender.sent[0].Subject)
}

func TestThresholdNotViolated(t *testing.T) {
	run := runningRun(1, model.Rule{Metric: "loss", Threshold: 10, Operator: model.OpGreaterOrEqual})
	h := newHarness(t, run)
	h.metrics.add(1, "loss", testNow.Add(-10*time.Second), 9.99)

	out, err := h.engine.EvaluateRun(context.Background(), run, testNow)
	require.NoError(t, err)
	assert.Equal(t, OutcomeActive, out)
	assert.Equal(t, model.RunStatusRunning, h.world.status(1))
}

func TestInvalidOperatorIsNeverQueried(t *testing.T) {
	rule := model.Rule{Metric: "loss", Threshold: 10, Operator: "=="}
	run := runningRun(1)
	h := newHarness(t, run)
	h.metrics.add(1, "loss", testNow.Add(-time.Second), 10)

	out, err := h.engine.CheckThreshold(context.Background(), run, rule, testNow)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, out)
	assert.Zero(t, h.metrics.queries)
	assert.Equal(t, model.RunStatusRunning, h.world.status(1))
}

func TestEvaluationStopsAfterFirstCancel(t *testing.T) {
	run := runningRun(1,
		model.Rule{Metric: "loss", Threshold: 10, Operator: model.OpGreater},
		model.Rule{Metric: "acc", Threshold: 0.1, Operator: model.OpLess},
	)
	h := newHarness(t, run)
	h.metrics.add(1, "loss", testNow.Add(-time.Second), 50)
	h.metrics.add(1, "acc", testNow.Add(-time.Second), 0.01)

	out, err := h.engine.EvaluateRun(context.Background(), run, testNow)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCancelled, out)
	require.Len(t, h.world.notifications, 1)
	assert.Contains(t, h.world.notifications[0].Content, "loss")
}

func TestLivenessFailureSkipsThresholds(t *testing.T) {
	run := runningRun(1, model.Rule{Metric: "loss", Threshold: 10, Operator: model.OpGreater})
	h := newHarness(t, run)
	h.metrics.add(1, "loss", testNow.Add(-5*time.Minute), 50)

	out, err := h.engine.EvaluateRun(context.Background(), run, testNow)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, out)
	require.Len(t, h.world.notifications, 1)
	assert.Equal(t, model.NotificationRunFailed, h.world.notifications[0].Type)
}

func TestStaleSnapshotLosesRace(t *testing.T) {
	run := runningRun(1)
	h := newHarness(t, run)
	h.metrics.add(1, "loss", testNow.Add(-2*time.Minute), 1)

	// Two evaluators holding the same RUNNING snapshot.
	first, err := h.engine.EvaluateRun(context.Background(), run, testNow)
	require.NoError(t, err)
	second, err := h.engine.EvaluateRun(context.Background(), run, testNow)
	require.NoError(t, err)

	assert.Equal(t, OutcomeFailed, first)
	assert.Equal(t, OutcomeConflict, second)
	assert.Len(t, h.world.notifications, 1)
	assert.Len(t, h.sender.sent, 1)
}

func TestNonRunningSnapshotIsSkipped(t *testing.T) {
	run := runningRun(1)
	run.Status = model.RunStatusCompleted
	h := newHarness(t, run)

	out, err := h.engine.EvaluateRun(context.Background(), run, testNow)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, out)
	assert.Zero(t, h.metrics.queries)
}

func TestMetricStoreErrorIsReported(t *testing.T) {
	run := runningRun(1)
	h := newHarness(t, run)
	h.metrics.err = errors.New("clickhouse: connection refused")

	out, err := h.engine.EvaluateRun(context.Background(), run, testNow)
	require.Error(t, err)
	assert.Equal(t, OutcomeSkipped, out)
	assert.Equal(t, model.RunStatusRunning, h.world.status(1))
}

func TestCycleIsIdempotent(t *testing.T) {
	stale := runningRun(1)
	h := newHarness(t, stale)
	h.metrics.add(1, "loss", testNow.Add(-2*time.Minute), 1)
	p := NewPoller(h.engine, discardLogger(), time.Hour, time.Minute)

	first, err := p.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first.Failed)

	second, err := p.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Zero(t, second.Loaded)
	assert.Len(t, h.world.notifications, 1)
}

func TestCycleIsolatesRuns(t *testing.T) {
	broken := runningRun(1)
	stale := runningRun(2)
	healthy := runningRun(3)
	orphan := runningRun(4)
	orphan.ProjectID = nil
	orphan.ProjectName = ""
	done := runningRun(5)
	done.Status = model.RunStatusCompleted

	h := newHarness(t, broken, stale, healthy, orphan, done)
	h.metrics.panicFor = 1
	h.metrics.add(2, "loss", testNow.Add(-2*time.Minute), 1)
	h.metrics.add(3, "loss", testNow.Add(-time.Second), 1)
	h.metrics.add(4, "loss", testNow.Add(-2*time.Minute), 1)

	p := NewPoller(h.engine, discardLogger(), time.Hour, time.Minute)
	summary, err := p.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, summary.Loaded)
	assert.Equal(t, 1, summary.Errors)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Active)
	assert.Equal(t, 1, summary.Skipped)

	assert.Equal(t, model.RunStatusRunning, h.world.status(1))
	assert.Equal(t, model.RunStatusFailed, h.world.status(2))
	assert.Equal(t, model.RunStatusRunning, h.world.status(3))
	assert.Equal(t, model.RunStatusRunning, h.world.status(4))
	assert.Equal(t, model.RunStatusCompleted, h.world.status(5))
	assert.Equal(t, summary, p.LastCycle())
}

func TestCycleLogsRunWithoutProjectAtInfo(t *testing.T) {
	orphan := runningRun(9)
	orphan.ProjectID = nil
	orphan.ProjectName = ""
	h := newHarness(t, orphan)

	var buf bytes.Buffer
	p := NewPoller(h.engine, slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})), time.Hour, time.Minute)
	summary, err := p.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Skipped)
	assert.Contains(t, buf.String(), "level=INFO")
	assert.Contains(t, buf.String(), "run has no project")
	assert.Contains(t, buf.String(), "run_id=9")
}

type failingRuns struct{}

func (failingRuns) ListRunsByStatus(context.Context, model.RunStatus) ([]model.Run, error) {
	return nil, errors.New("pg: too many connections")
}

func TestCycleReportsLoadFailure(t *testing.T) {
	h := newHarness(t)
	h.engine.runs = failingRuns{}
	p := NewPoller(h.engine, discardLogger(), time.Hour, time.Minute)

	_, err := p.RunCycle(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load running runs")
	assert.True(t, p.LastCycle().StartedAt.IsZero())
}

func TestPollerRunsImmediatelyAndDrains(t *testing.T) {
	stale := runningRun(1)
	h := newHarness(t, stale)
	h.metrics.add(1, "loss", testNow.Add(-2*time.Minute), 1)

	p := NewPoller(h.engine, discardLogger(), time.Hour, time.Minute)
	p.Start(context.Background())
	p.Start(context.Background())

	require.Eventually(t, func() bool {
		return h.world.status(1) == model.RunStatusFailed
	}, 5*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p.Drain(ctx)
	select {
	case <-p.done:
	default:
		t.Fatal("poll loop still running after Drain")
	}
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "conflict", OutcomeConflict.String())
	assert.Equal(t, "outcome(99)", Outcome(99).String())
}
