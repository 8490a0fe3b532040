package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/mlop-ai/monitor/internal/auth"
	"github.com/mlop-ai/monitor/internal/model"
	"github.com/mlop-ai/monitor/internal/monitor"
	"github.com/mlop-ai/monitor/internal/storage"
)

// RunResolver authenticates a bearer key and loads runs within its
// organization.
type RunResolver interface {
	Authenticate(ctx context.Context, rawKey string) (model.APIKey, error)
	RunForKey(ctx context.Context, key model.APIKey, runID int64) (model.Run, error)
}

// Alerter persists and delivers manual alerts.
type Alerter interface {
	Alert(ctx context.Context, run model.Run, alert model.Alert) (model.Notification, error)
}

// Pinger checks a backing store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// CycleReporter exposes the poll loop's most recent cycle.
type CycleReporter interface {
	LastCycle() monitor.CycleSummary
}

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	gate                RunResolver
	triggers            monitor.TriggerStore
	alerter             Alerter
	db                  Pinger
	metrics             Pinger
	cycles              CycleReporter
	logger              *slog.Logger
	startedAt           time.Time
	version             string
	maxRequestBodyBytes int64
	openapiSpec         []byte
}

// HandlersDeps holds all dependencies for constructing Handlers.
// Optional (nil-safe): Metrics, Cycles, OpenAPISpec.
type HandlersDeps struct {
	Gate                RunResolver
	Triggers            monitor.TriggerStore
	Alerter             Alerter
	DB                  Pinger
	Metrics             Pinger
	Cycles              CycleReporter
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
	OpenAPISpec         []byte
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	return &Handlers{
		gate:                d.Gate,
		triggers:            d.Triggers,
		alerter:             d.Alerter,
		db:                  d.DB,
		metrics:             d.Metrics,
		cycles:              d.Cycles,
		logger:              d.Logger,
		startedAt:           time.Now(),
		version:             d.Version,
		maxRequestBodyBytes: d.MaxRequestBodyBytes,
		openapiSpec:         d.OpenAPISpec,
	}
}

// HandleTrigger handles POST /api/runs/trigger.
func (h *Handlers) HandleTrigger(w http.ResponseWriter, r *http.Request) {
	key, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	var req model.TriggerRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := model.Validate(req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "runId must be a positive integer")
		return
	}

	run, ok := h.loadRun(w, r, key, req.RunID)
	if !ok {
		return
	}

	status, triggers, err := monitor.ResolveTriggers(r.Context(), h.triggers, run)
	if errors.Is(err, storage.ErrStatusConflict) {
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict, "run status changed concurrently, retry")
		return
	}
	if err != nil {
		h.writeInternalError(w, r, "failed to resolve triggers", err)
		return
	}
	if status != run.Status {
		h.logger.Info("run cancelled by trigger",
			"run_id", run.ID, "org_id", run.OrgID, "request_id", RequestIDFromContext(r.Context()))
	}
	if triggers == nil {
		triggers = []model.RunTrigger{}
	}
	writeJSON(w, r, http.StatusOK, model.TriggerResponse{Status: status, Triggers: triggers})
}

// HandleAlert handles POST /api/runs/alert. A payload carrying a webhook URL
// is persisted like any other alert and answered with 202 and the URL; the
// caller is responsible for the webhook.
func (h *Handlers) HandleAlert(w http.ResponseWriter, r *http.Request) {
	key, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	var req model.AlertRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := model.Validate(req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	run, ok := h.loadRun(w, r, key, req.RunID)
	if !ok {
		return
	}

	payload := req.Alert.WithDefaults()
	n, err := h.alerter.Alert(r.Context(), run, payload.ToAlert())
	if err != nil {
		h.writeInternalError(w, r, "failed to record alert", err)
		return
	}

	if payload.URL != "" {
		writeJSON(w, r, http.StatusAccepted, model.AlertResponse{
			Status:       "redirect",
			Notification: n.ID,
			URL:          payload.URL,
		})
		return
	}
	writeJSON(w, r, http.StatusOK, model.AlertResponse{Status: "success", Notification: n.ID})
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := model.HealthResponse{
		Status:   "healthy",
		Version:  h.version,
		Postgres: "connected",
		Uptime:   int64(time.Since(h.startedAt).Seconds()),
	}
	httpStatus := http.StatusOK

	if err := h.db.Ping(r.Context()); err != nil {
		resp.Postgres = "disconnected"
		resp.Status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	if h.metrics != nil {
		resp.MetricStore = "connected"
		if err := h.metrics.Ping(r.Context()); err != nil {
			resp.MetricStore = "disconnected"
			if resp.Status == "healthy" {
				resp.Status = "degraded"
			}
		}
	}

	if h.cycles != nil {
		if last := h.cycles.LastCycle(); !last.StartedAt.IsZero() {
			at := last.StartedAt
			resp.LastCycle = &at
			resp.LastLoaded = last.Loaded
		}
	}

	writeJSON(w, r, httpStatus, resp)
}

// HandleOpenAPISpec serves the embedded OpenAPI specification.
func (h *Handlers) HandleOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	if len(h.openapiSpec) == 0 {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(h.openapiSpec)
}

// --- Shared helpers ---

// authenticate checks the bearer key before the body is read, so a bad key
// is always a 401 whatever the payload. It writes the error response itself.
func (h *Handlers) authenticate(w http.ResponseWriter, r *http.Request) (model.APIKey, bool) {
	key, err := h.gate.Authenticate(r.Context(), APIKeyFromContext(r.Context()))
	switch {
	case err == nil:
		return key, true
	case errors.Is(err, auth.ErrUnauthorized):
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid or expired api key")
	default:
		h.writeInternalError(w, r, "failed to authorize request", err)
	}
	return model.APIKey{}, false
}

// loadRun resolves runID within the key's organization and writes the error
// response itself.
func (h *Handlers) loadRun(w http.ResponseWriter, r *http.Request, key model.APIKey, runID int64) (model.Run, bool) {
	run, err := h.gate.RunForKey(r.Context(), key, runID)
	switch {
	case err == nil:
		return run, true
	case errors.Is(err, auth.ErrRunNotFound):
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "run not found")
	default:
		h.writeInternalError(w, r, "failed to load run", err)
	}
	return model.Run{}, false
}

func (h *Handlers) writeInternalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.Error(msg, "error", err, "request_id", RequestIDFromContext(r.Context()))
	writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, msg)
}
