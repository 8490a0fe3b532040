// Package notify applies engine status transitions and delivers alerts:
// persisted notification rows first, then best-effort email to every member
// of the run's organization.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/sqids/sqids-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/mlop-ai/monitor/internal/cooldown"
	"github.com/mlop-ai/monitor/internal/mail"
	"github.com/mlop-ai/monitor/internal/model"
	"github.com/mlop-ai/monitor/internal/telemetry"
)

// ErrInvalidTransition is returned when the requested transition is not one
// the monitor owns.
var ErrInvalidTransition = errors.New("notify: invalid status transition")

// sqidAlphabet and sqidMinLength match the product's run URL encoding.
const (
	sqidAlphabet  = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	sqidMinLength = 5
)

// Store is the relational access the dispatcher needs.
type Store interface {
	TransitionRun(ctx context.Context, runID int64, from, to model.RunStatus, n model.Notification) (model.Notification, error)
	InsertNotification(ctx context.Context, n model.Notification) (model.Notification, error)
	ListMemberEmails(ctx context.Context, orgID string) ([]string, error)
}

// Config holds dispatcher settings.
type Config struct {
	AppHost string
	// SendTimeout bounds each recipient's delivery and the member lookup.
	SendTimeout time.Duration
}

// Dispatcher persists notifications and fans out alert emails.
type Dispatcher struct {
	store    Store
	sender   mail.Sender
	cooldown cooldown.Store
	cfg      Config
	logger   *slog.Logger
	sqids    *sqids.Sqids
	now      func() time.Time

	emailsSent   metric.Int64Counter
	emailsFailed metric.Int64Counter
	suppressed   metric.Int64Counter
}

// New creates a Dispatcher. A nil cooldown store disables deduplication.
func New(store Store, sender mail.Sender, cd cooldown.Store, cfg Config, logger *slog.Logger) (*Dispatcher, error) {
	s, err := sqids.New(sqids.Options{Alphabet: sqidAlphabet, MinLength: sqidMinLength})
	if err != nil {
		return nil, fmt.Errorf("notify: init sqids: %w", err)
	}
	if cd == nil {
		cd = cooldown.Disabled{}
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	d := &Dispatcher{
		store:    store,
		sender:   sender,
		cooldown: cd,
		cfg:      cfg,
		logger:   logger,
		sqids:    s,
		now:      time.Now,
	}

	meter := telemetry.Meter("mlop-monitor/notify")
	d.emailsSent, _ = meter.Int64Counter("mlop.monitor.emails_sent",
		metric.WithDescription("Alert emails accepted by the mail relay"))
	d.emailsFailed, _ = meter.Int64Counter("mlop.monitor.emails_failed",
		metric.WithDescription("Alert emails that failed for one recipient"))
	d.suppressed, _ = meter.Int64Counter("mlop.monitor.alerts_suppressed",
		metric.WithDescription("Alert emails suppressed by the cooldown window"))
	return d, nil
}

// Transition moves run from RUNNING to `to` and records alert in the same
// transaction. Email fan-out happens after commit and never affects the
// returned error. storage.ErrStatusConflict is passed through when another
// writer changed the status first; nothing is written or sent then.
func (d *Dispatcher) Transition(ctx context.Context, run model.Run, to model.RunStatus, alert model.Alert) (model.Notification, error) {
	if !run.Status.CanTransition(to) {
		return model.Notification{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, run.Status, to)
	}
	n, err := d.store.TransitionRun(ctx, run.ID, run.Status, to, notificationFor(run, alert))
	if err != nil {
		return model.Notification{}, err
	}
	d.logger.Info("notify: run transitioned",
		"run_id", run.ID, "org_id", run.OrgID, "from", run.Status, "to", to, "type", alert.Type)
	d.deliver(ctx, run, alert)
	return n, nil
}

// Alert persists a notification for run and, when requested, emails the
// organization's members. Alerts without a DedupKey are never suppressed.
// The email reports the alert's Timestamp (or now) as the last-seen time
// when the alert carries none.
func (d *Dispatcher) Alert(ctx context.Context, run model.Run, alert model.Alert) (model.Notification, error) {
	now := d.now().UTC()
	if alert.LastSeen == nil {
		at := alert.Timestamp
		if at.IsZero() {
			at = now
		}
		alert.LastSeen = &at
	}
	if alert.Elapsed == 0 && now.After(*alert.LastSeen) {
		alert.Elapsed = now.Sub(*alert.LastSeen)
	}

	n, err := d.store.InsertNotification(ctx, notificationFor(run, alert))
	if err != nil {
		return model.Notification{}, fmt.Errorf("notify: persist alert: %w", err)
	}
	d.deliver(ctx, run, alert)
	return n, nil
}

// RunURL builds the deep link to a run in the web app.
func (d *Dispatcher) RunURL(run model.Run) string {
	id, err := d.sqids.Encode([]uint64{uint64(run.ID)})
	if err != nil {
		id = fmt.Sprint(run.ID)
	}
	return fmt.Sprintf("%s/o/%s/projects/%s/%s",
		d.cfg.AppHost, url.PathEscape(run.OrgSlug), url.PathEscape(run.ProjectName), id)
}

func notificationFor(run model.Run, alert model.Alert) model.Notification {
	return model.Notification{
		RunID:   run.ID,
		OrgID:   run.OrgID,
		Type:    alert.Type,
		Content: alert.Content(),
	}
}

// deliver sends alert to every member independently. Failures are logged
// and counted per recipient.
func (d *Dispatcher) deliver(ctx context.Context, run model.Run, alert model.Alert) {
	if !alert.Email {
		return
	}
	if alert.DedupKey != "" {
		key := fmt.Sprintf("run:%d:%s", run.ID, alert.DedupKey)
		ok, err := d.cooldown.Allow(ctx, key, d.now())
		if err != nil {
			// A broken cooldown store must not silence alerts.
			d.logger.Warn("notify: cooldown check failed, sending anyway", "run_id", run.ID, "error", err)
		} else if !ok {
			d.logger.Debug("notify: alert email suppressed by cooldown", "run_id", run.ID, "key", alert.DedupKey)
			d.suppressed.Add(ctx, 1, metric.WithAttributes(attribute.String("type", alert.Type)))
			return
		}
	}

	lookupCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	recipients, err := d.store.ListMemberEmails(lookupCtx, run.OrgID)
	cancel()
	if err != nil {
		d.logger.Error("notify: list member emails", "run_id", run.ID, "org_id", run.OrgID, "error", err)
		return
	}
	if len(recipients) == 0 {
		d.logger.Debug("notify: no recipients", "run_id", run.ID, "org_id", run.OrgID)
		return
	}

	msg, err := d.compose(run, alert)
	if err != nil {
		d.logger.Error("notify: compose email", "run_id", run.ID, "error", err)
		return
	}

	for _, to := range recipients {
		msg.To = to
		sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
		err := d.sender.Send(sendCtx, msg)
		cancel()
		if err != nil {
			d.logger.Warn("notify: email delivery failed", "run_id", run.ID, "to", to, "error", err)
			d.emailsFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("type", alert.Type)))
			continue
		}
		d.emailsSent.Add(ctx, 1, metric.WithAttributes(attribute.String("type", alert.Type)))
	}
}

func (d *Dispatcher) compose(run model.Run, alert model.Alert) (mail.Message, error) {
	subject := alert.Subject
	if subject == "" {
		subject = "mlop: status update"
	}
	reason := alert.Summary
	if reason == "" {
		reason = alert.Content()
	}
	lastSeen := "unknown"
	if alert.LastSeen != nil {
		lastSeen = alert.LastSeen.UTC().Format(time.DateTime)
	}
	html, err := mail.RenderRunAlert(mail.RunAlert{
		RunName:        run.Name,
		ProjectName:    run.ProjectName,
		LastSeen:       lastSeen,
		ElapsedSeconds: int64(alert.Elapsed / time.Second),
		RunURL:         d.RunURL(run),
		Reason:         reason,
	})
	if err != nil {
		return mail.Message{}, err
	}
	return mail.Message{Subject: subject, HTML: html}, nil
}
