package metricstore

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"

	"github.com/mlop-ai/monitor/internal/model"
)

// InfluxConfig configures the InfluxDB backend. Samples are points in the
// mlop_metrics measurement tagged with tenantId, projectName, runId and
// logName, carrying a single "value" field.
type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// Influx reads metric samples from InfluxDB with Flux queries.
type Influx struct {
	client influxdb2.Client
	org    string
	bucket string
}

// NewInflux creates a client and verifies the server is reachable.
func NewInflux(ctx context.Context, cfg InfluxConfig) (*Influx, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	ok, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("metricstore: ping influx: %w", err)
	}
	if !ok {
		client.Close()
		return nil, fmt.Errorf("metricstore: influx at %s is not ready", cfg.URL)
	}
	return &Influx{client: client, org: cfg.Org, bucket: cfg.Bucket}, nil
}

// fluxString quotes s as a Flux string literal.
func fluxString(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`, "${", `\${`)
	return `"` + r.Replace(s) + `"`
}

// fluxFloat renders v as a Flux float literal; Flux will not compare a float
// column against an integer literal.
func fluxFloat(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

func fluxRunFilter(bucket string, key Key) string {
	return fmt.Sprintf(`from(bucket: %s)
  |> range(start: 0)
  |> filter(fn: (r) => r._measurement == %s and r._field == "value")
  |> filter(fn: (r) => r.projectName == %s and r.runId == %s and r.tenantId == %s)`,
		fluxString(bucket), fluxString(Table),
		fluxString(key.Project), fluxString(strconv.FormatInt(key.RunID, 10)), fluxString(key.TenantID))
}

func fluxLastSeen(bucket string, key Key) string {
	return fluxRunFilter(bucket, key) + `
  |> group()
  |> sort(columns: ["_time"], desc: true)
  |> limit(n: 1)`
}

func fluxViolation(bucket string, key Key, rule model.Rule) (string, error) {
	op, err := comparison(rule)
	if err != nil {
		return "", err
	}
	return fluxRunFilter(bucket, key) + fmt.Sprintf(`
  |> filter(fn: (r) => r.logName == %s and r._value %s %s)
  |> group()
  |> sort(columns: ["_time"], desc: true)
  |> limit(n: 1)`,
		fluxString(rule.Metric), op, fluxFloat(rule.Threshold)), nil
}

func (i *Influx) first(ctx context.Context, flux string) (Sample, error) {
	result, err := i.client.QueryAPI(i.org).Query(ctx, flux)
	if err != nil {
		return Sample{}, fmt.Errorf("metricstore: influx query: %w", err)
	}
	defer result.Close()

	if !result.Next() {
		if result.Err() != nil {
			return Sample{}, fmt.Errorf("metricstore: influx read: %w", result.Err())
		}
		return Sample{}, ErrNoData
	}
	rec := result.Record()
	value, ok := toFloat(rec.Value())
	if !ok {
		return Sample{}, fmt.Errorf("metricstore: influx value %v is not numeric", rec.Value())
	}
	return Sample{Time: model.NormalizeUTC(rec.Time()), Value: value}, nil
}

// LastSeen implements Store.
func (i *Influx) LastSeen(ctx context.Context, key Key) (time.Time, error) {
	s, err := i.first(ctx, fluxLastSeen(i.bucket, key))
	if err != nil {
		return time.Time{}, err
	}
	if noData(s.Time) {
		return time.Time{}, ErrNoData
	}
	return s.Time, nil
}

// LatestViolation implements Store.
func (i *Influx) LatestViolation(ctx context.Context, key Key, rule model.Rule) (Sample, error) {
	flux, err := fluxViolation(i.bucket, key, rule)
	if err != nil {
		return Sample{}, err
	}
	return i.first(ctx, flux)
}

// Record writes a sample point.
func (i *Influx) Record(ctx context.Context, key Key, metric string, s Sample) error {
	point := influxdb2.NewPoint(
		Table,
		map[string]string{
			"tenantId":    key.TenantID,
			"projectName": key.Project,
			"runId":       strconv.FormatInt(key.RunID, 10),
			"logName":     metric,
		},
		map[string]any{"value": s.Value},
		s.Time,
	)
	if err := i.client.WriteAPIBlocking(i.org, i.bucket).WritePoint(ctx, point); err != nil {
		return fmt.Errorf("metricstore: influx record: %w", err)
	}
	return nil
}

// Ping implements Store.
func (i *Influx) Ping(ctx context.Context) error {
	ok, err := i.client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("metricstore: ping influx: %w", err)
	}
	if !ok {
		return fmt.Errorf("metricstore: influx is not ready")
	}
	return nil
}

// Close implements Store.
func (i *Influx) Close() error {
	i.client.Close()
	return nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
