package mail

import (
	"bytes"
	_ "embed"
	"fmt"
	"html/template"
)

//go:embed templates/run_alert.html
var runAlertHTML string

var runAlertTmpl = template.Must(template.New("run_alert").Parse(runAlertHTML))

// RunAlert holds the fields rendered into a run alert email.
type RunAlert struct {
	RunName        string
	ProjectName    string
	LastSeen       string // UTC, or "unknown"
	ElapsedSeconds int64
	RunURL         string
	Reason         string
}

// RenderRunAlert renders the HTML body of a run alert email.
func RenderRunAlert(a RunAlert) (string, error) {
	var buf bytes.Buffer
	if err := runAlertTmpl.Execute(&buf, a); err != nil {
		return "", fmt.Errorf("mail: render run alert: %w", err)
	}
	return buf.String(), nil
}
