package mail

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderRunAlert(t *testing.T) {
	html, err := RenderRunAlert(RunAlert{
		RunName:        "resnet-<b>50</b>",
		ProjectName:    "vision",
		LastSeen:       "2026-05-01 12:00:00",
		ElapsedSeconds: 75,
		RunURL:         "https://app.mlop.ai/o/acme/projects/vision/bM3pK",
		Reason:         "The run may have stalled and requires attention.",
	})
	require.NoError(t, err)

	assert.Contains(t, html, "resnet-&lt;b&gt;50&lt;/b&gt;", "run names are escaped")
	assert.Contains(t, html, "<strong>Project:</strong> vision")
	assert.Contains(t, html, "75 seconds")
	assert.Contains(t, html, `href="https://app.mlop.ai/o/acme/projects/vision/bM3pK"`)
	assert.Contains(t, html, "View Run Details")
}

func TestBuildMIMESanitizesSubject(t *testing.T) {
	raw := string(buildMIME("noreply@mlop.ai", Message{
		To:      "a@example.com",
		Subject: "mlop: threshold on loss\r\nBcc: evil@example.com",
		HTML:    "<p>x</p>",
	}))
	assert.NotContains(t, raw, "\r\nBcc:")
	assert.True(t, strings.HasPrefix(raw, "From: noreply@mlop.ai\r\nTo: a@example.com\r\n"))
	assert.Contains(t, raw, "Content-Type: text/html; charset=UTF-8\r\n\r\n<p>x</p>")
}

func TestLogSender(t *testing.T) {
	var buf bytes.Buffer
	s := NewLog(slog.New(slog.NewTextHandler(&buf, nil)))
	require.NoError(t, s.Send(context.Background(), Message{To: "a@example.com", Subject: "mlop: status update"}))
	assert.Contains(t, buf.String(), "a@example.com")
	assert.Contains(t, buf.String(), "mlop: status update")
}
