package email

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/notification-api/config"
	"github.com/jwalitptl/notification-api/internal/model"
)

func TestRenderAlertEscapesContent(t *testing.T) {
	n := &model.Notification{
		Type:      model.NotificationSecurityAlert,
		Title:     "Security Alert - HIGH",
		Content:   `<script>alert("x")</script>`,
		CreatedAt: time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC),
	}

	subject, body, err := RenderAlert(n)
	require.NoError(t, err)
	assert.Equal(t, "[critical] Security Alert - HIGH", subject)
	assert.NotContains(t, body, "<script>")
	assert.Contains(t, body, "&lt;script&gt;")
	assert.Contains(t, body, "2024-06-01 09:30 UTC")
}

func TestSendHonoursCancelledContext(t *testing.T) {
	svc := NewSMTPService(config.SMTPConfig{Host: "localhost", Port: 2525, From: "alerts@example.com"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, svc.Send(ctx, "admin@example.com", "s", "b"), context.Canceled)
}
