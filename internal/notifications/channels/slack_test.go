package channels

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/NikhilSetiya/errwatch/internal/notifications"
	"github.com/NikhilSetiya/errwatch/pkg/types"
)

func TestSlackHandler_Send(t *testing.T) {
	logger := zaptest.NewLogger(t)

	var receivedMessage SlackMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		err := json.NewDecoder(r.Body).Decode(&receivedMessage)
		require.NoError(t, err)

		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	handler := NewSlackHandler(SlackConfig{
		WebhookURL: server.URL,
		Channel:    "#alerts",
		Username:   "errwatch",
	}, logger, server.Client())

	err := handler.Send(context.Background(), notifications.Notification{
		Severity: types.AlertSeverityCritical,
		Title:    "Reference error detected",
		Message:  "foo is not defined",
		Module:   "frontend_global",
		Action:   &notifications.Action{Label: "View details", URL: "https://errwatch.example.com/alerts/1"},
	})

	require.NoError(t, err)
	assert.Equal(t, "Reference error detected", receivedMessage.Text)
	assert.Equal(t, "#alerts", receivedMessage.Channel)
	assert.Equal(t, "errwatch", receivedMessage.Username)
	assert.Equal(t, ":rotating_light:", receivedMessage.IconEmoji)
	require.Len(t, receivedMessage.Attachments, 1)

	attachment := receivedMessage.Attachments[0]
	assert.Equal(t, "foo is not defined", attachment.Text)
	assert.Equal(t, "danger", attachment.Color)
	assert.Equal(t, "View details", attachment.Title)
	assert.Equal(t, "https://errwatch.example.com/alerts/1", attachment.TitleLink)
	assert.Contains(t, attachment.Fields, SlackField{Title: "Module", Value: "frontend_global", Short: true})
}

func TestSlackHandler_Send_Errors(t *testing.T) {
	logger := zaptest.NewLogger(t)

	t.Run("missing webhook", func(t *testing.T) {
		handler := NewSlackHandler(SlackConfig{}, logger, nil)
		err := handler.Send(context.Background(), notifications.Notification{Title: "x"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not configured")
	})

	t.Run("non-2xx status", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		handler := NewSlackHandler(SlackConfig{WebhookURL: server.URL}, logger, server.Client())
		err := handler.Send(context.Background(), notifications.Notification{Title: "x"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "status 500")
	})
}

func TestBuildSlackMessage_Colors(t *testing.T) {
	handler := NewSlackHandler(SlackConfig{}, zaptest.NewLogger(t), nil)

	tests := []struct {
		severity types.AlertSeverity
		color    string
		icon     string
	}{
		{types.AlertSeverityCritical, "danger", ":rotating_light:"},
		{types.AlertSeverityHigh, "danger", ":fire:"},
		{types.AlertSeverityMedium, "warning", ":warning:"},
		{types.AlertSeverityLow, "#36a64f", ":information_source:"},
	}

	for _, tt := range tests {
		t.Run(string(tt.severity), func(t *testing.T) {
			msg := handler.buildSlackMessage(notifications.Notification{Severity: tt.severity})
			assert.Equal(t, tt.icon, msg.IconEmoji)
			assert.Equal(t, tt.color, msg.Attachments[0].Color)
		})
	}
}

func TestMaskWebhookURL(t *testing.T) {
	assert.Equal(t, "***", maskWebhookURL("short"))
	assert.Equal(t, "https://hooks.slack.***", maskWebhookURL("https://hooks.slack.com/services/secret"))
}
