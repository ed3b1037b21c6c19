package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"

	"github.com/NikhilSetiya/errwatch/internal/notifications"
	"github.com/NikhilSetiya/errwatch/pkg/types"
)

func TestTeamsHandler_Send(t *testing.T) {
	var received TeamsMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	handler := NewTeamsHandler(server.URL, zaptest.NewLogger(t), server.Client())
	err := handler.Send(context.Background(), notifications.Notification{
		Severity: types.AlertSeverityMedium,
		Title:    "Resource loading failures",
		Message:  "3 chunks failed to load",
		Module:   "frontend_resource",
		Action:   &notifications.Action{Label: "View details", URL: "https://errwatch.example.com/alerts/2"},
	})
	require.NoError(t, err)

	assert.Equal(t, "MessageCard", received.Type)
	assert.Equal(t, "Resource loading failures", received.Summary)
	assert.Equal(t, "FFA500", received.ThemeColor)
	require.Len(t, received.Sections, 1)
	assert.Contains(t, received.Sections[0].Facts, TeamsFact{Name: "Module", Value: "frontend_resource"})
	require.Len(t, received.Actions, 1)
	assert.Equal(t, "https://errwatch.example.com/alerts/2", received.Actions[0].Targets[0].URI)
}

func TestTeamsHandler_MissingWebhook(t *testing.T) {
	handler := NewTeamsHandler("", zaptest.NewLogger(t), nil)
	assert.Error(t, handler.Send(context.Background(), notifications.Notification{}))
	assert.Equal(t, "teams", handler.Name())
}

func TestLogHandler_LevelsBySeverity(t *testing.T) {
	var buf bytes.Buffer
	encoder := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	logger := zap.New(zapcore.NewCore(encoder, zapcore.AddSync(&buf), zapcore.DebugLevel))

	handler := NewLogHandler(logger)
	require.NoError(t, handler.Send(context.Background(), notifications.Notification{
		Severity: types.AlertSeverityHigh,
		Title:    "Critical errors detected",
		Module:   "payment",
	}))
	require.NoError(t, logger.Sync())

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "error", entry["level"])
	assert.Equal(t, "Critical errors detected", entry["msg"])
	assert.Equal(t, "payment", entry["module"])
}
