package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/NikhilSetiya/errwatch/internal/capture"
	"github.com/NikhilSetiya/errwatch/internal/rules"
	"github.com/NikhilSetiya/errwatch/internal/stats"
	"github.com/NikhilSetiya/errwatch/pkg/config"
	"github.com/NikhilSetiya/errwatch/pkg/errors"
	"github.com/NikhilSetiya/errwatch/pkg/health"
	"github.com/NikhilSetiya/errwatch/pkg/logging"
	"github.com/NikhilSetiya/errwatch/pkg/metrics"
	"github.com/NikhilSetiya/errwatch/pkg/types"
)

const testSecret = "test-secret"

// MockMonitor is a mock implementation of Monitor
type MockMonitor struct {
	mock.Mock
}

func (m *MockMonitor) Report(ctx context.Context, ev capture.Event) (*types.ErrorRecord, bool) {
	args := m.Called(ctx, ev)
	record, _ := args.Get(0).(*types.ErrorRecord)
	return record, args.Bool(1)
}

func (m *MockMonitor) Stats(ctx context.Context) (types.Stats, error) {
	args := m.Called(ctx)
	return args.Get(0).(types.Stats), args.Error(1)
}

func (m *MockMonitor) HealthReport(ctx context.Context, maxRecords int) (*stats.Report, error) {
	args := m.Called(ctx, maxRecords)
	report, _ := args.Get(0).(*stats.Report)
	return report, args.Error(1)
}

func (m *MockMonitor) Remediate(ctx context.Context, module string) bool {
	return m.Called(ctx, module).Bool(0)
}

func (m *MockMonitor) ActiveAlerts(ctx context.Context, limit int) ([]types.Alert, error) {
	args := m.Called(ctx, limit)
	alerts, _ := args.Get(0).([]types.Alert)
	return alerts, args.Error(1)
}

// MockRules is a mock implementation of RuleAdmin
type MockRules struct {
	mock.Mock
}

func (m *MockRules) List() []rules.Rule {
	return m.Called().Get(0).([]rules.Rule)
}

func (m *MockRules) SetEnabled(id string, enabled bool) error {
	return m.Called(id, enabled).Error(0)
}

type fixture struct {
	monitor *MockMonitor
	rules   *MockRules
	router  *gin.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		Server:  config.ServerConfig{AllowedOrigins: []string{"*"}},
		Auth:    config.AuthConfig{JWTSecret: testSecret},
		Logging: config.LoggingConfig{Level: "info"},
		Metrics: config.MetricsConfig{Enabled: true, Path: "/metrics"},
	}
	logger := logging.NewTestLogger(&bytes.Buffer{})
	healthSvc := health.NewService(logger, nil)
	healthSvc.RegisterChecker("engine", health.NewCustomChecker("engine", func(context.Context) (health.Status, string, error) {
		return health.StatusHealthy, "ok", nil
	}))

	f := &fixture{monitor: &MockMonitor{}, rules: &MockRules{}}
	f.router = NewRouter(cfg, RouterDeps{
		Monitor: f.monitor,
		Rules:   f.rules,
		Health:  healthSvc,
		Logger:  logger,
		Metrics: metrics.NewMetrics(nil),
	})
	return f
}

func (f *fixture) do(t *testing.T, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func adminToken(t *testing.T) string {
	t.Helper()
	token, err := IssueToken(testSecret, "ops", time.Hour)
	require.NoError(t, err)
	return token
}

func TestReportError_Exception(t *testing.T) {
	f := newFixture(t)
	record := &types.ErrorRecord{ID: uuid.New(), Module: "orders", Message: "boom", Severity: types.SeverityModerate}

	f.monitor.On("Report", mock.Anything, mock.MatchedBy(func(ev capture.Event) bool {
		e, ok := ev.(*capture.ExceptionEvent)
		return ok && e.Module == "orders" && e.Message == "boom" && e.Line == 12 && e.UserAgent == "agent/1.0"
	})).Return(record, true)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/errors",
		strings.NewReader(`{"kind":"exception","module":"orders","message":"boom","line":12}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "agent/1.0")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code)
	resp := decode(t, w)
	data := resp["data"].(map[string]interface{})
	assert.Equal(t, true, data["captured"])
	assert.Equal(t, record.ID.String(), data["record"].(map[string]interface{})["id"])
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	f.monitor.AssertExpectations(t)
}

func TestReportError_RejectionReason(t *testing.T) {
	f := newFixture(t)
	f.monitor.On("Report", mock.Anything, mock.MatchedBy(func(ev capture.Event) bool {
		e, ok := ev.(*capture.RejectionEvent)
		if !ok {
			return false
		}
		reason, ok := e.Reason.(map[string]interface{})
		return ok && reason["message"] == "timeout"
	})).Return(nil, false)

	w := f.do(t, http.MethodPost, "/api/v1/errors", `{"kind":"rejection","reason":{"message":"timeout"}}`, "")

	require.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w)["data"].(map[string]interface{})
	assert.Equal(t, false, data["captured"])
	assert.NotContains(t, data, "record")
	f.monitor.AssertExpectations(t)
}

func TestReportError_Resource(t *testing.T) {
	f := newFixture(t)
	f.monitor.On("Report", mock.Anything, mock.MatchedBy(func(ev capture.Event) bool {
		e, ok := ev.(*capture.ResourceEvent)
		return ok && e.Tag == "script" && e.URL == "https://cdn.example.com/app.js"
	})).Return(&types.ErrorRecord{ID: uuid.New()}, true)

	w := f.do(t, http.MethodPost, "/api/v1/errors", `{"kind":"resource","tag":"script","url":"https://cdn.example.com/app.js"}`, "")
	assert.Equal(t, http.StatusAccepted, w.Code)
	f.monitor.AssertExpectations(t)
}

func TestReportError_Invalid(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		body string
	}{
		{name: "unknown kind", body: `{"kind":"telemetry"}`},
		{name: "missing kind", body: `{"message":"x"}`},
		{name: "malformed", body: `{"kind":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodPost, "/api/v1/errors", tt.body, "")
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, false, decode(t, w)["success"])
		})
	}
	f.monitor.AssertNotCalled(t, "Report", mock.Anything, mock.Anything)
}

func TestGetStats(t *testing.T) {
	f := newFixture(t)
	f.monitor.On("Stats", mock.Anything).Return(types.Stats{
		Total: 3, Critical: 1, Minor: 2, Pending: 3, Health: types.HealthDegraded,
	}, nil).Once()

	w := f.do(t, http.MethodGet, "/api/v1/stats", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w)["data"].(map[string]interface{})
	assert.Equal(t, float64(3), data["total"])
	assert.Equal(t, "degraded", data["health"])

	f.monitor.On("Stats", mock.Anything).Return(types.Stats{}, errors.NewGatewayError("query_recent_errors", assert.AnError)).Once()
	w = f.do(t, http.MethodGet, "/api/v1/stats", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	apiErr := decode(t, w)["error"].(map[string]interface{})
	assert.Equal(t, "query_recent_errors", apiErr["details"].(map[string]interface{})["operation"])
}

func TestGetReportPDF(t *testing.T) {
	f := newFixture(t)
	report := &stats.Report{
		GeneratedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		Window:      24 * time.Hour,
		Stats:       types.Stats{Total: 1, Critical: 1, Pending: 1, Health: types.HealthDegraded},
		Recent: []types.ErrorRecord{{
			ID: uuid.New(), Module: "orders", ErrorType: types.ErrorTypeUncaught,
			Message: "boom", Severity: types.SeverityCritical, Status: types.ErrorStatusDetected,
		}},
	}
	f.monitor.On("HealthReport", mock.Anything, 10).Return(report, nil)

	w := f.do(t, http.MethodGet, "/api/v1/stats/report.pdf?limit=10", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "errwatch-report-20260301-090000.pdf")
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("%PDF")))

	w = f.do(t, http.MethodGet, "/api/v1/stats/report.pdf?limit=x", "", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminRoutes_RequireToken(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name  string
		token string
	}{
		{name: "missing", token: ""},
		{name: "garbage", token: "not-a-jwt"},
		{name: "wrong secret", token: func() string {
			token, _ := IssueToken("other-secret", "ops", time.Hour)
			return token
		}()},
		{name: "expired", token: func() string {
			token, _ := IssueToken(testSecret, "ops", -time.Minute)
			return token
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodGet, "/api/v1/rules", "", tt.token)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
	f.rules.AssertNotCalled(t, "List")
}

func TestRules(t *testing.T) {
	f := newFixture(t)
	token := adminToken(t)

	f.rules.On("List").Return([]rules.Rule{
		{ID: rules.RuleCriticalErrors, Name: "Critical errors", Severity: types.AlertSeverityHigh, Enabled: false},
		{ID: rules.RuleUnhandledRejections, Name: "Repeated unhandled rejections", Severity: types.AlertSeverityMedium, Enabled: true, Window: time.Hour},
	})
	f.rules.On("SetEnabled", rules.RuleCriticalErrors, false).Return(nil)
	f.rules.On("SetEnabled", "missing", true).Return(errors.NewNotFoundError("rule"))

	w := f.do(t, http.MethodGet, "/api/v1/rules", "", token)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode(t, w)["data"].([]interface{})
	require.Len(t, list, 2)
	assert.Equal(t, "1h0m0s", list[1].(map[string]interface{})["window"])

	w = f.do(t, http.MethodPatch, "/api/v1/rules/"+rules.RuleCriticalErrors, `{"enabled":false}`, token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode(t, w)["data"].(map[string]interface{})["enabled"])

	w = f.do(t, http.MethodPatch, "/api/v1/rules/missing", `{"enabled":true}`, token)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodPatch, "/api/v1/rules/missing", `{}`, token)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	f.rules.AssertExpectations(t)
}

func TestListAlerts(t *testing.T) {
	f := newFixture(t)
	token := adminToken(t)

	f.monitor.On("ActiveAlerts", mock.Anything, 50).Return([]types.Alert{
		{ID: uuid.New(), Title: "Critical module failing", Module: "wallet", Severity: types.AlertSeverityHigh, Status: types.AlertStatusActive},
	}, nil).Once()
	f.monitor.On("ActiveAlerts", mock.Anything, 5).Return(nil, nil).Once()

	w := f.do(t, http.MethodGet, "/api/v1/alerts", "", token)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode(t, w)["data"].([]interface{})
	require.Len(t, list, 1)
	assert.Equal(t, "wallet", list[0].(map[string]interface{})["module"])

	w = f.do(t, http.MethodGet, "/api/v1/alerts?limit=5", "", token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode(t, w)["data"])

	w = f.do(t, http.MethodGet, "/api/v1/alerts?limit=0", "", token)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/alerts", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	f.monitor.AssertExpectations(t)
}

func TestRemediate(t *testing.T) {
	f := newFixture(t)
	f.monitor.On("Remediate", mock.Anything, "orders").Return(true)

	w := f.do(t, http.MethodPost, "/api/v1/remediation/orders", "", adminToken(t))
	require.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w)["data"].(map[string]interface{})
	assert.Equal(t, "orders", data["module"])
	assert.Equal(t, true, data["applied"])
	f.monitor.AssertExpectations(t)
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decode(t, w)["status"])

	w = f.do(t, http.MethodGet, "/health/live", "", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "errwatch_http_requests_total")
}

func TestRequestSizeLimit(t *testing.T) {
	f := newFixture(t)
	body := `{"kind":"exception","message":"` + strings.Repeat("x", maxReportSize) + `"}`

	w := f.do(t, http.MethodPost, "/api/v1/errors", body, "")
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	f.monitor.AssertNotCalled(t, "Report", mock.Anything, mock.Anything)
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/errors", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
