package health

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NikhilSetiya/errwatch/pkg/logging"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Health(ctx context.Context) error { return f(ctx) }

func static(status Status) *CustomChecker {
	return NewCustomChecker(string(status), func(context.Context) (Status, string, error) {
		return status, "", nil
	})
}

func TestService_CheckHealth(t *testing.T) {
	tests := []struct {
		name     string
		checkers map[string]Checker
		want     Status
	}{
		{name: "no checkers", want: StatusHealthy},
		{
			name:     "degraded wins over healthy",
			checkers: map[string]Checker{"a": static(StatusHealthy), "b": static(StatusDegraded)},
			want:     StatusDegraded,
		},
		{
			name: "unhealthy wins",
			checkers: map[string]Checker{
				"a": static(StatusDegraded),
				"db": NewPingChecker("db", pingFunc(func(context.Context) error { return assert.AnError })),
			},
			want: StatusUnhealthy,
		},
		{
			name: "error on a healthy custom check",
			checkers: map[string]Checker{"x": NewCustomChecker("x", func(context.Context) (Status, string, error) {
				return StatusHealthy, "", assert.AnError
			})},
			want: StatusUnhealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewService(logging.NewTestLogger(&bytes.Buffer{}), nil)
			for name, c := range tt.checkers {
				s.RegisterChecker(name, c)
			}
			resp := s.CheckHealth(context.Background())
			assert.Equal(t, tt.want, resp.Status)
			assert.Len(t, resp.Checks, len(tt.checkers))
		})
	}
}

func TestService_Handler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := NewService(logging.NewTestLogger(&bytes.Buffer{}), nil)
	s.RegisterChecker("db", NewPingChecker("db", pingFunc(func(context.Context) error { return nil })))

	router := gin.New()
	router.GET("/health", s.Handler())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Equal(t, "db is reachable", resp.Checks["db"].Message)

	s.RegisterChecker("cache", static(StatusUnhealthy))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
