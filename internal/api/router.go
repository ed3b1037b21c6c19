// Package api exposes the monitoring engine over HTTP.
package api

import (
	"github.com/gin-gonic/gin"

	"github.com/NikhilSetiya/errwatch/pkg/config"
	"github.com/NikhilSetiya/errwatch/pkg/health"
	"github.com/NikhilSetiya/errwatch/pkg/logging"
	"github.com/NikhilSetiya/errwatch/pkg/metrics"
	"github.com/NikhilSetiya/errwatch/pkg/tracing"
)

// maxReportSize bounds a single reported error payload
const maxReportSize = 256 << 10

// RouterDeps are the services the router serves. Health, Metrics and
// Tracer may be nil.
type RouterDeps struct {
	Monitor Monitor
	Rules   RuleAdmin
	Health  *health.Service
	Logger  *logging.Logger
	Metrics *metrics.Metrics
	Tracer  *tracing.TracingService
}

// NewRouter creates and configures the API router
func NewRouter(cfg *config.Config, deps RouterDeps) *gin.Engine {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	if deps.Logger == nil {
		deps.Logger = logging.GetLogger()
	}
	if deps.Tracer == nil {
		deps.Tracer = tracing.Noop()
	}

	router := gin.New()
	router.Use(RecoveryMiddleware(deps.Logger))
	router.Use(RequestIDMiddleware())
	router.Use(LoggingMiddleware(deps.Logger))
	router.Use(CORSMiddleware(cfg.Server.AllowedOrigins))
	router.Use(SecurityHeadersMiddleware())
	router.Use(deps.Tracer.TracingMiddleware())
	router.Use(deps.Metrics.PrometheusMiddleware())

	if deps.Health != nil {
		router.GET("/health", deps.Health.Handler())
		router.GET("/health/live", deps.Health.LivenessHandler())
	}
	if cfg.Metrics.Enabled && deps.Metrics != nil {
		path := cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		router.GET(path, gin.WrapH(deps.Metrics.Handler()))
	}

	h := NewHandler(deps.Monitor, deps.Rules, deps.Logger)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/errors", RequestSizeMiddleware(maxReportSize), h.ReportError)
		v1.GET("/stats", h.GetStats)
		v1.GET("/stats/report.pdf", h.GetReportPDF)

		admin := v1.Group("")
		admin.Use(AuthMiddleware(cfg.Auth.JWTSecret))
		{
			admin.GET("/alerts", h.ListAlerts)
			admin.GET("/rules", h.ListRules)
			admin.PATCH("/rules/:id", h.UpdateRule)
			admin.POST("/remediation/:module", h.Remediate)
		}
	}

	return router
}
