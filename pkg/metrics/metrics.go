package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight *prometheus.GaugeVec

	// Capture pipeline
	ErrorsCaptured     *prometheus.CounterVec
	ErrorsIgnored      *prometheus.CounterVec
	ErrorsDeduplicated *prometheus.CounterVec
	QueueSize          prometheus.Gauge
	FlushesTotal       *prometheus.CounterVec
	FlushDuration      *prometheus.HistogramVec

	// Rules and alerts
	RuleEvaluations   *prometheus.CounterVec
	RuleFires         *prometheus.CounterVec
	AlertsDispatched  *prometheus.CounterVec
	AlertsSuppressed  *prometheus.CounterVec
	NotificationFails *prometheus.CounterVec

	// Remediation
	RemediationAttempts *prometheus.CounterVec
	AutoFixOutcomes     *prometheus.CounterVec

	// Errors
	GatewayErrors *prometheus.CounterVec
	PanicsTotal   *prometheus.CounterVec
}

// Config holds metrics configuration
type Config struct {
	Namespace string `json:"namespace"`
	Subsystem string `json:"subsystem"`
	Enabled   bool   `json:"enabled"`
}

// DefaultConfig returns default metrics configuration
func DefaultConfig() *Config {
	return &Config{
		Namespace: "errwatch",
		Subsystem: "",
		Enabled:   true,
	}
}

// NewMetrics creates all collectors and registers them on a fresh registry
func NewMetrics(config *Config) *Metrics {
	if config == nil {
		config = DefaultConfig()
	}

	if !config.Enabled {
		return nil
	}

	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      name,
			Help:      help,
		}, labels)
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),

		HTTPRequestsTotal: counter("http_requests_total", "Total number of HTTP requests",
			"method", "path", "status_code"),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestsInFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "http_requests_in_flight",
				Help:      "Number of HTTP requests currently being processed",
			},
			[]string{"method", "path"},
		),

		ErrorsCaptured: counter("errors_captured_total", "Errors accepted by the classifier",
			"module", "error_type", "severity"),
		ErrorsIgnored: counter("errors_ignored_total", "Errors discarded as noise",
			"error_type"),
		ErrorsDeduplicated: counter("errors_deduplicated_total", "Errors suppressed as duplicates",
			"module"),
		QueueSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "queue_size",
			Help:      "Number of records waiting to be flushed",
		}),
		FlushesTotal: counter("flushes_total", "Batch flushes by trigger and status",
			"trigger", "status"),
		FlushDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "flush_duration_seconds",
				Help:      "Batch flush duration in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"trigger"},
		),

		RuleEvaluations: counter("rule_evaluations_total", "Rule engine evaluation cycles",
			"status"),
		RuleFires: counter("rule_fires_total", "Rules whose predicate held",
			"rule"),
		AlertsDispatched: counter("alerts_dispatched_total", "Alerts sent to the notification sink",
			"module", "severity"),
		AlertsSuppressed: counter("alerts_suppressed_total", "Alerts skipped inside the cooldown",
			"module"),
		NotificationFails: counter("notification_failures_total", "Notification sink failures",
			"sink"),

		RemediationAttempts: counter("remediation_attempts_total", "Module remediation attempts by real outcome",
			"module", "strategy", "outcome"),
		AutoFixOutcomes: counter("auto_fix_outcomes_total", "Pattern auto-fix outcomes",
			"fix_type", "outcome"),

		GatewayErrors: counter("gateway_errors_total", "Persistence gateway failures",
			"operation"),
		PanicsTotal: counter("panics_total", "Recovered panics",
			"component"),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.ErrorsCaptured,
		m.ErrorsIgnored,
		m.ErrorsDeduplicated,
		m.QueueSize,
		m.FlushesTotal,
		m.FlushDuration,
		m.RuleEvaluations,
		m.RuleFires,
		m.AlertsDispatched,
		m.AlertsSuppressed,
		m.NotificationFails,
		m.RemediationAttempts,
		m.AutoFixOutcomes,
		m.GatewayErrors,
		m.PanicsTotal,
	)

	return m
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordHTTPRequest records HTTP request metrics
func (m *Metrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	if m == nil {
		return
	}

	statusStr := strconv.Itoa(statusCode)
	m.HTTPRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, statusStr).Observe(duration.Seconds())
}

// RecordCaptured counts a record accepted by the classifier
func (m *Metrics) RecordCaptured(module, errorType, severity string) {
	if m == nil {
		return
	}
	m.ErrorsCaptured.WithLabelValues(module, errorType, severity).Inc()
}

// RecordIgnored counts a record discarded as noise
func (m *Metrics) RecordIgnored(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsIgnored.WithLabelValues(errorType).Inc()
}

// RecordDeduplicated counts a suppressed duplicate
func (m *Metrics) RecordDeduplicated(module string) {
	if m == nil {
		return
	}
	m.ErrorsDeduplicated.WithLabelValues(module).Inc()
}

// UpdateQueueSize sets the pending record gauge
func (m *Metrics) UpdateQueueSize(size int) {
	if m == nil {
		return
	}
	m.QueueSize.Set(float64(size))
}

// RecordFlush records a batch flush
func (m *Metrics) RecordFlush(trigger string, success bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.FlushesTotal.WithLabelValues(trigger, status(success)).Inc()
	m.FlushDuration.WithLabelValues(trigger).Observe(duration.Seconds())
}

// RecordRuleEvaluation records one rule engine cycle
func (m *Metrics) RecordRuleEvaluation(success bool) {
	if m == nil {
		return
	}
	m.RuleEvaluations.WithLabelValues(status(success)).Inc()
}

// RecordRuleFire records a rule whose predicate held
func (m *Metrics) RecordRuleFire(ruleID string) {
	if m == nil {
		return
	}
	m.RuleFires.WithLabelValues(ruleID).Inc()
}

// RecordAlert records a dispatched or suppressed alert
func (m *Metrics) RecordAlert(module, severity string, suppressed bool) {
	if m == nil {
		return
	}
	if suppressed {
		m.AlertsSuppressed.WithLabelValues(module).Inc()
		return
	}
	m.AlertsDispatched.WithLabelValues(module, severity).Inc()
}

// RecordNotificationFailure records a sink failure
func (m *Metrics) RecordNotificationFailure(sink string) {
	if m == nil {
		return
	}
	m.NotificationFails.WithLabelValues(sink).Inc()
}

// RecordRemediation records the real outcome of a module remediation
func (m *Metrics) RecordRemediation(module, strategy string, applied bool) {
	if m == nil {
		return
	}
	outcome := "applied"
	if !applied {
		outcome = "failed"
	}
	m.RemediationAttempts.WithLabelValues(module, strategy, outcome).Inc()
}

// RecordAutoFix records a pattern auto-fix outcome
func (m *Metrics) RecordAutoFix(fixType string, success bool) {
	if m == nil {
		return
	}
	m.AutoFixOutcomes.WithLabelValues(fixType, status(success)).Inc()
}

// RecordGatewayError records a persistence failure
func (m *Metrics) RecordGatewayError(operation string) {
	if m == nil {
		return
	}
	m.GatewayErrors.WithLabelValues(operation).Inc()
}

// RecordPanic records panic metrics
func (m *Metrics) RecordPanic(component string) {
	if m == nil {
		return
	}
	m.PanicsTotal.WithLabelValues(component).Inc()
}

// PrometheusMiddleware creates a middleware for Prometheus metrics collection
func (m *Metrics) PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}

		m.HTTPRequestsInFlight.WithLabelValues(c.Request.Method, c.FullPath()).Inc()
		defer m.HTTPRequestsInFlight.WithLabelValues(c.Request.Method, c.FullPath()).Dec()

		start := time.Now()
		c.Next()
		duration := time.Since(start)

		m.RecordHTTPRequest(c.Request.Method, c.FullPath(), c.Writer.Status(), duration)
	}
}

// Handler returns the Prometheus metrics HTTP handler
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
