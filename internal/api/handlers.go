package api

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/NikhilSetiya/errwatch/internal/capture"
	"github.com/NikhilSetiya/errwatch/internal/rules"
	"github.com/NikhilSetiya/errwatch/internal/stats"
	"github.com/NikhilSetiya/errwatch/pkg/logging"
	"github.com/NikhilSetiya/errwatch/pkg/types"
)

// Monitor is the part of the engine served over HTTP
type Monitor interface {
	Report(ctx context.Context, ev capture.Event) (*types.ErrorRecord, bool)
	Stats(ctx context.Context) (types.Stats, error)
	HealthReport(ctx context.Context, maxRecords int) (*stats.Report, error)
	Remediate(ctx context.Context, module string) bool
	ActiveAlerts(ctx context.Context, limit int) ([]types.Alert, error)
}

// RuleAdmin lists and toggles alert rules
type RuleAdmin interface {
	List() []rules.Rule
	SetEnabled(id string, enabled bool) error
}

// Event kinds accepted by the report endpoint
const (
	KindException = "exception"
	KindRejection = "rejection"
	KindResource  = "resource"
)

// ReportRequest is a failure reported by a business domain
type ReportRequest struct {
	Kind    string `json:"kind" binding:"required,oneof=exception rejection resource"`
	Module  string `json:"module"`
	Message string `json:"message"`
	Source  string `json:"source"`
	Line    int    `json:"line"`
	Column  int    `json:"column"`
	Stack   string `json:"stack"`
	// Reason is the rejection value, of any JSON shape
	Reason interface{} `json:"reason"`
	Tag    string      `json:"tag"`
	URL    string      `json:"url"`

	PageURL   string            `json:"page_url"`
	UserAgent string            `json:"user_agent"`
	UserID    string            `json:"user_id"`
	Extra     map[string]string `json:"extra"`
}

// Event converts the request into a capture event
func (r *ReportRequest) Event() capture.Event {
	ctx := capture.Context{
		PageURL:   r.PageURL,
		UserAgent: r.UserAgent,
		UserID:    r.UserID,
		Extra:     r.Extra,
	}
	switch r.Kind {
	case KindRejection:
		reason := r.Reason
		if reason == nil && r.Message != "" {
			reason = r.Message
		}
		return &capture.RejectionEvent{Context: ctx, Module: r.Module, Reason: reason}
	case KindResource:
		return &capture.ResourceEvent{Context: ctx, Module: r.Module, Tag: r.Tag, URL: r.URL}
	default:
		return &capture.ExceptionEvent{
			Context: ctx,
			Module:  r.Module,
			Message: r.Message,
			Source:  r.Source,
			Line:    r.Line,
			Column:  r.Column,
			Stack:   r.Stack,
		}
	}
}

// ReportResponse is returned by the report endpoint
type ReportResponse struct {
	Captured bool               `json:"captured"`
	Record   *types.ErrorRecord `json:"record,omitempty"`
}

// SetEnabledRequest toggles a rule
type SetEnabledRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// RuleDTO is the wire form of a rule
type RuleDTO struct {
	ID       string              `json:"id"`
	Name     string              `json:"name"`
	Severity types.AlertSeverity `json:"severity"`
	Enabled  bool                `json:"enabled"`
	Window   string              `json:"window,omitempty"`
}

func toRuleDTO(r rules.Rule) RuleDTO {
	dto := RuleDTO{ID: r.ID, Name: r.Name, Severity: r.Severity, Enabled: r.Enabled}
	if r.Window > 0 {
		dto.Window = r.Window.String()
	}
	return dto
}

// Handler serves the monitoring endpoints
type Handler struct {
	monitor Monitor
	rules   RuleAdmin
	logger  *logging.Logger
}

// NewHandler creates a handler
func NewHandler(monitor Monitor, ruleAdmin RuleAdmin, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.GetLogger()
	}
	return &Handler{monitor: monitor, rules: ruleAdmin, logger: logger}
}

// ReportError captures a reported failure
func (h *Handler) ReportError(c *gin.Context) {
	var req ReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequestResponse(c, "Invalid request body: "+err.Error())
		return
	}
	if req.UserAgent == "" {
		req.UserAgent = c.Request.UserAgent()
	}

	record, captured := h.monitor.Report(c.Request.Context(), req.Event())
	if !captured {
		SuccessResponse(c, ReportResponse{Captured: false})
		return
	}
	AcceptedResponse(c, ReportResponse{Captured: true, Record: record})
}

// GetStats returns the error statistics and health roll-up
func (h *Handler) GetStats(c *gin.Context) {
	s, err := h.monitor.Stats(c.Request.Context())
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}
	SuccessResponse(c, s)
}

// GetReportPDF renders the health report as a PDF download
func (h *Handler) GetReportPDF(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 0 {
		BadRequestResponse(c, "limit must be a non-negative integer")
		return
	}

	report, err := h.monitor.HealthReport(c.Request.Context(), limit)
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}

	var buf bytes.Buffer
	if err := report.RenderPDF(&buf); err != nil {
		h.logger.WithComponent("api").WithError(err).Error("Failed to render health report")
		InternalErrorResponse(c, "Failed to render report")
		return
	}

	filename := fmt.Sprintf("errwatch-report-%s.pdf", report.GeneratedAt.UTC().Format("20060102-150405"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "application/pdf", buf.Bytes())
}

// ListAlerts returns the unresolved alerts, newest first
func (h *Handler) ListAlerts(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 || limit > 1000 {
		BadRequestResponse(c, "limit must be between 1 and 1000")
		return
	}

	alerts, err := h.monitor.ActiveAlerts(c.Request.Context(), limit)
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}
	if alerts == nil {
		alerts = []types.Alert{}
	}
	SuccessResponse(c, alerts)
}

// ListRules returns every registered rule
func (h *Handler) ListRules(c *gin.Context) {
	list := h.rules.List()
	out := make([]RuleDTO, 0, len(list))
	for _, r := range list {
		out = append(out, toRuleDTO(r))
	}
	SuccessResponse(c, out)
}

// UpdateRule enables or disables a rule
func (h *Handler) UpdateRule(c *gin.Context) {
	var req SetEnabledRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequestResponse(c, "Invalid request body: "+err.Error())
		return
	}

	id := c.Param("id")
	if err := h.rules.SetEnabled(id, *req.Enabled); err != nil {
		ErrorResponseFromError(c, err)
		return
	}

	h.logger.WithComponent("api").WithFields(logging.Fields{
		"rule_id": id,
		"enabled": *req.Enabled,
		"subject": c.GetString("subject"),
	}).Info("Rule updated")

	for _, r := range h.rules.List() {
		if r.ID == id {
			SuccessResponse(c, toRuleDTO(r))
			return
		}
	}
	SuccessResponse(c, gin.H{"id": id, "enabled": *req.Enabled})
}

// Remediate runs module remediation on demand
func (h *Handler) Remediate(c *gin.Context) {
	module := c.Param("module")
	start := time.Now()
	applied := h.monitor.Remediate(c.Request.Context(), module)
	SuccessResponse(c, gin.H{
		"module":   module,
		"applied":  applied,
		"duration": time.Since(start).String(),
	})
}
