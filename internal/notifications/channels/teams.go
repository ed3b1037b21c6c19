package channels

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/NikhilSetiya/errwatch/internal/notifications"
	"github.com/NikhilSetiya/errwatch/pkg/types"
)

// TeamsHandler implements notification sending to Microsoft Teams
type TeamsHandler struct {
	webhookURL string
	logger     *zap.Logger
	httpClient *http.Client
}

// TeamsMessage represents a Microsoft Teams message card
type TeamsMessage struct {
	Type       string         `json:"@type"`
	Context    string         `json:"@context"`
	Summary    string         `json:"summary"`
	ThemeColor string         `json:"themeColor,omitempty"`
	Title      string         `json:"title,omitempty"`
	Text       string         `json:"text,omitempty"`
	Sections   []TeamsSection `json:"sections,omitempty"`
	Actions    []TeamsAction  `json:"potentialAction,omitempty"`
}

// TeamsSection represents a section in a Teams message
type TeamsSection struct {
	ActivityTitle string      `json:"activityTitle,omitempty"`
	Facts         []TeamsFact `json:"facts,omitempty"`
	Markdown      bool        `json:"markdown,omitempty"`
}

// TeamsFact represents a fact in a Teams section
type TeamsFact struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// TeamsAction represents an action button in a Teams message
type TeamsAction struct {
	Type    string        `json:"@type"`
	Name    string        `json:"name"`
	Targets []TeamsTarget `json:"targets,omitempty"`
}

// TeamsTarget represents a target for a Teams action
type TeamsTarget struct {
	OS  string `json:"os"`
	URI string `json:"uri"`
}

// NewTeamsHandler creates a new Microsoft Teams notification handler
func NewTeamsHandler(webhookURL string, logger *zap.Logger, client *http.Client) *TeamsHandler {
	if client == nil {
		client = defaultHTTPClient()
	}
	return &TeamsHandler{
		webhookURL: webhookURL,
		logger:     logger,
		httpClient: client,
	}
}

// Send sends a notification to Microsoft Teams
func (h *TeamsHandler) Send(ctx context.Context, n notifications.Notification) error {
	if h.webhookURL == "" {
		return fmt.Errorf("teams webhook URL not configured")
	}

	if err := postJSON(ctx, h.httpClient, h.webhookURL, h.buildTeamsMessage(n)); err != nil {
		return fmt.Errorf("teams: %w", err)
	}

	h.logger.Info("Successfully sent Teams notification",
		zap.String("title", n.Title),
		zap.String("webhook_url", maskWebhookURL(h.webhookURL)))

	return nil
}

// Name returns the channel name
func (h *TeamsHandler) Name() string {
	return "teams"
}

// buildTeamsMessage converts a notification to a Teams message card
func (h *TeamsHandler) buildTeamsMessage(n notifications.Notification) TeamsMessage {
	msg := TeamsMessage{
		Type:       "MessageCard",
		Context:    "https://schema.org/extensions",
		Summary:    n.Title,
		Title:      n.Title,
		Text:       n.Message,
		ThemeColor: teamsColor(n.Severity),
	}

	facts := []TeamsFact{{Name: "Severity", Value: string(n.Severity)}}
	if n.Module != "" {
		facts = append(facts, TeamsFact{Name: "Module", Value: n.Module})
	}
	msg.Sections = []TeamsSection{{
		ActivityTitle: "errwatch",
		Facts:         facts,
		Markdown:      true,
	}}

	if n.Action != nil {
		msg.Actions = []TeamsAction{{
			Type:    "OpenUri",
			Name:    n.Action.Label,
			Targets: []TeamsTarget{{OS: "default", URI: n.Action.URL}},
		}}
	}

	return msg
}

func teamsColor(severity types.AlertSeverity) string {
	switch severity {
	case types.AlertSeverityCritical, types.AlertSeverityHigh:
		return "FF0000"
	case types.AlertSeverityMedium:
		return "FFA500"
	default:
		return "0078D4"
	}
}
