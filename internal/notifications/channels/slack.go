package channels

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/NikhilSetiya/errwatch/internal/notifications"
	"github.com/NikhilSetiya/errwatch/pkg/types"
)

// SlackConfig configures the Slack webhook handler
type SlackConfig struct {
	WebhookURL string
	Channel    string
	Username   string
}

// SlackHandler implements notification sending to Slack
type SlackHandler struct {
	config     SlackConfig
	logger     *zap.Logger
	httpClient *http.Client
}

// SlackMessage represents a Slack message payload
type SlackMessage struct {
	Text        string            `json:"text,omitempty"`
	Username    string            `json:"username,omitempty"`
	Channel     string            `json:"channel,omitempty"`
	IconEmoji   string            `json:"icon_emoji,omitempty"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

// SlackAttachment represents a Slack message attachment
type SlackAttachment struct {
	Color     string       `json:"color,omitempty"`
	Title     string       `json:"title,omitempty"`
	TitleLink string       `json:"title_link,omitempty"`
	Text      string       `json:"text,omitempty"`
	Fields    []SlackField `json:"fields,omitempty"`
	Footer    string       `json:"footer,omitempty"`
	Timestamp int64        `json:"ts,omitempty"`
}

// SlackField represents a field in a Slack attachment
type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// NewSlackHandler creates a new Slack notification handler. A nil client
// uses a client with a 10s timeout.
func NewSlackHandler(config SlackConfig, logger *zap.Logger, client *http.Client) *SlackHandler {
	if client == nil {
		client = defaultHTTPClient()
	}
	return &SlackHandler{
		config:     config,
		logger:     logger,
		httpClient: client,
	}
}

// Send sends a notification to Slack
func (h *SlackHandler) Send(ctx context.Context, n notifications.Notification) error {
	if h.config.WebhookURL == "" {
		return fmt.Errorf("slack webhook URL not configured")
	}

	if err := postJSON(ctx, h.httpClient, h.config.WebhookURL, h.buildSlackMessage(n)); err != nil {
		return fmt.Errorf("slack: %w", err)
	}

	h.logger.Info("Successfully sent Slack notification",
		zap.String("title", n.Title),
		zap.String("webhook_url", maskWebhookURL(h.config.WebhookURL)))

	return nil
}

// Name returns the channel name
func (h *SlackHandler) Name() string {
	return "slack"
}

// buildSlackMessage converts a notification to Slack format
func (h *SlackHandler) buildSlackMessage(n notifications.Notification) SlackMessage {
	msg := SlackMessage{
		Text:      n.Title,
		Username:  h.config.Username,
		Channel:   h.config.Channel,
		IconEmoji: slackIcon(n.Severity),
	}

	attachment := SlackAttachment{
		Color:     slackColor(n.Severity),
		Text:      n.Message,
		Footer:    "errwatch",
		Timestamp: time.Now().Unix(),
		Fields: []SlackField{
			{Title: "Severity", Value: string(n.Severity), Short: true},
		},
	}

	if n.Module != "" {
		attachment.Fields = append(attachment.Fields, SlackField{
			Title: "Module",
			Value: n.Module,
			Short: true,
		})
	}

	if n.Action != nil {
		attachment.Title = n.Action.Label
		attachment.TitleLink = n.Action.URL
	}

	msg.Attachments = []SlackAttachment{attachment}
	return msg
}

func slackIcon(severity types.AlertSeverity) string {
	switch severity {
	case types.AlertSeverityCritical:
		return ":rotating_light:"
	case types.AlertSeverityHigh:
		return ":fire:"
	case types.AlertSeverityMedium:
		return ":warning:"
	default:
		return ":information_source:"
	}
}

func slackColor(severity types.AlertSeverity) string {
	switch severity {
	case types.AlertSeverityCritical, types.AlertSeverityHigh:
		return "danger"
	case types.AlertSeverityMedium:
		return "warning"
	default:
		return "#36a64f"
	}
}
