package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/payrixa/driftwatch/internal/domain"
)

// SlackSender posts alert notifications to Slack incoming webhooks. When
// Slack is globally disabled the sender is a no-op that reports success, so
// a disabled channel never fails an alert.
type SlackSender struct {
	client   *http.Client
	breaker  *gobreaker.CircuitBreaker
	config   domain.SlackConfig
	alerting domain.AlertingConfig
	log      *logrus.Logger
}

// NewSlackSender creates a Slack webhook sender with a circuit breaker so a
// dead webhook endpoint sheds load quickly instead of burning the timeout
// on every pending alert.
func NewSlackSender(config domain.SlackConfig, alerting domain.AlertingConfig, logger *logrus.Logger) *SlackSender {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "slack-webhook",
		MaxRequests: 3,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
	})

	return &SlackSender{
		client:   &http.Client{Timeout: config.Timeout},
		breaker:  breaker,
		config:   config,
		alerting: alerting,
		log:      logger,
	}
}

// Deliver posts the alert to the webhook URL.
func (s *SlackSender) Deliver(ctx context.Context, event *domain.AlertEvent, webhookURL string) error {
	if !s.config.Enabled {
		s.log.WithField("alert_event_id", event.ID).Debug("Slack disabled; skipping delivery")
		return nil
	}
	if webhookURL == "" {
		return fmt.Errorf("slack channel has no webhook URL: %w", domain.ErrInvalidInput)
	}

	payload, err := json.Marshal(s.buildMessage(event))
	if err != nil {
		return fmt.Errorf("marshaling slack payload: %w", err)
	}

	_, err = s.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("building slack request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("posting to slack: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			return nil, fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
		}
		return nil, nil
	})
	return err
}

// buildMessage renders a Block Kit message: header, field grid, review
// button, footer. Color and emoji follow the same severity bands as email.
func (s *SlackSender) buildMessage(event *domain.AlertEvent) map[string]interface{} {
	payload := event.Payload
	label := severityLabel(payload.Severity)
	alertURL := fmt.Sprintf("%s/alerts/%s", strings.TrimRight(s.alerting.PortalBaseURL, "/"), event.ID)

	blocks := []map[string]interface{}{
		{
			"type": "header",
			"text": map[string]interface{}{
				"type": "plain_text",
				"text": fmt.Sprintf("%s %s drift alert", severityEmoji(label), payload.ProductName),
			},
		},
		{
			"type": "section",
			"fields": []map[string]interface{}{
				{"type": "mrkdwn", "text": fmt.Sprintf("*Entity:*\n%s", payload.EntityLabel)},
				{"type": "mrkdwn", "text": fmt.Sprintf("*Severity:*\n%s", label)},
				{"type": "mrkdwn", "text": fmt.Sprintf("*Metric:*\n%s", payload.DriftType)},
				{"type": "mrkdwn", "text": fmt.Sprintf("*Change:*\n%.4f → %.4f", payload.BaselineValue, payload.CurrentValue)},
				{"type": "mrkdwn", "text": fmt.Sprintf("*Rule:*\n%s", payload.RuleName)},
				{"type": "mrkdwn", "text": fmt.Sprintf("*Threshold:*\n%.2f", payload.RuleThreshold)},
			},
		},
		{
			"type": "actions",
			"elements": []map[string]interface{}{
				{
					"type": "button",
					"text": map[string]interface{}{"type": "plain_text", "text": "Review alert"},
					"url":  alertURL,
				},
			},
		},
		{
			"type": "context",
			"elements": []map[string]interface{}{
				{"type": "mrkdwn", "text": fmt.Sprintf("Alert %s · triggered %s", event.ID, event.TriggeredAt.Format("2006-01-02 15:04 UTC"))},
			},
		},
	}

	return map[string]interface{}{
		"attachments": []map[string]interface{}{
			{
				"color":  severityColor(label),
				"blocks": blocks,
			},
		},
	}
}

func severityColor(label string) string {
	switch label {
	case "high":
		return "#d62728"
	case "medium":
		return "#ff9900"
	case "low":
		return "#36a64f"
	default:
		return "#cccccc"
	}
}

func severityEmoji(label string) string {
	switch label {
	case "high":
		return ":red_circle:"
	case "medium":
		return ":large_orange_circle:"
	case "low":
		return ":large_green_circle:"
	default:
		return ":white_circle:"
	}
}
