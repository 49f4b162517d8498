package alerts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/payrixa/driftwatch/internal/domain"
)

// EmailDeliverer delivers an alert to email recipients.
type EmailDeliverer interface {
	Deliver(ctx context.Context, event *domain.AlertEvent, recipients []string) error
}

// SlackDeliverer delivers an alert to a Slack webhook.
type SlackDeliverer interface {
	Deliver(ctx context.Context, event *domain.AlertEvent, webhookURL string) error
}

// Router owns the pending->sent/failed state machine: it resolves delivery
// channels for an alert event, applies suppression, dispatches to channel
// senders, and records the outcome. Failed events are terminal; operators
// reset them to pending manually after fixing the root cause.
type Router struct {
	events      domain.AlertEventStore
	channels    domain.ChannelStore
	rules       domain.RuleStore
	suppression *SuppressionEngine
	email       EmailDeliverer
	slack       SlackDeliverer
	audit       domain.AuditPublisher
	limiter     *rate.Limiter
	config      domain.AlertingConfig
	log         *logrus.Logger
	now         func() time.Time
}

// NewRouter creates a notification router. The rate limiter bounds outbound
// deliveries across the whole process so a large pending backlog cannot
// hammer SMTP or Slack.
func NewRouter(events domain.AlertEventStore, channels domain.ChannelStore, rules domain.RuleStore, suppression *SuppressionEngine, email EmailDeliverer, slack SlackDeliverer, audit domain.AuditPublisher, config domain.AlertingConfig, logger *logrus.Logger) *Router {
	perSec := config.DispatchRatePerSec
	if perSec <= 0 {
		perSec = 5
	}
	burst := config.DispatchBurst
	if burst <= 0 {
		burst = 10
	}

	return &Router{
		events:      events,
		channels:    channels,
		rules:       rules,
		suppression: suppression,
		email:       email,
		slack:       slack,
		audit:       audit,
		limiter:     rate.NewLimiter(rate.Limit(perSec), burst),
		config:      config,
		log:         logger,
		now:         time.Now,
	}
}

// Send processes one alert event. It returns true when the alert was
// delivered (or correctly suppressed) and false on hard failure. Repeat
// calls on a sent event are no-op successes; failed events are no-op
// failures.
func (r *Router) Send(ctx context.Context, event *domain.AlertEvent) (bool, error) {
	logger := r.log.WithFields(logrus.Fields{
		"customer_id":    event.CustomerID,
		"alert_event_id": event.ID,
	})

	switch event.Status {
	case domain.StatusSent:
		return true, nil
	case domain.StatusFailed:
		return false, nil
	case domain.StatusPending:
		// fall through
	default:
		return false, nil
	}

	evidence := &domain.SuppressionEvidence{
		ProductName: event.Payload.ProductName,
		SignalType:  event.Payload.SignalType,
		EntityLabel: event.Payload.EntityLabel,
		Severity:    event.Payload.Severity,
	}
	suppressed, err := r.suppression.IsSuppressed(ctx, event.CustomerID, evidence)
	if err != nil {
		return false, fmt.Errorf("checking suppression: %w", err)
	}
	if suppressed {
		ok, err := r.events.MarkSent(ctx, event.CustomerID, event.ID, r.now().UTC(), "suppressed")
		if err != nil {
			return false, fmt.Errorf("recording suppressed alert: %w", err)
		}
		if ok {
			r.audit.Publish(ctx, event.CustomerID, domain.AuditAlertEventSent,
				"alert_event", event.ID.String(), map[string]interface{}{"suppressed": true})
			logger.Info("Alert suppressed")
		}
		return true, nil
	}

	if err := r.limiter.Wait(ctx); err != nil {
		return false, fmt.Errorf("waiting for dispatch slot: %w", err)
	}

	channels, err := r.resolveChannels(ctx, event)
	if err != nil {
		return false, fmt.Errorf("resolving channels: %w", err)
	}

	delivered, lastErr := r.dispatch(ctx, event, channels, logger)

	if delivered {
		ok, err := r.events.MarkSent(ctx, event.CustomerID, event.ID, r.now().UTC(), "")
		if err != nil {
			return false, fmt.Errorf("marking alert sent: %w", err)
		}
		if ok {
			r.audit.Publish(ctx, event.CustomerID, domain.AuditAlertEventSent,
				"alert_event", event.ID.String(), nil)
			logger.Info("Alert delivered")
		}
		return true, nil
	}

	errMsg := "all channels failed"
	if lastErr != nil {
		errMsg = lastErr.Error()
	}
	ok, err := r.events.MarkFailed(ctx, event.CustomerID, event.ID, errMsg)
	if err != nil {
		return false, fmt.Errorf("marking alert failed: %w", err)
	}
	if ok {
		r.audit.Publish(ctx, event.CustomerID, domain.AuditAlertEventFailed,
			"alert_event", event.ID.String(), map[string]interface{}{"error": errMsg})
		logger.WithField("error", errMsg).Warn("Alert delivery failed")
	}
	return false, nil
}

// resolveChannels picks delivery targets: rule routing channels first, then
// all of the customer's enabled channels, then the system-default email.
// The default is represented as a nil slice; dispatch handles it.
func (r *Router) resolveChannels(ctx context.Context, event *domain.AlertEvent) ([]*domain.NotificationChannel, error) {
	rule, err := r.rules.GetRule(ctx, event.CustomerID, event.AlertRuleID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	if rule != nil && len(rule.RoutingChannelIDs) > 0 {
		channels, err := r.channels.GetChannels(ctx, event.CustomerID, rule.RoutingChannelIDs)
		if err != nil {
			return nil, err
		}
		if len(channels) > 0 {
			return channels, nil
		}
	}

	return r.channels.ListEnabledChannels(ctx, event.CustomerID)
}

// dispatch attempts each channel independently; one success is enough.
// Webhook channels are deferred to the async delivery path and only logged
// here. When nothing was attempted the system-default email is used.
func (r *Router) dispatch(ctx context.Context, event *domain.AlertEvent, channels []*domain.NotificationChannel, logger *logrus.Entry) (bool, error) {
	var delivered bool
	var attempted int
	var lastErr error

	for _, ch := range channels {
		switch ch.ChannelType {
		case domain.ChannelEmail:
			attempted++
			if err := r.email.Deliver(ctx, event, ch.Config.Recipients); err != nil {
				lastErr = err
				logger.WithError(err).WithField("channel", ch.Name).Warn("Email delivery failed")
			} else {
				delivered = true
			}
		case domain.ChannelSlack:
			attempted++
			if err := r.slack.Deliver(ctx, event, ch.Config.WebhookURL); err != nil {
				lastErr = err
				logger.WithError(err).WithField("channel", ch.Name).Warn("Slack delivery failed")
			} else {
				delivered = true
			}
		case domain.ChannelWebhook:
			logger.WithField("channel", ch.Name).Info("Webhook channel deferred to async delivery")
		default:
			logger.WithField("channel_type", ch.ChannelType).Warn("Unknown channel type skipped")
		}
	}

	if attempted == 0 {
		if err := r.email.Deliver(ctx, event, []string{r.config.DefaultAlertEmail}); err != nil {
			return false, err
		}
		return true, nil
	}

	return delivered, lastErr
}

// ProcessPending sends every pending alert event, isolating failures so one
// bad alert never aborts the batch.
func (r *Router) ProcessPending(ctx context.Context) (*domain.ProcessResult, error) {
	pending, err := r.events.ListPendingEvents(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing pending alerts: %w", err)
	}

	result := &domain.ProcessResult{Total: len(pending)}
	for _, event := range pending {
		ok, err := r.Send(ctx, event)
		if err != nil {
			r.log.WithError(err).WithField("alert_event_id", event.ID).
				Error("Alert processing errored")
			result.Failed++
			continue
		}
		if ok {
			result.Sent++
		} else {
			result.Failed++
		}
	}

	r.log.WithFields(logrus.Fields{
		"total":  result.Total,
		"sent":   result.Sent,
		"failed": result.Failed,
	}).Info("Pending alert batch processed")

	return result, nil
}

// ResetFailed transitions a failed event back to pending for reprocessing.
// This is the manual operator action; nothing in the pipeline calls it.
func (r *Router) ResetFailed(ctx context.Context, customerID, eventID uuid.UUID) error {
	ok, err := r.events.ResetToPending(ctx, customerID, eventID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("event %s is not in failed status: %w", eventID, domain.ErrInvalidInput)
	}
	r.log.WithFields(logrus.Fields{
		"customer_id":    customerID,
		"alert_event_id": eventID,
	}).Info("Failed alert reset to pending")
	return nil
}
