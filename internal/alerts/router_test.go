package alerts

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/payrixa/driftwatch/internal/domain"
)

type routerHarness struct {
	events   *fakeEventStore
	channels *fakeChannelStore
	rules    *fakeRuleStore
	email    *mockEmail
	slack    *mockSlack
	audit    *fakeAudit
	router   *Router
}

func newRouterHarness(t *testing.T) *routerHarness {
	t.Helper()
	h := &routerHarness{
		events:   newFakeEventStore(),
		channels: &fakeChannelStore{},
		rules:    &fakeRuleStore{},
		email:    &mockEmail{},
		slack:    &mockSlack{},
		audit:    &fakeAudit{},
	}
	suppression := NewSuppressionEngine(h.events, nil, testAlertingConfig(), testLogger())
	h.router = NewRouter(h.events, h.channels, h.rules, suppression,
		h.email, h.slack, h.audit, testAlertingConfig(), testLogger())
	return h
}

func (h *routerHarness) addChannel(customerID uuid.UUID, channelType domain.ChannelType, enabled bool) *domain.NotificationChannel {
	ch := &domain.NotificationChannel{
		ID:          uuid.New(),
		CustomerID:  customerID,
		Name:        string(channelType) + " channel",
		ChannelType: channelType,
		Enabled:     enabled,
		Config: domain.ChannelConfig{
			Recipients: []string{"ops@example.com"},
			WebhookURL: "https://hooks.slack.com/services/T0/B0/x",
		},
	}
	h.channels.channels = append(h.channels.channels, ch)
	return ch
}

func (h *routerHarness) pendingEvent(customerID uuid.UUID) *domain.AlertEvent {
	driftID := uuid.New()
	event := &domain.AlertEvent{
		ID:           uuid.New(),
		CustomerID:   customerID,
		AlertRuleID:  uuid.New(),
		DriftEventID: &driftID,
		TriggeredAt:  time.Now().UTC(),
		Status:       domain.StatusPending,
		Payload: domain.AlertPayload{
			ProductName: ProductDriftWatch,
			SignalType:  domain.DriftTypeDenialRate,
			EntityLabel: "Aetna / office_visits",
		},
	}
	h.events.events[event.ID] = event
	return event
}

func TestSend_DeliversAndMarksSent(t *testing.T) {
	h := newRouterHarness(t)
	customerID := uuid.New()
	h.addChannel(customerID, domain.ChannelEmail, true)
	event := h.pendingEvent(customerID)

	ok, err := h.router.Send(context.Background(), event)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, h.email.calls)
	assert.Equal(t, [][]string{{"ops@example.com"}}, h.email.recipients)

	stored, err := h.events.GetAlertEvent(context.Background(), customerID, event.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSent, stored.Status)
	require.NotNil(t, stored.NotificationSentAt)
	assert.Equal(t, 1, h.audit.count(domain.AuditAlertEventSent))
}

func TestSend_IdempotentAfterSent(t *testing.T) {
	h := newRouterHarness(t)
	customerID := uuid.New()
	h.addChannel(customerID, domain.ChannelEmail, true)
	event := h.pendingEvent(customerID)

	ok, err := h.router.Send(context.Background(), event)
	require.NoError(t, err)
	require.True(t, ok)

	// Reload to pick up the sent status, as a batch processor would.
	stored, err := h.events.GetAlertEvent(context.Background(), customerID, event.ID)
	require.NoError(t, err)

	ok, err = h.router.Send(context.Background(), stored)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, h.email.calls, "sent events are never redelivered")
	assert.Equal(t, 1, h.audit.count(domain.AuditAlertEventSent))
}

func TestSend_PartialChannelFailureStillSent(t *testing.T) {
	h := newRouterHarness(t)
	customerID := uuid.New()
	h.addChannel(customerID, domain.ChannelEmail, true)
	h.addChannel(customerID, domain.ChannelSlack, true)
	h.slack.err = errors.New("webhook 500")
	event := h.pendingEvent(customerID)

	ok, err := h.router.Send(context.Background(), event)
	require.NoError(t, err)
	assert.True(t, ok, "one successful channel is enough")

	stored, err := h.events.GetAlertEvent(context.Background(), customerID, event.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSent, stored.Status)
}

func TestSend_AllChannelsFailMarksFailed(t *testing.T) {
	h := newRouterHarness(t)
	customerID := uuid.New()
	h.addChannel(customerID, domain.ChannelEmail, true)
	h.email.err = errors.New("smtp connection refused")
	event := h.pendingEvent(customerID)

	ok, err := h.router.Send(context.Background(), event)
	require.NoError(t, err)
	assert.False(t, ok)

	stored, err := h.events.GetAlertEvent(context.Background(), customerID, event.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, stored.Status)
	assert.Contains(t, stored.ErrorMessage, "smtp connection refused")
	assert.Equal(t, 1, h.audit.count(domain.AuditAlertEventFailed))
}

func TestSend_FailedEventIsTerminal(t *testing.T) {
	h := newRouterHarness(t)
	customerID := uuid.New()
	h.addChannel(customerID, domain.ChannelEmail, true)
	event := h.pendingEvent(customerID)
	event.Status = domain.StatusFailed

	ok, err := h.router.Send(context.Background(), event)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, h.email.calls, "failed events are not retried implicitly")
}

func TestSend_NoChannelsUsesDefaultEmail(t *testing.T) {
	h := newRouterHarness(t)
	customerID := uuid.New()
	event := h.pendingEvent(customerID)

	ok, err := h.router.Send(context.Background(), event)
	require.NoError(t, err)
	assert.True(t, ok)
	require.Equal(t, 1, h.email.calls)
	assert.Equal(t, []string{"alerts@example.com"}, h.email.recipients[0])
}

func TestSend_WebhookOnlyFallsBackToDefaultEmail(t *testing.T) {
	h := newRouterHarness(t)
	customerID := uuid.New()
	h.addChannel(customerID, domain.ChannelWebhook, true)
	event := h.pendingEvent(customerID)

	ok, err := h.router.Send(context.Background(), event)
	require.NoError(t, err)
	assert.True(t, ok)
	require.Equal(t, 1, h.email.calls, "webhook channels defer; default email covers the alert")
	assert.Equal(t, []string{"alerts@example.com"}, h.email.recipients[0])
	assert.Zero(t, h.slack.calls)
}

func TestSend_RuleRoutingOverridesEnabledChannels(t *testing.T) {
	h := newRouterHarness(t)
	customerID := uuid.New()
	h.addChannel(customerID, domain.ChannelEmail, true)
	slackChannel := h.addChannel(customerID, domain.ChannelSlack, true)

	event := h.pendingEvent(customerID)
	rule := severityRule(customerID, domain.ThresholdGTE, 0.5)
	rule.ID = event.AlertRuleID
	rule.RoutingChannelIDs = []uuid.UUID{slackChannel.ID}
	h.rules.rules = append(h.rules.rules, rule)

	ok, err := h.router.Send(context.Background(), event)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, h.slack.calls)
	assert.Zero(t, h.email.calls, "routing pins delivery to the named channels")
}

func TestSend_SuppressedMarksSentWithoutDelivery(t *testing.T) {
	h := newRouterHarness(t)
	customerID := uuid.New()
	h.addChannel(customerID, domain.ChannelEmail, true)

	// A recent delivery for the same suppression key puts the new alert
	// inside the cooldown window.
	sentEventAt(h.events, customerID, "Aetna / office_visits", time.Now().UTC().Add(-time.Hour))
	event := h.pendingEvent(customerID)

	ok, err := h.router.Send(context.Background(), event)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Zero(t, h.email.calls)
	assert.Zero(t, h.slack.calls)

	stored, err := h.events.GetAlertEvent(context.Background(), customerID, event.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSent, stored.Status)
	assert.Equal(t, "suppressed", stored.ErrorMessage)
}

func TestProcessPending_CountsOutcomes(t *testing.T) {
	h := newRouterHarness(t)
	goodCustomer := uuid.New()
	badCustomer := uuid.New()
	h.addChannel(goodCustomer, domain.ChannelEmail, true)
	badChannel := h.addChannel(badCustomer, domain.ChannelSlack, true)
	badChannel.Config.WebhookURL = "https://hooks.slack.com/services/T0/B0/bad"
	h.slack.err = errors.New("webhook unreachable")

	h.pendingEvent(goodCustomer)
	h.pendingEvent(goodCustomer)
	h.pendingEvent(badCustomer)

	result, err := h.router.ProcessPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, result.Total)
	assert.Equal(t, 2, result.Sent)
	assert.Equal(t, 1, result.Failed)
}

func TestResetFailed(t *testing.T) {
	h := newRouterHarness(t)
	customerID := uuid.New()
	event := h.pendingEvent(customerID)
	event.Status = domain.StatusFailed
	event.ErrorMessage = "smtp connection refused"

	require.NoError(t, h.router.ResetFailed(context.Background(), customerID, event.ID))

	stored, err := h.events.GetAlertEvent(context.Background(), customerID, event.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, stored.Status)
	assert.Empty(t, stored.ErrorMessage)

	// Resetting a non-failed event is rejected.
	err = h.router.ResetFailed(context.Background(), customerID, event.ID)
	require.ErrorIs(t, err, domain.ErrInvalidInput)
}
