package alerts

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/payrixa/driftwatch/internal/domain"
)

// fakeRuleStore serves a fixed rule set.
type fakeRuleStore struct {
	rules []*domain.AlertRule
	calls int
}

func (f *fakeRuleStore) ListEnabledRules(ctx context.Context, customerID uuid.UUID) ([]*domain.AlertRule, error) {
	f.calls++
	var out []*domain.AlertRule
	for _, r := range f.rules {
		if r.CustomerID == customerID && r.Enabled {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRuleStore) GetRule(ctx context.Context, customerID, ruleID uuid.UUID) (*domain.AlertRule, error) {
	for _, r := range f.rules {
		if r.CustomerID == customerID && r.ID == ruleID {
			return r, nil
		}
	}
	return nil, domain.ErrNotFound
}

// fakeChannelStore serves a fixed channel set.
type fakeChannelStore struct {
	channels []*domain.NotificationChannel
}

func (f *fakeChannelStore) ListEnabledChannels(ctx context.Context, customerID uuid.UUID) ([]*domain.NotificationChannel, error) {
	var out []*domain.NotificationChannel
	for _, ch := range f.channels {
		if ch.CustomerID == customerID && ch.Enabled {
			out = append(out, ch)
		}
	}
	return out, nil
}

func (f *fakeChannelStore) GetChannels(ctx context.Context, customerID uuid.UUID, channelIDs []uuid.UUID) ([]*domain.NotificationChannel, error) {
	var out []*domain.NotificationChannel
	for _, ch := range f.channels {
		if ch.CustomerID != customerID || !ch.Enabled {
			continue
		}
		for _, id := range channelIDs {
			if ch.ID == id {
				out = append(out, ch)
				break
			}
		}
	}
	return out, nil
}

// fakeEventStore implements AlertEventStore in memory with the same
// conditional-transition semantics as the real stores.
type fakeEventStore struct {
	mu     sync.Mutex
	events map[uuid.UUID]*domain.AlertEvent

	noiseCounts map[domain.SuppressionEvidence]int
}

func newFakeEventStore() *fakeEventStore {
	return &fakeEventStore{
		events:      make(map[uuid.UUID]*domain.AlertEvent),
		noiseCounts: make(map[domain.SuppressionEvidence]int),
	}
}

func (f *fakeEventStore) CreateAlertEvent(ctx context.Context, event *domain.AlertEvent) (*domain.AlertEvent, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if event.DriftEventID != nil {
		for _, existing := range f.events {
			if existing.DriftEventID != nil &&
				*existing.DriftEventID == *event.DriftEventID &&
				existing.AlertRuleID == event.AlertRuleID {
				return existing, false, nil
			}
		}
	}
	copied := *event
	f.events[event.ID] = &copied
	return &copied, true, nil
}

func (f *fakeEventStore) GetAlertEvent(ctx context.Context, customerID, eventID uuid.UUID) (*domain.AlertEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev, ok := f.events[eventID]
	if !ok || ev.CustomerID != customerID {
		return nil, domain.ErrNotFound
	}
	copied := *ev
	return &copied, nil
}

func (f *fakeEventStore) ListAlertEvents(ctx context.Context, customerID uuid.UUID, status domain.AlertStatus, limit, offset int) ([]*domain.AlertEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.AlertEvent
	for _, ev := range f.events {
		if ev.CustomerID == customerID && (status == "" || ev.Status == status) {
			copied := *ev
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (f *fakeEventStore) ListPendingEvents(ctx context.Context) ([]*domain.AlertEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.AlertEvent
	for _, ev := range f.events {
		if ev.Status == domain.StatusPending {
			copied := *ev
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (f *fakeEventStore) MarkSent(ctx context.Context, customerID, eventID uuid.UUID, sentAt time.Time, errorMessage string) (bool, error) {
	return f.transition(customerID, eventID, domain.StatusPending, func(ev *domain.AlertEvent) {
		ev.Status = domain.StatusSent
		ev.NotificationSentAt = &sentAt
		ev.ErrorMessage = errorMessage
	})
}

func (f *fakeEventStore) MarkFailed(ctx context.Context, customerID, eventID uuid.UUID, errorMessage string) (bool, error) {
	return f.transition(customerID, eventID, domain.StatusPending, func(ev *domain.AlertEvent) {
		ev.Status = domain.StatusFailed
		ev.ErrorMessage = errorMessage
	})
}

func (f *fakeEventStore) ResetToPending(ctx context.Context, customerID, eventID uuid.UUID) (bool, error) {
	return f.transition(customerID, eventID, domain.StatusFailed, func(ev *domain.AlertEvent) {
		ev.Status = domain.StatusPending
		ev.ErrorMessage = ""
	})
}

func (f *fakeEventStore) transition(customerID, eventID uuid.UUID, from domain.AlertStatus, apply func(*domain.AlertEvent)) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev, ok := f.events[eventID]
	if !ok || ev.CustomerID != customerID || ev.Status != from {
		return false, nil
	}
	apply(ev)
	return true, nil
}

func (f *fakeEventStore) LatestSent(ctx context.Context, customerID uuid.UUID, key domain.SuppressionEvidence, since time.Time) (*time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *time.Time
	for _, ev := range f.events {
		if ev.CustomerID != customerID || ev.Status != domain.StatusSent || ev.NotificationSentAt == nil {
			continue
		}
		if ev.NotificationSentAt.Before(since) {
			continue
		}
		if ev.Payload.ProductName != key.ProductName ||
			ev.Payload.SignalType != key.SignalType ||
			ev.Payload.EntityLabel != key.EntityLabel {
			continue
		}
		if latest == nil || ev.NotificationSentAt.After(*latest) {
			sentAt := *ev.NotificationSentAt
			latest = &sentAt
		}
	}
	return latest, nil
}

func (f *fakeEventStore) CountNoiseJudgments(ctx context.Context, customerID uuid.UUID, key domain.SuppressionEvidence, scanLimit int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key.Severity = nil
	return f.noiseCounts[key], nil
}

// fakeAudit records published audit actions.
type fakeAudit struct {
	mu      sync.Mutex
	actions []string
}

func (f *fakeAudit) Publish(ctx context.Context, customerID uuid.UUID, action, entityType, entityID string, metadata map[string]interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, action)
}

func (f *fakeAudit) count(action string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, a := range f.actions {
		if a == action {
			n++
		}
	}
	return n
}

// mockEmail counts deliveries and optionally fails.
type mockEmail struct {
	mu         sync.Mutex
	calls      int
	recipients [][]string
	err        error
}

func (m *mockEmail) Deliver(ctx context.Context, event *domain.AlertEvent, recipients []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.recipients = append(m.recipients, recipients)
	return m.err
}

// mockSlack counts deliveries and optionally fails.
type mockSlack struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (m *mockSlack) Deliver(ctx context.Context, event *domain.AlertEvent, webhookURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return fmt.Errorf("slack: %w", m.err)
	}
	return nil
}
