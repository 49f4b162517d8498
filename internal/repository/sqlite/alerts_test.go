package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/payrixa/driftwatch/internal/domain"
)

func testEvent(customerID uuid.UUID, driftEventID *uuid.UUID, status domain.AlertStatus) *domain.AlertEvent {
	return &domain.AlertEvent{
		ID:           uuid.New(),
		CustomerID:   customerID,
		AlertRuleID:  uuid.New(),
		DriftEventID: driftEventID,
		TriggeredAt:  time.Now().UTC(),
		Status:       status,
		Payload: domain.AlertPayload{
			ProductName: "DenialScope",
			SignalType:  domain.DriftTypeDenialRate,
			EntityLabel: "Aetna / office_visits",
			Payer:       "Aetna",
			CPTGroup:    "office_visits",
			DriftType:   domain.DriftTypeDenialRate,
			RuleName:    "denial spike",
		},
	}
}

func TestCreateAlertEvent_DeduplicatesOnSignalRulePair(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	customerID := uuid.New()
	driftEventID := uuid.New()

	first := testEvent(customerID, &driftEventID, domain.StatusPending)

	created, isNew, err := store.CreateAlertEvent(ctx, first)
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.Equal(t, first.ID, created.ID)

	// Same (signal, rule) pair: the original event comes back.
	dup := testEvent(customerID, &driftEventID, domain.StatusPending)
	dup.AlertRuleID = first.AlertRuleID

	existing, isNew, err := store.CreateAlertEvent(ctx, dup)
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, first.ID, existing.ID)
	assert.Equal(t, "DenialScope", existing.Payload.ProductName)

	// A different rule on the same signal creates a separate event.
	other := testEvent(customerID, &driftEventID, domain.StatusPending)
	_, isNew, err = store.CreateAlertEvent(ctx, other)
	require.NoError(t, err)
	assert.True(t, isNew)
}

func TestMarkSent_OnlyFromPending(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	customerID := uuid.New()
	driftEventID := uuid.New()

	event := testEvent(customerID, &driftEventID, domain.StatusPending)
	_, _, err := store.CreateAlertEvent(ctx, event)
	require.NoError(t, err)

	sentAt := time.Now().UTC()
	ok, err := store.MarkSent(ctx, customerID, event.ID, sentAt, "")
	require.NoError(t, err)
	assert.True(t, ok)

	// Second transition loses.
	ok, err = store.MarkSent(ctx, customerID, event.ID, sentAt, "")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.MarkFailed(ctx, customerID, event.ID, "smtp timeout")
	require.NoError(t, err)
	assert.False(t, ok, "sent events must not transition to failed")

	got, err := store.GetAlertEvent(ctx, customerID, event.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSent, got.Status)
	require.NotNil(t, got.NotificationSentAt)
}

func TestMarkFailed_RecordsErrorMessage(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	customerID := uuid.New()
	driftEventID := uuid.New()

	event := testEvent(customerID, &driftEventID, domain.StatusPending)
	_, _, err := store.CreateAlertEvent(ctx, event)
	require.NoError(t, err)

	ok, err := store.MarkFailed(ctx, customerID, event.ID, "all channels failed")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := store.GetAlertEvent(ctx, customerID, event.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Equal(t, "all channels failed", got.ErrorMessage)
	assert.Nil(t, got.NotificationSentAt)
}

func TestResetToPending_OnlyFromFailed(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	customerID := uuid.New()
	driftEventID := uuid.New()

	event := testEvent(customerID, &driftEventID, domain.StatusPending)
	_, _, err := store.CreateAlertEvent(ctx, event)
	require.NoError(t, err)

	// Pending events cannot be reset.
	ok, err := store.ResetToPending(ctx, customerID, event.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.MarkFailed(ctx, customerID, event.ID, "all channels failed")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.ResetToPending(ctx, customerID, event.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := store.GetAlertEvent(ctx, customerID, event.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, got.Status)
	assert.Empty(t, got.ErrorMessage)
}

func TestListPendingEvents_OldestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	customerID := uuid.New()

	older := testEvent(customerID, nil, domain.StatusPending)
	older.TriggeredAt = time.Now().UTC().Add(-2 * time.Hour)
	newer := testEvent(customerID, nil, domain.StatusPending)
	newer.TriggeredAt = time.Now().UTC()

	for _, ev := range []*domain.AlertEvent{newer, older} {
		_, _, err := store.CreateAlertEvent(ctx, ev)
		require.NoError(t, err)
	}

	pending, err := store.ListPendingEvents(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, older.ID, pending[0].ID)
	assert.Equal(t, newer.ID, pending[1].ID)
}

func TestListAlertEvents_StatusFilter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	customerID := uuid.New()

	pending := testEvent(customerID, nil, domain.StatusPending)
	_, _, err := store.CreateAlertEvent(ctx, pending)
	require.NoError(t, err)

	failed := testEvent(customerID, nil, domain.StatusPending)
	_, _, err = store.CreateAlertEvent(ctx, failed)
	require.NoError(t, err)
	_, err = store.MarkFailed(ctx, customerID, failed.ID, "boom")
	require.NoError(t, err)

	got, err := store.ListAlertEvents(ctx, customerID, domain.StatusFailed, 10, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, failed.ID, got[0].ID)

	all, err := store.ListAlertEvents(ctx, customerID, "", 10, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestLatestSent_WindowAndKeyMatching(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	customerID := uuid.New()
	now := time.Now().UTC()
	deliveredAt := now.Add(-1 * time.Hour)

	sent := testEvent(customerID, nil, domain.StatusPending)
	_, _, err := store.CreateAlertEvent(ctx, sent)
	require.NoError(t, err)
	_, err = store.MarkSent(ctx, customerID, sent.ID, deliveredAt, "")
	require.NoError(t, err)

	key := domain.SuppressionEvidence{
		ProductName: "DenialScope",
		SignalType:  domain.DriftTypeDenialRate,
		EntityLabel: "Aetna / office_visits",
	}

	// Sent one hour ago, inside a 4h cooldown: the delivery time surfaces.
	sentAt, err := store.LatestSent(ctx, customerID, key, now.Add(-4*time.Hour))
	require.NoError(t, err)
	require.NotNil(t, sentAt)
	assert.WithinDuration(t, deliveredAt, *sentAt, time.Second)

	// Outside a 30m cooldown.
	sentAt, err = store.LatestSent(ctx, customerID, key, now.Add(-30*time.Minute))
	require.NoError(t, err)
	assert.Nil(t, sentAt)

	// Different entity label does not match.
	otherKey := key
	otherKey.EntityLabel = "Cigna / imaging"
	sentAt, err = store.LatestSent(ctx, customerID, otherKey, now.Add(-4*time.Hour))
	require.NoError(t, err)
	assert.Nil(t, sentAt)

	// Tenant isolation.
	sentAt, err = store.LatestSent(ctx, uuid.New(), key, now.Add(-4*time.Hour))
	require.NoError(t, err)
	assert.Nil(t, sentAt)
}

func TestCountNoiseJudgments_ScanLimit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	customerID := uuid.New()

	key := domain.SuppressionEvidence{
		ProductName: "DenialScope",
		SignalType:  domain.DriftTypeDenialRate,
		EntityLabel: "Aetna / office_visits",
	}

	// Three resolved events with noise judgments, oldest first.
	for i := 0; i < 3; i++ {
		ev := testEvent(customerID, nil, domain.StatusPending)
		ev.TriggeredAt = time.Now().UTC().Add(time.Duration(-3+i) * time.Hour)
		_, _, err := store.CreateAlertEvent(ctx, ev)
		require.NoError(t, err)

		_, err = store.db.Exec(`UPDATE alert_events SET status = 'resolved' WHERE id = ?`, ev.ID)
		require.NoError(t, err)

		require.NoError(t, store.CreateJudgment(ctx, &domain.OperatorJudgment{
			ID:           uuid.New(),
			CustomerID:   customerID,
			AlertEventID: ev.ID,
			Verdict:      domain.VerdictNoise,
		}))
	}

	count, err := store.CountNoiseJudgments(ctx, customerID, key, 10)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	// Scan limit bounds the lookback to the most recent events.
	count, err = store.CountNoiseJudgments(ctx, customerID, key, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// A non-noise verdict does not count.
	other := domain.SuppressionEvidence{
		ProductName: "DenialScope",
		SignalType:  domain.DriftTypeDenialRate,
		EntityLabel: "Cigna / imaging",
	}
	count, err = store.CountNoiseJudgments(ctx, customerID, other, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}
