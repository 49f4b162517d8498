package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/payrixa/driftwatch/internal/domain"
)

// AlertEventRepository persists alert events in Postgres.
type AlertEventRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewAlertEventRepository creates a new alert event repository
func NewAlertEventRepository(db *pgxpool.Pool, logger *logrus.Logger) *AlertEventRepository {
	return &AlertEventRepository{
		db:  db,
		log: logger,
	}
}

const alertEventColumns = `
	id, customer_id, alert_rule_id, drift_event_id, report_run_id,
	triggered_at, status, payload, notification_sent_at, error_message`

// CreateAlertEvent inserts the event, deduplicating on the
// (drift_event_id, alert_rule_id) unique index. When another evaluation
// already created an event for the pair, the existing event is returned and
// the second return value is false.
func (r *AlertEventRepository) CreateAlertEvent(ctx context.Context, event *domain.AlertEvent) (*domain.AlertEvent, bool, error) {
	query := `
		INSERT INTO alert_events (
			id, customer_id, alert_rule_id, drift_event_id, report_run_id,
			triggered_at, status, payload, error_message
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (drift_event_id, alert_rule_id) WHERE drift_event_id IS NOT NULL
		DO NOTHING`

	ct, err := r.db.Exec(ctx, query,
		event.ID,
		event.CustomerID,
		event.AlertRuleID,
		event.DriftEventID,
		event.ReportRunID,
		event.TriggeredAt,
		event.Status,
		event.Payload,
		event.ErrorMessage,
	)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"customer_id":   event.CustomerID,
			"alert_rule_id": event.AlertRuleID,
			"error":         err,
		}).Error("Failed to create alert event")
		return nil, false, fmt.Errorf("creating alert event: %w", err)
	}

	if ct.RowsAffected() == 1 {
		return event, true, nil
	}

	// Lost the race: fetch the event that won.
	existing, err := r.getByPair(ctx, event.CustomerID, *event.DriftEventID, event.AlertRuleID)
	if err != nil {
		return nil, false, fmt.Errorf("fetching existing alert event: %w", err)
	}
	return existing, false, nil
}

func (r *AlertEventRepository) getByPair(ctx context.Context, customerID, driftEventID, ruleID uuid.UUID) (*domain.AlertEvent, error) {
	query := `
		SELECT ` + alertEventColumns + `
		FROM alert_events
		WHERE customer_id = $1 AND drift_event_id = $2 AND alert_rule_id = $3`

	return scanAlertEvent(r.db.QueryRow(ctx, query, customerID, driftEventID, ruleID))
}

// GetAlertEvent retrieves an alert event by ID within the customer scope
func (r *AlertEventRepository) GetAlertEvent(ctx context.Context, customerID, eventID uuid.UUID) (*domain.AlertEvent, error) {
	query := `
		SELECT ` + alertEventColumns + `
		FROM alert_events
		WHERE customer_id = $1 AND id = $2`

	event, err := scanAlertEvent(r.db.QueryRow(ctx, query, customerID, eventID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("alert event not found: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("getting alert event: %w", err)
	}
	return event, nil
}

// ListAlertEvents retrieves alert events for a customer, optionally filtered
// by status. An empty status matches all statuses.
func (r *AlertEventRepository) ListAlertEvents(ctx context.Context, customerID uuid.UUID, status domain.AlertStatus, limit, offset int) ([]*domain.AlertEvent, error) {
	query := `
		SELECT ` + alertEventColumns + `
		FROM alert_events
		WHERE customer_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY triggered_at DESC
		LIMIT $3 OFFSET $4`

	rows, err := r.db.Query(ctx, query, customerID, string(status), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing alert events: %w", err)
	}
	defer rows.Close()

	return collectAlertEvents(rows)
}

// ListPendingEvents retrieves pending alert events across all customers,
// oldest first, for the batch processor.
func (r *AlertEventRepository) ListPendingEvents(ctx context.Context) ([]*domain.AlertEvent, error) {
	query := `
		SELECT ` + alertEventColumns + `
		FROM alert_events
		WHERE status = 'pending'
		ORDER BY triggered_at ASC`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing pending alert events: %w", err)
	}
	defer rows.Close()

	return collectAlertEvents(rows)
}

// MarkSent transitions pending->sent. Returns false when the event was not
// pending, so concurrent processors cannot both claim a send.
func (r *AlertEventRepository) MarkSent(ctx context.Context, customerID, eventID uuid.UUID, sentAt time.Time, errorMessage string) (bool, error) {
	query := `
		UPDATE alert_events
		SET status = 'sent', notification_sent_at = $1, error_message = $2
		WHERE customer_id = $3 AND id = $4 AND status = 'pending'`

	ct, err := r.db.Exec(ctx, query, sentAt, errorMessage, customerID, eventID)
	if err != nil {
		return false, fmt.Errorf("marking alert event sent: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

// MarkFailed transitions pending->failed.
func (r *AlertEventRepository) MarkFailed(ctx context.Context, customerID, eventID uuid.UUID, errorMessage string) (bool, error) {
	query := `
		UPDATE alert_events
		SET status = 'failed', error_message = $1
		WHERE customer_id = $2 AND id = $3 AND status = 'pending'`

	ct, err := r.db.Exec(ctx, query, errorMessage, customerID, eventID)
	if err != nil {
		return false, fmt.Errorf("marking alert event failed: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

// ResetToPending transitions failed->pending so a failed alert can be
// reprocessed after manual intervention.
func (r *AlertEventRepository) ResetToPending(ctx context.Context, customerID, eventID uuid.UUID) (bool, error) {
	query := `
		UPDATE alert_events
		SET status = 'pending', error_message = ''
		WHERE customer_id = $1 AND id = $2 AND status = 'failed'`

	ct, err := r.db.Exec(ctx, query, customerID, eventID)
	if err != nil {
		return false, fmt.Errorf("resetting alert event: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

// LatestSent returns the newest delivery time among sent events with the
// same suppression key at or after since, nil when none exists.
func (r *AlertEventRepository) LatestSent(ctx context.Context, customerID uuid.UUID, key domain.SuppressionEvidence, since time.Time) (*time.Time, error) {
	query := `
		SELECT MAX(notification_sent_at)
		FROM alert_events
		WHERE customer_id = $1
		  AND status = 'sent'
		  AND notification_sent_at >= $2
		  AND payload->>'product_name' = $3
		  AND payload->>'signal_type' = $4
		  AND payload->>'entity_label' = $5`

	var sentAt *time.Time
	err := r.db.QueryRow(ctx, query, customerID, since,
		key.ProductName, key.SignalType, key.EntityLabel).Scan(&sentAt)
	if err != nil {
		return nil, fmt.Errorf("checking recent sent alerts: %w", err)
	}
	return sentAt, nil
}

// CountNoiseJudgments counts noise verdicts attached to the most recent
// resolved events sharing the suppression key, scanning at most scanLimit
// events.
func (r *AlertEventRepository) CountNoiseJudgments(ctx context.Context, customerID uuid.UUID, key domain.SuppressionEvidence, scanLimit int) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM operator_judgments j
		JOIN (
			SELECT id FROM alert_events
			WHERE customer_id = $1
			  AND status = 'resolved'
			  AND payload->>'product_name' = $2
			  AND payload->>'signal_type' = $3
			  AND payload->>'entity_label' = $4
			ORDER BY triggered_at DESC
			LIMIT $5
		) e ON e.id = j.alert_event_id
		WHERE j.customer_id = $1 AND j.verdict = 'noise'`

	var count int
	err := r.db.QueryRow(ctx, query, customerID,
		key.ProductName, key.SignalType, key.EntityLabel, scanLimit).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting noise judgments: %w", err)
	}
	return count, nil
}

func scanAlertEvent(row rowScanner) (*domain.AlertEvent, error) {
	var event domain.AlertEvent
	err := row.Scan(
		&event.ID,
		&event.CustomerID,
		&event.AlertRuleID,
		&event.DriftEventID,
		&event.ReportRunID,
		&event.TriggeredAt,
		&event.Status,
		&event.Payload,
		&event.NotificationSentAt,
		&event.ErrorMessage,
	)
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func collectAlertEvents(rows pgx.Rows) ([]*domain.AlertEvent, error) {
	var events []*domain.AlertEvent
	for rows.Next() {
		event, err := scanAlertEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning alert event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating alert events: %w", err)
	}
	return events, nil
}
