package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/payrixa/driftwatch/internal/domain"
)

const alertEventColumns = `
	id, customer_id, alert_rule_id, drift_event_id, report_run_id,
	triggered_at, status, payload, notification_sent_at, error_message`

// CreateAlertEvent inserts the event, deduplicating on the
// (drift_event_id, alert_rule_id) unique index via INSERT OR IGNORE. The
// existing event is returned when the insert was a duplicate.
func (s *Store) CreateAlertEvent(ctx context.Context, event *domain.AlertEvent) (*domain.AlertEvent, bool, error) {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return nil, false, fmt.Errorf("marshaling alert payload: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO alert_events (
			id, customer_id, alert_rule_id, drift_event_id, report_run_id,
			triggered_at, status, payload, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		event.ID, event.CustomerID, event.AlertRuleID,
		nullUUID(event.DriftEventID), nullUUID(event.ReportRunID),
		event.TriggeredAt, event.Status, string(payload), event.ErrorMessage,
	)
	if err != nil {
		return nil, false, fmt.Errorf("creating alert event: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("checking alert event insert: %w", err)
	}
	if affected == 1 {
		return event, true, nil
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT `+alertEventColumns+`
		FROM alert_events
		WHERE customer_id = ? AND drift_event_id = ? AND alert_rule_id = ?
	`, event.CustomerID, nullUUID(event.DriftEventID), event.AlertRuleID)

	existing, err := scanAlertEvent(row)
	if err != nil {
		return nil, false, fmt.Errorf("fetching existing alert event: %w", err)
	}
	return existing, false, nil
}

// GetAlertEvent retrieves an alert event by ID within the customer scope.
func (s *Store) GetAlertEvent(ctx context.Context, customerID, eventID uuid.UUID) (*domain.AlertEvent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+alertEventColumns+`
		FROM alert_events
		WHERE customer_id = ? AND id = ?
	`, customerID, eventID)

	event, err := scanAlertEvent(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("alert event not found: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting alert event: %w", err)
	}
	return event, nil
}

// ListAlertEvents retrieves alert events for a customer, optionally
// filtered by status.
func (s *Store) ListAlertEvents(ctx context.Context, customerID uuid.UUID, status domain.AlertStatus, limit, offset int) ([]*domain.AlertEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+alertEventColumns+`
		FROM alert_events
		WHERE customer_id = ? AND (? = '' OR status = ?)
		ORDER BY triggered_at DESC
		LIMIT ? OFFSET ?
	`, customerID, string(status), string(status), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing alert events: %w", err)
	}
	defer rows.Close()

	return collectAlertEvents(rows)
}

// ListPendingEvents retrieves pending alert events across all customers,
// oldest first.
func (s *Store) ListPendingEvents(ctx context.Context) ([]*domain.AlertEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+alertEventColumns+`
		FROM alert_events
		WHERE status = 'pending'
		ORDER BY triggered_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("listing pending alert events: %w", err)
	}
	defer rows.Close()

	return collectAlertEvents(rows)
}

// MarkSent transitions pending->sent atomically.
func (s *Store) MarkSent(ctx context.Context, customerID, eventID uuid.UUID, sentAt time.Time, errorMessage string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE alert_events
		SET status = 'sent', notification_sent_at = ?, error_message = ?
		WHERE customer_id = ? AND id = ? AND status = 'pending'
	`, sentAt, errorMessage, customerID, eventID)
	if err != nil {
		return false, fmt.Errorf("marking alert event sent: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking sent transition: %w", err)
	}
	return affected == 1, nil
}

// MarkFailed transitions pending->failed atomically.
func (s *Store) MarkFailed(ctx context.Context, customerID, eventID uuid.UUID, errorMessage string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE alert_events
		SET status = 'failed', error_message = ?
		WHERE customer_id = ? AND id = ? AND status = 'pending'
	`, errorMessage, customerID, eventID)
	if err != nil {
		return false, fmt.Errorf("marking alert event failed: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking failed transition: %w", err)
	}
	return affected == 1, nil
}

// ResetToPending transitions failed->pending for manual reprocessing.
func (s *Store) ResetToPending(ctx context.Context, customerID, eventID uuid.UUID) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE alert_events
		SET status = 'pending', error_message = ''
		WHERE customer_id = ? AND id = ? AND status = 'failed'
	`, customerID, eventID)
	if err != nil {
		return false, fmt.Errorf("resetting alert event: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking reset transition: %w", err)
	}
	return affected == 1, nil
}

// LatestSent returns the newest delivery time among sent events with the
// same suppression key at or after since, nil when none exists.
func (s *Store) LatestSent(ctx context.Context, customerID uuid.UUID, key domain.SuppressionEvidence, since time.Time) (*time.Time, error) {
	var sentAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(notification_sent_at)
		FROM alert_events
		WHERE customer_id = ?
		  AND status = 'sent'
		  AND notification_sent_at >= ?
		  AND json_extract(payload, '$.product_name') = ?
		  AND json_extract(payload, '$.signal_type') = ?
		  AND json_extract(payload, '$.entity_label') = ?
	`, customerID, since, key.ProductName, key.SignalType, key.EntityLabel).Scan(&sentAt)
	if err != nil {
		return nil, fmt.Errorf("checking recent sent alerts: %w", err)
	}
	if !sentAt.Valid {
		return nil, nil
	}
	return &sentAt.Time, nil
}

// CountNoiseJudgments counts noise verdicts on the most recent resolved
// events sharing the suppression key, scanning at most scanLimit events.
func (s *Store) CountNoiseJudgments(ctx context.Context, customerID uuid.UUID, key domain.SuppressionEvidence, scanLimit int) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM operator_judgments j
		JOIN (
			SELECT id FROM alert_events
			WHERE customer_id = ?
			  AND status = 'resolved'
			  AND json_extract(payload, '$.product_name') = ?
			  AND json_extract(payload, '$.signal_type') = ?
			  AND json_extract(payload, '$.entity_label') = ?
			ORDER BY triggered_at DESC
			LIMIT ?
		) e ON e.id = j.alert_event_id
		WHERE j.customer_id = ? AND j.verdict = 'noise'
	`, customerID, key.ProductName, key.SignalType, key.EntityLabel, scanLimit, customerID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting noise judgments: %w", err)
	}
	return count, nil
}

func scanAlertEvent(row scanner) (*domain.AlertEvent, error) {
	var event domain.AlertEvent
	var driftEventID, reportRunID uuid.NullUUID
	var sentAt sql.NullTime
	var payload string

	err := row.Scan(
		&event.ID, &event.CustomerID, &event.AlertRuleID,
		&driftEventID, &reportRunID,
		&event.TriggeredAt, &event.Status, &payload,
		&sentAt, &event.ErrorMessage,
	)
	if err != nil {
		return nil, err
	}

	if driftEventID.Valid {
		event.DriftEventID = &driftEventID.UUID
	}
	if reportRunID.Valid {
		event.ReportRunID = &reportRunID.UUID
	}
	if sentAt.Valid {
		event.NotificationSentAt = &sentAt.Time
	}
	if err := json.Unmarshal([]byte(payload), &event.Payload); err != nil {
		return nil, fmt.Errorf("unmarshaling alert payload: %w", err)
	}
	return &event, nil
}

func collectAlertEvents(rows *sql.Rows) ([]*domain.AlertEvent, error) {
	var events []*domain.AlertEvent
	for rows.Next() {
		event, err := scanAlertEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning alert event: %w", err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}
