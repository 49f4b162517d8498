package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/payrixa/driftwatch/internal/domain"
)

// ListEnabledRules retrieves all enabled alert rules for a customer.
func (s *Store) ListEnabledRules(ctx context.Context, customerID uuid.UUID) ([]*domain.AlertRule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, customer_id, name, enabled, metric, threshold_type,
			   threshold_value, routing_channel_ids, created_at
		FROM alert_rules
		WHERE customer_id = ? AND enabled = 1
		ORDER BY created_at
	`, customerID)
	if err != nil {
		return nil, fmt.Errorf("listing alert rules: %w", err)
	}
	defer rows.Close()

	var rules []*domain.AlertRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning alert rule: %w", err)
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// GetRule retrieves an alert rule by ID within the customer scope.
func (s *Store) GetRule(ctx context.Context, customerID, ruleID uuid.UUID) (*domain.AlertRule, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, customer_id, name, enabled, metric, threshold_type,
			   threshold_value, routing_channel_ids, created_at
		FROM alert_rules
		WHERE customer_id = ? AND id = ?
	`, customerID, ruleID)

	rule, err := scanRule(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("alert rule not found: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting alert rule: %w", err)
	}
	return rule, nil
}

func scanRule(row scanner) (*domain.AlertRule, error) {
	var rule domain.AlertRule
	var channelIDs string

	err := row.Scan(
		&rule.ID, &rule.CustomerID, &rule.Name, &rule.Enabled,
		&rule.Metric, &rule.ThresholdType, &rule.ThresholdValue,
		&channelIDs, &rule.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(channelIDs), &rule.RoutingChannelIDs); err != nil {
		return nil, fmt.Errorf("unmarshaling routing channel IDs: %w", err)
	}
	return &rule, nil
}

// ListEnabledChannels retrieves all enabled channels for a customer.
func (s *Store) ListEnabledChannels(ctx context.Context, customerID uuid.UUID) ([]*domain.NotificationChannel, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, customer_id, name, channel_type, config, enabled, created_at
		FROM notification_channels
		WHERE customer_id = ? AND enabled = 1
		ORDER BY created_at
	`, customerID)
	if err != nil {
		return nil, fmt.Errorf("listing notification channels: %w", err)
	}
	defer rows.Close()

	return collectChannels(rows)
}

// GetChannels retrieves specific enabled channels by ID within the customer
// scope. Unknown or disabled IDs are omitted.
func (s *Store) GetChannels(ctx context.Context, customerID uuid.UUID, channelIDs []uuid.UUID) ([]*domain.NotificationChannel, error) {
	if len(channelIDs) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(channelIDs))
	args := make([]interface{}, 0, len(channelIDs)+1)
	args = append(args, customerID)
	for i, id := range channelIDs {
		placeholders[i] = "?"
		args = append(args, id)
	}

	query := fmt.Sprintf(`
		SELECT id, customer_id, name, channel_type, config, enabled, created_at
		FROM notification_channels
		WHERE customer_id = ? AND enabled = 1 AND id IN (%s)
		ORDER BY created_at
	`, strings.Join(placeholders, ", "))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("getting notification channels: %w", err)
	}
	defer rows.Close()

	return collectChannels(rows)
}

func collectChannels(rows *sql.Rows) ([]*domain.NotificationChannel, error) {
	var channels []*domain.NotificationChannel
	for rows.Next() {
		var ch domain.NotificationChannel
		var config string

		err := rows.Scan(&ch.ID, &ch.CustomerID, &ch.Name, &ch.ChannelType,
			&config, &ch.Enabled, &ch.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning notification channel: %w", err)
		}
		if err := json.Unmarshal([]byte(config), &ch.Config); err != nil {
			return nil, fmt.Errorf("unmarshaling channel config: %w", err)
		}
		channels = append(channels, &ch)
	}
	return channels, rows.Err()
}

// CreateJudgment inserts a new operator judgment.
func (s *Store) CreateJudgment(ctx context.Context, judgment *domain.OperatorJudgment) error {
	if !judgment.Verdict.IsValid() {
		return fmt.Errorf("verdict %q: %w", judgment.Verdict, domain.ErrInvalidInput)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO operator_judgments (id, customer_id, alert_event_id, verdict, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, judgment.ID, judgment.CustomerID, judgment.AlertEventID,
		judgment.Verdict, judgment.Notes, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("creating operator judgment: %w", err)
	}
	return nil
}

// ListJudgments retrieves judgments for an alert event.
func (s *Store) ListJudgments(ctx context.Context, customerID, alertEventID uuid.UUID) ([]*domain.OperatorJudgment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, customer_id, alert_event_id, verdict, notes, created_at
		FROM operator_judgments
		WHERE customer_id = ? AND alert_event_id = ?
		ORDER BY created_at DESC
	`, customerID, alertEventID)
	if err != nil {
		return nil, fmt.Errorf("listing operator judgments: %w", err)
	}
	defer rows.Close()

	var judgments []*domain.OperatorJudgment
	for rows.Next() {
		var j domain.OperatorJudgment
		err := rows.Scan(&j.ID, &j.CustomerID, &j.AlertEventID, &j.Verdict, &j.Notes, &j.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning operator judgment: %w", err)
		}
		judgments = append(judgments, &j)
	}
	return judgments, rows.Err()
}

// CreateRun inserts a new report run record.
func (s *Store) CreateRun(ctx context.Context, run *domain.ReportRun) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO report_runs (id, customer_id, status, started_at)
		VALUES (?, ?, ?, ?)
	`, run.ID, run.CustomerID, run.Status, run.StartedAt)
	if err != nil {
		return fmt.Errorf("creating report run: %w", err)
	}
	return nil
}

// FinishRun records the terminal status of a report run.
func (s *Store) FinishRun(ctx context.Context, customerID, runID uuid.UUID, status domain.ReportRunStatus, errMsg string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE report_runs
		SET status = ?, finished_at = ?, error = ?
		WHERE customer_id = ? AND id = ?
	`, status, time.Now().UTC(), errMsg, customerID, runID)
	if err != nil {
		return fmt.Errorf("finishing report run: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking run update: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("report run not found: %w", domain.ErrNotFound)
	}
	return nil
}

// CreateAuditEvent inserts a new audit event outside any transaction.
func (s *Store) CreateAuditEvent(ctx context.Context, event *domain.AuditEvent) error {
	metadata, err := json.Marshal(event.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling audit metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, customer_id, action, entity_type, entity_id, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, event.ID, event.CustomerID, event.Action, event.EntityType, event.EntityID,
		string(metadata), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("creating audit event: %w", err)
	}
	return nil
}
