package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/payrixa/driftwatch/internal/domain"
)

// RuleRepository reads alert rule configuration from Postgres. Rules are
// managed by the admin surface; this module only evaluates them.
type RuleRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewRuleRepository creates a new rule repository
func NewRuleRepository(db *pgxpool.Pool, logger *logrus.Logger) *RuleRepository {
	return &RuleRepository{
		db:  db,
		log: logger,
	}
}

// ListEnabledRules retrieves all enabled alert rules for a customer
func (r *RuleRepository) ListEnabledRules(ctx context.Context, customerID uuid.UUID) ([]*domain.AlertRule, error) {
	query := `
		SELECT id, customer_id, name, enabled, metric, threshold_type,
			   threshold_value, routing_channel_ids, created_at
		FROM alert_rules
		WHERE customer_id = $1 AND enabled
		ORDER BY created_at`

	rows, err := r.db.Query(ctx, query, customerID)
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
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating alert rules: %w", err)
	}

	return rules, nil
}

// GetRule retrieves an alert rule by ID within the customer scope
func (r *RuleRepository) GetRule(ctx context.Context, customerID, ruleID uuid.UUID) (*domain.AlertRule, error) {
	query := `
		SELECT id, customer_id, name, enabled, metric, threshold_type,
			   threshold_value, routing_channel_ids, created_at
		FROM alert_rules
		WHERE customer_id = $1 AND id = $2`

	rule, err := scanRule(r.db.QueryRow(ctx, query, customerID, ruleID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("alert rule not found: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("getting alert rule: %w", err)
	}
	return rule, nil
}

func scanRule(row rowScanner) (*domain.AlertRule, error) {
	var rule domain.AlertRule
	err := row.Scan(
		&rule.ID,
		&rule.CustomerID,
		&rule.Name,
		&rule.Enabled,
		&rule.Metric,
		&rule.ThresholdType,
		&rule.ThresholdValue,
		&rule.RoutingChannelIDs,
		&rule.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rule, nil
}
