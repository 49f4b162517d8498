package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/payrixa/driftwatch/internal/domain"
)

// JudgmentRepository persists operator judgments in Postgres.
type JudgmentRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewJudgmentRepository creates a new judgment repository
func NewJudgmentRepository(db *pgxpool.Pool, logger *logrus.Logger) *JudgmentRepository {
	return &JudgmentRepository{
		db:  db,
		log: logger,
	}
}

// CreateJudgment inserts a new operator judgment
func (r *JudgmentRepository) CreateJudgment(ctx context.Context, judgment *domain.OperatorJudgment) error {
	if !judgment.Verdict.IsValid() {
		return fmt.Errorf("verdict %q: %w", judgment.Verdict, domain.ErrInvalidInput)
	}

	query := `
		INSERT INTO operator_judgments (id, customer_id, alert_event_id, verdict, notes)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := r.db.Exec(ctx, query,
		judgment.ID,
		judgment.CustomerID,
		judgment.AlertEventID,
		judgment.Verdict,
		judgment.Notes,
	)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"customer_id":    judgment.CustomerID,
			"alert_event_id": judgment.AlertEventID,
			"error":          err,
		}).Error("Failed to create operator judgment")
		return fmt.Errorf("creating operator judgment: %w", err)
	}

	return nil
}

// ListJudgments retrieves judgments for an alert event
func (r *JudgmentRepository) ListJudgments(ctx context.Context, customerID, alertEventID uuid.UUID) ([]*domain.OperatorJudgment, error) {
	query := `
		SELECT id, customer_id, alert_event_id, verdict, notes, created_at
		FROM operator_judgments
		WHERE customer_id = $1 AND alert_event_id = $2
		ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query, customerID, alertEventID)
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
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating operator judgments: %w", err)
	}

	return judgments, nil
}
