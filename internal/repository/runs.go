package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/payrixa/driftwatch/internal/domain"
)

// ReportRunRepository tracks computation run bookkeeping in Postgres.
type ReportRunRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewReportRunRepository creates a new report run repository
func NewReportRunRepository(db *pgxpool.Pool, logger *logrus.Logger) *ReportRunRepository {
	return &ReportRunRepository{
		db:  db,
		log: logger,
	}
}

// CreateRun inserts a new report run record
func (r *ReportRunRepository) CreateRun(ctx context.Context, run *domain.ReportRun) error {
	query := `
		INSERT INTO report_runs (id, customer_id, status, started_at)
		VALUES ($1, $2, $3, $4)`

	_, err := r.db.Exec(ctx, query, run.ID, run.CustomerID, run.Status, run.StartedAt)
	if err != nil {
		return fmt.Errorf("creating report run: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"run_id":      run.ID,
		"customer_id": run.CustomerID,
	}).Info("Report run started")

	return nil
}

// FinishRun records the terminal status of a report run
func (r *ReportRunRepository) FinishRun(ctx context.Context, customerID, runID uuid.UUID, status domain.ReportRunStatus, errMsg string) error {
	query := `
		UPDATE report_runs
		SET status = $1, finished_at = $2, error = $3
		WHERE customer_id = $4 AND id = $5`

	ct, err := r.db.Exec(ctx, query, status, time.Now().UTC(), errMsg, customerID, runID)
	if err != nil {
		return fmt.Errorf("finishing report run: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("report run not found: %w", domain.ErrNotFound)
	}
	return nil
}
