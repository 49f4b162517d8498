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

// DriftRepository persists claim aggregates and drift signals in Postgres.
type DriftRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewDriftRepository creates a new drift repository
func NewDriftRepository(db *pgxpool.Pool, logger *logrus.Logger) *DriftRepository {
	return &DriftRepository{
		db:  db,
		log: logger,
	}
}

// InTx runs fn inside a single database transaction. Any error from fn
// rolls the transaction back and is returned unchanged.
func (r *DriftRepository) InTx(ctx context.Context, fn func(tx domain.DriftTx) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&driftTx{tx: tx, log: r.log}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// GetSignal retrieves a drift signal by ID within the customer scope
func (r *DriftRepository) GetSignal(ctx context.Context, customerID, signalID uuid.UUID) (*domain.DriftSignal, error) {
	query := `
		SELECT id, customer_id, report_run_id, payer, cpt_group, drift_type,
			   baseline_value, current_value, delta_value, severity, confidence,
			   statistical_significance, baseline_start, baseline_end,
			   current_start, current_end, sample_size, created_at
		FROM drift_signals
		WHERE customer_id = $1 AND id = $2`

	signal, err := scanSignal(r.db.QueryRow(ctx, query, customerID, signalID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("drift signal not found: %w", domain.ErrNotFound)
		}
		r.log.WithFields(logrus.Fields{
			"customer_id": customerID,
			"signal_id":   signalID,
			"error":       err,
		}).Error("Failed to get drift signal")
		return nil, fmt.Errorf("getting drift signal: %w", err)
	}

	return signal, nil
}

// ListSignals retrieves all drift signals for a report run
func (r *DriftRepository) ListSignals(ctx context.Context, customerID, reportRunID uuid.UUID) ([]*domain.DriftSignal, error) {
	query := `
		SELECT id, customer_id, report_run_id, payer, cpt_group, drift_type,
			   baseline_value, current_value, delta_value, severity, confidence,
			   statistical_significance, baseline_start, baseline_end,
			   current_start, current_end, sample_size, created_at
		FROM drift_signals
		WHERE customer_id = $1 AND report_run_id = $2
		ORDER BY severity DESC, payer, cpt_group`

	rows, err := r.db.Query(ctx, query, customerID, reportRunID)
	if err != nil {
		return nil, fmt.Errorf("listing drift signals: %w", err)
	}
	defer rows.Close()

	var signals []*domain.DriftSignal
	for rows.Next() {
		signal, err := scanSignal(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning drift signal: %w", err)
		}
		signals = append(signals, signal)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating drift signals: %w", err)
	}

	return signals, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSignal(row rowScanner) (*domain.DriftSignal, error) {
	var signal domain.DriftSignal
	err := row.Scan(
		&signal.ID,
		&signal.CustomerID,
		&signal.ReportRunID,
		&signal.Payer,
		&signal.CPTGroup,
		&signal.DriftType,
		&signal.BaselineValue,
		&signal.CurrentValue,
		&signal.DeltaValue,
		&signal.Severity,
		&signal.Confidence,
		&signal.StatisticalSignificance,
		&signal.BaselineWindow.Start,
		&signal.BaselineWindow.End,
		&signal.CurrentWindow.Start,
		&signal.CurrentWindow.End,
		&signal.SampleSize,
		&signal.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &signal, nil
}

// driftTx is the pgx-backed transactional write surface for one engine run.
type driftTx struct {
	tx  pgx.Tx
	log *logrus.Logger
}

// CreateAggregates inserts claim aggregates using a single batch round trip
func (t *driftTx) CreateAggregates(ctx context.Context, aggregates []*domain.ClaimAggregate) (int, error) {
	if len(aggregates) == 0 {
		return 0, nil
	}

	query := `
		INSERT INTO claim_aggregates (
			id, customer_id, report_run_id, payer, cpt_group, day,
			claim_count, denied_count, avg_decision_days, allowed_amount
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	batch := &pgx.Batch{}
	for _, agg := range aggregates {
		batch.Queue(query,
			agg.ID,
			agg.CustomerID,
			agg.ReportRunID,
			agg.Payer,
			agg.CPTGroup,
			agg.Day,
			agg.ClaimCount,
			agg.DeniedCount,
			agg.AvgDecisionDays,
			agg.AllowedAmount,
		)
	}

	results := t.tx.SendBatch(ctx, batch)
	defer results.Close()

	for range aggregates {
		if _, err := results.Exec(); err != nil {
			return 0, fmt.Errorf("inserting claim aggregate: %w", err)
		}
	}

	return len(aggregates), nil
}

// CreateSignals validates and inserts drift signals
func (t *driftTx) CreateSignals(ctx context.Context, signals []*domain.DriftSignal) (int, error) {
	if len(signals) == 0 {
		return 0, nil
	}

	query := `
		INSERT INTO drift_signals (
			id, customer_id, report_run_id, payer, cpt_group, drift_type,
			baseline_value, current_value, delta_value, severity, confidence,
			statistical_significance, baseline_start, baseline_end,
			current_start, current_end, sample_size
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

	batch := &pgx.Batch{}
	for _, signal := range signals {
		if err := signal.Validate(); err != nil {
			return 0, fmt.Errorf("validating drift signal for payer %s: %w", signal.Payer, err)
		}
		batch.Queue(query,
			signal.ID,
			signal.CustomerID,
			signal.ReportRunID,
			signal.Payer,
			signal.CPTGroup,
			signal.DriftType,
			signal.BaselineValue,
			signal.CurrentValue,
			signal.DeltaValue,
			signal.Severity,
			signal.Confidence,
			signal.StatisticalSignificance,
			signal.BaselineWindow.Start,
			signal.BaselineWindow.End,
			signal.CurrentWindow.Start,
			signal.CurrentWindow.End,
			signal.SampleSize,
		)
	}

	results := t.tx.SendBatch(ctx, batch)
	defer results.Close()

	for range signals {
		if _, err := results.Exec(); err != nil {
			return 0, fmt.Errorf("inserting drift signal: %w", err)
		}
	}

	t.log.WithField("count", len(signals)).Debug("Drift signals inserted")
	return len(signals), nil
}

// CreateAuditEvent inserts an audit event inside the run transaction
func (t *driftTx) CreateAuditEvent(ctx context.Context, event *domain.AuditEvent) error {
	query := `
		INSERT INTO audit_events (id, customer_id, action, entity_type, entity_id, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := t.tx.Exec(ctx, query,
		event.ID,
		event.CustomerID,
		event.Action,
		event.EntityType,
		event.EntityID,
		event.Metadata,
	)
	if err != nil {
		return fmt.Errorf("inserting audit event: %w", err)
	}
	return nil
}
