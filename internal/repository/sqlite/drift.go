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

// InTx runs fn inside a single SQLite transaction.
func (s *Store) InTx(ctx context.Context, fn func(tx domain.DriftTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&driftTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

const signalColumns = `
	id, customer_id, report_run_id, payer, cpt_group, drift_type,
	baseline_value, current_value, delta_value, severity, confidence,
	statistical_significance, baseline_start, baseline_end,
	current_start, current_end, sample_size, created_at`

// GetSignal retrieves a drift signal by ID within the customer scope.
func (s *Store) GetSignal(ctx context.Context, customerID, signalID uuid.UUID) (*domain.DriftSignal, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+signalColumns+`
		FROM drift_signals
		WHERE customer_id = ? AND id = ?
	`, customerID, signalID)

	signal, err := scanSignal(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("drift signal not found: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting drift signal: %w", err)
	}
	return signal, nil
}

// ListSignals retrieves all drift signals for a report run.
func (s *Store) ListSignals(ctx context.Context, customerID, reportRunID uuid.UUID) ([]*domain.DriftSignal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+signalColumns+`
		FROM drift_signals
		WHERE customer_id = ? AND report_run_id = ?
		ORDER BY severity DESC, payer, cpt_group
	`, customerID, reportRunID)
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
	return signals, rows.Err()
}

func scanSignal(row scanner) (*domain.DriftSignal, error) {
	var signal domain.DriftSignal
	var significance sql.NullFloat64

	err := row.Scan(
		&signal.ID, &signal.CustomerID, &signal.ReportRunID,
		&signal.Payer, &signal.CPTGroup, &signal.DriftType,
		&signal.BaselineValue, &signal.CurrentValue, &signal.DeltaValue,
		&signal.Severity, &signal.Confidence, &significance,
		&signal.BaselineWindow.Start, &signal.BaselineWindow.End,
		&signal.CurrentWindow.Start, &signal.CurrentWindow.End,
		&signal.SampleSize, &signal.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if significance.Valid {
		signal.StatisticalSignificance = &significance.Float64
	}
	return &signal, nil
}

// driftTx is the SQLite-backed transactional write surface.
type driftTx struct {
	tx *sql.Tx
}

// CreateAggregates inserts claim aggregates within the transaction.
func (t *driftTx) CreateAggregates(ctx context.Context, aggregates []*domain.ClaimAggregate) (int, error) {
	stmt, err := t.tx.PrepareContext(ctx, `
		INSERT INTO claim_aggregates (
			id, customer_id, report_run_id, payer, cpt_group, day,
			claim_count, denied_count, avg_decision_days, allowed_amount
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("preparing aggregate insert: %w", err)
	}
	defer stmt.Close()

	for _, agg := range aggregates {
		_, err := stmt.ExecContext(ctx,
			agg.ID, agg.CustomerID, agg.ReportRunID,
			agg.Payer, agg.CPTGroup, agg.Day,
			agg.ClaimCount, agg.DeniedCount, agg.AvgDecisionDays, agg.AllowedAmount,
		)
		if err != nil {
			return 0, fmt.Errorf("inserting claim aggregate: %w", err)
		}
	}
	return len(aggregates), nil
}

// CreateSignals validates and inserts drift signals within the transaction.
func (t *driftTx) CreateSignals(ctx context.Context, signals []*domain.DriftSignal) (int, error) {
	stmt, err := t.tx.PrepareContext(ctx, `
		INSERT INTO drift_signals (
			id, customer_id, report_run_id, payer, cpt_group, drift_type,
			baseline_value, current_value, delta_value, severity, confidence,
			statistical_significance, baseline_start, baseline_end,
			current_start, current_end, sample_size, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("preparing signal insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, signal := range signals {
		if err := signal.Validate(); err != nil {
			return 0, fmt.Errorf("validating drift signal for payer %s: %w", signal.Payer, err)
		}

		var significance sql.NullFloat64
		if signal.StatisticalSignificance != nil {
			significance = sql.NullFloat64{Float64: *signal.StatisticalSignificance, Valid: true}
		}

		_, err := stmt.ExecContext(ctx,
			signal.ID, signal.CustomerID, signal.ReportRunID,
			signal.Payer, signal.CPTGroup, signal.DriftType,
			signal.BaselineValue, signal.CurrentValue, signal.DeltaValue,
			signal.Severity, signal.Confidence, significance,
			signal.BaselineWindow.Start, signal.BaselineWindow.End,
			signal.CurrentWindow.Start, signal.CurrentWindow.End,
			signal.SampleSize, now,
		)
		if err != nil {
			return 0, fmt.Errorf("inserting drift signal: %w", err)
		}
	}
	return len(signals), nil
}

// CreateAuditEvent inserts an audit event within the transaction.
func (t *driftTx) CreateAuditEvent(ctx context.Context, event *domain.AuditEvent) error {
	metadata, err := json.Marshal(event.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling audit metadata: %w", err)
	}

	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO audit_events (id, customer_id, action, entity_type, entity_id, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, event.ID, event.CustomerID, event.Action, event.EntityType, event.EntityID,
		string(metadata), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("inserting audit event: %w", err)
	}
	return nil
}
