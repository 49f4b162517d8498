// Package drift implements the windowed baseline-vs-current comparison that
// turns claim aggregates into scored drift signals.
package drift

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/payrixa/driftwatch/internal/domain"
)

// Aggregator computes per-day claim aggregates for a detection run.
type Aggregator interface {
	ComputeAggregates(ctx context.Context, customerID, reportRunID uuid.UUID, start, end time.Time) ([]*domain.ClaimAggregate, error)
}

// SignalDetector turns one run's aggregates into drift signals.
type SignalDetector interface {
	// SignalType names the drift type this detector produces.
	SignalType() string
	DetectSignals(ctx context.Context, customerID, reportRunID uuid.UUID, aggregates []*domain.ClaimAggregate, baseline, current domain.TimeWindow) ([]*domain.DriftSignal, error)
}

// Engine orchestrates one product's drift computation. Each product pairs
// the shared aggregator with its own detector; the orchestration itself is
// identical across products.
type Engine struct {
	store      domain.DriftStore
	runs       domain.ReportRunStore
	aggregator Aggregator
	detector   SignalDetector
	config     domain.DriftConfig
	log        *logrus.Logger
	now        func() time.Time
}

// NewEngine creates a drift detection engine for one product.
func NewEngine(store domain.DriftStore, runs domain.ReportRunStore, aggregator Aggregator, detector SignalDetector, config domain.DriftConfig, logger *logrus.Logger) *Engine {
	return &Engine{
		store:      store,
		runs:       runs,
		aggregator: aggregator,
		detector:   detector,
		config:     config,
		log:        logger,
		now:        time.Now,
	}
}

// Compute runs one detection pass for the customer. Aggregates, signals,
// and the run's audit event are written in a single transaction; any error
// rolls everything back and the report run is marked failed.
//
// startDate, when set, is an absolute lower clamp on both windows; endDate
// overrides the reference end (defaults to today).
func (e *Engine) Compute(ctx context.Context, customerID uuid.UUID, startDate, endDate *time.Time) (*domain.ComputationResult, error) {
	if customerID == uuid.Nil {
		return nil, domain.ErrTenantRequired
	}

	referenceEnd := TruncateToDay(e.now())
	if endDate != nil {
		referenceEnd = TruncateToDay(*endDate)
	}

	var absoluteStart *time.Time
	if startDate != nil {
		s := TruncateToDay(*startDate)
		absoluteStart = &s
	}
	if absoluteStart != nil && absoluteStart.After(referenceEnd) {
		return nil, fmt.Errorf("start date %s is after end date %s: %w",
			absoluteStart.Format("2006-01-02"), referenceEnd.Format("2006-01-02"),
			domain.ErrInvalidInput)
	}

	baseline, current := ComputeWindows(referenceEnd, e.config.BaselineDays, e.config.CurrentDays, absoluteStart)

	run := &domain.ReportRun{
		ID:         uuid.New(),
		CustomerID: customerID,
		Status:     domain.RunPending,
		StartedAt:  e.now().UTC(),
	}
	if err := e.runs.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("creating report run: %w", err)
	}

	logger := e.log.WithFields(logrus.Fields{
		"customer_id":    customerID,
		"report_run_id":  run.ID,
		"product":        e.detector.SignalType(),
		"baseline_start": baseline.Start.Format("2006-01-02"),
		"current_end":    current.End.Format("2006-01-02"),
	})
	logger.Info("Starting drift computation")

	result := &domain.ComputationResult{
		BaselineWindow: baseline,
		CurrentWindow:  current,
	}

	err := e.store.InTx(ctx, func(tx domain.DriftTx) error {
		aggregates, err := e.aggregator.ComputeAggregates(ctx, customerID, run.ID, baseline.Start, current.End)
		if err != nil {
			return fmt.Errorf("computing aggregates: %w", err)
		}

		created, err := tx.CreateAggregates(ctx, aggregates)
		if err != nil {
			return err
		}
		result.AggregatesCreated = created

		signals, err := e.detector.DetectSignals(ctx, customerID, run.ID, aggregates, baseline, current)
		if err != nil {
			return fmt.Errorf("detecting signals: %w", err)
		}

		created, err = tx.CreateSignals(ctx, signals)
		if err != nil {
			return err
		}
		result.SignalsCreated = created

		return tx.CreateAuditEvent(ctx, &domain.AuditEvent{
			ID:         uuid.New(),
			CustomerID: customerID,
			Action:     "drift_computation_completed",
			EntityType: "report_run",
			EntityID:   run.ID.String(),
			Metadata: map[string]interface{}{
				"product":            e.detector.SignalType(),
				"signals_created":    result.SignalsCreated,
				"aggregates_created": result.AggregatesCreated,
			},
		})
	})
	if err != nil {
		logger.WithError(err).Error("Drift computation failed")
		if finishErr := e.runs.FinishRun(ctx, customerID, run.ID, domain.RunFailed, err.Error()); finishErr != nil {
			logger.WithError(finishErr).Warn("Could not mark report run failed")
		}
		return nil, err
	}

	if err := e.runs.FinishRun(ctx, customerID, run.ID, domain.RunSuccess, ""); err != nil {
		logger.WithError(err).Warn("Could not mark report run complete")
	}

	result.Metadata = map[string]interface{}{
		"report_run_id": run.ID.String(),
		"product":       e.detector.SignalType(),
	}

	logger.WithFields(logrus.Fields{
		"signals_created":    result.SignalsCreated,
		"aggregates_created": result.AggregatesCreated,
	}).Info("Drift computation completed")

	return result, nil
}
