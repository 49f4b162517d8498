// Package service wires the drift engines and the alerting components into
// the operations the entrypoint and ops API expose.
package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/payrixa/driftwatch/internal/alerts"
	"github.com/payrixa/driftwatch/internal/domain"
	"github.com/payrixa/driftwatch/internal/drift"
)

// RunSummary is the outcome of one detection run for one product.
type RunSummary struct {
	Product           string                    `json:"product"`
	ReportRunID       uuid.UUID                 `json:"report_run_id"`
	Computation       *domain.ComputationResult `json:"computation"`
	SignalsEvaluated  int                       `json:"signals_evaluated"`
	AlertEventsActive int                       `json:"alert_events_active"`
}

// Pipeline runs detection end to end: compute drift signals for a product,
// then evaluate alert rules over the new signals. Notification dispatch is a
// separate pass (ProcessAlerts) so a slow SMTP relay never blocks detection.
type Pipeline struct {
	engines   map[string]*drift.Engine
	signals   domain.DriftStore
	evaluator *alerts.Evaluator
	router    *alerts.Router
	log       *logrus.Logger
}

// NewPipeline creates the detection pipeline. engines is keyed by the
// detector's signal type.
func NewPipeline(engines map[string]*drift.Engine, signals domain.DriftStore, evaluator *alerts.Evaluator, router *alerts.Router, logger *logrus.Logger) *Pipeline {
	return &Pipeline{
		engines:   engines,
		signals:   signals,
		evaluator: evaluator,
		router:    router,
		log:       logger,
	}
}

// Products lists the signal types this pipeline can run, sorted for stable
// output.
func (p *Pipeline) Products() []string {
	products := make([]string, 0, len(p.engines))
	for name := range p.engines {
		products = append(products, name)
	}
	sort.Strings(products)
	return products
}

// Run executes one detection pass for a single product and evaluates alert
// rules over the signals it produced.
func (p *Pipeline) Run(ctx context.Context, customerID uuid.UUID, product string, startDate, endDate *time.Time) (*RunSummary, error) {
	engine, ok := p.engines[product]
	if !ok {
		return nil, fmt.Errorf("unknown product %q: %w", product, domain.ErrInvalidInput)
	}

	result, err := engine.Compute(ctx, customerID, startDate, endDate)
	if err != nil {
		return nil, err
	}

	runID, err := runIDFromResult(result)
	if err != nil {
		return nil, err
	}

	summary := &RunSummary{
		Product:     product,
		ReportRunID: runID,
		Computation: result,
	}

	signals, err := p.signals.ListSignals(ctx, customerID, runID)
	if err != nil {
		return nil, fmt.Errorf("listing run signals: %w", err)
	}

	for _, signal := range signals {
		events, err := p.evaluator.Evaluate(ctx, signal)
		if err != nil {
			return nil, fmt.Errorf("evaluating signal %s: %w", signal.ID, err)
		}
		summary.SignalsEvaluated++
		summary.AlertEventsActive += len(events)
	}

	p.log.WithFields(logrus.Fields{
		"customer_id":       customerID,
		"product":           product,
		"report_run_id":     runID,
		"signals_evaluated": summary.SignalsEvaluated,
		"alert_events":      summary.AlertEventsActive,
	}).Info("Detection run completed")

	return summary, nil
}

// RunAll runs every registered product for the customer. The first failing
// product aborts the pass; completed products keep their rows.
func (p *Pipeline) RunAll(ctx context.Context, customerID uuid.UUID, startDate, endDate *time.Time) ([]*RunSummary, error) {
	var summaries []*RunSummary
	for _, product := range p.Products() {
		summary, err := p.Run(ctx, customerID, product, startDate, endDate)
		if err != nil {
			return summaries, fmt.Errorf("running %s: %w", product, err)
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// ProcessAlerts dispatches every pending alert event.
func (p *Pipeline) ProcessAlerts(ctx context.Context) (*domain.ProcessResult, error) {
	return p.router.ProcessPending(ctx)
}

// ResetFailedAlert re-queues a failed alert event for delivery.
func (p *Pipeline) ResetFailedAlert(ctx context.Context, customerID, eventID uuid.UUID) error {
	return p.router.ResetFailed(ctx, customerID, eventID)
}

func runIDFromResult(result *domain.ComputationResult) (uuid.UUID, error) {
	raw, ok := result.Metadata["report_run_id"].(string)
	if !ok {
		return uuid.Nil, fmt.Errorf("computation result carries no report run id")
	}
	runID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parsing report run id: %w", err)
	}
	return runID, nil
}
