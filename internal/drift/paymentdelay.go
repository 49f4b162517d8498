package drift

import (
	"context"
	"math"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/payrixa/driftwatch/internal/domain"
)

// lowSignalConfidenceFloor gates weak payment-delay findings: a low-severity
// shift also needs at least this much confidence to produce a signal.
const lowSignalConfidenceFloor = 0.6

// PaymentDelayDetector detects shifts in average decision time per
// (payer, cpt_group) between the baseline and current windows.
type PaymentDelayDetector struct {
	config domain.DriftConfig
	log    *logrus.Logger
}

// NewPaymentDelayDetector creates the payment-delay drift detector.
func NewPaymentDelayDetector(config domain.DriftConfig, logger *logrus.Logger) *PaymentDelayDetector {
	return &PaymentDelayDetector{config: config, log: logger}
}

// SignalType names the drift type this detector produces.
func (d *PaymentDelayDetector) SignalType() string {
	return domain.DriftTypePaymentDelay
}

// DetectSignals compares claim-weighted average decision times. Unlike the
// denial-rate detector there is no flat magnitude floor; instead,
// low-severity shifts with confidence below the floor are dropped at
// detection, so they never create alert events.
func (d *PaymentDelayDetector) DetectSignals(ctx context.Context, customerID, reportRunID uuid.UUID, aggregates []*domain.ClaimAggregate, baseline, current domain.TimeWindow) ([]*domain.DriftSignal, error) {
	groups := groupAggregates(aggregates)

	var signals []*domain.DriftSignal
	for _, key := range sortedKeys(groups) {
		rows := groups[key]

		var baselineDaily []float64
		var baselineWeighted, currentWeighted float64
		var baselineClaims, currentClaims int

		for _, row := range rows {
			switch {
			case inWindow(row, baseline):
				baselineClaims += row.ClaimCount
				baselineWeighted += row.AvgDecisionDays * float64(row.ClaimCount)
				if row.ClaimCount > 0 {
					baselineDaily = append(baselineDaily, row.AvgDecisionDays)
				}
			case inWindow(row, current):
				currentClaims += row.ClaimCount
				currentWeighted += row.AvgDecisionDays * float64(row.ClaimCount)
			}
		}

		if currentClaims == 0 {
			continue
		}

		baselineDays := 0.0
		if baselineClaims > 0 {
			baselineDays = baselineWeighted / float64(baselineClaims)
		}
		currentDays := currentWeighted / float64(currentClaims)

		pctChange := PercentageChange(baselineDays, currentDays)
		if pctChange == 0 {
			continue
		}

		z := ZScore(currentDays, mean(baselineDaily), stdDev(baselineDaily))
		confidence := ConfidenceScore(currentClaims, z, d.config.MinSampleSize)

		category := CategorizeSeverity(math.Abs(pctChange), DefaultSeverityThresholds)
		if category == domain.SeverityLow && confidence < lowSignalConfidenceFloor {
			d.log.WithFields(logrus.Fields{
				"customer_id": customerID,
				"payer":       key.payer,
				"cpt_group":   key.cptGroup,
				"confidence":  confidence,
			}).Debug("Dropping low-signal payment delay shift")
			continue
		}

		signals = append(signals, &domain.DriftSignal{
			ID:             uuid.New(),
			CustomerID:     customerID,
			ReportRunID:    reportRunID,
			Payer:          key.payer,
			CPTGroup:       key.cptGroup,
			DriftType:      domain.DriftTypePaymentDelay,
			BaselineValue:  baselineDays,
			CurrentValue:   currentDays,
			DeltaValue:     currentDays - baselineDays,
			Severity:       clamp01(math.Abs(pctChange) / 2),
			Confidence:     confidence,
			BaselineWindow: baseline,
			CurrentWindow:  current,
			SampleSize:     currentClaims,
		})
	}

	return signals, nil
}
