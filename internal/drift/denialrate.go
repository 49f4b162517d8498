package drift

import (
	"context"
	"math"
	"sort"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/payrixa/driftwatch/internal/domain"
)

// minDetectableChange is the relative change below which a shift is treated
// as normal variation and no signal is emitted.
const minDetectableChange = 0.10

// groupKey identifies one (payer, cpt_group) series.
type groupKey struct {
	payer    string
	cptGroup string
}

// DenialRateDetector detects shifts in the share of denied claims per
// (payer, cpt_group) between the baseline and current windows.
type DenialRateDetector struct {
	config domain.DriftConfig
	log    *logrus.Logger
}

// NewDenialRateDetector creates the denial-rate drift detector.
func NewDenialRateDetector(config domain.DriftConfig, logger *logrus.Logger) *DenialRateDetector {
	return &DenialRateDetector{config: config, log: logger}
}

// SignalType names the drift type this detector produces.
func (d *DenialRateDetector) SignalType() string {
	return domain.DriftTypeDenialRate
}

// DetectSignals compares baseline vs current denial rates per group. The
// baseline z-score is taken against the spread of daily baseline rates, so
// a noisy baseline needs a bigger shift to look significant.
func (d *DenialRateDetector) DetectSignals(ctx context.Context, customerID, reportRunID uuid.UUID, aggregates []*domain.ClaimAggregate, baseline, current domain.TimeWindow) ([]*domain.DriftSignal, error) {
	groups := groupAggregates(aggregates)

	var signals []*domain.DriftSignal
	for _, key := range sortedKeys(groups) {
		rows := groups[key]

		var baselineDaily []float64
		var baselineClaims, baselineDenied int
		var currentClaims, currentDenied int

		for _, row := range rows {
			switch {
			case inWindow(row, baseline):
				baselineClaims += row.ClaimCount
				baselineDenied += row.DeniedCount
				if row.ClaimCount > 0 {
					baselineDaily = append(baselineDaily, float64(row.DeniedCount)/float64(row.ClaimCount))
				}
			case inWindow(row, current):
				currentClaims += row.ClaimCount
				currentDenied += row.DeniedCount
			}
		}

		if currentClaims == 0 {
			continue
		}

		baselineRate := 0.0
		if baselineClaims > 0 {
			baselineRate = float64(baselineDenied) / float64(baselineClaims)
		}
		currentRate := float64(currentDenied) / float64(currentClaims)

		pctChange := PercentageChange(baselineRate, currentRate)
		if math.Abs(pctChange) < minDetectableChange {
			continue
		}

		z := ZScore(currentRate, mean(baselineDaily), stdDev(baselineDaily))
		confidence := ConfidenceScore(currentClaims, z, d.config.MinSampleSize)

		signals = append(signals, &domain.DriftSignal{
			ID:             uuid.New(),
			CustomerID:     customerID,
			ReportRunID:    reportRunID,
			Payer:          key.payer,
			CPTGroup:       key.cptGroup,
			DriftType:      domain.DriftTypeDenialRate,
			BaselineValue:  baselineRate,
			CurrentValue:   currentRate,
			DeltaValue:     currentRate - baselineRate,
			Severity:       clamp01(math.Abs(pctChange) / 2),
			Confidence:     confidence,
			BaselineWindow: baseline,
			CurrentWindow:  current,
			SampleSize:     currentClaims,
		})

		d.log.WithFields(logrus.Fields{
			"customer_id": customerID,
			"payer":       key.payer,
			"cpt_group":   key.cptGroup,
			"pct_change":  pctChange,
		}).Debug("Denial rate drift detected")
	}

	return signals, nil
}

func groupAggregates(aggregates []*domain.ClaimAggregate) map[groupKey][]*domain.ClaimAggregate {
	groups := make(map[groupKey][]*domain.ClaimAggregate)
	for _, agg := range aggregates {
		key := groupKey{payer: agg.Payer, cptGroup: agg.CPTGroup}
		groups[key] = append(groups[key], agg)
	}
	return groups
}

func sortedKeys(groups map[groupKey][]*domain.ClaimAggregate) []groupKey {
	keys := make([]groupKey, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].payer != keys[j].payer {
			return keys[i].payer < keys[j].payer
		}
		return keys[i].cptGroup < keys[j].cptGroup
	})
	return keys
}

func inWindow(agg *domain.ClaimAggregate, w domain.TimeWindow) bool {
	return !agg.Day.Before(w.Start) && agg.Day.Before(w.End)
}
