package drift

import (
	"math"

	"github.com/payrixa/driftwatch/internal/domain"
)

// SeverityThresholds maps drift magnitude to a severity category. The first
// matching threshold from highest to lowest wins.
type SeverityThresholds struct {
	Critical float64
	High     float64
	Medium   float64
}

// DefaultSeverityThresholds are the standard magnitude cutoffs.
var DefaultSeverityThresholds = SeverityThresholds{
	Critical: 0.30,
	High:     0.20,
	Medium:   0.10,
}

// PercentageChange returns (current - baseline) / baseline. A zero or NaN
// baseline yields 0.0. That zero is a deliberate floor to avoid division by
// zero, not a true "no change" signal; callers must not conflate the two.
func PercentageChange(baseline, current float64) float64 {
	if baseline == 0 || math.IsNaN(baseline) {
		return 0.0
	}
	return (current - baseline) / baseline
}

// ZScore returns (value - mean) / stdDev, or 0.0 when stdDev is zero or NaN.
func ZScore(value, mean, stdDev float64) float64 {
	if stdDev == 0 || math.IsNaN(stdDev) {
		return 0.0
	}
	return (value - mean) / stdDev
}

// CategorizeSeverity buckets an absolute drift magnitude.
func CategorizeSeverity(magnitude float64, thresholds SeverityThresholds) domain.SeverityCategory {
	switch {
	case magnitude >= thresholds.Critical:
		return domain.SeverityCritical
	case magnitude >= thresholds.High:
		return domain.SeverityHigh
	case magnitude >= thresholds.Medium:
		return domain.SeverityMedium
	default:
		return domain.SeverityLow
	}
}

// ConfidenceScore blends sample-size adequacy with statistical
// significance. Each half is independently capped, so a drift is only fully
// trusted when there is both enough data and a deviation unlikely by
// chance. The result is always within [0, 1].
func ConfidenceScore(sampleSize int, z float64, minSampleSize int) float64 {
	if minSampleSize <= 0 {
		minSampleSize = 1
	}

	adequacy := math.Min(float64(sampleSize)/float64(2*minSampleSize), 1.0) * 0.5
	significance := math.Min(math.Abs(z)/1.96, 1.0) * 0.5

	return math.Min(adequacy+significance, 1.0)
}

// clamp01 bounds v to [0, 1].
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// mean returns the arithmetic mean of values, 0.0 for an empty slice.
func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0.0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// stdDev returns the population standard deviation of values.
func stdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0.0
	}
	m := mean(values)
	var sum float64
	for _, v := range values {
		d := v - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)))
}
