package drift

import (
	"time"

	"github.com/payrixa/driftwatch/internal/domain"
)

// ComputeWindows derives contiguous baseline and current windows ending at
// referenceEnd. The baseline ends exactly where the current window begins;
// both are clamped by absoluteStart when provided. A very recent
// absoluteStart can collapse the baseline to zero length; callers must
// check TimeWindow.IsZeroLength before trusting baseline statistics.
func ComputeWindows(referenceEnd time.Time, baselineDays, currentDays int, absoluteStart *time.Time) (baseline, current domain.TimeWindow) {
	currentEnd := referenceEnd
	currentStart := clampStart(currentEnd.AddDate(0, 0, -currentDays), absoluteStart)

	baselineEnd := currentStart
	baselineStart := clampStart(baselineEnd.AddDate(0, 0, -baselineDays), absoluteStart)

	baseline = domain.TimeWindow{Start: baselineStart, End: baselineEnd}
	current = domain.TimeWindow{Start: currentStart, End: currentEnd}
	return baseline, current
}

func clampStart(start time.Time, absoluteStart *time.Time) time.Time {
	if absoluteStart != nil && absoluteStart.After(start) {
		return *absoluteStart
	}
	return start
}

// Truncate to midnight UTC so windows align on day boundaries regardless of
// the caller's clock.
func TruncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
