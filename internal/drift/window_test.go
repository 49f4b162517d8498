package drift

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func date(s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return d.UTC()
}

func TestComputeWindows_Contiguity(t *testing.T) {
	end := date("2026-08-30")

	baseline, current := ComputeWindows(end, 90, 14, nil)

	assert.True(t, baseline.End.Equal(current.Start), "baseline end must equal current start")
	assert.True(t, current.End.Equal(end))
	assert.Equal(t, 14, current.Days())
	assert.Equal(t, 90, baseline.Days())
	assert.True(t, baseline.Start.Before(baseline.End))
}

func TestComputeWindows_AbsoluteStartClampsBaseline(t *testing.T) {
	end := date("2026-08-30")
	absStart := date("2026-08-01")

	baseline, current := ComputeWindows(end, 90, 14, &absStart)

	assert.True(t, current.Start.Equal(date("2026-08-16")))
	assert.True(t, baseline.Start.Equal(absStart), "baseline start clamped to absolute start")
	assert.True(t, baseline.End.Equal(current.Start))
	assert.False(t, baseline.IsZeroLength())
}

func TestComputeWindows_RecentAbsoluteStartCollapsesBaseline(t *testing.T) {
	end := date("2026-08-30")
	absStart := date("2026-08-25")

	baseline, current := ComputeWindows(end, 90, 14, &absStart)

	// Current window itself is clamped, leaving nothing for the baseline.
	assert.True(t, current.Start.Equal(absStart))
	assert.True(t, baseline.IsZeroLength(), "baseline collapses rather than crossing absolute start")
	assert.True(t, baseline.End.Equal(current.Start))
}

func TestTruncateToDay(t *testing.T) {
	ts := time.Date(2026, 8, 30, 17, 42, 11, 999, time.FixedZone("EST", -5*3600))
	got := TruncateToDay(ts)
	assert.Equal(t, time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC), got)
}
