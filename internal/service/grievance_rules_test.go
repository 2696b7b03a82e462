package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatSLA(t *testing.T) {
	assert.Equal(t, "72 hours", FormatSLA(72))
	assert.Equal(t, "1 hour", FormatSLA(1))
}

func TestResolutionHoursRoundsToTwoDecimals(t *testing.T) {
	created := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	assert.Equal(t, 2.5, ResolutionHours(created, created.Add(150*time.Minute)))
	assert.Equal(t, 0.33, ResolutionHours(created, created.Add(20*time.Minute)))
	assert.Equal(t, 0.0, ResolutionHours(created, created.Add(-time.Hour)))
}

func TestMergeTags(t *testing.T) {
	merged := MergeTags([]string{"delay"}, []string{"delay", "rude", " "})
	assert.ElementsMatch(t, []string{"delay", "rude"}, merged)
	assert.Empty(t, MergeTags(nil, nil))
}

func TestRangeStart(t *testing.T) {
	now := time.Date(2024, 5, 15, 13, 45, 0, 0, time.UTC)

	start, ok := RangeStart(now, "today")
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 5, 15, 0, 0, 0, 0, time.UTC), start)

	start, ok = RangeStart(now, "WEEK")
	require.True(t, ok)
	assert.Equal(t, now.AddDate(0, 0, -7), start)

	start, ok = RangeStart(now, "quarter")
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 2, 15, 13, 45, 0, 0, time.UTC), start)

	_, ok = RangeStart(now, "decade")
	assert.False(t, ok)
}

func TestDayKeysInclusive(t *testing.T) {
	keys := dayKeys(time.Date(2024, 5, 30, 22, 0, 0, 0, time.UTC), time.Date(2024, 6, 1, 1, 0, 0, 0, time.UTC))
	assert.Equal(t, []string{"2024-05-30", "2024-05-31", "2024-06-01"}, keys)
}

func TestWorkloadPercentile(t *testing.T) {
	avg, pct := workloadPercentile(3, nil)
	assert.Equal(t, 0.0, avg)
	assert.Equal(t, 100.0, pct)

	avg, pct = workloadPercentile(6, []int{2, 4})
	assert.Equal(t, 3.0, avg)
	assert.Equal(t, 200.0, pct)

	avg, pct = workloadPercentile(1, []int{3})
	assert.Equal(t, 3.0, avg)
	assert.Equal(t, 33.33, pct)
}
