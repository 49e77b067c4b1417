package statistics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScoring_Points(t *testing.T) {
	flat := DefaultScoring()
	tiered, err := NewScoring(ScoringTiered, 0)
	require.NoError(t, err)

	tests := []struct {
		quality int
		flat    int
		tiered  int
	}{
		{0, 0, 0},
		{1, 0, 0},
		{2, 0, 2},
		{3, 5, 2},
		{4, 5, 5},
		{5, 5, 5},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.flat, flat.Points(tt.quality), "flat q=%d", tt.quality)
		assert.Equal(t, tt.tiered, tiered.Points(tt.quality), "tiered q=%d", tt.quality)
	}

	_, err = NewScoring("curve", 5)
	assert.Error(t, err)
}

func TestWeekStart(t *testing.T) {
	monday := time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		at   time.Time
	}{
		{"monday midnight", monday},
		{"wednesday", time.Date(2024, 3, 13, 15, 4, 5, 0, time.UTC)},
		{"sunday last second", time.Date(2024, 3, 17, 23, 59, 59, 0, time.UTC)},
		{"monday in UTC, sunday in New York", time.Date(2024, 3, 10, 22, 0, 0, 0, time.FixedZone("EDT", -4*3600))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, WeekStart(tt.at).Equal(monday), "got %v", WeekStart(tt.at))
		})
	}
	assert.True(t, WeekEnd(monday).Equal(monday.AddDate(0, 0, 7)))
	assert.Equal(t, "2024-W11", WeekID(monday))
	assert.Equal(t, "2025-W01", WeekID(time.Date(2024, 12, 30, 12, 0, 0, 0, time.UTC)))
}
