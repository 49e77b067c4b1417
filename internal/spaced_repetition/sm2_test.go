package spaced_repetition

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/dentalsrs/internal/errs"
	"github.com/example/dentalsrs/pkg/models"
)

var t0 = time.Date(2025, 1, 6, 9, 30, 0, 0, time.UTC)

func newSchedule() models.Schedule {
	return models.Schedule{EaseFactor: models.DefaultEaseFactor, DueDate: t0}
}

func TestSchedule_FirstReviewNormal(t *testing.T) {
	sm := NewSM2()

	next, err := sm.Schedule(newSchedule(), 3, t0)
	require.NoError(t, err)

	assert.Equal(t, 1, next.Repetitions)
	assert.Equal(t, 1, next.IntervalDays)
	assert.InDelta(t, 2.36, next.EaseFactor, 1e-9)
	assert.Equal(t, t0.Add(24*time.Hour), next.DueDate)
}

func TestSchedule_SecondReviewSixDays(t *testing.T) {
	sm := NewSM2()

	first, err := sm.Schedule(newSchedule(), 3, t0)
	require.NoError(t, err)
	now := t0.Add(24 * time.Hour)
	second, err := sm.Schedule(first, 4, now)
	require.NoError(t, err)

	assert.Equal(t, 2, second.Repetitions)
	assert.Equal(t, 6, second.IntervalDays)
	assert.InDelta(t, 2.36, second.EaseFactor, 1e-9)
	assert.Equal(t, now.Add(6*24*time.Hour), second.DueDate)
}

func TestSchedule_LapseKeepsEase(t *testing.T) {
	sm := NewSM2()

	first, _ := sm.Schedule(newSchedule(), 3, t0)
	second, _ := sm.Schedule(first, 4, t0.Add(24*time.Hour))
	now := t0.Add(7 * 24 * time.Hour)
	third, err := sm.Schedule(second, 1, now)
	require.NoError(t, err)

	assert.Equal(t, 0, third.Repetitions)
	assert.Equal(t, 1, third.IntervalDays)
	assert.Equal(t, second.EaseFactor, third.EaseFactor)
	assert.Equal(t, now.Add(24*time.Hour), third.DueDate)
}

func TestSchedule_ThirdRepetitionUsesEase(t *testing.T) {
	sm := NewSM2()
	prior := models.Schedule{Repetitions: 2, EaseFactor: 2.5, IntervalDays: 6}

	next, err := sm.Schedule(prior, 5, t0)
	require.NoError(t, err)

	// 2.5 + 0.1 = 2.6, round(6 * 2.6) = 16
	assert.Equal(t, 3, next.Repetitions)
	assert.InDelta(t, 2.6, next.EaseFactor, 1e-9)
	assert.Equal(t, 16, next.IntervalDays)
}

func TestSchedule_RejectsOutOfRangeQuality(t *testing.T) {
	sm := NewSM2()
	for _, q := range []int{-1, 6, 42} {
		_, err := sm.Schedule(newSchedule(), q, t0)
		assert.True(t, errors.Is(err, errs.ErrInvalidInput), "quality %d", q)
	}
}

func TestSchedule_Deterministic(t *testing.T) {
	sm := NewSM2()
	prior := models.Schedule{Repetitions: 4, EaseFactor: 1.9, IntervalDays: 23, DueDate: t0}
	for q := 0; q <= 5; q++ {
		a, errA := sm.Schedule(prior, q, t0)
		b, errB := sm.Schedule(prior, q, t0)
		require.NoError(t, errA)
		require.NoError(t, errB)
		assert.Equal(t, a, b)
	}
}

func TestSchedule_EaseFloorHoldsForAnySequence(t *testing.T) {
	sm := NewSM2()
	s := newSchedule()
	now := t0
	// Deterministic pseudo-random walk through all qualities
	seq := []int{3, 0, 3, 3, 1, 5, 3, 3, 3, 2, 4, 3, 3, 0, 3, 3, 3, 3, 5, 1}
	for i := 0; i < 10; i++ {
		for _, q := range seq {
			var err error
			s, err = sm.Schedule(s, q, now)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, s.EaseFactor, models.MinEaseFactor)
			now = s.DueDate
		}
	}
}

func TestSchedule_IntervalNonDecreasingWhileSuccessful(t *testing.T) {
	sm := NewSM2()
	s := newSchedule()
	prev := 0
	for i := 0; i < 15; i++ {
		var err error
		s, err = sm.Schedule(s, 3, t0)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, s.IntervalDays, prev)
		prev = s.IntervalDays
	}
	assert.Equal(t, sm.MaxInterval, s.IntervalDays)
}

func TestSchedule_CapDoesNotShortenLegacyInterval(t *testing.T) {
	sm := NewSM2()
	prior := models.Schedule{Repetitions: 9, EaseFactor: 2.5, IntervalDays: 500}

	next, err := sm.Schedule(prior, 5, t0)
	require.NoError(t, err)
	assert.Equal(t, 500, next.IntervalDays)
}

func TestDueDate_UsesWholeDaysInUTC(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*3600)
	now := time.Date(2025, 3, 30, 23, 59, 0, 0, tokyo)

	due := DueDate(now, 1)
	assert.Equal(t, time.UTC, due.Location())
	assert.Equal(t, 24*time.Hour, due.Sub(now))
}

func TestLevel(t *testing.T) {
	h := func(qs ...int) models.History {
		out := models.History{}
		for _, q := range qs {
			out = append(out, models.HistoryEntry{Timestamp: t0, Quality: q})
		}
		return out
	}
	tests := []struct {
		name string
		n    int
		hist models.History
		want int
	}{
		{"new", 0, h(4), 0},
		{"no history", 1, nil, 1},
		{"learned", 5, h(5, 5, 4, 5, 5), 5},
		{"advanced", 3, h(4, 4, 4), 4},
		{"progressing", 2, h(3, 4), 3},
		{"started", 1, h(3), 2},
		{"struggling", 1, h(1, 2, 3), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Level(tt.n, tt.hist))
		})
	}
}

func TestParseRating(t *testing.T) {
	r, err := ParseRating("Normal")
	require.NoError(t, err)
	assert.Equal(t, 3, r.Quality())

	r, err = ParseRating("🔥")
	require.NoError(t, err)
	assert.Equal(t, RatingEasy, r)

	_, err = ParseRating("meh")
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
}
