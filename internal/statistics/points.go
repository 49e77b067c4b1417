package statistics

import (
	"fmt"
	"time"
)

const (
	ScoringFlat   = "flat"
	ScoringTiered = "tiered"
)

// Scoring turns a review quality into points.
//
// flat: a passing review (quality >= 3) earns FlatPoints, anything else 0.
// tiered: quality >= 4 earns 5, quality >= 2 earns 2, anything else 0.
type Scoring struct {
	Mode       string
	FlatPoints int
}

// NewScoring validates a scoring mode.
func NewScoring(mode string, flatPoints int) (Scoring, error) {
	if mode == "" {
		mode = ScoringFlat
	}
	if flatPoints <= 0 {
		flatPoints = 5
	}
	switch mode {
	case ScoringFlat, ScoringTiered:
		return Scoring{Mode: mode, FlatPoints: flatPoints}, nil
	}
	return Scoring{}, fmt.Errorf("unknown scoring mode %q", mode)
}

// DefaultScoring is five points per passing review.
func DefaultScoring() Scoring {
	return Scoring{Mode: ScoringFlat, FlatPoints: 5}
}

// Points returns the points earned by one review.
func (s Scoring) Points(quality int) int {
	if s.Mode == ScoringTiered {
		switch {
		case quality >= 4:
			return 5
		case quality >= 2:
			return 2
		}
		return 0
	}
	if quality >= 3 {
		return s.FlatPoints
	}
	return 0
}

// WeekStart returns Monday 00:00 UTC of the ISO week containing t.
func WeekStart(t time.Time) time.Time {
	t = t.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}

// WeekEnd returns the start of the week after t's week.
func WeekEnd(t time.Time) time.Time {
	return WeekStart(t).AddDate(0, 0, 7)
}

// WeekID names the ISO week containing t, e.g. "2024-W11".
func WeekID(t time.Time) string {
	year, week := t.UTC().ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}
