package spaced_repetition

import (
	"math"
	"time"

	"github.com/example/dentalsrs/internal/errs"
	"github.com/example/dentalsrs/pkg/models"
)

// SM2 implements the SuperMemo-2 algorithm for spaced repetition
type SM2 struct {
	// Quality at or above which a review counts as remembered
	PassThreshold int
	// Interval in days after a lapse
	LapseInterval int
	// Maximum interval in days, 0 disables the cap
	MaxInterval int
	// Intervals for the first successful repetitions (n=1, n=2, ...)
	InitialIntervals []int
}

// NewSM2 returns an SM2 with the standard settings
func NewSM2() *SM2 {
	return &SM2{
		PassThreshold:    int(QualityCorrectDifficult),
		LapseInterval:    1,
		MaxInterval:      365,
		InitialIntervals: []int{1, 6},
	}
}

// QualityResponse represents the quality of response in SM-2
type QualityResponse int

const (
	// Complete blackout, unable to recall
	QualityBlackout QualityResponse = 0
	// Incorrect response but remembered upon seeing the correct answer
	QualityIncorrect QualityResponse = 1
	// Incorrect response but the correct answer felt familiar
	QualityIncorrectFamiliar QualityResponse = 2
	// Correct response but required significant effort
	QualityCorrectDifficult QualityResponse = 3
	// Correct response after some hesitation
	QualityCorrectHesitation QualityResponse = 4
	// Perfect response with no hesitation
	QualityPerfect QualityResponse = 5
)

// ValidateQuality rejects ratings outside the 0-5 scale
func ValidateQuality(quality int) error {
	if quality < int(QualityBlackout) || quality > int(QualityPerfect) {
		return errs.InvalidInput("quality %d outside 0-5", quality)
	}
	return nil
}

// Schedule computes the next schedule. It is pure: identical inputs give
// identical outputs.
func (sm *SM2) Schedule(prior models.Schedule, quality int, now time.Time) (models.Schedule, error) {
	if err := ValidateQuality(quality); err != nil {
		return models.Schedule{}, err
	}

	next := prior
	if next.EaseFactor < models.MinEaseFactor {
		next.EaseFactor = models.MinEaseFactor
	}

	if quality < sm.PassThreshold {
		// Lapse: restart the progression, keep the ease factor
		next.Repetitions = 0
		next.IntervalDays = sm.LapseInterval
	} else {
		next.Repetitions = prior.Repetitions + 1
		next.EaseFactor = nextEaseFactor(next.EaseFactor, quality)
		next.IntervalDays = sm.nextInterval(next.Repetitions, prior.IntervalDays, next.EaseFactor)
	}

	next.DueDate = DueDate(now, next.IntervalDays)
	return next, nil
}

// nextEaseFactor applies the SM-2 ease update with the 1.3 floor
func nextEaseFactor(ef float64, quality int) float64 {
	q := float64(quality)
	newEF := ef + (0.1 - (5.0-q)*(0.08+(5.0-q)*0.02))
	if newEF < models.MinEaseFactor {
		newEF = models.MinEaseFactor
	}
	return newEF
}

func (sm *SM2) nextInterval(repetitions, previous int, ef float64) int {
	var interval int
	if repetitions <= len(sm.InitialIntervals) {
		interval = sm.InitialIntervals[repetitions-1]
	} else {
		interval = int(math.Round(float64(previous) * ef))
	}

	if sm.MaxInterval > 0 && interval > sm.MaxInterval {
		interval = sm.MaxInterval
	}
	// Successful reviews never shorten the interval
	if interval < previous {
		interval = previous
	}
	return interval
}

// DueDate returns now plus the given number of 24-hour days in UTC
func DueDate(now time.Time, intervalDays int) time.Time {
	return now.UTC().Add(time.Duration(intervalDays) * 24 * time.Hour)
}

// IsMastered determines if an interval counts as mastered
func IsMastered(intervalDays, thresholdDays int) bool {
	return intervalDays >= thresholdDays
}

// Level grades a card from 0 (new) to 5 (learned) using its repetitions
// and the average quality of the recent history
func Level(repetitions int, history models.History) int {
	if repetitions == 0 {
		return 0
	}
	if len(history) == 0 {
		return 1
	}

	sum := 0
	for _, h := range history {
		sum += h.Quality
	}
	avg := float64(sum) / float64(len(history))

	switch {
	case repetitions >= 5 && avg >= 4.5:
		return 5
	case repetitions >= 3 && avg >= 4.0:
		return 4
	case repetitions >= 2 && avg >= 3.5:
		return 3
	case avg >= 3.0:
		return 2
	default:
		return 1
	}
}
