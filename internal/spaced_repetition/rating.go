package spaced_repetition

import (
	"strings"

	"github.com/example/dentalsrs/internal/errs"
)

// Rating is the four-button self evaluation shown to learners
type Rating int

const (
	RatingAgain  Rating = 1
	RatingHard   Rating = 2
	RatingNormal Rating = 3
	RatingEasy   Rating = 4
)

// Ratings lists the buttons in display order
var Ratings = []Rating{RatingAgain, RatingHard, RatingNormal, RatingEasy}

// Quality returns the SM-2 quality the rating is submitted as
func (r Rating) Quality() int {
	return int(r)
}

// Label is the button text
func (r Rating) Label() string {
	switch r {
	case RatingAgain:
		return "🔄 Again"
	case RatingHard:
		return "😅 Hard"
	case RatingNormal:
		return "👍 Normal"
	case RatingEasy:
		return "🔥 Easy"
	}
	return "?"
}

// ParseRating accepts a rating name, its emoji or its number
func ParseRating(s string) (Rating, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "again", "🔄", "1":
		return RatingAgain, nil
	case "hard", "😅", "2":
		return RatingHard, nil
	case "normal", "👍", "3":
		return RatingNormal, nil
	case "easy", "🔥", "4":
		return RatingEasy, nil
	}
	return 0, errs.InvalidInput("unknown rating %q", s)
}
