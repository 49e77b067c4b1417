package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

const (
	// DefaultEaseFactor is the ease factor of a card that was never reviewed
	DefaultEaseFactor = 2.5
	// MinEaseFactor is the SM-2 floor for the ease factor
	MinEaseFactor = 1.3
	// HistoryLimit is how many recent reviews a card keeps
	HistoryLimit = 5
)

// Schedule is the SM-2 state of a card
type Schedule struct {
	Repetitions  int       `json:"repetitions" db:"repetitions"`     // n, successful reviews in a row
	EaseFactor   float64   `json:"ease_factor" db:"ease_factor"`     // SM-2 EF parameter
	IntervalDays int       `json:"interval_days" db:"interval_days"` // Current interval in days
	DueDate      time.Time `json:"due_date" db:"due_date"`
}

// HistoryEntry is one review kept in the card's recent history
type HistoryEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Quality   int       `json:"quality"`
	ReviewID  string    `json:"review_id,omitempty"`
}

// History is the bounded review trail stored as a JSON column
type History []HistoryEntry

// Value implements driver.Valuer
func (h History) Value() (driver.Value, error) {
	if h == nil {
		return "[]", nil
	}
	b, err := json.Marshal(h)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner
func (h *History) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*h = History{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported history type %T", src)
	}
	var entries History
	if err := json.Unmarshal(raw, &entries); err != nil {
		return fmt.Errorf("decode history: %w", err)
	}
	*h = entries
	return nil
}

// Append adds an entry and evicts the oldest ones beyond HistoryLimit
func (h History) Append(e HistoryEntry) History {
	out := append(History{}, h...)
	out = append(out, e)
	if len(out) > HistoryLimit {
		out = out[len(out)-HistoryLimit:]
	}
	return out
}

// Contains reports whether a review with the given id is already recorded
func (h History) Contains(reviewID string) bool {
	if reviewID == "" {
		return false
	}
	for _, e := range h {
		if e.ReviewID == reviewID {
			return true
		}
	}
	return false
}

// Card tracks one learner's relationship to one question
type Card struct {
	UserID     string `json:"user_id" db:"user_id"`
	QuestionID string `json:"question_id" db:"question_id"`
	Schedule
	LastStudied     *time.Time `json:"last_studied" db:"last_studied"`
	TotalAttempts   int        `json:"total_attempts" db:"total_attempts"`
	CorrectAttempts int        `json:"correct_attempts" db:"correct_attempts"`
	LastQuality     int        `json:"last_quality" db:"last_quality"`
	AverageQuality  float64    `json:"average_quality" db:"average_quality"`
	Level           int        `json:"level" db:"level"` // 0-5, diagnostic only
	History         History    `json:"history" db:"history"`
	Points          int        `json:"points" db:"points"`           // Lifetime points earned on this card
	WeekPoints      int        `json:"week_points" db:"week_points"` // Points earned during WeekStart's week
	WeekStart       time.Time  `json:"week_start" db:"week_start"`
	Version         int64      `json:"version" db:"version"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
}

// NewCard returns the default, not yet persisted card
func NewCard(userID, questionID string, now time.Time) *Card {
	now = now.UTC()
	return &Card{
		UserID:     userID,
		QuestionID: questionID,
		Schedule: Schedule{
			EaseFactor: DefaultEaseFactor,
			DueDate:    now,
		},
		History:   History{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsNew reports whether the card has never been persisted
func (c *Card) IsNew() bool {
	return c.Version == 0
}

// IsMastered reports whether the card's interval reached the threshold
func (c *Card) IsMastered(thresholdDays int) bool {
	return c.IntervalDays >= thresholdDays
}

// Validate checks the invariants of a stored card
func (c *Card) Validate() error {
	switch {
	case c.UserID == "" || c.QuestionID == "":
		return fmt.Errorf("card is missing its identity")
	case c.Repetitions < 0:
		return fmt.Errorf("card %s/%s: negative repetitions %d", c.UserID, c.QuestionID, c.Repetitions)
	case c.EaseFactor < MinEaseFactor:
		return fmt.Errorf("card %s/%s: ease factor %.2f below %.1f", c.UserID, c.QuestionID, c.EaseFactor, MinEaseFactor)
	case c.IntervalDays < 0:
		return fmt.Errorf("card %s/%s: negative interval %d", c.UserID, c.QuestionID, c.IntervalDays)
	case c.TotalAttempts < 0 || c.CorrectAttempts < 0:
		return fmt.Errorf("card %s/%s: negative attempt counters", c.UserID, c.QuestionID)
	case c.CorrectAttempts > c.TotalAttempts:
		return fmt.Errorf("card %s/%s: %d correct of %d attempts", c.UserID, c.QuestionID, c.CorrectAttempts, c.TotalAttempts)
	case c.Points < 0 || c.WeekPoints < 0 || c.WeekPoints > c.Points:
		return fmt.Errorf("card %s/%s: inconsistent points %d/%d", c.UserID, c.QuestionID, c.WeekPoints, c.Points)
	case len(c.History) > HistoryLimit:
		return fmt.Errorf("card %s/%s: history holds %d entries", c.UserID, c.QuestionID, len(c.History))
	}
	for _, e := range c.History {
		if e.Timestamp.IsZero() {
			return fmt.Errorf("card %s/%s: history entry without timestamp", c.UserID, c.QuestionID)
		}
	}
	return nil
}

// CardDelta describes what a single review changed, as input for the rollup
type CardDelta struct {
	NewCard     bool      `json:"new_card"`
	Points      int       `json:"points"`
	WeekStart   time.Time `json:"week_start"`
	WasMastered bool      `json:"was_mastered"`
	IsMastered  bool      `json:"is_mastered"`
	ReviewedAt  time.Time `json:"reviewed_at"`
	ReviewID    string    `json:"review_id"`
	Duplicate   bool      `json:"duplicate"`
}

// MasteryChange returns -1, 0 or +1
func (d CardDelta) MasteryChange() int {
	switch {
	case d.IsMastered && !d.WasMastered:
		return 1
	case !d.IsMastered && d.WasMastered:
		return -1
	}
	return 0
}
