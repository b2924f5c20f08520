package domain

import "time"

// Difficulty is the perceived difficulty of a flashcard.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// Valid reports whether d is one of the known difficulties.
func (d Difficulty) Valid() bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return true
	}
	return false
}

// Harder moves d one step toward hard. Hard stays hard.
func (d Difficulty) Harder() Difficulty {
	switch d {
	case DifficultyEasy:
		return DifficultyMedium
	default:
		return DifficultyHard
	}
}

// Flashcard is a single question-answer entry in a room.
// The JSON names match the persisted room files and must not change.
// LastReviewed and NextReviewDate are both nil until the first review.
type Flashcard struct {
	ID             string     `json:"id"`
	Question       string     `json:"question"`
	Answer         string     `json:"answer"`
	Tags           []string   `json:"tags"`
	Difficulty     Difficulty `json:"difficulty"`
	CreatedAt      time.Time  `json:"createdAt"`
	LastReviewed   *time.Time `json:"lastReviewed"`
	NextReviewDate *time.Time `json:"nextReviewDate"`
}

// Reviewed reports whether the card has been scheduled at least once.
func (c Flashcard) Reviewed() bool {
	return c.LastReviewed != nil && c.NextReviewDate != nil
}

// Interval is the gap between the last review and the next one.
// It is zero for a card that was never reviewed.
func (c Flashcard) Interval() time.Duration {
	if !c.Reviewed() {
		return 0
	}
	return c.NextReviewDate.Sub(*c.LastReviewed)
}

// DueAt reports whether the card should be reviewed at t.
func (c Flashcard) DueAt(t time.Time) bool {
	return !c.Reviewed() || !c.NextReviewDate.After(t)
}

// DeckEntry is a card parsed from a markdown deck, before it is stored.
type DeckEntry struct {
	Question string
	Answer   string
	Tags     []string
	Source   string // file the entry was read from
}
