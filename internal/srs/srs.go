// Package srs computes spaced-repetition review intervals.
package srs

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/conorfennell/knolroom/internal/errs"
)

// Day is one scheduling day.
const Day = 24 * time.Hour

// Rating is the user's recall quality for a single review.
type Rating int

const (
	Again Rating = 1
	Hard  Rating = 2
	Good  Rating = 3
	Easy  Rating = 4
)

var ratingNames = map[Rating]string{
	Again: "again",
	Hard:  "hard",
	Good:  "good",
	Easy:  "easy",
}

func (r Rating) String() string {
	if name, ok := ratingNames[r]; ok {
		return name
	}
	return fmt.Sprintf("Rating(%d)", int(r))
}

// Valid reports whether r is one of Again, Hard, Good or Easy.
func (r Rating) Valid() bool {
	_, ok := ratingNames[r]
	return ok
}

// ParseRating converts an outcome name ("again", "hard", "good", "easy").
func ParseRating(s string) (Rating, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for r, n := range ratingNames {
		if n == name {
			return r, nil
		}
	}
	return 0, errs.Validation("unknown outcome %q", s)
}

// Params holds the scheduling policy. The multipliers are tunable and are
// loaded from configuration.
type Params struct {
	HardFactor           float64       // interval multiplier for Hard
	GoodFactor           float64       // interval multiplier for Good
	EasyFactor           float64       // interval multiplier for Easy
	MinInterval          time.Duration // floor for Hard, Good and Easy after the first review
	MaxInterval          time.Duration // ceiling for every interval
	FirstSuccessInterval time.Duration // first review answered Good or Easy
}

// DefaultParams provides the stock policy: x1.2 / x2 / x3 within [1, 180] days.
func DefaultParams() *Params {
	return &Params{
		HardFactor:           1.2,
		GoodFactor:           2.0,
		EasyFactor:           3.0,
		MinInterval:          Day,
		MaxInterval:          180 * Day,
		FirstSuccessInterval: Day,
	}
}

// Validate checks that the policy can produce sane intervals.
func (p *Params) Validate() error {
	if p.HardFactor <= 0 || p.GoodFactor <= 0 || p.EasyFactor <= 0 {
		return errs.Validation("schedule factors must be positive")
	}
	if p.MinInterval < 0 || p.MaxInterval < p.MinInterval {
		return errs.Validation("schedule interval bounds are inverted")
	}
	if p.FirstSuccessInterval < 0 || p.FirstSuccessInterval > p.MaxInterval {
		return errs.Validation("first success interval out of bounds")
	}
	return nil
}

// NextInterval returns the gap until the next review. previous is the gap
// that led to this review and reviewed is false for a card seen for the
// first time. A zero result means the card is due again the same day.
func (p *Params) NextInterval(previous time.Duration, reviewed bool, rating Rating) time.Duration {
	if !reviewed {
		switch rating {
		case Good, Easy:
			return p.FirstSuccessInterval
		default:
			return 0
		}
	}

	var factor float64
	switch rating {
	case Hard:
		factor = p.HardFactor
	case Good:
		factor = p.GoodFactor
	case Easy:
		factor = p.EasyFactor
	default:
		return 0
	}
	return p.clamp(time.Duration(math.Round(float64(previous) * factor)))
}

// Demotes reports whether a review should push the card's difficulty toward hard.
func Demotes(reviewed bool, rating Rating) bool {
	return reviewed && rating == Again
}

func (p *Params) clamp(d time.Duration) time.Duration {
	if d < p.MinInterval {
		return p.MinInterval
	}
	if d > p.MaxInterval {
		return p.MaxInterval
	}
	return d
}
