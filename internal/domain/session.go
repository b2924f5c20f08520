package domain

import (
	"slices"
	"time"
)

// Session is a group study room. The host is always Participants[0] and
// counts toward Capacity.
type Session struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	Topic           string     `json:"topic"`
	Host            string     `json:"host"`
	Capacity        int        `json:"capacity"`
	Participants    []string   `json:"participants"`
	ScheduledAt     *time.Time `json:"scheduledAt"`
	DurationMinutes int        `json:"durationMinutes"`
	CreatedAt       time.Time  `json:"createdAt"`
}

// HasParticipant reports whether identity already joined the session.
func (s Session) HasParticipant(identity string) bool {
	return slices.Contains(s.Participants, identity)
}

// Full reports whether no further identity can join.
func (s Session) Full() bool {
	return len(s.Participants) >= s.Capacity
}
