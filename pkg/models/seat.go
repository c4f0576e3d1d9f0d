package models

import "time"

// Seat is one assigned Copilot seat as reported at fetch time.
type Seat struct {
	Login              string     `db:"login"                json:"login"`
	Team               string     `db:"team"                 json:"team"`
	CreatedAt          time.Time  `db:"created_at"           json:"created_at"`
	LastActivityAt     *time.Time `db:"last_activity_at"     json:"last_activity_at,omitempty"`
	LastActivityEditor string     `db:"last_activity_editor" json:"last_activity_editor"`
}

// TotalSeats is an ordered seat snapshot taken at one refresh instant.
type TotalSeats struct {
	Seats []Seat `json:"seats"`
}

// NewTotalSeats wraps seats, normalizing nil to an empty snapshot.
func NewTotalSeats(seats []Seat) TotalSeats {
	if seats == nil {
		seats = []Seat{}
	}
	return TotalSeats{Seats: seats}
}

// Len returns the number of seats in the snapshot.
func (s TotalSeats) Len() int { return len(s.Seats) }
