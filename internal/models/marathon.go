package models

import "time"

// Marathon is a time-boxed group challenge. Once its end time passes the
// completion sweep deactivates it and completes its remaining participants.
type Marathon struct {
	ID       int       `db:"id" json:"id"`
	Title    string    `db:"title" json:"title"`
	StartsAt time.Time `db:"starts_at" json:"starts_at"`
	EndsAt   time.Time `db:"ends_at" json:"ends_at"`
	IsActive bool      `db:"is_active" json:"is_active"`
}

// Marathon participant statuses.
const (
	MarathonStatusActive       = "active"
	MarathonStatusDisqualified = "disqualified"
	MarathonStatusCompleted    = "completed"
)

// MarathonParticipant links a user to a marathon.
type MarathonParticipant struct {
	MarathonID int    `db:"marathon_id" json:"marathon_id"`
	UserID     int    `db:"user_id" json:"user_id"`
	Status     string `db:"status" json:"status"`
}

// SweepResult summarizes one run of the marathon completion sweep.
type SweepResult struct {
	MarathonsClosed       int       `json:"marathons_closed"`
	ParticipantsCompleted int       `json:"participants_completed"`
	RanAt                 time.Time `json:"ran_at"`
}
