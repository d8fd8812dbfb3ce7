package models

import "time"

// User is a read-only view of the user directory. Identity management lives
// in the main application; this service only resolves and searches users.
type User struct {
	ID        int        `db:"id" json:"id"`
	Username  string     `db:"username" json:"username"`
	Email     string     `db:"email" json:"email"`
	QuitDate  *time.Time `db:"quit_date" json:"quit_date,omitempty"`
	IsAdmin   bool       `db:"is_admin" json:"-"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
}
