package domain

import "time"

// User represents an end user that can authenticate against the server.
type User struct {
	ID            int64
	Email         string
	EmailVerified bool
	PasswordHash  string
	Name          string
	Status        string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
