package domain

import "time"

// User is an operator account for the API.
type User struct {
	ID           string
	Email        string
	PasswordHash []byte
	CreatedAt    time.Time
}
