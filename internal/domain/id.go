package domain

import "github.com/google/uuid"

// NewID generates a UUIDv7 string for jobs. UUIDv7 sorts by creation time.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}
