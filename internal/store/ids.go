package store

import "github.com/google/uuid"

// GenNewID returns a new time-ordered identifier for store records.
func GenNewID() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return id
}
