package maestro

import "github.com/google/uuid"

// NewID returns a time-ordered unique ID (UUIDv7) for instance records.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}
