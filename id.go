package planbase

import (
	"github.com/google/uuid"
)

// NewID generates a UUIDv7 (time-ordered) identifier, so entity keys list in
// creation order.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// Fall back to UUIDv4 if NewV7 fails (extremely rare)
		id = uuid.New()
	}
	return id.String()
}

// IsValidID checks if a string is a valid UUID. Imported records may carry
// arbitrary opaque ids, so this is informational only.
func IsValidID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
