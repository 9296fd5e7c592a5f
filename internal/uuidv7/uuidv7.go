package uuidv7

import "github.com/google/uuid"

// NewString returns a time-ordered UUIDv7 string, falling back to a random
// v4 value if the v7 generator fails.
func NewString() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
