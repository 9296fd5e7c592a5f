package clock

import "time"

// Clock abstracts time-related functions for easier testing.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
}

// Real implements Clock using the standard library.
type Real struct{}

// Now returns the current UTC time.
func (Real) Now() time.Time {
	return time.Now().UTC()
}

// Since mirrors time.Since.
func (Real) Since(t time.Time) time.Duration {
	return time.Since(t)
}
