// Package system supplies the wall clock used for job and run timestamps.
package system

import "time"

// Clock reports wall time in UTC.
type Clock struct{}

// New returns a Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
