package vitalrelay

import "time"

// Clock abstracts time for deterministic tests.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
}

// SystemClock uses the system time in UTC.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now implements Clock.
func (fn ClockFunc) Now() time.Time {
	return fn()
}

// epoch is the watermark used before the first successful poll.
var epoch = time.Unix(0, 0).UTC()
