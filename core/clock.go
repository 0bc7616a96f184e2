package core

import "fmt"

// WorldTime is the in-world time used to refresh persona preambles.
type WorldTime struct {
	Hour   int
	Minute int
	Season string
	// Date is formatted YYYY-MM-DD; empty when the calendar source has none.
	Date string
}

// Clock returns "H:MM".
func (t WorldTime) Clock() string { return fmt.Sprintf("%d:%02d", t.Hour, t.Minute) }

// WorldClock supplies the current in-world time.
type WorldClock interface {
	Now() WorldTime
}

// WorldClockFunc adapts a function to WorldClock.
type WorldClockFunc func() WorldTime

// Now implements WorldClock.
func (f WorldClockFunc) Now() WorldTime { return f() }
