package core

import "time"

// Clock separates wall-clock day bucketing from the time source so tests can
// pin the day.
type Clock interface {
	Now() time.Time
	Today() string
}

const dayLayout = "2006-01-02"

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
func (systemClock) Today() string  { return time.Now().Format(dayLayout) }

// SystemClock returns the process-local wall clock.
func SystemClock() Clock { return systemClock{} }
