package chrono

import "time"

// TimeAPI is the interface that anything depending on the system clock should use.
//
// note: fault injection point
type TimeAPI interface {
	Now() time.Time
}

// StandardTime is the standard implementation of TimeAPI using the standard library.
type StandardTime struct{}

func NewStandardTime() StandardTime {
	return StandardTime{}
}

func (StandardTime) Now() time.Time {
	return time.Now()
}

// FixedTime is a TimeAPI for tests, it always returns the time it holds until it is moved.
type FixedTime struct {
	now *time.Time
}

func NewFixedTime(now time.Time) FixedTime {
	return FixedTime{now: &now}
}

func (f FixedTime) Now() time.Time {
	return *f.now
}

// Advance moves the clock forward by d.
func (f FixedTime) Advance(d time.Duration) {
	*f.now = f.now.Add(d)
}
