package engine

import "time"

// Clock is the only source of time for accrual and date keys
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
