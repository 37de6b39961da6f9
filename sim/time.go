package sim

import (
	"fmt"
	"math"
)

// Time is simulated time in ticks. The kernel attaches no unit to a tick;
// models pick one.
type Time int64

const (
	// TimeZero is the default replication start.
	TimeZero Time = 0
	// MaxTime is used as an open-ended replication bound.
	MaxTime Time = math.MaxInt64
)

// Add returns t+d, saturating at MaxTime instead of wrapping.
func (t Time) Add(d Time) Time {
	if d > 0 && t > MaxTime-d {
		return MaxTime
	}
	return t + d
}

func (t Time) String() string {
	if t == MaxTime {
		return "inf"
	}
	return fmt.Sprintf("%d", int64(t))
}
