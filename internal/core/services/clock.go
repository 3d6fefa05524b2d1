package services

import (
	"time"

	"greenearth/internal/core/ports"
)

type systemClock struct{}

// SystemClock reads the wall clock; time.Now carries a monotonic reading,
// so durations computed from it do not drift with wall clock changes.
func SystemClock() ports.Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now()
}
