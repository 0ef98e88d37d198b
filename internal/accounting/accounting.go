// Package accounting provides the pure duration and data usage math for
// session segments.
package accounting

import (
	"math"
	"time"
)

// DurationMinutes returns the elapsed minutes between start and end, clamped
// at zero so clock skew never produces negative durations.
func DurationMinutes(start, end time.Time) float64 {
	minutes := end.Sub(start).Minutes()
	return math.Max(0, minutes)
}

// EstimatedMB estimates data usage for a duration at a device rate, rounded
// to two decimal places.
func EstimatedMB(durationMin, mbPerMinute float64) float64 {
	return Round2(durationMin * mbPerMinute)
}

// Round2 rounds to two decimals, half away from zero.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
