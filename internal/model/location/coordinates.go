package location

import (
	"errors"
	"time"
)

var (
	ErrTimeout          = errors.New("location request timed out")
	ErrPermissionDenied = errors.New("location permission denied")
	ErrUnavailable      = errors.New("capability unavailable")
)

// Coordinates is an immutable position snapshot. Optional readings are nil when
// the device did not report them.
type Coordinates struct {
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Accuracy   *float64  `json:"accuracy,omitempty"`
	Speed      *float64  `json:"speed,omitempty"`
	Altitude   *float64  `json:"altitude,omitempty"`
	CapturedAt time.Time `json:"capturedAt"`
}

// Age reports how long ago the fix was captured relative to now.
func (c Coordinates) Age(now time.Time) time.Duration {
	return now.Sub(c.CapturedAt)
}

// Float returns a pointer to v, for building optional readings.
func Float(v float64) *float64 {
	return &v
}
