package chart

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
)

// ErrInvalidDuration is returned when a selected duration is zero, negative or not a number.
var ErrInvalidDuration = errors.New("invalid duration")

const secondsPerHour = 60 * 60

// Window is the [Start, End] range, in unix seconds, visible on the x-axis.
type Window struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// Width returns the length of the window in seconds.
func (w Window) Width() int64 {
	return w.End - w.Start
}

// Contains reports whether t lies inside the window, bounds included.
func (w Window) Contains(t int64) bool {
	return t >= w.Start && t <= w.End
}

// Calculator derives windows from the current time.
type Calculator struct {
	clock clock.Clock
}

// NewCalculator returns a Calculator reading time from c. A nil clock means the wall clock.
func NewCalculator(c clock.Clock) *Calculator {
	if c == nil {
		c = clock.New()
	}
	return &Calculator{clock: c}
}

// Now returns the current time in whole unix seconds.
func (c *Calculator) Now() int64 {
	return c.clock.Now().Round(time.Second).Unix()
}

// Compute returns the window ending now and spanning the given number of hours.
func (c *Calculator) Compute(hours float64) (Window, error) {
	span, err := spanSeconds(hours)
	if err != nil {
		return Window{}, err
	}
	end := c.Now()
	w := Window{Start: end - span, End: end}
	logrus.Tracef("Computed window hours=%g start=%d end=%d", hours, w.Start, w.End)
	return w, nil
}

// Since returns the lower bound timestamp for a data request covering the given hours.
func (c *Calculator) Since(hours float64) (int64, error) {
	span, err := spanSeconds(hours)
	if err != nil {
		return 0, err
	}
	return c.Now() - span, nil
}

// ValidateHours checks that hours is a usable duration.
func ValidateHours(hours float64) error {
	_, err := spanSeconds(hours)
	return err
}

func spanSeconds(hours float64) (int64, error) {
	if math.IsNaN(hours) || math.IsInf(hours, 0) || hours <= 0 {
		return 0, fmt.Errorf("%w: %g hours", ErrInvalidDuration, hours)
	}
	if hours*secondsPerHour >= math.MaxInt64 {
		return 0, fmt.Errorf("%w: %g hours is too long", ErrInvalidDuration, hours)
	}
	span := int64(math.Round(hours * secondsPerHour))
	if span <= 0 {
		return 0, fmt.Errorf("%w: %g hours is under one second", ErrInvalidDuration, hours)
	}
	return span, nil
}
