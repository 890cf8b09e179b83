package chart

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// Preset is one of the durations offered to the user.
type Preset struct {
	Hours float64
	Label string
}

// Presets are the nominal durations offered by the dashboard. The "Week" entry is
// 148 hours, not 168, and is kept that way until the owner of the options decides.
var Presets = []Preset{
	{1, "Hour"},
	{6, "6 Hours"},
	{12, "12 Hours"},
	{24, "Day"},
	{120, "5 Days"},
	{148, "Week"},
	{720, "30 Days"},
}

// Selector holds the currently selected duration in hours.
type Selector struct {
	mu    sync.RWMutex
	hours float64
}

func NewSelector(hours float64) (*Selector, error) {
	if err := ValidateHours(hours); err != nil {
		return nil, err
	}
	return &Selector{hours: hours}, nil
}

// Hours returns the current selection.
func (s *Selector) Hours() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hours
}

// Set changes the selection. Invalid values leave the previous selection in place.
func (s *Selector) Set(hours float64) error {
	if err := ValidateHours(hours); err != nil {
		return err
	}
	s.mu.Lock()
	s.hours = hours
	s.mu.Unlock()
	return nil
}

// SetString parses a raw input value, as received from a form or query string.
func (s *Selector) SetString(v string) error {
	hours, err := ParseHours(v)
	if err != nil {
		return err
	}
	return s.Set(hours)
}

// ParseHours parses and validates a textual hours value.
func ParseHours(v string) (float64, error) {
	hours, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a number", ErrInvalidDuration, v)
	}
	if err := ValidateHours(hours); err != nil {
		return 0, err
	}
	return hours, nil
}
