// Package datalog stores timestamped records of named columns and serves them
// back as chart data sets.
package datalog

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/benbjohnson/clock"

	"iotchart/internal/chart"
)

var (
	// ErrClockNotSet is returned by Add while the clock reads earlier than MinValidTime.
	ErrClockNotSet = errors.New("clock not set")
	// ErrUnknownColumn is returned by Add for a value whose column is not in the log.
	ErrUnknownColumn = errors.New("unknown column")
	// ErrInvalidValue is returned by Add for a value its column type cannot hold.
	ErrInvalidValue = errors.New("invalid value")
)

// MinValidTime is 2024-09-19 16:51:04 UTC. Records stamped before it come from a
// device whose clock has not been synchronized yet.
var MinValidTime = time.Unix(1726764664, 0)

// ColumnType describes how a column's values are produced.
type ColumnType string

const (
	TypeUint32      ColumnType = "uint32"
	TypeInt32       ColumnType = "int32"
	TypeFloat       ColumnType = "float"
	TypeTemperature ColumnType = "temperature"
)

// Column is one logged signal.
type Column struct {
	Name         string     `json:"name"`
	Type         ColumnType `json:"type"`
	TickInterval float64    `json:"tick_interval"`
}

// Header describes a log to chart clients.
type Header struct {
	Name    string   `json:"name"`
	NumCols int      `json:"num_cols"`
	Cols    []Column `json:"col"`
}

// Store is a data log backend.
type Store interface {
	Header() Header
	// Order returns the column names in definition order.
	Order() []string
	// Add stamps values with the current time and stores them. It returns the stamp.
	Add(ctx context.Context, values map[string]float64) (int64, error)
	// Since returns every sample at or after since.
	Since(ctx context.Context, since int64) (chart.DataSet, error)
	Close() error
}

// ParseColumns parses "name:type:tick,..." definitions. Type defaults to float and
// tick to 1.
func ParseColumns(s string) ([]Column, error) {
	var cols []Column
	seen := map[string]bool{}
	for _, def := range strings.Split(s, ",") {
		def = strings.TrimSpace(def)
		if def == "" {
			continue
		}
		parts := strings.Split(def, ":")
		if len(parts) > 3 {
			return nil, fmt.Errorf("column %q: too many fields", def)
		}
		col := Column{Name: strings.TrimSpace(parts[0]), Type: TypeFloat, TickInterval: 1}
		if col.Name == "" {
			return nil, fmt.Errorf("column %q: missing name", def)
		}
		if seen[col.Name] {
			return nil, fmt.Errorf("column %q: duplicate name", col.Name)
		}
		if len(parts) > 1 {
			switch t := ColumnType(strings.TrimSpace(parts[1])); t {
			case TypeUint32, TypeInt32, TypeFloat, TypeTemperature:
				col.Type = t
			default:
				return nil, fmt.Errorf("column %q: invalid type %q", col.Name, t)
			}
		}
		if len(parts) > 2 {
			tick, err := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
			if err != nil || tick <= 0 {
				return nil, fmt.Errorf("column %q: invalid tick interval %q", col.Name, parts[2])
			}
			col.TickInterval = tick
		}
		seen[col.Name] = true
		cols = append(cols, col)
	}
	if len(cols) == 0 {
		return nil, errors.New("no columns defined")
	}
	return cols, nil
}

// schema is the part shared by every Store: the column set and the record clock.
type schema struct {
	name  string
	cols  []Column
	index map[string]int
	clock clock.Clock
}

func newSchema(name string, cols []Column, c clock.Clock) schema {
	if c == nil {
		c = clock.New()
	}
	index := make(map[string]int, len(cols))
	for i, col := range cols {
		index[col.Name] = i
	}
	return schema{name: name, cols: append([]Column(nil), cols...), index: index, clock: c}
}

func (s schema) Header() Header {
	return Header{Name: s.name, NumCols: len(s.cols), Cols: append([]Column(nil), s.cols...)}
}

// Order returns the column names in definition order.
func (s schema) Order() []string {
	names := make([]string, len(s.cols))
	for i, col := range s.cols {
		names[i] = col.Name
	}
	return names
}

// stamp validates values and returns the record time.
func (s schema) stamp(values map[string]float64) (time.Time, error) {
	now := s.clock.Now()
	if now.Before(MinValidTime) {
		return time.Time{}, fmt.Errorf("%w: %s", ErrClockNotSet, now.UTC().Format(time.RFC3339))
	}
	for name, v := range values {
		i, ok := s.index[name]
		if !ok {
			return time.Time{}, fmt.Errorf("%w: %q", ErrUnknownColumn, name)
		}
		if err := checkValue(s.cols[i], v); err != nil {
			return time.Time{}, err
		}
	}
	return now.Round(time.Second), nil
}

func checkValue(col Column, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%w: column %q: %g is not finite", ErrInvalidValue, col.Name, v)
	}
	switch col.Type {
	case TypeUint32:
		if v < 0 || v > math.MaxUint32 || v != math.Trunc(v) {
			return fmt.Errorf("%w: column %q: %g is not a uint32", ErrInvalidValue, col.Name, v)
		}
	case TypeInt32:
		if v < math.MinInt32 || v > math.MaxInt32 || v != math.Trunc(v) {
			return fmt.Errorf("%w: column %q: %g is not an int32", ErrInvalidValue, col.Name, v)
		}
	}
	return nil
}
