package chart

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// Point is a single plotted sample. X is a unix timestamp or an index.
type Point struct {
	X int64   `json:"x"`
	Y float64 `json:"y"`
}

// Series is one signal's points in draw order.
type Series []Point

// SeriesSet is the input shape of an Engine: one Series per plotted signal.
type SeriesSet []Series

// Len returns the total number of points in the set.
func (s SeriesSet) Len() int {
	n := 0
	for _, series := range s {
		n += len(series)
	}
	return n
}

// Sample is a [time, value] pair as carried on the wire.
type Sample struct {
	Time  int64
	Value float64
}

func (s Sample) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{s.Time, s.Value})
}

func (s *Sample) UnmarshalJSON(b []byte) error {
	var pair []json.Number
	if err := json.Unmarshal(b, &pair); err != nil {
		return fmt.Errorf("sample: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("sample: expected [time, value], got %d elements", len(pair))
	}
	t, err := pair[0].Float64()
	if err != nil {
		return fmt.Errorf("sample time: %w", err)
	}
	v, err := pair[1].Float64()
	if err != nil {
		return fmt.Errorf("sample value: %w", err)
	}
	s.Time = int64(t)
	s.Value = v
	return nil
}

// DataSet is the payload of a chart data reply: samples per element id and the server time.
type DataSet struct {
	Now    int64               `json:"now"`
	Series map[string][]Sample `json:"series"`
}

// Elements returns the element ids in order: those named in order first, as given,
// followed by the remaining ids sorted.
func (d DataSet) Elements(order []string) []string {
	seen := make(map[string]bool, len(d.Series))
	ids := make([]string, 0, len(d.Series))
	for _, id := range order {
		if _, ok := d.Series[id]; ok && !seen[id] {
			ids = append(ids, id)
			seen[id] = true
		}
	}
	rest := make([]string, 0, len(d.Series)-len(ids))
	for id := range d.Series {
		if !seen[id] {
			rest = append(rest, id)
		}
	}
	sort.Strings(rest)
	return append(ids, rest...)
}

// SeriesSet converts the data set into engine input, one Series per element.
func (d DataSet) SeriesSet(order []string) SeriesSet {
	ids := d.Elements(order)
	set := make(SeriesSet, 0, len(ids))
	for _, id := range ids {
		samples := d.Series[id]
		series := make(Series, len(samples))
		for i, s := range samples {
			series[i] = Point{X: s.Time, Y: s.Value}
		}
		set = append(set, series)
	}
	return set
}

// Merge returns a data set holding d's samples plus the samples of delta that d does
// not hold yet, with everything before start dropped. Samples sharing a timestamp
// are all kept; at the last timestamp d holds, delta's first samples are taken to be
// the ones already held.
func (d DataSet) Merge(delta DataSet, start int64) DataSet {
	out := DataSet{Now: d.Now, Series: make(map[string][]Sample, len(d.Series))}
	if delta.Now > out.Now {
		out.Now = delta.Now
	}
	for id, samples := range d.Series {
		out.Series[id] = keepFrom(samples, start)
	}
	for id, samples := range delta.Series {
		cur := out.Series[id]
		old := d.Series[id]
		prev := int64(math.MinInt64)
		if len(old) > 0 {
			prev = old[len(old)-1].Time
		}
		// samples already held at prev
		held := 0
		for i := len(old) - 1; i >= 0 && old[i].Time == prev; i-- {
			held++
		}
		for _, s := range samples {
			switch {
			case s.Time < prev || s.Time < start:
				continue
			case s.Time == prev && held > 0:
				held--
				continue
			}
			cur = append(cur, s)
		}
		out.Series[id] = cur
	}
	return out
}

func keepFrom(samples []Sample, start int64) []Sample {
	kept := make([]Sample, 0, len(samples))
	for _, s := range samples {
		if s.Time >= start {
			kept = append(kept, s)
		}
	}
	return kept
}
