package datalog

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"iotchart/internal/chart"
)

const (
	DefaultMemoryRecords = 1000
	minMemoryRecords     = 10
)

type record struct {
	time   int64
	values []float64 // NaN where the column was not set
}

// MemoryStore keeps the newest records in a fixed-size ring, dropping the oldest
// when full.
type MemoryStore struct {
	schema

	mu    sync.RWMutex
	recs  []record
	head  int
	count int
}

// NewMemoryStore returns a ring of size records. Sizes under 10 use 10.
func NewMemoryStore(name string, cols []Column, size int, c clock.Clock) *MemoryStore {
	if size < minMemoryRecords {
		logrus.Warnf("Data log %s: %d in-memory records requested, using %d", name, size, minMemoryRecords)
		size = minMemoryRecords
	}
	logrus.Infof("Data log %s keeps %d records of %d columns in memory", name, size, len(cols))
	return &MemoryStore{
		schema: newSchema(name, cols, c),
		recs:   make([]record, size),
	}
}

func (m *MemoryStore) Add(ctx context.Context, values map[string]float64) (int64, error) {
	at, err := m.stamp(values)
	if err != nil {
		return 0, err
	}
	rec := record{time: at.Unix(), values: make([]float64, len(m.cols))}
	for i := range rec.values {
		rec.values[i] = math.NaN()
	}
	for name, v := range values {
		rec.values[m.index[name]] = v
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs[m.head] = rec
	m.head = (m.head + 1) % len(m.recs)
	if m.count < len(m.recs) {
		m.count++
	} else {
		logrus.Tracef("Data log %s full, dropped oldest record", m.name)
	}
	return rec.time, nil
}

func (m *MemoryStore) Since(ctx context.Context, since int64) (chart.DataSet, error) {
	ds := chart.DataSet{Now: m.clock.Now().Round(time.Second).Unix(), Series: make(map[string][]chart.Sample, len(m.cols))}
	for _, col := range m.cols {
		ds.Series[col.Name] = []chart.Sample{}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	start := (m.head - m.count + len(m.recs)) % len(m.recs)
	for i := 0; i < m.count; i++ {
		rec := m.recs[(start+i)%len(m.recs)]
		if rec.time < since {
			continue
		}
		for c, v := range rec.values {
			if math.IsNaN(v) {
				continue
			}
			name := m.cols[c].Name
			ds.Series[name] = append(ds.Series[name], chart.Sample{Time: rec.time, Value: v})
		}
	}
	return ds, nil
}

// Len returns the number of records held.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.count
}

func (m *MemoryStore) Close() error {
	return nil
}
