package datalog

import (
	"context"
	"encoding/json"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.viam.com/test"

	"iotchart/internal/chart"
)

var testCols = []Column{
	{Name: "door", Type: TypeUint32, TickInterval: 1},
	{Name: "temp", Type: TypeTemperature, TickInterval: 5},
}

func validClock(t *testing.T) *clock.Mock {
	t.Helper()
	c := clock.NewMock()
	c.Set(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	return c
}

func TestParseColumns(t *testing.T) {
	cols, err := ParseColumns("door:uint32:1, temp:temperature:5,level")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cols, test.ShouldResemble, []Column{
		{Name: "door", Type: TypeUint32, TickInterval: 1},
		{Name: "temp", Type: TypeTemperature, TickInterval: 5},
		{Name: "level", Type: TypeFloat, TickInterval: 1},
	})

	for _, bad := range []string{"", " , ", "a:bogus", "a:float:0", "a:float:x", ":float", "a,a", "a:float:1:2"} {
		_, err := ParseColumns(bad)
		test.That(t, err, test.ShouldNotBeNil)
	}
}

func TestHeaderJSON(t *testing.T) {
	m := NewMemoryStore("fridgeData", testCols, 10, validClock(t))
	out, err := json.Marshal(m.Header())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(out), test.ShouldEqual,
		`{"name":"fridgeData","num_cols":2,"col":[{"name":"door","type":"uint32","tick_interval":1},{"name":"temp","type":"temperature","tick_interval":5}]}`)
	test.That(t, m.Order(), test.ShouldResemble, []string{"door", "temp"})
}

func TestAddRejectsUnsetClock(t *testing.T) {
	c := clock.NewMock()
	c.Set(MinValidTime.Add(-time.Second))
	m := NewMemoryStore("log", testCols, 10, c)

	_, err := m.Add(context.Background(), map[string]float64{"door": 1})
	test.That(t, err, test.ShouldWrap, ErrClockNotSet)
	test.That(t, m.Len(), test.ShouldEqual, 0)

	c.Set(MinValidTime)
	_, err = m.Add(context.Background(), map[string]float64{"door": 1})
	test.That(t, err, test.ShouldBeNil)
}

func TestAddValidatesValues(t *testing.T) {
	m := NewMemoryStore("log", testCols, 10, validClock(t))
	ctx := context.Background()

	_, err := m.Add(ctx, map[string]float64{"window": 1})
	test.That(t, err, test.ShouldWrap, ErrUnknownColumn)

	for _, v := range []float64{-1, 0.5, math.NaN(), math.Inf(1)} {
		_, err = m.Add(ctx, map[string]float64{"door": v})
		test.That(t, err, test.ShouldWrap, ErrInvalidValue)
	}
	_, err = m.Add(ctx, map[string]float64{"temp": -12.5})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, m.Len(), test.ShouldEqual, 1)
}

func TestMemoryStoreSince(t *testing.T) {
	c := validClock(t)
	m := NewMemoryStore("log", testCols, 10, c)
	ctx := context.Background()

	t0, err := m.Add(ctx, map[string]float64{"door": 1, "temp": 4})
	test.That(t, err, test.ShouldBeNil)
	c.Add(time.Minute)
	t1, err := m.Add(ctx, map[string]float64{"door": 0})
	test.That(t, err, test.ShouldBeNil)
	c.Add(time.Minute)

	ds, err := m.Since(ctx, 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ds.Now, test.ShouldEqual, c.Now().Unix())
	test.That(t, ds.Series["door"], test.ShouldResemble, []chart.Sample{{Time: t0, Value: 1}, {Time: t1, Value: 0}})
	test.That(t, ds.Series["temp"], test.ShouldResemble, []chart.Sample{{Time: t0, Value: 4}})

	ds, err = m.Since(ctx, t1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ds.Series["door"], test.ShouldResemble, []chart.Sample{{Time: t1, Value: 0}})
	test.That(t, ds.Series["temp"], test.ShouldBeEmpty)
}

func TestMemoryStoreRingOverwritesOldest(t *testing.T) {
	c := validClock(t)
	m := NewMemoryStore("log", testCols, 0, c)
	ctx := context.Background()

	var stamps []int64
	for i := 0; i < 15; i++ {
		at, err := m.Add(ctx, map[string]float64{"door": float64(i % 2)})
		test.That(t, err, test.ShouldBeNil)
		stamps = append(stamps, at)
		c.Add(time.Second)
	}
	test.That(t, m.Len(), test.ShouldEqual, minMemoryRecords)

	ds, err := m.Since(ctx, 0)
	test.That(t, err, test.ShouldBeNil)
	door := ds.Series["door"]
	test.That(t, door, test.ShouldHaveLength, minMemoryRecords)
	test.That(t, door[0].Time, test.ShouldEqual, stamps[5])
	test.That(t, door[len(door)-1].Time, test.ShouldEqual, stamps[14])
}

func TestInfluxFold(t *testing.T) {
	s := NewInfluxStore(InfluxConfig{URL: "http://localhost:8086", Bucket: "iot"}, "log", testCols, validClock(t))
	defer s.Close()

	ds := s.fold([]row{
		{element: "door", time: 20, value: 0},
		{element: "door", time: 10, value: 1},
		{element: "window", time: 15, value: 1},
	})
	test.That(t, ds.Series["door"], test.ShouldResemble, []chart.Sample{{Time: 10, Value: 1}, {Time: 20, Value: 0}})
	test.That(t, ds.Series["temp"], test.ShouldBeEmpty)
	_, ok := ds.Series["window"]
	test.That(t, ok, test.ShouldBeFalse)
}

func TestSinceQuery(t *testing.T) {
	q := sinceQuery("iot", "fridgeData", 1000000)
	test.That(t, q, test.ShouldContainSubstring, `from(bucket: "iot")`)
	test.That(t, q, test.ShouldContainSubstring, "range(start: 1970-01-12T13:46:40Z)")
	test.That(t, q, test.ShouldContainSubstring, `r._measurement == "fridgeData"`)
	test.That(t, strings.Count(q, "|>"), test.ShouldEqual, 3)
}

func TestInfluxAddRejectsBeforeWrite(t *testing.T) {
	s := NewInfluxStore(InfluxConfig{URL: "http://127.0.0.1:1", Bucket: "iot"}, "log", testCols, validClock(t))
	defer s.Close()
	_, err := s.Add(context.Background(), map[string]float64{"nope": 1})
	test.That(t, err, test.ShouldWrap, ErrUnknownColumn)
}

func TestStampMatchesWindowEnd(t *testing.T) {
	c := validClock(t)
	c.Add(700 * time.Millisecond)
	m := NewMemoryStore("log", testCols, 10, c)
	ctx := context.Background()

	at, err := m.Add(ctx, map[string]float64{"door": 1})
	test.That(t, err, test.ShouldBeNil)
	end := chart.NewCalculator(c).Now()
	test.That(t, at, test.ShouldEqual, end)

	ds, err := m.Since(ctx, 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ds.Now, test.ShouldEqual, end)

	w, err := chart.NewCalculator(c).Compute(1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, w.Contains(at), test.ShouldBeTrue)
}
