package datalog

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/benbjohnson/clock"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/sirupsen/logrus"

	"iotchart/internal/chart"
)

const (
	elementTag = "element"
	valueField = "value"
)

// InfluxConfig locates the bucket a log is written to.
type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// InfluxStore keeps a log as one measurement in InfluxDB, tagged by element.
type InfluxStore struct {
	schema
	cfg    InfluxConfig
	client influxdb2.Client
}

func NewInfluxStore(cfg InfluxConfig, name string, cols []Column, c clock.Clock) *InfluxStore {
	logrus.Infof("Data log %s stored in InfluxDB %s bucket=%s", name, cfg.URL, cfg.Bucket)
	return &InfluxStore{
		schema: newSchema(name, cols, c),
		cfg:    cfg,
		client: influxdb2.NewClient(cfg.URL, cfg.Token),
	}
}

func (s *InfluxStore) Add(ctx context.Context, values map[string]float64) (int64, error) {
	at, err := s.stamp(values)
	if err != nil {
		return 0, err
	}
	writeAPI := s.client.WriteAPIBlocking(s.cfg.Org, s.cfg.Bucket)
	for name, v := range values {
		p := influxdb2.NewPoint(s.name,
			map[string]string{elementTag: name},
			map[string]interface{}{valueField: v},
			at)
		logrus.Tracef("Writing %s %s=%g at %s", s.name, name, v, at.Format(time.RFC3339))
		if err := writeAPI.WritePoint(ctx, p); err != nil {
			return 0, fmt.Errorf("write error: %w", err)
		}
	}
	return at.Unix(), nil
}

func (s *InfluxStore) Since(ctx context.Context, since int64) (chart.DataSet, error) {
	query := sinceQuery(s.cfg.Bucket, s.name, since)
	logrus.Tracef("Running query=%s", query)

	result, err := s.client.QueryAPI(s.cfg.Org).Query(ctx, query)
	if err != nil {
		logrus.Warnf("Failed to execute query: %v", err)
		return chart.DataSet{}, fmt.Errorf("query error: %w", err)
	}
	defer result.Close()

	var rows []row
	for result.Next() {
		record := result.Record()
		element, _ := record.ValueByKey(elementTag).(string)
		if v, ok := record.Value().(float64); ok && element != "" {
			rows = append(rows, row{element: element, time: record.Time().Unix(), value: v})
		}
	}
	if result.Err() != nil {
		logrus.Warnf("Query result error: %v", result.Err())
		return chart.DataSet{}, fmt.Errorf("error parsing Influx result: %w", result.Err())
	}
	return s.fold(rows), nil
}

func (s *InfluxStore) Close() error {
	s.client.Close()
	return nil
}

type row struct {
	element string
	time    int64
	value   float64
}

// fold groups rows by element in time order. Elements outside the schema are dropped.
func (s *InfluxStore) fold(rows []row) chart.DataSet {
	ds := chart.DataSet{Now: s.clock.Now().Round(time.Second).Unix(), Series: make(map[string][]chart.Sample, len(s.cols))}
	for _, col := range s.cols {
		ds.Series[col.Name] = []chart.Sample{}
	}
	for _, r := range rows {
		if _, ok := s.index[r.element]; !ok {
			logrus.Tracef("Ignoring sample of unknown element %s", r.element)
			continue
		}
		ds.Series[r.element] = append(ds.Series[r.element], chart.Sample{Time: r.time, Value: r.value})
	}
	for _, samples := range ds.Series {
		sort.SliceStable(samples, func(i, j int) bool {
			return samples[i].Time < samples[j].Time
		})
	}
	return ds
}

func sinceQuery(bucket, measurement string, since int64) string {
	return fmt.Sprintf(`
		from(bucket: %q)
		|> range(start: %s)
		|> filter(fn: (r) => r._measurement == %q and r._field == %q)
		|> keep(columns: ["_time", "_value", %q])
	`, bucket, time.Unix(since, 0).UTC().Format(time.RFC3339), measurement, valueField, elementTag)
}
