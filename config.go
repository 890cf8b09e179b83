package main

import (
	"fmt"
	"strconv"
	"time"

	"iotchart/internal/chart"
	"iotchart/internal/datalog"
)

var (
	defaultHttpPort      = "8080"
	defaultLogLevel      = "INFO"
	defaultChartName     = "chart"
	defaultChartColumns  = "value:uint32:1"
	defaultChartHours    = "1"
	defaultChartTimezone = "UTC"
)

// Config is read from the environment; command line flags override it.
type Config struct {
	LogLevel      string
	HttpPort      string
	Influx        datalog.InfluxConfig
	ChartName     string
	Columns       []datalog.Column
	Hours         float64
	Refresh       time.Duration
	Location      *time.Location
	MemoryRecords int
	FontFile      string
}

func loadConfig(getenv func(string) string) (Config, error) {
	get := func(key, def string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return def
	}

	cfg := Config{
		LogLevel: get("LOG_LEVEL", defaultLogLevel),
		HttpPort: get("HTTP_PORT", defaultHttpPort),
		Influx: datalog.InfluxConfig{
			URL:    getenv("INFLUXDB_URL"),
			Token:  getenv("INFLUXDB_TOKEN"),
			Org:    getenv("INFLUXDB_ORG"),
			Bucket: getenv("INFLUXDB_BUCKET"),
		},
		ChartName: get("CHART_NAME", defaultChartName),
		FontFile:  getenv("FONT_FILE"),
	}

	cols, err := datalog.ParseColumns(get("CHART_COLUMNS", defaultChartColumns))
	if err != nil {
		return Config{}, fmt.Errorf("invalid CHART_COLUMNS: %w", err)
	}
	cfg.Columns = cols

	hours, err := chart.ParseHours(get("CHART_HOURS", defaultChartHours))
	if err != nil {
		return Config{}, fmt.Errorf("invalid CHART_HOURS: %w", err)
	}
	cfg.Hours = hours

	if v := getenv("CHART_REFRESH"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, fmt.Errorf("invalid CHART_REFRESH: %q", v)
		}
		cfg.Refresh = d
	}

	loc, err := time.LoadLocation(get("CHART_TIMEZONE", defaultChartTimezone))
	if err != nil {
		return Config{}, fmt.Errorf("invalid CHART_TIMEZONE: %w", err)
	}
	cfg.Location = loc

	cfg.MemoryRecords = datalog.DefaultMemoryRecords
	if v := getenv("MEMORY_RECORDS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("invalid MEMORY_RECORDS: %q", v)
		}
		cfg.MemoryRecords = n
	}
	return cfg, nil
}

// useInflux reports whether enough of the InfluxDB settings are present to use it.
func (c Config) useInflux() bool {
	return c.Influx.URL != "" && c.Influx.Bucket != ""
}
