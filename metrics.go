package main

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests processed, labeled by status code and method.",
		},
		[]string{"code", "method"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "http_request_duration_seconds",
			Help: "Duration of HTTP requests.",
		},
		[]string{"handler", "method"},
	)
	chartCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "iotchart_chart_requests_total",
			Help: "Total number of /chart requests.",
		},
		[]string{"format"},
	)
	commandCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "iotchart_commands_total",
			Help: "Total number of websocket commands received.",
		},
		[]string{"cmd"},
	)
	recordCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "iotchart_records_total",
			Help: "Total number of records added to the data log.",
		},
	)
)

func init() {
	prometheus.MustRegister(httpRequests, httpDuration, chartCounter, commandCounter, recordCounter)
}
