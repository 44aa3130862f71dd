package internaltelemetry

import (
	"go.opentelemetry.io/otel/metric"
)

// ServerMetrics holds all the metric instruments for the command server.
type ServerMetrics struct {
	RequestsStartedCounter      metric.Int64Counter
	RequestsHandledCounter      metric.Int64Counter
	RequestLatencyHistogram     metric.Int64Histogram
	ActiveSessionsUpDownCounter metric.Int64UpDownCounter
}

// NewServerMetrics creates and registers all the metrics for the command server.
func NewServerMetrics(meter metric.Meter) (*ServerMetrics, error) {
	requestsStartedCounter, err := meter.Int64Counter(
		"gojostore.server.started_total",
		metric.WithDescription("Total number of requests started."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	requestsHandledCounter, err := meter.Int64Counter(
		"gojostore.server.handled_total",
		metric.WithDescription("Total number of requests completed."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	requestLatencyHistogram, err := meter.Int64Histogram(
		"gojostore.server.duration",
		metric.WithDescription("The latency of requests."),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	activeSessionsUpDownCounter, err := meter.Int64UpDownCounter(
		"gojostore.server.active_sessions",
		metric.WithDescription("Number of open client sessions."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	return &ServerMetrics{
		RequestsStartedCounter:      requestsStartedCounter,
		RequestsHandledCounter:      requestsHandledCounter,
		RequestLatencyHistogram:     requestLatencyHistogram,
		ActiveSessionsUpDownCounter: activeSessionsUpDownCounter,
	}, nil
}
