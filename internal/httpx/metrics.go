package httpx

import "time"

// Metric is the per-request metric emitted after every HTTP effect call,
// per spec §4.1: "{provider, endpoint, method, durationMs, status, timestamp}".
type Metric struct {
	Provider   string
	Endpoint   string
	Method     string
	DurationMs int64
	Status     int
	Timestamp  time.Time
}

// MetricSink receives Metric emissions. Implementations must be safe for
// concurrent use.
type MetricSink interface {
	Emit(Metric)
}

// NoopMetricSink discards every metric. Used when metrics are disabled.
type NoopMetricSink struct{}

func (NoopMetricSink) Emit(Metric) {}
