// Package promsink is an optional reference Emitter backed by
// Prometheus client_golang. Wiring a telemetry sink is never required by
// the library; this adapter exists for callers who already run a
// Prometheus-scraped process and want the event contract reflected there
// with no code of their own.
package promsink

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rangen/geminigw/pkg/geminitelemetry"
)

// Sink is a geminitelemetry.Emitter that records request/stream events as
// Prometheus counters and histograms, labeled by event name and backend.
type Sink struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	streamEvents    *prometheus.CounterVec
}

// New builds a Sink and registers its metrics with reg. Pass
// prometheus.DefaultRegisterer to use the global registry.
func New(reg prometheus.Registerer) *Sink {
	s := &Sink{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "geminigw_requests_total",
				Help: "Total number of unary requests by event outcome and backend.",
			},
			[]string{"event", "backend"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "geminigw_request_duration_seconds",
				Help:    "Unary request duration in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"backend"},
		),
		streamEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "geminigw_stream_events_total",
				Help: "Total number of streaming lifecycle events by event name.",
			},
			[]string{"event"},
		),
	}

	reg.MustRegister(s.requestsTotal, s.requestDuration, s.streamEvents)
	return s
}

// Emit implements geminitelemetry.Emitter.
func (s *Sink) Emit(name string, fields geminitelemetry.Fields) {
	backend, _ := fields["backend"].(string)

	switch name {
	case geminitelemetry.RequestStart, geminitelemetry.RequestStop, geminitelemetry.RequestException:
		s.requestsTotal.WithLabelValues(name, backend).Inc()
		if ms, ok := fields["duration_ms"].(int64); ok {
			s.requestDuration.WithLabelValues(backend).Observe(float64(ms) / 1000)
		}
	case geminitelemetry.StreamStart, geminitelemetry.StreamChunk, geminitelemetry.StreamStop, geminitelemetry.StreamException:
		s.streamEvents.WithLabelValues(name).Inc()
	default:
		s.requestsTotal.WithLabelValues(name, backend).Inc()
	}
}
