// Package metrics exports booking and call-flow counters in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"voice-booking/internal/domain"
)

const namespace = "voice_booking"

// Recorder holds every collector on a private registry. A nil *Recorder is
// valid and records nothing.
type Recorder struct {
	registry *prometheus.Registry

	transitions     *prometheus.CounterVec
	holdOps         *prometheus.CounterVec
	bookingStages   *prometheus.CounterVec
	toolCalls       *prometheus.CounterVec
	calendarLatency *prometheus.HistogramVec
}

// Config configures the Recorder.
type Config struct {
	// Registry to use (if nil, creates a new one)
	Registry *prometheus.Registry

	// Buckets for calendar latency (in seconds)
	LatencyBuckets []float64
}

func DefaultConfig() Config {
	return Config{
		LatencyBuckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}
}

func New(cfg Config) *Recorder {
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = DefaultConfig().LatencyBuckets
	}
	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	r := &Recorder{registry: registry}

	r.transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "call",
			Name:      "transitions_total",
			Help:      "Call state transitions by outcome",
		},
		[]string{"from", "to", "result"},
	)

	r.holdOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hold",
			Name:      "operations_total",
			Help:      "Slot hold acquire, release and extend calls by outcome",
		},
		[]string{"op", "result"},
	)

	r.bookingStages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "booking",
			Name:      "stages_total",
			Help:      "Booking attempts reaching each stage",
		},
		[]string{"stage"},
	)

	r.toolCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "assistant",
			Name:      "tool_calls_total",
			Help:      "Assistant tool calls by tool and outcome",
		},
		[]string{"tool", "result"},
	)

	r.calendarLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "calendar",
			Name:      "request_duration_seconds",
			Help:      "Calendar provider request latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"op", "result"},
	)

	registry.MustRegister(
		r.transitions,
		r.holdOps,
		r.bookingStages,
		r.toolCalls,
		r.calendarLatency,
	)
	return r
}

func (r *Recorder) ObserveTransition(from, to domain.CallState, result string) {
	if r == nil {
		return
	}
	r.transitions.WithLabelValues(string(from), string(to), result).Inc()
}

func (r *Recorder) ObserveHold(op, result string) {
	if r == nil {
		return
	}
	r.holdOps.WithLabelValues(op, result).Inc()
}

func (r *Recorder) ObserveBookingStage(stage domain.BookingStage) {
	if r == nil {
		return
	}
	r.bookingStages.WithLabelValues(string(stage)).Inc()
}

func (r *Recorder) ObserveToolCall(tool, result string) {
	if r == nil {
		return
	}
	r.toolCalls.WithLabelValues(tool, result).Inc()
}

func (r *Recorder) ObserveCalendar(op, result string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.calendarLatency.WithLabelValues(op, result).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
