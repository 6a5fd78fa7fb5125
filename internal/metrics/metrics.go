package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PingsGenerated counts pings created by the generator
	PingsGenerated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "studyping_pings_generated_total",
			Help: "Total number of pings created for linked enrollments",
		},
	)

	// GenerationFailures counts aborted generations
	GenerationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studyping_generation_failures_total",
			Help: "Total number of ping generations that created no rows",
		},
		[]string{"reason"}, // not_found, no_templates, config or internal
	)

	// DispatchTickDuration tracks the latency of one dispatch tick
	DispatchTickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "studyping_dispatch_tick_duration_seconds",
			Help: "Duration of dispatch ticks in seconds",
			Buckets: []float64{
				0.01, // 10ms
				0.05, // 50ms
				0.1,  // 100ms
				0.25, // 250ms
				0.5,  // 500ms
				1.0,  // 1s
				2.5,  // 2.5s
				5.0,  // 5s
				10.0, // 10s
				30.0, // 30s
				60.0, // 1m
			},
		},
	)

	// Messages counts transmission attempts
	Messages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studyping_messages_total",
			Help: "Total number of ping and reminder transmissions",
		},
		[]string{"kind", "status"}, // ping or reminder; success, failure or blocked
	)

	// ForwardRequests counts clicks on forwarding links
	ForwardRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studyping_forward_requests_total",
			Help: "Total number of forwarding link requests",
		},
		[]string{"result"},
	)
)

// RecordPingsGenerated adds n generated pings
func RecordPingsGenerated(n int) {
	PingsGenerated.Add(float64(n))
}

// RecordGenerationFailure records an aborted generation
func RecordGenerationFailure(reason string) {
	GenerationFailures.WithLabelValues(reason).Inc()
}

// RecordDispatchTick records the duration of a dispatch tick
func RecordDispatchTick(duration float64) {
	DispatchTickDuration.Observe(duration)
}

// RecordMessage records one transmission outcome
func RecordMessage(kind, status string) {
	Messages.WithLabelValues(kind, status).Inc()
}

// RecordForward records the result of a forwarding request
func RecordForward(result string) {
	ForwardRequests.WithLabelValues(result).Inc()
}
