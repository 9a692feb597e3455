// Package metrics exposes Prometheus instrumentation for the request
// pipeline. Collectors cover quota decisions, streaming flush activity, and
// token throughput, with careful attention to label cardinality:
//
//   - tier:      subscription tier ("free"/"premium")
//   - reason:    denial reason ("quota")
//   - direction: token direction ("input"/"output")
//
// All collectors are registered once at init and are safe for concurrent use.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// RequestsAdmitted counts requests admitted by the quota ledger, by tier.
	RequestsAdmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_requests_admitted_total",
			Help: "Total number of requests admitted by the quota ledger.",
		},
		[]string{"tier"},
	)

	// RequestsDenied counts denied requests by tier and reason.
	RequestsDenied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_requests_denied_total",
			Help: "Total number of requests denied by the quota ledger.",
		},
		[]string{"tier", "reason"},
	)

	// StreamFlushes counts outbound send/edit operations performed while
	// streaming a response.
	StreamFlushes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_stream_flushes_total",
			Help: "Total streaming buffer flushes, by operation (send/edit).",
		},
		[]string{"op"},
	)

	// StreamFailures counts responses that ended in an error, by stage.
	StreamFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_stream_failures_total",
			Help: "Total streamed responses that failed, by pipeline stage.",
		},
		[]string{"stage"},
	)

	// Tokens accumulates input/output tokens across all users.
	Tokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_llm_tokens_total",
			Help: "Total LLM tokens processed, by direction.",
		},
		[]string{"direction"},
	)

	// StreamDuration records time from completion call to final flush.
	StreamDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bot_stream_duration_seconds",
			Help:    "Duration of streamed responses in seconds.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300},
		},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsAdmitted,
		RequestsDenied,
		StreamFlushes,
		StreamFailures,
		Tokens,
		StreamDuration,
	)
}
