// Package metrics provides Prometheus metrics instrumentation for the client.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TurnsTotal tracks completed turns by outcome.
	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_turns_total",
			Help: "Completed turns by outcome",
		},
		[]string{"outcome"},
	)

	// TurnDuration tracks wall-clock turn duration.
	TurnDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_turn_duration_seconds",
			Help:    "Turn duration in seconds",
			Buckets: []float64{.5, 1, 2, 5, 10, 20, 30, 45, 60, 90, 120},
		},
		[]string{"outcome"},
	)

	// StreamsActive tracks streams currently open.
	StreamsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_streams_active",
			Help: "Number of turn streams currently open",
		},
	)

	// StreamFramesTotal tracks decoded stream frames by type.
	StreamFramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_stream_frames_total",
			Help: "Decoded stream frames by type",
		},
		[]string{"type"},
	)

	// UploadsTotal tracks attachment pipeline runs by kind and status.
	UploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_uploads_total",
			Help: "Attachment pipeline runs by kind and status",
		},
		[]string{"kind", "status"},
	)

	// RollbacksTotal tracks optimistic mutations that had to be rolled back.
	RollbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_rollbacks_total",
			Help: "Optimistic mutations rolled back after a server failure",
		},
	)

	// RealtimeEventsTotal tracks push-delivered message events by disposition.
	RealtimeEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_realtime_events_total",
			Help: "Push-delivered message events by disposition",
		},
		[]string{"disposition"},
	)
)

// RecordTurn records metrics for one completed turn.
func RecordTurn(outcome string, seconds float64) {
	TurnsTotal.WithLabelValues(outcome).Inc()
	TurnDuration.WithLabelValues(outcome).Observe(seconds)
}

// IncrementStreamsActive increments the open stream count.
func IncrementStreamsActive() {
	StreamsActive.Inc()
}

// DecrementStreamsActive decrements the open stream count.
func DecrementStreamsActive() {
	StreamsActive.Dec()
}
