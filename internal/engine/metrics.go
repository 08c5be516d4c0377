package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Engine-level Prometheus metrics, registered on the default registry.
var (
	iterationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "steer",
		Subsystem: "engine",
		Name:      "iterations_total",
		Help:      "Total controller loop iterations across all sessions.",
	})

	toolInvocationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "steer",
		Subsystem: "engine",
		Name:      "tool_invocations_total",
		Help:      "Tool invocations by tool name and outcome.",
	}, []string{"tool", "outcome"})

	toolDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "steer",
		Subsystem: "engine",
		Name:      "tool_duration_seconds",
		Help:      "Tool execution latency by tool name.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"tool"})

	sessionsEndedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "steer",
		Subsystem: "engine",
		Name:      "sessions_ended_total",
		Help:      "Sessions that left the loop, by final status.",
	}, []string{"status"})

	toolRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "steer",
		Subsystem: "engine",
		Name:      "tool_retries_total",
		Help:      "In-iteration tool retry attempts by tool name.",
	}, []string{"tool"})
)

const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
	outcomeError   = "error"
)
