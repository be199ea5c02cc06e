package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Turn metrics
	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studio_agent_turns_total",
			Help: "Total number of conversation turns by terminal status",
		},
		[]string{"status"},
	)

	TurnSteps = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "studio_agent_turn_steps",
			Help:    "Reasoner round trips per turn",
			Buckets: []float64{1, 2, 3, 4, 5, 6, 8, 10, 15, 20},
		},
	)

	TurnDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "studio_agent_turn_duration_seconds",
			Help:    "Wall time of a conversation turn",
			Buckets: prometheus.DefBuckets,
		},
	)

	TurnsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "studio_agent_turns_in_flight",
			Help: "Turns currently holding a worker slot",
		},
	)

	// Tool metrics
	ToolInvocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studio_agent_tool_invocations_total",
			Help: "Tool invocations by tool and result",
		},
		[]string{"tool", "result"},
	)

	ToolLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "studio_agent_tool_latency_seconds",
			Help:    "Remote tool call latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tool"},
	)

	// Task interface metrics
	TaskRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studio_agent_task_requests_total",
			Help: "JSON-RPC task requests by method and outcome",
		},
		[]string{"method", "outcome"},
	)

	// Relay metrics
	RelayMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studio_relay_messages_total",
			Help: "Inbound SMS messages by result",
		},
		[]string{"result"},
	)
)
