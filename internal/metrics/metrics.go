// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	QueueEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agentfloor_queue_enqueued_total",
		Help: "Queue items created for asynchronous agents",
	})

	QueueClaimed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agentfloor_queue_claimed_total",
		Help: "Queue items moved from pending to processing",
	})

	QueueCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agentfloor_queue_completed_total",
		Help: "Queue items completed by a relay response",
	})

	QueueReclaimed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agentfloor_queue_reclaimed_total",
		Help: "Processing items failed after their lease expired",
	})

	QueuePurged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agentfloor_queue_purged_total",
		Help: "Terminal queue items deleted by retention",
	})

	ChatTurns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentfloor_chat_turns_total",
		Help: "Agent turns streamed by the chat orchestrator",
	}, []string{"vendor"})

	ChatErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agentfloor_chat_errors_total",
		Help: "Chat streams aborted with an error frame",
	})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentfloor_http_requests_total",
		Help: "HTTP requests by method, route and status",
	}, []string{"method", "path", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "agentfloor_http_request_duration_seconds",
		Help:    "HTTP request latency by method and route",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)
