// Package metrics provides Prometheus instrumentation for the chat sync
// engine. It exposes counters for merge/dedup activity, history fetches and
// stale discards, gauges for subscription counts, and a histogram for
// history fetch latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// MessagesAppended counts live messages merged into a timeline.
	MessagesAppended = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatclient_messages_appended_total",
		Help: "Live messages merged into room timelines",
	})

	// MessagesDeduplicated counts duplicate deliveries dropped by the
	// timeline store (common with REST+push double delivery).
	MessagesDeduplicated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatclient_messages_deduplicated_total",
		Help: "Duplicate message deliveries dropped by the timeline store",
	})

	// MessagesSent counts outbound sends, labeled by outcome: "ok" or
	// "failed".
	MessagesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatclient_messages_sent_total",
		Help: "Outbound message sends by outcome",
	}, []string{"outcome"})

	// HistoryFetches counts history fetches, labeled by outcome: "ok",
	// "error", or "stale".
	HistoryFetches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatclient_history_fetches_total",
		Help: "Room history fetches by outcome",
	}, []string{"outcome"})

	// HistoryFetchLatency records history fetch latency in seconds.
	HistoryFetchLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "chatclient_history_fetch_latency_seconds",
		Help:    "Room history fetch latency in seconds",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	})

	// SubscribedRooms tracks the current number of active room subscriptions.
	SubscribedRooms = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chatclient_subscribed_rooms",
		Help: "Current number of active room subscriptions",
	})

	// Resubscriptions counts rooms resubscribed after a transport reconnect.
	Resubscriptions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatclient_resubscriptions_total",
		Help: "Room subscriptions re-established after transport reconnects",
	})

	// RoomsEvicted counts timelines dropped by the retained-room LRU bound.
	RoomsEvicted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatclient_rooms_evicted_total",
		Help: "Room timelines evicted by the retained-room bound",
	})

	// EditsBuffered counts edits that arrived before their message.
	EditsBuffered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatclient_edits_buffered_total",
		Help: "Edits buffered because the target message was not yet seen",
	})

	// EditsApplied counts buffered edits applied once the message arrived.
	EditsApplied = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatclient_edits_applied_total",
		Help: "Buffered edits applied after the target message arrived",
	})

	// TypingEvents counts outbound typing signals, labeled by disposition:
	// "emitted" or "throttled".
	TypingEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatclient_typing_events_total",
		Help: "Outbound typing signals by disposition",
	}, []string{"disposition"})
)

func init() {
	prometheus.MustRegister(
		MessagesAppended,
		MessagesDeduplicated,
		MessagesSent,
		HistoryFetches,
		HistoryFetchLatency,
		SubscribedRooms,
		Resubscriptions,
		RoomsEvicted,
		EditsBuffered,
		EditsApplied,
		TypingEvents,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
