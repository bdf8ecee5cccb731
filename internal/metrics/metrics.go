// Package metrics exposes Prometheus instrumentation for the proposal
// lifecycle and the event bus. Starved subscriptions show up as a growing
// gap between published and delivered counts, which is how a supervisor
// detects them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Event bus metrics
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "draftline_events_published_total",
			Help: "Total number of events published to the broker",
		},
		[]string{"event_type"},
	)

	EventsDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "draftline_events_delivered_total",
			Help: "Total number of successful handler deliveries",
		},
		[]string{"event_type"},
	)

	DeliveryFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "draftline_delivery_failures_total",
			Help: "Total number of handler errors, panics and timeouts",
		},
		[]string{"event_type"},
	)

	// Proposal lifecycle metrics
	ProposalDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "draftline_proposal_decisions_total",
			Help: "Total number of proposal decisions by outcome",
		},
		[]string{"decision"},
	)

	// Git agent metrics
	AppliesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "draftline_applies_total",
			Help: "Total number of proposal applications by result",
		},
		[]string{"result"},
	)

	RollbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "draftline_rollbacks_total",
			Help: "Total number of consumed rollback points",
		},
	)
)

// BrokerObserver adapts the bus counters to the messaging.Observer interface.
type BrokerObserver struct{}

func (BrokerObserver) EventPublished(eventType string) {
	EventsPublished.WithLabelValues(eventType).Inc()
}

func (BrokerObserver) EventDelivered(eventType string) {
	EventsDelivered.WithLabelValues(eventType).Inc()
}

func (BrokerObserver) DeliveryFailed(eventType string) {
	DeliveryFailures.WithLabelValues(eventType).Inc()
}
