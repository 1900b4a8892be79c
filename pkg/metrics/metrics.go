// Package metrics exposes Prometheus instrumentation for the workflow engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	Transitions     *prometheus.CounterVec
	TransitionTime  *prometheus.HistogramVec
	LockRetries     prometheus.Counter
	OutboxPublished prometheus.Counter
}

// New registers the engine collectors on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stepflow",
			Name:      "transitions_total",
			Help:      "Workflow transitions by operation and outcome.",
		}, []string{"operation", "outcome"}),
		TransitionTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "stepflow",
			Name:      "transition_duration_seconds",
			Help:      "Time spent applying a transition, lock hold included.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		LockRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "stepflow",
			Name:      "lock_retries_total",
			Help:      "Workflow lock acquisition retries.",
		}),
		OutboxPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "stepflow",
			Name:      "outbox_published_total",
			Help:      "Outbox messages handed to the event bus.",
		}),
	}

	reg.MustRegister(m.Transitions, m.TransitionTime, m.LockRetries, m.OutboxPublished)

	return m
}

// NewUnregistered returns collectors that are not attached to any registry.
// Tests use it to avoid duplicate registration panics.
func NewUnregistered() *Metrics {
	return New(prometheus.NewRegistry())
}
