// Package metric exposes the engine's prometheus collectors.
package metric

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SubscriptionsActive counts currently open result streams.
	SubscriptionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "lamina",
		Subsystem: "cache",
		Name:      "subscriptions_active",
		Help:      "Number of currently open query subscriptions.",
	})

	// CacheEntries counts live shared pipelines.
	CacheEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "lamina",
		Subsystem: "cache",
		Name:      "entries_live",
		Help:      "Number of live shared pipeline entries.",
	})

	// GeneratorInvocations counts fresh upstream source creations. Under
	// subscription sharing this grows much slower than subscription count.
	GeneratorInvocations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "lamina",
		Subsystem: "cache",
		Name:      "generator_invocations_total",
		Help:      "Total number of upstream generator invocations.",
	})

	// ProbeEvents counts raw values ingested through the API.
	ProbeEvents = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "lamina",
		Subsystem: "probes",
		Name:      "events_total",
		Help:      "Total number of raw events published into probes.",
	})
)
