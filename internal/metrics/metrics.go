// Package metrics exposes the runtime's prometheus instrumentation. The
// collectors live on the default registry; the dytord daemon serves them
// over promhttp when a metrics address is configured.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// MessagesDelivered counts message closures executed across all
	// contexts.
	MessagesDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dytor",
		Name:      "messages_delivered_total",
		Help:      "Message closures executed by context main loops.",
	})

	// LocalWorkDrained counts closures consumed from local queues.
	LocalWorkDrained = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dytor",
		Name:      "local_work_drained_total",
		Help:      "Deferred closures drained from local queues.",
	})

	// BroadcastTargets counts individual actors visited by broadcasts.
	BroadcastTargets = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dytor",
		Name:      "broadcast_targets_total",
		Help:      "Actors visited by broadcast dispatch.",
	})

	// AccessorsLive tracks accessors that have been created or cloned
	// and not yet closed.
	AccessorsLive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "dytor",
		Name:      "accessors_live",
		Help:      "Accessors currently holding a runtime reference.",
	})

	// ContextsRunning tracks contexts currently inside their main loop.
	ContextsRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "dytor",
		Name:      "contexts_running",
		Help:      "Context workers currently running.",
	})
)

// Handler returns the HTTP handler serving the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
