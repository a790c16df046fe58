package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	Fetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "commsync_fetches_total", Help: "Gateway fetch outcomes"},
		[]string{"trigger", "result"},
	)
	Sends = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "commsync_sends_total", Help: "Optimistic send outcomes"},
		[]string{"result"},
	)
	DroppedTriggers = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "commsync_dropped_refresh_triggers_total", Help: "Refresh triggers dropped because a fetch was already in flight"},
	)
	GatewayLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "commsync_gateway_latency_seconds", Help: "Gateway call latency"},
	)
)

// Register installs all commsync collectors on the given registry.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(Fetches, Sends, DroppedTriggers, GatewayLatency)
}
