package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Connections is the number of live browser sockets in this process.
	Connections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "relay",
		Name:      "ws_connections",
		Help:      "Live browser socket connections",
	})

	Superseded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "relay",
		Name:      "ws_superseded_total",
		Help:      "Connections closed because the same session reconnected",
	})

	IdleClosed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "relay",
		Name:      "ws_idle_closed_total",
		Help:      "Connections force-closed by the idle sweep",
	})

	MirroredMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay",
		Name:      "mirrored_messages_total",
		Help:      "Mirrored messages by direction, channel, content kind and outcome",
	}, []string{"direction", "channel", "kind", "outcome"})

	StatusTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay",
		Name:      "ticket_transitions_total",
		Help:      "Ticket status transitions",
	}, []string{"from", "to", "trigger"})

	TimerJobs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay",
		Name:      "timer_jobs_total",
		Help:      "Processed timer jobs by kind and outcome",
	}, []string{"kind", "outcome"})

	PlatformUpdates = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay",
		Name:      "platform_updates_total",
		Help:      "Bot platform updates by kind",
	}, []string{"kind"})

	RateLimited = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "relay",
		Name:      "ws_rate_limited_total",
		Help:      "Socket messages rejected by the per-session rate limit",
	})
)

func init() {
	prometheus.MustRegister(
		Connections,
		Superseded,
		IdleClosed,
		MirroredMessages,
		StatusTransitions,
		TimerJobs,
		PlatformUpdates,
		RateLimited,
	)
}
