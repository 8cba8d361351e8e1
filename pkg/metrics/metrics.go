package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Queue metrics
	MutationsEnqueued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fieldsync_mutations_enqueued_total",
			Help: "Total number of mutations captured into the offline queue",
		},
	)

	MutationsSynced = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fieldsync_mutations_synced_total",
			Help: "Total number of mutations successfully replayed and archived",
		},
	)

	MutationsDead = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fieldsync_mutations_dead_total",
			Help: "Total number of mutations quarantined after rejection or retry exhaustion",
		},
	)

	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fieldsync_queue_depth",
			Help: "Current number of pending mutations",
		},
	)

	// Replay metrics
	ReplayDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fieldsync_replay_duration_seconds",
			Help:    "Duration of a full replay drain in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReplayFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldsync_replay_failures_total",
			Help: "Total replay item failures by classification",
		},
		[]string{"class"},
	)

	// Resolver metrics
	ReconcileDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fieldsync_reconcile_duration_seconds",
			Help:    "Time to produce a reconciled view in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	// Edge metrics
	EdgeRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldsync_edge_requests_total",
			Help: "Edge proxy requests by strategy and outcome",
		},
		[]string{"strategy", "outcome"},
	)

	// Connectivity metrics
	NetworkTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldsync_network_transitions_total",
			Help: "Connectivity transitions by direction",
		},
		[]string{"to"},
	)

	Online = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fieldsync_online",
			Help: "Whether the agent currently considers itself online (1) or offline (0)",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(MutationsEnqueued)
	prometheus.MustRegister(MutationsSynced)
	prometheus.MustRegister(MutationsDead)
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(ReplayDuration)
	prometheus.MustRegister(ReplayFailures)
	prometheus.MustRegister(ReconcileDuration)
	prometheus.MustRegister(EdgeRequests)
	prometheus.MustRegister(NetworkTransitions)
	prometheus.MustRegister(Online)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
