package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler exposes the default registry, which promauto populates below.
func Handler() http.Handler {
	return promhttp.Handler()
}

var (
	ProviderCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_calls_total",
			Help: "Total number of calls to the generative answer service.",
		},
		[]string{"outcome"}, // completed, submission_failed, remote_failed, timeout
	)

	ProviderCallDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "provider_call_duration_seconds",
			Help:    "Duration of submit+poll cycles against the answer service.",
			Buckets: []float64{2, 5, 10, 30, 60, 120, 300},
		},
	)

	LeadsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leads_processed_total",
			Help: "Total number of leads drained by the rewrite pipeline.",
		},
		[]string{"result"}, // rewritten, error
	)

	DiscoveryRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discovery_runs_total",
			Help: "Total number of task discovery runs.",
		},
		[]string{"status"}, // completed, failed
	)
)
