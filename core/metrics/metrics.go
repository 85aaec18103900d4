// Package metrics exposes Prometheus instrumentation for the analysis
// pipeline. Metrics register themselves through promauto; Serve starts an
// optional scrape endpoint when one is configured.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// FramesInserted counts frames folded into worker libraries.
	FramesInserted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "facet_frames_inserted_total",
		Help: "Total number of trajectory frames inserted into signature libraries",
	})

	// FramesSkipped counts malformed frames dropped with a warning.
	FramesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "facet_frames_skipped_total",
		Help: "Total number of malformed frames skipped",
	})

	// UniqueSignatures tracks the size of the global library after reduction.
	UniqueSignatures = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "facet_signatures_unique",
		Help: "Distinct structural signatures in the merged library",
	})

	// LandmarksSelected tracks the landmark count after pruning and
	// outlier rejection.
	LandmarksSelected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "facet_landmarks_selected",
		Help: "Signatures currently designated as landmarks",
	})

	// InvalidRows tracks rows rejected by outlier filtering.
	InvalidRows = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "facet_invalid_rows",
		Help: "Signature rows excluded by outlier rejection",
	})

	// PhaseDuration observes wall time per pipeline phase.
	PhaseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "facet_phase_duration_seconds",
		Help:    "Wall-clock duration of pipeline phases",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
	}, []string{"phase"})
)

// Serve blocks serving the /metrics scrape endpoint on addr.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, mux)
}
