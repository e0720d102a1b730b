package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Ensemble metrics
	MembersByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "enkf_members",
			Help: "Number of ensemble members by last run status",
		},
		[]string{"status"},
	)

	EnsembleSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "enkf_ensemble_size",
			Help: "Number of members in the ensemble",
		},
	)

	// Forward model metrics
	MemberRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enkf_member_runs_total",
			Help: "Total number of member forward runs by final status",
		},
		[]string{"status"},
	)

	BatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "enkf_batch_duration_seconds",
			Help:    "Time taken to run one forward-model batch in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		},
	)

	JobsRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "enkf_jobs_running",
			Help: "Number of forward-model jobs currently executing",
		},
	)

	// Update metrics
	UpdateDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "enkf_update_duration_seconds",
			Help:    "Analysis update duration in seconds by run mode",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"mode"},
	)

	MinistepsSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "enkf_ministeps_skipped_total",
			Help: "Total number of ministeps skipped for lack of active observations",
		},
	)

	ActiveObservations = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "enkf_active_observations",
			Help: "Active observation points in the last analyzed ministep",
		},
	)

	DeactivatedObservations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enkf_deactivated_observations_total",
			Help: "Total number of observation points deactivated by reason",
		},
		[]string{"reason"},
	)

	SerializedRows = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "enkf_serialized_rows_total",
			Help: "Total number of state matrix rows serialized",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(MembersByStatus)
	prometheus.MustRegister(EnsembleSize)
	prometheus.MustRegister(MemberRunsTotal)
	prometheus.MustRegister(BatchDuration)
	prometheus.MustRegister(JobsRunning)
	prometheus.MustRegister(UpdateDuration)
	prometheus.MustRegister(MinistepsSkipped)
	prometheus.MustRegister(ActiveObservations)
	prometheus.MustRegister(DeactivatedObservations)
	prometheus.MustRegister(SerializedRows)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
