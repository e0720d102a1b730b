/*
Package metrics exposes Prometheus metrics and health endpoints for an
ensemble experiment.

# Metrics

All collectors are registered with the default registry at init and served
by Handler:

	enkf_ensemble_size                       gauge
	enkf_members{status}                     gauge, sampled by Collector
	enkf_member_runs_total{status}           counter, one per finished member
	enkf_batch_duration_seconds              histogram
	enkf_jobs_running                        gauge
	enkf_update_duration_seconds{mode}       histogram
	enkf_ministeps_skipped_total             counter
	enkf_active_observations                 gauge
	enkf_deactivated_observations_total{reason}
	enkf_serialized_rows_total               counter

Durations are recorded with a Timer:

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.UpdateDuration, string(mode))

# Health

Components report their state with RegisterComponent and UpdateComponent.
HealthHandler reports every component; ReadyHandler only fails when one of
CriticalComponents (config, storage) is unhealthy; LivenessHandler always
answers 200 while the process runs.

	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", metrics.HealthHandler())
	mux.HandleFunc("/ready", metrics.ReadyHandler())
	mux.HandleFunc("/live", metrics.LivenessHandler())
*/
package metrics
