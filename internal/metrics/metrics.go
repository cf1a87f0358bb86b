// Package metrics defines the Prometheus collectors of the job tracker.
// Collectors are registered with the default registry on import.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "jobtracker"

	jobTransitionsTotal   = "job_transitions_total"
	jobsDispatchedTotal   = "jobs_dispatched_total"
	dependentAnomalyTotal = "dependent_anomalies_total"
	statusQueriesTotal    = "submission_status_queries_total"

	// Labels
	fromLabel   = "from"
	toLabel     = "to"
	resultLabel = "result"
	stateLabel  = "state"
	statusLabel = "status"
	sourceLabel = "source"
)

var jobTransitionsMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      jobTransitionsTotal,
		Help:      "number of job status changes partitioned by previous and new status",
	},
	[]string{fromLabel, toLabel},
)

var jobsDispatchedMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      jobsDispatchedTotal,
		Help:      "number of jobs handed to the work queue",
	},
	[]string{resultLabel},
)

var dependentAnomalyMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      dependentAnomalyTotal,
		Help:      "dependents found outside waiting while their prerequisites were all finished",
	},
	[]string{stateLabel},
)

var statusQueriesMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      statusQueriesTotal,
		Help:      "submission status queries partitioned by result and whether the cache answered",
	},
	[]string{statusLabel, sourceLabel},
)

func init() {
	prometheus.MustRegister(jobTransitionsMetric)
	prometheus.MustRegister(jobsDispatchedMetric)
	prometheus.MustRegister(dependentAnomalyMetric)
	prometheus.MustRegister(statusQueriesMetric)
}

func IncreaseJobTransition(from, to string) {
	jobTransitionsMetric.With(prometheus.Labels{fromLabel: from, toLabel: to}).Inc()
}

func IncreaseJobsDispatched(err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	jobsDispatchedMetric.With(prometheus.Labels{resultLabel: result}).Inc()
}

func IncreaseDependentAnomaly(state string) {
	dependentAnomalyMetric.With(prometheus.Labels{stateLabel: state}).Inc()
}

func IncreaseStatusQuery(status string, cached bool) {
	source := "computed"
	if cached {
		source = "cache"
	}
	statusQueriesMetric.With(prometheus.Labels{statusLabel: status, sourceLabel: source}).Inc()
}
