// Package metrics holds the Prometheus collectors for allocation, the
// background runner, the stream consumer and bundle expansion. Collectors
// live on a private registry exposed through Handler.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "labelling_task"

// Outcome label values.
const (
	OutcomeAllocated  = "allocated"
	OutcomeNoWorker   = "no_worker"
	OutcomeInvalid    = "invalid"
	OutcomeError      = "error"
	OutcomeSucceeded  = "succeeded"
	OutcomeFailed     = "failed"
	OutcomeMalformed  = "malformed"
	OutcomeDuplicate  = "duplicate"
	OutcomeSkipped    = "skipped"
	OutcomeReclaimed  = "reclaimed"
	OutcomeAckedAgain = "acked_again"
	OutcomeAbandoned  = "abandoned"
)

var (
	// Registry is the private registry every collector in this package is
	// registered on.
	Registry = prometheus.NewRegistry()

	allocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "allocations_total",
			Help:      "Allocation attempts by strategy and outcome.",
		},
		[]string{"strategy", "outcome"},
	)
	bootstrapMembers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pool_bootstrap_members_total",
			Help:      "Workers inserted into a pool by bootstrap, by role.",
		},
		[]string{"role"},
	)
	allocationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "allocation_duration_seconds",
			Help:      "Time spent in one engine allocation, bootstrap included.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"strategy"},
	)
	runnerJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "runner",
			Name:      "jobs_total",
			Help:      "Background jobs by type and outcome.",
		},
		[]string{"type", "outcome"},
	)
	runnerQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "runner",
			Name:      "queue_depth",
			Help:      "Jobs waiting in the runner queue.",
		},
	)
	streamMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "messages_total",
			Help:      "Stream messages handled by stream and outcome.",
		},
		[]string{"stream", "outcome"},
	)
	bundleChildrenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bundle",
			Name:      "entries_total",
			Help:      "Bundle entries by outcome.",
		},
		[]string{"outcome"},
	)
)

var registerMetrics sync.Once

// Register registers every collector on Registry. It is safe to call more
// than once.
func Register() {
	registerMetrics.Do(func() {
		Registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			allocationsTotal,
			bootstrapMembers,
			allocationDuration,
			runnerJobsTotal,
			runnerQueueDepth,
			streamMessagesTotal,
			bundleChildrenTotal,
		)
	})
}

// Handler serves Registry in the Prometheus exposition format.
func Handler() http.Handler {
	Register()
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}

// RecordAllocation counts one allocation attempt.
func RecordAllocation(strategy, outcome string) {
	allocationsTotal.WithLabelValues(strategy, outcome).Inc()
}

// ObserveAllocationDuration records how long an engine allocation took.
func ObserveAllocationDuration(strategy string, seconds float64) {
	allocationDuration.WithLabelValues(strategy).Observe(seconds)
}

// RecordBootstrap counts workers inserted by a pool bootstrap.
func RecordBootstrap(role string, inserted int) {
	bootstrapMembers.WithLabelValues(role).Add(float64(inserted))
}

// RecordRunnerJob counts one finished background job.
func RecordRunnerJob(jobType, outcome string) {
	runnerJobsTotal.WithLabelValues(jobType, outcome).Inc()
}

// SetRunnerQueueDepth reports the current runner backlog.
func SetRunnerQueueDepth(depth int) {
	runnerQueueDepth.Set(float64(depth))
}

// RecordStreamMessage counts one consumed stream message.
func RecordStreamMessage(stream, outcome string) {
	streamMessagesTotal.WithLabelValues(stream, outcome).Inc()
}

// RecordBundleEntry counts one processed bundle entry.
func RecordBundleEntry(outcome string) {
	bundleChildrenTotal.WithLabelValues(outcome).Inc()
}
