package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Run-level metrics
	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tmt_runs_total",
			Help: "Total number of runs by final exit code",
		},
		[]string{"exit_code"},
	)

	RunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tmt_run_duration_seconds",
			Help:    "Wall-clock duration of a run, from first plan to last cleanup",
			Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600},
		},
	)

	// Plan/step metrics
	StepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tmt_step_duration_seconds",
			Help:    "Duration of one step for one plan",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"plan", "step"},
	)

	StepsFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tmt_steps_failed_total",
			Help: "Total number of steps that returned an error",
		},
		[]string{"plan", "step"},
	)

	// Scheduler tick metrics
	SchedulingLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tmt_scheduling_latency_seconds",
			Help:    "Time taken to build the tick queue for a phase list",
			Buckets: prometheus.DefBuckets,
		},
	)

	TickDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tmt_tick_duration_seconds",
			Help:    "Duration of one scheduler tick (all phases that ran concurrently)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"step"},
	)

	PhasesScheduled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tmt_phases_scheduled_total",
			Help: "Total number of phases scheduled across all ticks",
		},
	)

	PhasesFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tmt_phases_failed_total",
			Help: "Total number of phases that returned an error",
		},
	)

	// Guest lifecycle metrics
	GuestsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tmt_guests_total",
			Help: "Number of guests by provisioner (how) and lifecycle state",
		},
		[]string{"how", "state"},
	)

	GuestProvisionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tmt_guest_provision_duration_seconds",
			Help:    "Time taken to bring one guest to ready",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"how"},
	)

	GuestRebootDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tmt_guest_reboot_duration_seconds",
			Help:    "Time taken for a guest reboot to complete and become ready again",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"how", "mode"},
	)

	// Test/result metrics
	TestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tmt_tests_total",
			Help: "Total number of test results by outcome",
		},
		[]string{"outcome"},
	)

	TestDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tmt_test_duration_seconds",
			Help:    "Wall-clock duration of one test invocation",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300, 900},
		},
	)

	TestRestartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tmt_test_restarts_total",
			Help: "Total number of test restarts after a reboot, by trigger",
		},
		[]string{"trigger"},
	)

	// Check metrics
	ChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tmt_checks_total",
			Help: "Total number of check results by name and outcome",
		},
		[]string{"name", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(RunsTotal)
	prometheus.MustRegister(RunDuration)
	prometheus.MustRegister(StepDuration)
	prometheus.MustRegister(StepsFailedTotal)
	prometheus.MustRegister(SchedulingLatency)
	prometheus.MustRegister(TickDuration)
	prometheus.MustRegister(PhasesScheduled)
	prometheus.MustRegister(PhasesFailed)
	prometheus.MustRegister(GuestsTotal)
	prometheus.MustRegister(GuestProvisionDuration)
	prometheus.MustRegister(GuestRebootDuration)
	prometheus.MustRegister(TestsTotal)
	prometheus.MustRegister(TestDuration)
	prometheus.MustRegister(TestRestartsTotal)
	prometheus.MustRegister(ChecksTotal)
}

// Handler returns the Prometheus HTTP handler, used when a run is started
// with --metrics-addr to let an external collector scrape a long-running
// batch of plans.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
