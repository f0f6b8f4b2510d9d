/*
Package metrics defines and registers the orchestrator's Prometheus metrics.

Most `tmt run` invocations are a short-lived batch process and never expose
these over HTTP; the counters and histograms are still useful read back
through the Prometheus client registry in integration tests, and become
externally visible when a run is started with --metrics-addr, which serves
Handler() (/metrics) alongside HealthHandler/ReadyHandler/LivenessHandler.

# Categories

Run: total runs by exit code, overall run duration.

Step: per-(plan,step) duration and failure counters — discover, provision,
prepare, execute, report, finish, cleanup.

Scheduler: tick-building latency and per-tick duration (its "step"
label holds the name of the tick's first phase),
plus phase scheduled/failed counters.

Guest: gauge of guests by provisioner and lifecycle state (refreshed by
Collector when metrics are exposed for a long multi-plan run), provision
and reboot duration histograms keyed by provisioner.

Test/Check: result counters by outcome, test duration histogram, restart
counters by trigger (test-requested vs watchdog), check result counters
by name and outcome.

# Usage

	timer := metrics.NewTimer()
	err := engine.Run(ctx, plan)
	timer.ObserveDurationVec(metrics.StepDuration, plan.Name, string(step))
	if err != nil {
		metrics.StepsFailedTotal.WithLabelValues(plan.Name, string(step)).Inc()
	}
*/
package metrics
