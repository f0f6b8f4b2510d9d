// Package result implements the worst-wins aggregation of spec §4.6:
// a plan's overall outcome is the worst Outcome among its tests, and a
// test's own outcome is the worst among its own result plus every
// check attached to it. Check flakiness (a check that fails a few
// times but recovers) is tracked with the same consecutive-failure
// counter pkg/check's State uses for the watchdog check, so a check
// that degrades and recovers within its retry budget doesn't drag the
// whole test down.
package result

import (
	"github.com/cuemby/tmt/pkg/check"
	"github.com/cuemby/tmt/pkg/types"
)

// Summary is the aggregate outcome of a plan's results.
type Summary struct {
	Total   int
	ByOutcome map[types.Outcome]int
	Worst   types.Outcome
}

// Summarize folds a plan's Results into counts-by-outcome and the
// single worst outcome across all of them.
func Summarize(results []types.Result) Summary {
	s := Summary{ByOutcome: map[types.Outcome]int{}, Worst: types.OutcomePending}
	for _, r := range results {
		s.Total++
		s.ByOutcome[r.Result]++
		if r.Result.Worse(s.Worst) {
			s.Worst = r.Result
		}
	}
	return s
}

// FoldChecks computes a test's effective outcome from its own result
// plus its attached checks: worst-wins across the two, per spec §4.6.
// A check is excluded from the fold (treated as informational only)
// once its consecutive-failure count is below the configured retries,
// mirroring check.State's flaky-vs-unhealthy distinction — a single
// transient check failure doesn't fail the test, a sustained one does.
func FoldChecks(testOutcome types.Outcome, checks []types.CheckResult, cfg check.Config) types.Outcome {
	states := map[string]*check.State{}
	worst := testOutcome

	for _, cr := range checks {
		st, ok := states[cr.Name]
		if !ok {
			st = check.NewState()
			states[cr.Name] = st
		}
		st.Update(check.Result{Outcome: cr.Result}, cfg)

		if !st.Healthy && cr.Result.Worse(worst) {
			worst = cr.Result
		}
	}
	return worst
}

// PlanOutcome reports the worst outcome across every result belonging
// to one plan — the value a run driver uses to pick its process exit
// code (spec §4.11).
func PlanOutcome(results []types.Result) types.Outcome {
	worst := types.OutcomePending
	for _, r := range results {
		if r.Result.Worse(worst) {
			worst = r.Result
		}
	}
	return worst
}
