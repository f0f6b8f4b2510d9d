package run

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/cuemby/tmt/pkg/events"
	"github.com/cuemby/tmt/pkg/log"
	"github.com/cuemby/tmt/pkg/plan"
	"github.com/cuemby/tmt/pkg/policy"
	"github.com/cuemby/tmt/pkg/result"
	"github.com/cuemby/tmt/pkg/step"
	"github.com/cuemby/tmt/pkg/types"
	"github.com/cuemby/tmt/pkg/workdir"
)

// Runner drains a Recipe into a workdir run: load the tree, select
// plans and tests, run each plan's steps, and fold every plan's
// results into the process-level exit code spec §6 documents.
type Runner struct {
	Recipe  Recipe
	Manager *workdir.Manager
	Events  *events.Broker
}

// NewRunner opens (or creates) the workdir registry Recipe.WorkdirBase
// names.
func NewRunner(r Recipe) (*Runner, error) {
	mgr, err := workdir.NewManager(r.WorkdirBase)
	if err != nil {
		return nil, fmt.Errorf("run: open workdir %s: %w", r.WorkdirBase, err)
	}
	return &Runner{Recipe: r, Manager: mgr, Events: events.NewBroker()}, nil
}

// PlanResult is one plan's outcome, collected for the final summary.
type PlanResult struct {
	Plan *types.Plan
	// Results holds one entry per executed test; empty (but
	// MatchedTests > 0) for a --dry run, which never executes anything.
	Results      []types.Result
	MatchedTests int
	Err          error
}

// Run executes the recipe end to end and returns the process exit
// code plus every plan's collected results. A non-nil error is
// reserved for failures Run itself could not attribute to a specific
// plan (tree load, plan selection); a plan-level failure is instead
// carried in that plan's PlanResult.Err and folded into the exit code.
func (r *Runner) Run(ctx context.Context) (ExitCode, []PlanResult, error) {
	defer r.Manager.Close()

	tree, err := LoadTree(r.Recipe.TreePath)
	if err != nil {
		return ExitError, nil, err
	}

	plans, err := DiscoverPlans(tree, "/plans")
	if err != nil {
		return ExitError, nil, err
	}
	plans, err = FilterPlans(plans, r.Recipe.PlanPatterns)
	if err != nil {
		return ExitError, nil, err
	}
	if len(plans) == 0 {
		return ExitNoMatch, nil, nil
	}

	testFilter, err := TestFilter(r.Recipe.TestPatterns)
	if err != nil {
		return ExitError, nil, err
	}

	run, err := r.Manager.AllocRun(r.Recipe.RunID, r.Recipe.Scratch)
	if err != nil {
		return ExitError, nil, fmt.Errorf("run: allocate run directory: %w", err)
	}
	defer run.Close()

	r.Events.Start()
	defer r.Events.Stop()
	r.Events.WatchInterrupt()
	ctx, cancel := WatchForInterrupt(ctx, r.Events)
	defer cancel()

	results := make([]PlanResult, len(plans))

	g, gctx := errgroup.WithContext(ctx)
	limit := r.Recipe.Concurrency
	if limit <= 0 {
		limit = 1
	}
	g.SetLimit(limit)

	for i, p := range plans {
		i, p := i, p
		g.Go(func() error {
			if err := ApplyOverlays(p, r.Recipe.Overlays); err != nil {
				results[i] = PlanResult{Plan: p, Err: err}
				return nil
			}

			sc := step.NewContext(run, p, tree, r.Events)
			sc.Force = r.Recipe.Force
			sc.CLIEnvironment = r.Recipe.Environment
			sc.CLIEnvFiles = r.Recipe.EnvFiles

			if r.Recipe.DryRun {
				results[i] = dryRunPlan(ctx, sc, testFilter)
				return nil
			}

			if r.Recipe.Policy != nil {
				if err := policy.ApplyToPlan(*r.Recipe.Policy, p); err != nil {
					results[i] = PlanResult{Plan: p, Err: err}
					return nil
				}
			}

			exec := &plan.Executor{
				SkipCleanup: r.Recipe.Keep,
				TestFilter:  testFilter,
			}
			if r.Recipe.Policy != nil {
				pol := *r.Recipe.Policy
				exec.Rewrite = func(tests []types.Test) ([]types.Test, error) {
					for j := range tests {
						if err := policy.ApplyToTest(pol, &tests[j]); err != nil {
							return nil, fmt.Errorf("policy: test %s: %w", tests[j].Name, err)
						}
					}
					return tests, nil
				}
			}

			err := exec.Execute(gctx, sc)
			results[i] = PlanResult{Plan: p, Results: sc.Results, MatchedTests: len(sc.Tests), Err: err}
			return nil
		})
	}

	// errgroup's own error is always nil here: each goroutine reports
	// its failure through PlanResult.Err instead of returning it, so
	// one plan's failure never cancels a sibling plan already in
	// flight (spec §7's "the affected plan fails; dependent plans
	// continue").
	_ = g.Wait()

	return exitCodeFor(results), results, nil
}

func exitCodeFor(results []PlanResult) ExitCode {
	var allResults []types.Result
	var planErrs []error
	totalTests := 0

	for _, pr := range results {
		if pr.Err != nil {
			planErrs = append(planErrs, fmt.Errorf("plan %s: %w", pr.Plan.Name, pr.Err))
		}
		allResults = append(allResults, pr.Results...)
		totalTests += pr.MatchedTests
	}

	if totalTests == 0 && len(planErrs) == 0 {
		return ExitNoMatch
	}
	if len(planErrs) > 0 {
		log.Logger.Error().Err(errors.Join(planErrs...)).Msg("one or more plans failed")
		return ExitError
	}

	switch result.PlanOutcome(allResults) {
	case types.OutcomeFail:
		return ExitTestFailure
	case types.OutcomeError:
		return ExitError
	default:
		return ExitSuccess
	}
}
