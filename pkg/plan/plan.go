// Package plan drains one plan's ordered steps against a step.Context.
package plan

import (
	"context"
	"errors"

	"github.com/cuemby/tmt/pkg/step"
	"github.com/cuemby/tmt/pkg/types"
)

// Executor runs one plan's six ordered steps (discover, provision,
// prepare, execute, report, finish) then always runs cleanup.
//
// Per Open Question #3's decision, a failure anywhere in
// discover/provision/prepare/execute/report stops the remaining steps
// in that set, but finish still runs whenever provision produced at
// least one guest — finish is the hook plan authors write expecting it
// to run whenever a guest got far enough to exist. Cleanup runs
// unconditionally, last, regardless of every earlier outcome.
type Executor struct {
	// TestFilter, when set, is applied to the discovered test list
	// immediately after the discover step completes; a test for which
	// it returns false is dropped before provision/prepare/execute see
	// it.
	TestFilter func(types.Test) bool

	// Rewrite, when set, runs immediately after TestFilter and may
	// both mutate and further prune the surviving test list — this is
	// where a CLI-level policy document's per-test rewrites apply,
	// since they need to change fields in place rather than just
	// answer yes/no.
	Rewrite func([]types.Test) ([]types.Test, error)

	// SkipCleanup leaves provisioned guests running instead of
	// stopping them at the end of the run — the "--keep" escape hatch
	// for post-mortem debugging. Finish still runs as usual.
	SkipCleanup bool
}

// Execute drains sc's plan through every step and returns every
// error encountered across discover/provision/prepare/execute/report/
// finish/cleanup, combined with errors.Join (cleanup errors are reported even when an earlier
// step already failed, so a stuck guest is never silently dropped).
func (e *Executor) Execute(ctx context.Context, sc *step.Context) error {
	engines := step.Engines()

	var errs []error
	for _, eng := range engines {
		if eng.Kind() == types.StepFinish {
			break // finish is handled specially, after this loop
		}
		if len(errs) > 0 {
			break
		}
		if err := eng.Run(ctx, sc); err != nil {
			errs = append(errs, err)
			continue
		}
		if eng.Kind() == types.StepDiscover {
			if e.TestFilter != nil {
				sc.Tests = filterTests(sc.Tests, e.TestFilter)
			}
			if e.Rewrite != nil {
				rewritten, err := e.Rewrite(sc.Tests)
				if err != nil {
					errs = append(errs, err)
					continue
				}
				sc.Tests = rewritten
			}
		}
	}

	if len(sc.Guests) > 0 {
		if err := (&step.FinishEngine{}).Run(ctx, sc); err != nil {
			errs = append(errs, err)
		}
	}

	if !e.SkipCleanup {
		if err := (&step.CleanupEngine{}).Run(ctx, sc); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func filterTests(tests []types.Test, keep func(types.Test) bool) []types.Test {
	out := tests[:0]
	for _, t := range tests {
		if keep(t) {
			out = append(out, t)
		}
	}
	return out
}
