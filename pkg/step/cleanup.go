package step

import (
	"context"

	"github.com/cuemby/tmt/pkg/types"
)

// CleanupEngine tears every provisioned guest down. Unlike the six
// Engines(), it is not idempotence-gated on workdir step state and it
// is never skipped: pkg/plan's executor runs it last, unconditionally,
// even when an earlier step failed, so a half-provisioned plan never
// leaks a running guest.
type CleanupEngine struct{}

func (e *CleanupEngine) Kind() types.StepKind { return types.StepCleanup }

// Run stops every guest sc.Provision populated, collecting (not
// short-circuiting on) individual stop failures so one stuck guest
// doesn't prevent the others from being torn down.
func (e *CleanupEngine) Run(ctx context.Context, sc *Context) error {
	if err := markRunning(sc, types.StepCleanup); err != nil {
		return err
	}

	var firstErr error
	for name, g := range sc.Guests {
		if err := g.Stop(ctx); err != nil {
			sc.Logger.Error().Err(err).Str("guest", name).Msg("cleanup: stop failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if firstErr != nil {
		_ = markFailed(sc, types.StepCleanup, firstErr)
		return firstErr
	}
	return markDone(sc, types.StepCleanup)
}
