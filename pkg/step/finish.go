package step

import (
	"context"
	"fmt"

	"github.com/cuemby/tmt/pkg/guest"
	"github.com/cuemby/tmt/pkg/types"
)

// FinishEngine runs plan-declared guest-side cleanup hooks (log
// harvesting, snapshot collection) — distinct from cleanup.go's
// unconditional resource teardown. Per Open Question #3, pkg/plan's
// executor runs finish whenever provisioning produced at least one
// guest, even if prepare/execute never reached it.
type FinishEngine struct{}

func (e *FinishEngine) Kind() types.StepKind { return types.StepFinish }

func (e *FinishEngine) Run(ctx context.Context, sc *Context) error {
	done, err := skipIfDone(sc, types.StepFinish)
	if err != nil {
		return err
	}
	if done {
		return nil
	}

	if err := markRunning(sc, types.StepFinish); err != nil {
		return err
	}

	err = runPhaseQueue(ctx, sc, types.StepFinish, func(ctx context.Context, phase types.PhaseSpec, guestName string) error {
		g, ok := sc.Guests[guestName]
		if !ok {
			// The guest may have failed to provision; finish still
			// runs for the guests that did come up.
			return nil
		}
		switch phase.How {
		case "", "shell":
			script, _ := phase.Options["script"].(string)
			if script == "" {
				return nil
			}
			res, err := g.Exec(ctx, []string{"sh", "-c", script}, guest.ExecOptions{})
			if err != nil {
				return fmt.Errorf("finish: %w", err)
			}
			if res.ExitCode != 0 {
				return fmt.Errorf("finish: exited %d: %s", res.ExitCode, res.Stderr)
			}
			return nil
		default:
			return fmt.Errorf("finish: unsupported how %q", phase.How)
		}
	})
	if err != nil {
		_ = markFailed(sc, types.StepFinish, err)
		return err
	}
	return markDone(sc, types.StepFinish)
}
