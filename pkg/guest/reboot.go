package guest

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Coordinate implements spec §4.7's escalation rule on top of a
// guest's own Reboot: soft and systemd-soft requests that don't bring
// the guest back within timeout escalate to hard, but only when
// hardAllowed opts in (a plan may not want its hardware power-cycled
// automatically); otherwise the failure is returned wrapped with the
// guest name and reboot mode.
func Coordinate(ctx context.Context, g Guest, mode RebootMode, customCmd string, feelingSafe, hardAllowed bool, timeout time.Duration) error {
	err := g.Reboot(ctx, mode, customCmd, feelingSafe, timeout)
	if err == nil {
		return nil
	}
	if mode == RebootHard {
		return err
	}
	if !hardAllowed {
		return fmt.Errorf("guest %s: %s reboot failed and hard-reboot is not allowed: %w", g.Name(), mode, err)
	}

	var unsupported *ErrUnsupported
	hardErr := g.Reboot(ctx, RebootHard, "", feelingSafe, timeout)
	if hardErr != nil {
		if errors.As(hardErr, &unsupported) {
			return fmt.Errorf("guest %s does not support hard reboot", g.Name())
		}
		return fmt.Errorf("guest %s: escalation to hard reboot failed: %w", g.Name(), hardErr)
	}
	return nil
}
