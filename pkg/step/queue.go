package step

import (
	"context"
	"fmt"

	"github.com/cuemby/tmt/pkg/scheduler"
	"github.com/cuemby/tmt/pkg/types"
)

// isShared reports whether a phase is a multihost-coordinated plugin
// (spec §4.4 rule 2): it targets more than one guest and is marked
// `options.shared: true` (e.g. a client/server synchronization phase
// that must not start on one side before the other is ready).
func isShared(p types.PhaseSpec) bool {
	v, _ := p.Options["shared"].(bool)
	return v
}

// guestNames returns every guest the plan currently knows about.
func guestNames(sc *Context) []string {
	names := make([]string, 0, len(sc.GuestInfo))
	for _, g := range sc.GuestInfo {
		names = append(names, g.Name)
	}
	return names
}

// resolveGuests applies a phase's `where` filter (a guest name or a
// role) against the plan's guest set; an empty `where` targets every
// guest.
func resolveGuests(sc *Context, where string) []string {
	if where == "" {
		return guestNames(sc)
	}
	var matched []string
	for _, g := range sc.GuestInfo {
		if g.Name == where || g.Role == where {
			matched = append(matched, g.Name)
		}
	}
	return matched
}

// runPhaseQueue builds the phase/guest assignments for one step's
// phases, drains them tick by tick via pkg/scheduler, and returns an
// aggregate error naming every (phase, guest) pair that failed — the
// tick-drain guarantee means every assignment gets a chance to run
// even when an earlier one in the same tick fails on another guest.
func runPhaseQueue(ctx context.Context, sc *Context, kind types.StepKind, exec scheduler.ExecFunc) error {
	var assignments []scheduler.PhaseAssignment
	for _, phase := range sc.Plan.Phases[kind] {
		assignments = append(assignments, scheduler.PhaseAssignment{
			Phase:  phase,
			Guests: resolveGuests(sc, phase.Where),
		})
	}
	if len(assignments) == 0 {
		return nil
	}

	ticks := scheduler.BuildTicks(assignments, isShared)
	results := sc.Scheduler.Run(ctx, ticks, exec)

	var failed []string
	for _, r := range results {
		if r.Err != nil {
			failed = append(failed, fmt.Sprintf("%s@%s: %v", r.Phase.Name, r.Guest, r.Err))
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("%s: %d phase(s) failed: %v", kind, len(failed), failed)
	}
	return nil
}
