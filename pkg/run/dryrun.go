package run

import (
	"context"
	"fmt"

	"github.com/cuemby/tmt/pkg/scheduler"
	"github.com/cuemby/tmt/pkg/step"
	"github.com/cuemby/tmt/pkg/types"
)

// dryRunPlan discovers sc's tests, applies the "tests --name REGEX"
// filter, and validates the plan's phase lists — without provisioning,
// preparing, executing, or cleaning up anything.
func dryRunPlan(ctx context.Context, sc *step.Context, keep func(types.Test) bool) PlanResult {
	if err := (&step.DiscoverEngine{}).Run(ctx, sc); err != nil {
		return PlanResult{Plan: sc.Plan, Err: err}
	}

	var matched []types.Test
	for _, t := range sc.Tests {
		if keep(t) {
			matched = append(matched, t)
		}
	}
	sc.Tests = matched

	if err := ValidatePlan(sc.Plan); err != nil {
		return PlanResult{Plan: sc.Plan, Err: err}
	}

	return PlanResult{Plan: sc.Plan, MatchedTests: len(matched)}
}

// ValidatePlan checks a plan's phase lists without touching a guest:
// every phase declaring a name has a name unique within its step, and
// every `where` target outside provision and discover (where discover's
// `where` is a tree path) names either a provision phase or a role one
// of them declares — the two "Internal" precondition violations spec
// §7 calls out (duplicate phase name, unknown guest). It also feeds
// each step's phases through scheduler.BuildTicks; that grouping
// reports no errors, so it rejects nothing.
//
// This is the `--dry` path's whole job: it's deliberately blind to
// anything that needs a live guest (facts, connectivity, actual test
// execution).
func ValidatePlan(p *types.Plan) error {
	guests, roles := knownTargets(p)

	for _, kind := range types.Steps {
		phases := p.Phases[kind]

		seen := map[string]bool{}
		for _, phase := range phases {
			if phase.Name == "" {
				continue
			}
			if seen[phase.Name] {
				return fmt.Errorf("plan %s: %s: duplicate phase name %q", p.Name, kind, phase.Name)
			}
			seen[phase.Name] = true

			if kind == types.StepProvision || kind == types.StepDiscover || phase.Where == "" {
				continue
			}
			if !guests[phase.Where] && !roles[phase.Where] {
				return fmt.Errorf("plan %s: %s: phase %q targets unknown guest/role %q", p.Name, kind, phase.Name, phase.Where)
			}
		}

		assignments := make([]scheduler.PhaseAssignment, 0, len(phases))
		for _, phase := range phases {
			assignments = append(assignments, scheduler.PhaseAssignment{
				Phase:  phase,
				Guests: targetGuests(phase.Where, guests, roles, p),
			})
		}
		scheduler.BuildTicks(assignments, func(phase types.PhaseSpec) bool {
			shared, _ := phase.Options["shared"].(bool)
			return shared
		})
	}

	return nil
}

func knownTargets(p *types.Plan) (guests map[string]bool, roles map[string]bool) {
	guests = map[string]bool{}
	roles = map[string]bool{}
	for _, phase := range p.Phases[types.StepProvision] {
		guests[phase.Name] = true
		if role, ok := phase.Options["role"].(string); ok && role != "" {
			roles[role] = true
		}
	}
	return guests, roles
}

func targetGuests(where string, guests, roles map[string]bool, p *types.Plan) []string {
	if where == "" {
		names := make([]string, 0, len(guests))
		for name := range guests {
			names = append(names, name)
		}
		return names
	}
	if guests[where] {
		return []string{where}
	}
	if roles[where] {
		var names []string
		for _, phase := range p.Phases[types.StepProvision] {
			if role, _ := phase.Options["role"].(string); role == where {
				names = append(names, phase.Name)
			}
		}
		return names
	}
	return nil
}
