// Package scheduler implements the phase queue algorithm of spec
// §4.4: phases are grouped into ticks, ticks run strictly in order,
// and within one tick every targeted guest runs its assigned phases
// concurrently with its peers (but sequentially with itself).
package scheduler

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/cuemby/tmt/pkg/log"
	"github.com/cuemby/tmt/pkg/metrics"
	"github.com/cuemby/tmt/pkg/types"
)

// PhaseAssignment pairs one phase with the guest names it resolved to
// (every guest of the plan when `where` is unset, the matching subset
// otherwise).
type PhaseAssignment struct {
	Phase  types.PhaseSpec
	Guests []string
}

// Tick is one group of phase assignments that must complete before
// the next tick begins.
type Tick struct {
	Phases []PhaseAssignment
}

// SharedFunc reports whether a phase is a "shared" plugin (multihost
// coordination) as opposed to a per-guest one, per spec §4.4 rule 2.
type SharedFunc func(types.PhaseSpec) bool

// Scheduler groups phases into ticks and drains them, mirroring the
// teacher's Scheduler struct shape (logger, mutex, metrics
// instrumentation) with the perpetual 5s polling loop replaced by a
// one-shot deterministic drain driven by the step engine.
type Scheduler struct {
	logger zerolog.Logger
	mu     sync.Mutex
}

// NewScheduler creates a Scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{logger: log.WithComponent("scheduler")}
}

// BuildTicks sorts assignments by (order, declaration index) and
// splits them into ticks at every order change and every
// shared↔per-guest transition (spec §4.4 rule 1 and rule 2). The
// input slice's order is taken as declaration order; the sort is
// stable so ties preserve it.
func BuildTicks(assignments []PhaseAssignment, shared SharedFunc) []Tick {
	sorted := make([]PhaseAssignment, len(assignments))
	copy(sorted, assignments)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Phase.Order < sorted[j].Phase.Order
	})

	var ticks []Tick
	var current Tick
	started := false
	var currentOrder int
	var currentShared bool

	for _, a := range sorted {
		isShared := shared != nil && shared(a.Phase) && len(a.Guests) > 1
		boundary := !started || a.Phase.Order != currentOrder || isShared != currentShared
		if boundary {
			if started {
				ticks = append(ticks, current)
			}
			current = Tick{}
			currentOrder = a.Phase.Order
			currentShared = isShared
			started = true
		}
		current.Phases = append(current.Phases, a)
	}
	if started {
		ticks = append(ticks, current)
	}
	return ticks
}

// ExecFunc runs one phase against one guest.
type ExecFunc func(ctx context.Context, phase types.PhaseSpec, guest string) error

// Result is the outcome of one (phase, guest) execution within a
// drained tick.
type Result struct {
	Phase types.PhaseSpec
	Guest string
	Err   error
}

// Run drains ticks strictly in order. Within a tick, every guest's
// assigned phase sequence runs concurrently with its peers via
// errgroup (a failure on one guest's chain does not cancel the
// others — the tick always drains fully, matching spec §4.4's "a
// phase that fails on one guest does not abort peers in the same
// tick"); phases sharing a guest within the tick run sequentially in
// declaration order on that guest.
func (s *Scheduler) Run(ctx context.Context, ticks []Tick, exec ExecFunc) []Result {
	var results []Result
	var resultsMu sync.Mutex

	for _, tick := range ticks {
		timer := metrics.NewTimer()
		tickName := ""
		if len(tick.Phases) > 0 {
			tickName = tick.Phases[0].Phase.Name
		}

		perGuest := groupByGuest(tick.Phases)

		var g errgroup.Group
		for guestName, queue := range perGuest {
			guestName, queue := guestName, queue
			g.Go(func() error {
				for _, pa := range queue {
					err := exec(ctx, pa.Phase, guestName)
					resultsMu.Lock()
					results = append(results, Result{Phase: pa.Phase, Guest: guestName, Err: err})
					resultsMu.Unlock()

					if err != nil {
						metrics.PhasesFailed.Inc()
						s.logger.Error().Err(err).Str("phase", pa.Phase.Name).Str("guest", guestName).Msg("phase failed")
					} else {
						metrics.PhasesScheduled.Inc()
					}
				}
				return nil
			})
		}
		g.Wait()

		timer.ObserveDurationVec(metrics.TickDuration, tickName)
	}

	return results
}

// groupByGuest collapses a tick's phase assignments into, per guest,
// the ordered sequence of phases that target it. Declaration order
// within the tick is preserved because it only walks tick.Phases
// (already stable-sorted by BuildTicks) in place.
func groupByGuest(phases []PhaseAssignment) map[string][]PhaseAssignment {
	out := map[string][]PhaseAssignment{}
	for _, pa := range phases {
		for _, guestName := range pa.Guests {
			out[guestName] = append(out[guestName], PhaseAssignment{Phase: pa.Phase, Guests: []string{guestName}})
		}
	}
	return out
}
