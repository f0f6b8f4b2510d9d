// Package scheduler groups a plan's phases into ticks and drains them
// one tick at a time, per spec §4.4:
//
//  1. Ticks run strictly in ascending phase order (declaration order
//     among phases of equal order); a tick only starts once
//     the previous one has fully drained.
//  2. A tick boundary falls wherever phase order changes, and wherever
//     the phase set switches between a shared (multihost-coordinated)
//     plugin and an ordinary per-guest one.
//  3. Within one tick, every targeted guest runs its own phase queue
//     sequentially, but different guests run concurrently with each
//     other. A phase failing on one guest does not cancel its peers —
//     the tick always drains before the step reports failure.
//
// BuildTicks performs the grouping; Scheduler.Run drains the result
// against a caller-supplied ExecFunc (normally pkg/step's phase
// executor). Overlay/Apply applies insert/update/update-missing/remove
// mutations to a phase list; the CLI's --insert/--update/
// --update-missing/--remove flags go through pkg/run's ApplyOverlays
// instead.
package scheduler
