// Package step implements the six ordered plan steps (discover,
// provision, prepare, execute, report, finish) plus cleanup, each a
// small Engine consulting workdir step state to skip work a previous
// run already finished, mirroring the teacher's habit of logging every
// state transition in reconciler.go/scheduler.go.
package step

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/cuemby/tmt/pkg/events"
	"github.com/cuemby/tmt/pkg/guest"
	"github.com/cuemby/tmt/pkg/log"
	"github.com/cuemby/tmt/pkg/scheduler"
	"github.com/cuemby/tmt/pkg/types"
	"github.com/cuemby/tmt/pkg/workdir"
)

// Context is the state every step engine reads and mutates as one
// plan progresses from discover through cleanup.
type Context struct {
	Run  *workdir.Run
	Plan *types.Plan

	// Tree is the loaded metadata tree discover's "fmf" provider walks.
	// It may be nil for plans whose discover phases are all "shell".
	Tree *types.Node

	Guests    map[string]guest.Guest
	GuestInfo []types.GuestInfo

	Tests   []types.Test
	Results []types.Result

	Scheduler *scheduler.Scheduler
	Events    *events.Broker

	Logger zerolog.Logger

	// Force makes every engine redo its work even when a previous run
	// already marked it done — the "--force" escape hatch spec's
	// idempotence invariant names as the only exception to "no-op".
	Force bool

	// CLIEnvironment and CLIEnvFiles are the "--environment"/
	// "--environment-file" overlay, ranked above the plan's own
	// environment and below a test's declared environment.
	CLIEnvironment map[string]string
	CLIEnvFiles    []string
}

// NewContext creates a step Context scoped to one plan within one run.
func NewContext(run *workdir.Run, plan *types.Plan, tree *types.Node, broker *events.Broker) *Context {
	return &Context{
		Run:       run,
		Plan:      plan,
		Tree:      tree,
		Guests:    map[string]guest.Guest{},
		Scheduler: scheduler.NewScheduler(),
		Events:    broker,
		Logger:    log.WithPlan(plan.Name),
	}
}

// Engine is implemented by each ordered plan step.
type Engine interface {
	Kind() types.StepKind
	Run(ctx context.Context, sc *Context) error
}

// Engines returns the fixed, ordered step list pkg/plan drains.
// Cleanup is excluded: it is driven separately as the unconditional
// terminator that runs even after a prior step failed.
func Engines() []Engine {
	return []Engine{
		&DiscoverEngine{},
		&ProvisionEngine{},
		&PrepareEngine{},
		&ExecuteEngine{},
		&ReportEngine{},
		&FinishEngine{},
	}
}

// skipIfDone reports whether a previous run of this plan already
// completed kind, per the idempotence invariant every step consults
// before doing work.
func skipIfDone(sc *Context, kind types.StepKind) (bool, error) {
	if sc.Force {
		return false, nil
	}
	state, err := workdir.LoadStepState(sc.Run, sc.Plan.Name, string(kind))
	if err != nil {
		return false, err
	}
	return state.Status == workdir.StepDone, nil
}

func markRunning(sc *Context, kind types.StepKind) error {
	sc.Logger.Info().Str("step", string(kind)).Msg("step starting")
	if sc.Events != nil {
		sc.Events.Publish(&events.Event{Type: events.EventStepStarted, Message: string(kind)})
	}
	return workdir.SaveStepState(sc.Run, sc.Plan.Name, string(kind), workdir.StepState{Status: workdir.StepRunning})
}

func markDone(sc *Context, kind types.StepKind) error {
	sc.Logger.Info().Str("step", string(kind)).Msg("step done")
	if sc.Events != nil {
		sc.Events.Publish(&events.Event{Type: events.EventStepFinished, Message: string(kind)})
	}
	return workdir.SaveStepState(sc.Run, sc.Plan.Name, string(kind), workdir.StepState{Status: workdir.StepDone})
}

func markFailed(sc *Context, kind types.StepKind, cause error) error {
	sc.Logger.Error().Err(cause).Str("step", string(kind)).Msg("step failed")
	if sc.Events != nil {
		sc.Events.Publish(&events.Event{Type: events.EventStepFinished, Message: string(kind) + ": " + cause.Error()})
	}
	return workdir.SaveStepState(sc.Run, sc.Plan.Name, string(kind), workdir.StepState{Status: workdir.StepFailed})
}
