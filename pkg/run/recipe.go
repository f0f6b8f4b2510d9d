package run

import (
	"time"

	"github.com/cuemby/tmt/pkg/policy"
)

// ExitCode mirrors spec §6's four documented process exit codes.
type ExitCode int

const (
	ExitSuccess     ExitCode = 0
	ExitTestFailure ExitCode = 1
	ExitError       ExitCode = 2
	ExitNoMatch     ExitCode = 3
)

// Recipe is one `tmt run` invocation's fully-parsed intent: cmd/tmt
// builds this from cobra flags, pkg/run never reads flags itself.
type Recipe struct {
	// TreePath points at the metadata tree file (see LoadTree).
	TreePath string

	// WorkdirBase is the directory AllocRun roots the bolt registry and
	// run directories under.
	WorkdirBase string
	// RunID requests resuming a specific prior run ("--id DIR"); empty
	// allocates a fresh one.
	RunID string
	// Scratch requests a clean run even when RunID names an existing,
	// incomplete one.
	Scratch bool

	PlanPatterns []string
	TestPatterns []string

	// Overlays is the "--insert"/"--update"/"--update-missing"/
	// "--remove" phase-list edits, applied to every selected plan
	// before its steps run.
	Overlays []Overlay

	// Environment is the "--environment K=V" overlay, highest
	// precedence short of a test's own declared environment.
	Environment map[string]string
	// EnvFiles is "--environment-file PATH", one or more.
	EnvFiles []string

	// Policy, when non-nil, is applied to every discovered test and
	// selected plan before that plan's steps run.
	Policy *policy.Document

	// Concurrency bounds how many plans run at once; 0 or 1 runs plans
	// serially.
	Concurrency int

	// Force re-runs steps whose status is already "done" instead of
	// skipping them (the idempotence invariant's documented override).
	Force bool
	// Keep leaves provisioned guests running instead of cleaning them
	// up at the end of the run (for post-mortem debugging).
	Keep bool
	// DryRun validates phase lists/scheduler ticks without touching a
	// guest.
	DryRun bool

	// InterruptGrace is carried on the Recipe but Runner.Run does not
	// read it: an interrupt cancels the run context with no grace
	// period.
	InterruptGrace time.Duration
}
