// Package types holds the core data model shared by every package in the
// orchestrator: metadata nodes, tests, plans, phases, guests, topology and
// results. It intentionally carries no behavior beyond small accessors —
// the packages that consume these types (workdir, scheduler, step, guest)
// own the logic.
package types

import (
	"time"
)

// Node is an immutable view of one node of the metadata tree: an
// absolute "/"-rooted name, a resolved key/value mapping, and children.
// The core only ever reads a Node through the two query operations
// below (Child and Leaves); it never mutates one.
type Node struct {
	Name     string
	Data     map[string]interface{}
	Children []*Node
	Sources  []string
}

// Child returns the direct child with the given absolute name, or nil.
func (n *Node) Child(name string) *Node {
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Leaves returns every Node under n (inclusive) that has no children.
func (n *Node) Leaves() []*Node {
	if len(n.Children) == 0 {
		return []*Node{n}
	}
	var out []*Node
	for _, c := range n.Children {
		out = append(out, c.Leaves()...)
	}
	return out
}

// Framework identifies how a test's body is interpreted.
type Framework string

const (
	FrameworkShell     Framework = "shell"
	FrameworkBeakerlib Framework = "beakerlib"
)

// ResultInterpretation selects how a test's exit/output maps to a Result.
type ResultInterpretation string

const (
	ResultRespect   ResultInterpretation = "respect"
	ResultXFail     ResultInterpretation = "xfail"
	ResultForcePass ResultInterpretation = "pass"
	ResultForceInfo ResultInterpretation = "info"
	ResultForceWarn ResultInterpretation = "warn"
	ResultForceErr  ResultInterpretation = "error"
	ResultForceFail ResultInterpretation = "fail"
	ResultCustom    ResultInterpretation = "custom"
	ResultRestraint ResultInterpretation = "restraint"
)

// CheckEvent is when a named check runs relative to the test body.
type CheckEvent string

const (
	CheckBeforeTest CheckEvent = "before-test"
	CheckAfterTest  CheckEvent = "after-test"
)

// CheckSpec is one entry of a test's `check` list.
type CheckSpec struct {
	Name    string
	Event   CheckEvent
	How     string
	Options map[string]string
}

// Test is a leaf of a discover step's output.
type Test struct {
	Name             string
	Path             string
	Test             string
	Framework        Framework
	Duration         time.Duration
	Environment      map[string]string
	Require          []string
	Recommend        []string
	Result           ResultInterpretation
	Checks           []CheckSpec
	Tag              []string
	Tier             string
	Order            int
	Enabled          bool
	TTY              bool
	RestartWithReboot bool
	MaxRestarts      int
	Where            string
	SerialNumber     int
}

// DefaultOrder is the declared-order tie-break value when a phase or test
// omits `order`.
const DefaultOrder = 50

// DefaultMaxRestarts is used when a test doesn't specify max-restarts.
// The source is inconsistent between test-requested and watchdog-triggered
// reboots (spec Open Question); we apply one uniform default to both.
const DefaultMaxRestarts = 1

// StepKind names one of the six ordered plan steps, plus the unconditional
// cleanup terminator.
type StepKind string

const (
	StepDiscover  StepKind = "discover"
	StepProvision StepKind = "provision"
	StepPrepare   StepKind = "prepare"
	StepExecute   StepKind = "execute"
	StepReport    StepKind = "report"
	StepFinish    StepKind = "finish"
	StepCleanup   StepKind = "cleanup"
)

// Steps is the fixed execution order, cleanup excluded (it always runs
// last, unconditionally, and is driven separately by the plan executor).
var Steps = []StepKind{StepDiscover, StepProvision, StepPrepare, StepExecute, StepReport, StepFinish}

// PhaseSpec describes one contributor to a step.
type PhaseSpec struct {
	How   string
	Name  string
	Order int
	Where string
	When  string
	// Options carries plugin-specific configuration verbatim.
	Options map[string]interface{}
}

// Plan is a node with a child phase list per step plus plan-level fields.
type Plan struct {
	Name        string
	Phases      map[StepKind][]PhaseSpec
	Context     map[string]string
	Environment map[string]string
	EnvFiles    []string
	Gate        string
	Importing   *Plan
}

// NodeSpec is the metadata describing one provisioned guest, produced by
// a plan's provision step before the guest actually exists.
type NodeSpec struct {
	Name string
	Role string
	How  string
	// Options carries the provisioner's plugin-specific configuration
	// (image, ssh address, hardware pool, …).
	Options map[string]interface{}
}

// GuestFacts are discovered on first contact and cached for the guest's
// lifetime.
type GuestFacts struct {
	Arch           string
	Distro         string
	Kernel         string
	PackageManager string
	SELinux        bool
	IsSuperuser    bool
}

// GuestLifecycle is the state machine of one guest.
type GuestLifecycle string

const (
	GuestNotStarted GuestLifecycle = "not-started"
	GuestStarting   GuestLifecycle = "starting"
	GuestReady      GuestLifecycle = "ready"
	GuestRebooting  GuestLifecycle = "rebooting"
	GuestLost       GuestLifecycle = "lost"
	GuestStopped    GuestLifecycle = "stopped"
)

// GuestInfo is the topology-relevant, serializable view of a guest: the
// subset written to guests.yaml and to topology files.
type GuestInfo struct {
	Name           string
	Role           string
	Hostname       string
	PrimaryAddress string
}

// Outcome is the final verdict of a Result or Subresult.
type Outcome string

const (
	OutcomePass    Outcome = "pass"
	OutcomeFail    Outcome = "fail"
	OutcomeInfo    Outcome = "info"
	OutcomeWarn    Outcome = "warn"
	OutcomeError   Outcome = "error"
	OutcomeSkip    Outcome = "skip"
	OutcomePending Outcome = "pending"
)

// outcomePriority implements the fixed worst-wins ordering of spec §4.6.
var outcomePriority = map[Outcome]int{
	OutcomePending: 0,
	OutcomeSkip:    1,
	OutcomeInfo:    2,
	OutcomePass:    3,
	OutcomeWarn:    4,
	OutcomeFail:    5,
	OutcomeError:   6,
}

// Priority returns the outcome's position in the worst-wins ordering;
// higher is worse.
func (o Outcome) Priority() int {
	return outcomePriority[o]
}

// Worse reports whether o is strictly worse than other.
func (o Outcome) Worse(other Outcome) bool {
	return o.Priority() > other.Priority()
}

// CheckResult is the outcome of one named check attached to a Result.
type CheckResult struct {
	Name   string
	Event  CheckEvent
	Result Outcome
	Log    []string
}

// Subresult is a single-level nested outcome (a restraint/beakerlib
// sub-invocation). It never nests further.
type Subresult struct {
	Name      string
	Result    Outcome
	Note      []string
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
	Log       []string
}

// GuestRef identifies the guest (and optional role) a Result ran on.
type GuestRef struct {
	Name string
	Role string
}

// Result is the outcome of one (test, guest) execution.
type Result struct {
	Name         string
	Result       Outcome
	Note         []string
	StartTime    time.Time
	EndTime      time.Time
	Duration     time.Duration
	Guest        GuestRef
	Log          []string
	Check        []CheckResult
	Subresult    []Subresult
	DataPath     string
	SerialNumber int
	Context      map[string]string
}
