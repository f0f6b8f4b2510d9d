// Package check runs the named pre/after-test diagnostics (AVC, dmesg,
// journal, journal-dmesg, watchdog, coredump) that attach to a Result
// as a CheckResult, plus the lower-level Checker interface they're
// built on (also used outside the check runner proper, for a guest's
// TCP readiness wait during provisioning and reboot).
package check

import (
	"context"
	"time"

	"github.com/cuemby/tmt/pkg/types"
)

// Kind identifies the mechanism a Checker uses.
type Kind string

const (
	KindExec Kind = "exec"
	KindTCP  Kind = "tcp"
)

// Result is the outcome of one Checker invocation.
type Result struct {
	Outcome   types.Outcome
	Message   string
	Log       []string
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker is the interface every check mechanism implements.
type Checker interface {
	// Check performs the check and returns the result.
	Check(ctx context.Context) Result

	// Kind returns the check's mechanism.
	Kind() Kind
}

// Config holds tuning shared by every check, used for the watchdog
// check's periodic re-invocation during a long-running test.
type Config struct {
	// Interval is the time between watchdog re-checks.
	Interval time.Duration

	// Timeout is the maximum time to wait for one invocation.
	Timeout time.Duration

	// Retries is the number of consecutive failures before the
	// watchdog check is considered failed rather than flaky.
	Retries int

	// StartPeriod delays the first check, for checks that need the
	// guest to finish booting before they're meaningful.
	StartPeriod time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		Retries:     3,
		StartPeriod: 0,
	}
}

// State tracks a check's consecutive pass/fail run across repeated
// invocations (the watchdog check runs throughout the test, not once).
type State struct {
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	LastCheck            time.Time
	LastResult           Result
	Healthy              bool
	StartedAt            time.Time
}

// NewState creates a State assumed healthy until proven otherwise.
func NewState() *State {
	return &State{
		Healthy:   true,
		StartedAt: time.Now(),
	}
}

// Update folds in a new Result.
func (s *State) Update(result Result, config Config) {
	s.LastCheck = result.CheckedAt
	s.LastResult = result

	if result.Outcome == types.OutcomePass {
		s.ConsecutiveSuccesses++
		s.ConsecutiveFailures = 0
		s.Healthy = true
	} else {
		s.ConsecutiveFailures++
		s.ConsecutiveSuccesses = 0
		if s.ConsecutiveFailures >= config.Retries {
			s.Healthy = false
		}
	}
}

// InStartPeriod reports whether we're still in the startup grace period.
func (s *State) InStartPeriod(config Config) bool {
	if config.StartPeriod == 0 {
		return false
	}
	return time.Since(s.StartedAt) < config.StartPeriod
}
