package check

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/tmt/pkg/types"
)

// RunFunc executes a command on the guest being checked and returns its
// combined stdout+stderr. It's supplied by whatever already holds the
// guest connection (the step engine, via the guest.Guest interface) so
// this package never depends on the guest package directly.
type RunFunc func(ctx context.Context, command []string) (output string, err error)

// ExecChecker runs a command on the guest and maps its exit status to
// an Outcome: success is pass, failure is the check's FailOutcome
// (warn for checks that degrade gracefully, fail for ones that don't).
type ExecChecker struct {
	Name        string
	Command     []string
	Timeout     time.Duration
	FailOutcome types.Outcome
	Run         RunFunc
}

// NewExecChecker creates an exec-based checker. FailOutcome defaults to
// types.OutcomeFail.
func NewExecChecker(name string, command []string, run RunFunc) *ExecChecker {
	return &ExecChecker{
		Name:        name,
		Command:     command,
		Timeout:     10 * time.Second,
		FailOutcome: types.OutcomeFail,
		Run:         run,
	}
}

// Check performs the exec check.
func (e *ExecChecker) Check(ctx context.Context) Result {
	start := time.Now()

	if len(e.Command) == 0 {
		return Result{
			Outcome:   types.OutcomeError,
			Message:   "no command specified",
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	execCtx, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()

	output, err := e.Run(execCtx, e.Command)
	duration := time.Since(start)

	if err != nil {
		return Result{
			Outcome:   e.FailOutcome,
			Message:   fmt.Sprintf("%s: %v", e.Name, err),
			Log:       splitLines(output),
			CheckedAt: start,
			Duration:  duration,
		}
	}

	return Result{
		Outcome:   types.OutcomePass,
		Message:   e.Name,
		Log:       splitLines(output),
		CheckedAt: start,
		Duration:  duration,
	}
}

// Kind returns KindExec.
func (e *ExecChecker) Kind() Kind {
	return KindExec
}

// WithTimeout sets the execution timeout.
func (e *ExecChecker) WithTimeout(timeout time.Duration) *ExecChecker {
	e.Timeout = timeout
	return e
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}
