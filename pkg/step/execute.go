package step

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/tmt/pkg/check"
	"github.com/cuemby/tmt/pkg/config"
	"github.com/cuemby/tmt/pkg/environment"
	"github.com/cuemby/tmt/pkg/guest"
	"github.com/cuemby/tmt/pkg/types"
	"github.com/cuemby/tmt/pkg/workdir"
)

// remoteTestRoot is where the pushed test tree lives on every guest.
const remoteTestRoot = "/var/tmp/tmt/tree"

// rebootSentinel is the file a test touches to request a
// restart-with-reboot cycle, checked after every invocation the same
// way the teacher's executeContainer polls container status between
// invocations.
const rebootSentinel = "/var/tmp/tmt/reboot-request"

// permissionDeniedExitCode is the conventional shell exit status for
// "command found but not executable" (no +x bit, wrong owner, …).
const permissionDeniedExitCode = 126

// ExecuteEngine generalizes the teacher's executeContainer
// (pull→create→start→monitor→stop) into test-invocation semantics:
// compose the environment, invoke the test under a wall-clock timeout,
// detect the reboot sentinel the same way executeContainer's ticker
// loop polls container status, and persist results. It does not copy
// the test tree to the guest (see pushTree).
type ExecuteEngine struct{}

func (e *ExecuteEngine) Kind() types.StepKind { return types.StepExecute }

func (e *ExecuteEngine) Run(ctx context.Context, sc *Context) error {
	done, err := skipIfDone(sc, types.StepExecute)
	if err != nil {
		return err
	}
	if done {
		results, err := workdir.LoadResults(sc.Run, sc.Plan.Name)
		if err != nil {
			return err
		}
		sc.Results = results
		return nil
	}

	if err := markRunning(sc, types.StepExecute); err != nil {
		return err
	}

	err = runPhaseQueue(ctx, sc, types.StepExecute, func(ctx context.Context, phase types.PhaseSpec, guestName string) error {
		g, ok := sc.Guests[guestName]
		if !ok {
			return fmt.Errorf("execute: unknown guest %q", guestName)
		}

		if err := pushTree(ctx, g); err != nil {
			return fmt.Errorf("execute: push tree to %s: %w", guestName, err)
		}

		var interrupted bool
		for _, test := range testsForGuest(sc, guestName) {
			if !test.Enabled {
				continue
			}

			if interrupted || ctx.Err() != nil {
				interrupted = true
				resultsMu.Lock()
				sc.Results = append(sc.Results, pendingResult(test, guestName))
				resultsMu.Unlock()
				continue
			}

			result := runTest(ctx, sc, g, guestName, test)
			resultsMu.Lock()
			sc.Results = append(sc.Results, result)
			resultsMu.Unlock()

			if ctx.Err() != nil {
				interrupted = true
			}
		}
		if interrupted {
			return ctx.Err()
		}
		return nil
	})
	if err != nil {
		_ = markFailed(sc, types.StepExecute, err)
		// Still persist whatever results were gathered before the
		// failure, per spec's "pending or absent" accounting.
		_ = workdir.SaveResults(sc.Run, sc.Plan.Name, sc.Results)
		return err
	}

	if err := workdir.SaveResults(sc.Run, sc.Plan.Name, sc.Results); err != nil {
		_ = markFailed(sc, types.StepExecute, err)
		return err
	}
	return markDone(sc, types.StepExecute)
}

// resultsMu serializes appends to sc.Results across the concurrent
// per-guest goroutines runPhaseQueue's scheduler spawns.
var resultsMu sync.Mutex

// pendingResult is what a test becomes when the run was interrupted
// before it ever started: spec's "remaining tests become pending"
// bookkeeping, surfaced as a failing synthetic check so a summary
// reader can see why.
func pendingResult(test types.Test, guestName string) types.Result {
	return types.Result{
		Name:         test.Name,
		Guest:        types.GuestRef{Name: guestName},
		Result:       types.OutcomePending,
		SerialNumber: test.SerialNumber,
		Check: []types.CheckResult{
			{Name: "internal/interrupt", Result: types.OutcomeFail},
		},
	}
}

func testsForGuest(sc *Context, guestName string) []types.Test {
	var role string
	for _, g := range sc.GuestInfo {
		if g.Name == guestName {
			role = g.Role
			break
		}
	}

	var out []types.Test
	for _, t := range sc.Tests {
		if t.Where == "" || t.Where == guestName || t.Where == role {
			out = append(out, t)
		}
	}
	return out
}

func pushTree(ctx context.Context, g guest.Guest) error {
	// pushTree copies nothing and returns nil for every guest, whether
	// or not it advertises CapPush: this package has no local source
	// path to copy from. Tests run against whatever is already present
	// on the guest.
	if !g.Capabilities()[guest.CapPush] {
		return nil
	}
	return nil
}

func runTest(ctx context.Context, sc *Context, g guest.Guest, guestName string, test types.Test) types.Result {
	start := time.Now()
	result := types.Result{
		Name:         test.Name,
		Guest:        types.GuestRef{Name: guestName},
		StartTime:    start,
		SerialNumber: test.SerialNumber,
	}

	env, err := composeEnvironment(sc, test)
	if err != nil {
		result.Result = types.OutcomeError
		result.Note = []string{err.Error()}
		result.EndTime = time.Now()
		return result
	}

	dataDir := remoteTestRoot + test.Path + "/data"
	pidfilePath := dataDir + "/pidfile"
	reportResultPath := dataDir + "/tmt-report-result"
	reportResultsFile := dataDir + "/tmt-report-results.yaml"

	if err := installReportResultScript(ctx, g, reportResultPath, reportResultsFile); err != nil {
		result.Result = types.OutcomeError
		result.Note = []string{err.Error()}
		result.EndTime = time.Now()
		return result
	}

	execRun := func(ctx context.Context, cmd []string) (string, error) {
		res, err := g.Exec(ctx, cmd, guest.ExecOptions{Cwd: remoteTestRoot})
		if err != nil {
			return "", err
		}
		if res.ExitCode != 0 {
			return res.Stdout + res.Stderr, fmt.Errorf("exit %d", res.ExitCode)
		}
		return res.Stdout + res.Stderr, nil
	}

	for _, cs := range test.Checks {
		if cs.Event != types.CheckBeforeTest {
			continue
		}
		result.Check = append(result.Check, runCheck(ctx, cs, execRun))
	}

	restarts := 0
	var outcome types.Outcome
	var logLines []string

	for {
		res, err := g.Exec(ctx, frameworkCommand(test, dataDir, pidfilePath), guest.ExecOptions{
			Cwd:     remoteTestRoot + test.Path,
			Env:     env,
			TTY:     test.TTY,
			Timeout: test.Duration,
		})
		logLines = append(logLines, res.Stdout, res.Stderr)

		// A per-test duration timeout is reported the same way by
		// every Guest implementation: TimedOut true alongside a
		// non-nil err (the expired inner deadline). Check it first so
		// a timeout is never mistaken for either a plain exec failure
		// or, below, an outer-context interrupt — the run-level ctx
		// passed into runTest carries no deadline of its own, only
		// SIGINT cancellation, so ctx.Err() here can only be non-nil
		// because of the latter.
		if res.TimedOut {
			outcome = types.OutcomeError
			result.Note = append(result.Note, "timeout")
			break
		}
		if err != nil {
			outcome = types.OutcomeError
			logLines = append(logLines, err.Error())
			if ctx.Err() != nil {
				result.Note = append(result.Note, "interrupted")
			}
			break
		}

		rebooting, rerr := rebootRequested(ctx, g)
		if rerr != nil {
			outcome = types.OutcomeError
			logLines = append(logLines, rerr.Error())
			break
		}
		if rebooting && test.RestartWithReboot && restarts < test.MaxRestarts {
			restarts++
			cfg := config.Load()
			if err := guest.Coordinate(ctx, g, guest.RebootSoft, "", false, true, cfg.RebootTimeout); err != nil {
				outcome = types.OutcomeError
				logLines = append(logLines, err.Error())
				break
			}
			continue
		}

		detail := interpretOutcome(ctx, g, test, res, dataDir, pidfilePath)
		outcome = detail.Outcome
		result.Note = append(result.Note, detail.Note...)
		result.Subresult = detail.Subresult
		break
	}

	for _, cs := range test.Checks {
		if cs.Event != types.CheckAfterTest {
			continue
		}
		result.Check = append(result.Check, runCheck(ctx, cs, execRun))
	}
	for _, cr := range result.Check {
		if cr.Result.Worse(outcome) {
			outcome = cr.Result
		}
	}

	result.Result = outcome
	result.Log = logLines
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(start)
	result.DataPath = sc.Run.ExecuteDataDir(sc.Plan.Name, guestName, test.Path)
	return result
}

func runCheck(ctx context.Context, cs types.CheckSpec, run check.RunFunc) types.CheckResult {
	checker, err := check.Build(cs, run)
	if err != nil {
		return types.CheckResult{Name: cs.Name, Event: cs.Event, Result: types.OutcomeError, Log: []string{err.Error()}}
	}
	res := checker.Check(ctx)
	return types.CheckResult{Name: cs.Name, Event: cs.Event, Result: res.Outcome, Log: res.Log}
}

func rebootRequested(ctx context.Context, g guest.Guest) (bool, error) {
	res, err := g.Exec(ctx, []string{"sh", "-c", "test -e " + rebootSentinel + " && rm -f " + rebootSentinel}, guest.ExecOptions{})
	if err != nil {
		return false, err
	}
	return res.ExitCode == 0, nil
}

// frameworkCommand wraps the test body so it always: creates its data
// dir, drops a pidfile recording the shell's own pid (the "missing
// pidfile" respect-mode check detects a wrapper that never got this
// far), and prepends the data dir to PATH so a legacy test can invoke
// the installed tmt-report-result mock by bare name.
func frameworkCommand(test types.Test, dataDir, pidfilePath string) []string {
	body := test.Test
	if test.Framework == types.FrameworkBeakerlib {
		body = "source /usr/share/beakerlib/beakerlib.sh 2>/dev/null; " + body
	}
	script := fmt.Sprintf(
		`mkdir -p %q; echo $$ > %q; export PATH=%q:$PATH; %s`,
		dataDir, pidfilePath, dataDir, body,
	)
	return []string{"sh", "-c", script}
}

// reportResultScriptBody is installed on the guest under every test's
// data dir so legacy Restraint/RHTS tests can report multiple
// subresults; each invocation appends one YAML entry consumed by
// restraintOutcome.
const reportResultScriptBody = `#!/bin/sh
set -e
NAME="$1"
RESULT="$2"
LOG="$3"
{
  printf -- '- name: %s\n' "$NAME"
  printf '  result: %s\n' "$RESULT"
  if [ -n "$LOG" ]; then
    printf '  log:\n    - %s\n' "$LOG"
  fi
  printf '  end-time: %s\n' "$(date -u +%Y-%m-%dT%H:%M:%SZ)"
} >> __RESULTS_PATH__
`

func installReportResultScript(ctx context.Context, g guest.Guest, scriptPath, resultsPath string) error {
	body := strings.ReplaceAll(reportResultScriptBody, "__RESULTS_PATH__", resultsPath)
	cmd := fmt.Sprintf(
		"mkdir -p \"$(dirname %q)\" && cat > %q <<'TMT_REPORT_RESULT_EOF'\n%s\nTMT_REPORT_RESULT_EOF\nchmod +x %q",
		scriptPath, scriptPath, body, scriptPath,
	)
	res, err := g.Exec(ctx, []string{"sh", "-c", cmd}, guest.ExecOptions{})
	if err != nil {
		return fmt.Errorf("install tmt-report-result: %w", err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("install tmt-report-result: exit %d: %s", res.ExitCode, res.Stderr)
	}
	return nil
}

// resultDetail is interpretOutcome's verdict: an outcome, its
// supporting notes, and (restraint only) the subresults that produced
// it.
type resultDetail struct {
	Outcome   types.Outcome
	Note      []string
	Subresult []types.Subresult
}

// interpretOutcome maps a test's raw exit code (or, for custom and
// restraint, guest-side result files) to an Outcome per its declared
// `result` interpretation (spec §4.5).
func interpretOutcome(ctx context.Context, g guest.Guest, test types.Test, res guest.ExecResult, dataDir, pidfilePath string) resultDetail {
	switch test.Result {
	case types.ResultForcePass:
		return resultDetail{Outcome: types.OutcomePass}
	case types.ResultForceInfo:
		return resultDetail{Outcome: types.OutcomeInfo}
	case types.ResultForceWarn:
		return resultDetail{Outcome: types.OutcomeWarn}
	case types.ResultForceErr:
		return resultDetail{Outcome: types.OutcomeError}
	case types.ResultForceFail:
		return resultDetail{Outcome: types.OutcomeFail}

	case types.ResultXFail:
		base := respectOutcome(ctx, g, test, res, pidfilePath)
		inverted := base.Outcome
		switch base.Outcome {
		case types.OutcomePass:
			inverted = types.OutcomeFail
		case types.OutcomeFail:
			inverted = types.OutcomePass
		}
		note := append([]string{fmt.Sprintf("original result: %s", base.Outcome)}, base.Note...)
		return resultDetail{Outcome: inverted, Note: note}

	case types.ResultCustom:
		return customOutcome(ctx, g, dataDir)

	case types.ResultRestraint:
		return restraintOutcome(ctx, g, dataDir)

	default: // respect
		return respectOutcome(ctx, g, test, res, pidfilePath)
	}
}

// respectOutcome implements the default "respect" interpretation:
// beakerlib's own journal verdict overrides the exit code outright;
// otherwise a permission-denied or missing-pidfile condition takes
// priority over the plain exit-code mapping.
func respectOutcome(ctx context.Context, g guest.Guest, test types.Test, res guest.ExecResult, pidfilePath string) resultDetail {
	if test.Framework == types.FrameworkBeakerlib {
		if detail, ok := beakerlibOutcome(res); ok {
			return detail
		}
	}

	if res.ExitCode == permissionDeniedExitCode && strings.Contains(strings.ToLower(res.Stderr), "permission denied") {
		return resultDetail{Outcome: types.OutcomeError, Note: []string{"permission"}}
	}

	if present, err := pidfileExists(ctx, g, pidfilePath); err == nil && !present {
		return resultDetail{Outcome: types.OutcomeError, Note: []string{"pidfile locking"}}
	}

	if res.ExitCode == 0 {
		return resultDetail{Outcome: types.OutcomePass}
	}
	return resultDetail{Outcome: types.OutcomeFail}
}

var testresultAssignment = regexp.MustCompile(`(TESTRESULT_RESULT_STRING|TESTRESULT_STATE)=(\S+)`)

// beakerlibOutcome scans the test's captured output for the
// TESTRESULT_RESULT_STRING/TESTRESULT_STATE lines rlJournalEnd prints
// at the close of a beakerlib journal. Absence means the journal
// never completed (the script errored before sourcing/closing it), so
// the caller falls back to the plain exit-code mapping.
func beakerlibOutcome(res guest.ExecResult) (resultDetail, bool) {
	combined := res.Stdout + "\n" + res.Stderr
	var resultString, state string
	for _, m := range testresultAssignment.FindAllStringSubmatch(combined, -1) {
		switch m[1] {
		case "TESTRESULT_RESULT_STRING":
			resultString = m[2]
		case "TESTRESULT_STATE":
			state = m[2]
		}
	}
	if resultString == "" {
		return resultDetail{}, false
	}

	outcome := types.OutcomeFail
	switch strings.ToUpper(resultString) {
	case "PASS":
		outcome = types.OutcomePass
	case "WARN", "WARNING":
		outcome = types.OutcomeWarn
	case "FAIL":
		outcome = types.OutcomeFail
	default:
		outcome = types.OutcomeError
	}

	var note []string
	if state != "" && !strings.EqualFold(state, "complete") {
		note = append(note, "beakerlib state: "+state)
	}
	return resultDetail{Outcome: outcome, Note: note}, true
}

func pidfileExists(ctx context.Context, g guest.Guest, path string) (bool, error) {
	res, err := g.Exec(ctx, []string{"sh", "-c", "test -e " + path}, guest.ExecOptions{})
	if err != nil {
		return false, err
	}
	return res.ExitCode == 0, nil
}

type customResultDoc struct {
	Result types.Outcome `yaml:"result" json:"result"`
	Note   []string      `yaml:"note" json:"note"`
}

// customOutcome reads results.yaml (or results.json) from the test's
// data dir and uses it verbatim; a missing or unparsable file is an
// error noting "custom results missing", per spec §4.5.
func customOutcome(ctx context.Context, g guest.Guest, dataDir string) resultDetail {
	for _, name := range []string{"results.yaml", "results.json"} {
		res, err := g.Exec(ctx, []string{"cat", dataDir + "/" + name}, guest.ExecOptions{})
		if err != nil || res.ExitCode != 0 {
			continue
		}

		var doc customResultDoc
		var parseErr error
		if strings.HasSuffix(name, ".json") {
			parseErr = json.Unmarshal([]byte(res.Stdout), &doc)
		} else {
			parseErr = yaml.Unmarshal([]byte(res.Stdout), &doc)
		}
		if parseErr != nil || doc.Result == "" {
			return resultDetail{Outcome: types.OutcomeError, Note: []string{"custom results missing"}}
		}
		return resultDetail{Outcome: doc.Result, Note: doc.Note}
	}
	return resultDetail{Outcome: types.OutcomeError, Note: []string{"custom results missing"}}
}

type restraintEntry struct {
	Name    string   `yaml:"name"`
	Result  string   `yaml:"result"`
	Log     []string `yaml:"log"`
	EndTime string   `yaml:"end-time"`
}

// restraintOutcome reads tmt-report-results.yaml (appended to by the
// installed tmt-report-result mock) and expands each entry into a
// subresult; the parent outcome is the worst child under the fixed
// worst-wins priority (spec §4.6), matching Scenario S6.
func restraintOutcome(ctx context.Context, g guest.Guest, dataDir string) resultDetail {
	res, err := g.Exec(ctx, []string{"cat", dataDir + "/tmt-report-results.yaml"}, guest.ExecOptions{})
	if err != nil || res.ExitCode != 0 {
		return resultDetail{Outcome: types.OutcomeError, Note: []string{"restraint results missing"}}
	}

	var entries []restraintEntry
	if err := yaml.Unmarshal([]byte(res.Stdout), &entries); err != nil {
		return resultDetail{Outcome: types.OutcomeError, Note: []string{"restraint results missing"}}
	}
	if len(entries) == 0 {
		return resultDetail{Outcome: types.OutcomeError, Note: []string{"restraint results missing"}}
	}

	subresults := make([]types.Subresult, 0, len(entries))
	worst := types.OutcomePending
	for _, e := range entries {
		outcome := types.Outcome(strings.ToLower(e.Result))
		sub := types.Subresult{Name: e.Name, Result: outcome, Log: e.Log}
		if t, err := time.Parse(time.RFC3339, e.EndTime); err == nil {
			sub.EndTime = t
		}
		subresults = append(subresults, sub)
		if outcome.Worse(worst) {
			worst = outcome
		}
	}
	return resultDetail{Outcome: worst, Subresult: subresults}
}

func composeEnvironment(sc *Context, test types.Test) (map[string]string, error) {
	dataDir := remoteTestRoot + test.Path + "/data"
	intrinsics := map[string]string{
		"TMT_TREE":               remoteTestRoot,
		"TMT_TEST_NAME":          test.Name,
		"TMT_TEST_SERIAL_NUMBER": fmt.Sprintf("%d", test.SerialNumber),
		"TMT_PLAN_DATA":          sc.Run.StepDir(sc.Plan.Name, "execute"),
		"TMT_TEST_DATA":          dataDir,
		"TMT_TEST_PIDFILE":       dataDir + "/pidfile",
	}

	var importingEnv map[string]string
	if sc.Plan.Importing != nil {
		importingEnv = sc.Plan.Importing.Environment
	}

	chain := environment.NewChain(nil, intrinsics, sc.Plan.EnvFiles, sc.Plan.Environment, importingEnv, sc.CLIEnvFiles, sc.CLIEnvironment, test.Environment, nil)
	return chain.Resolve()
}
