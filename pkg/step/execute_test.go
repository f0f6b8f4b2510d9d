package step

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/tmt/pkg/guest"
	"github.com/cuemby/tmt/pkg/types"
	"github.com/cuemby/tmt/pkg/workdir"
)

func testPlan(phases ...types.PhaseSpec) *types.Plan {
	return &types.Plan{
		Name:   "plans/default",
		Phases: map[types.StepKind][]types.PhaseSpec{types.StepExecute: phases},
	}
}

// cmdContains reports whether any argument of cmd contains needle —
// the fakeGuest test scripts use this to discriminate the handful of
// exec calls runTest now issues (install script, pidfile probe, the
// test body itself) by the shell snippet they carry.
func cmdContains(cmd []string, needle string) bool {
	return strings.Contains(strings.Join(cmd, "\x00"), needle)
}

func TestExecuteEngineRunsTestAndRecordsPassOutcome(t *testing.T) {
	sc := newTestContext(t, testPlan(types.PhaseSpec{Name: "default", How: "tmt"}))
	sc.GuestInfo = []types.GuestInfo{{Name: "default-0"}}
	sc.Tests = []types.Test{{Name: "/sanity", Path: "/sanity", Test: "true", Enabled: true}}
	sc.Guests["default-0"] = &fakeGuest{name: "default-0"}

	err := (&ExecuteEngine{}).Run(context.Background(), sc)
	require.NoError(t, err)
	require.Len(t, sc.Results, 1)
	assert.Equal(t, types.OutcomePass, sc.Results[0].Result)
	assert.Equal(t, "default-0", sc.Results[0].Guest.Name)
}

func TestExecuteEngineMapsNonZeroExitToFail(t *testing.T) {
	sc := newTestContext(t, testPlan(types.PhaseSpec{Name: "default", How: "tmt"}))
	sc.GuestInfo = []types.GuestInfo{{Name: "default-0"}}
	sc.Tests = []types.Test{{Name: "/broken", Path: "/broken", Test: "false", Enabled: true}}
	sc.Guests["default-0"] = &fakeGuest{
		name: "default-0",
		execHandler: func(cmd []string, opts guest.ExecOptions) (guest.ExecResult, error) {
			if cmdContains(cmd, "false") {
				return guest.ExecResult{ExitCode: 1}, nil
			}
			return guest.ExecResult{ExitCode: 0}, nil
		},
	}

	err := (&ExecuteEngine{}).Run(context.Background(), sc)
	require.NoError(t, err)
	require.Len(t, sc.Results, 1)
	assert.Equal(t, types.OutcomeFail, sc.Results[0].Result)
}

func TestExecuteEngineDisabledTestIsSkipped(t *testing.T) {
	sc := newTestContext(t, testPlan(types.PhaseSpec{Name: "default", How: "tmt"}))
	sc.GuestInfo = []types.GuestInfo{{Name: "default-0"}}
	sc.Tests = []types.Test{{Name: "/disabled", Path: "/disabled", Test: "true", Enabled: false}}
	sc.Guests["default-0"] = &fakeGuest{name: "default-0"}

	err := (&ExecuteEngine{}).Run(context.Background(), sc)
	require.NoError(t, err)
	assert.Empty(t, sc.Results)
}

func TestExecuteEngineSkipsWhenAlreadyDone(t *testing.T) {
	sc := newTestContext(t, testPlan(types.PhaseSpec{Name: "default", How: "tmt"}))
	sc.GuestInfo = []types.GuestInfo{{Name: "default-0"}}

	seeded := []types.Result{{Name: "/cached", Result: types.OutcomePass}}
	require.NoError(t, saveResultsAndMarkDone(t, sc, seeded))

	sc.Guests["default-0"] = &fakeGuest{
		name: "default-0",
		execHandler: func(cmd []string, opts guest.ExecOptions) (guest.ExecResult, error) {
			t.Fatal("execute should not re-run a step already marked done")
			return guest.ExecResult{}, nil
		},
	}

	err := (&ExecuteEngine{}).Run(context.Background(), sc)
	require.NoError(t, err)
	assert.Equal(t, seeded, sc.Results)
}

func TestExecuteEngineTimeoutRecordsError(t *testing.T) {
	sc := newTestContext(t, testPlan(types.PhaseSpec{Name: "default", How: "tmt"}))
	sc.GuestInfo = []types.GuestInfo{{Name: "default-0"}}
	sc.Tests = []types.Test{{Name: "/slow", Path: "/slow", Test: "sleep 10", Enabled: true, Duration: time.Second}}
	sc.Guests["default-0"] = &fakeGuest{
		name: "default-0",
		execHandler: func(cmd []string, opts guest.ExecOptions) (guest.ExecResult, error) {
			if cmdContains(cmd, "sleep 10") {
				return guest.ExecResult{TimedOut: true}, nil
			}
			return guest.ExecResult{ExitCode: 0}, nil
		},
	}

	err := (&ExecuteEngine{}).Run(context.Background(), sc)
	require.NoError(t, err)
	require.Len(t, sc.Results, 1)
	assert.Equal(t, types.OutcomeError, sc.Results[0].Result)
	assert.Contains(t, sc.Results[0].Note, "timeout")
}

func TestExecuteEngineMissingPidfileIsError(t *testing.T) {
	sc := newTestContext(t, testPlan(types.PhaseSpec{Name: "default", How: "tmt"}))
	sc.GuestInfo = []types.GuestInfo{{Name: "default-0"}}
	sc.Tests = []types.Test{{Name: "/sanity", Path: "/sanity", Test: "true", Enabled: true}}
	sc.Guests["default-0"] = &fakeGuest{
		name: "default-0",
		execHandler: func(cmd []string, opts guest.ExecOptions) (guest.ExecResult, error) {
			if cmdContains(cmd, "test -e") && cmdContains(cmd, "pidfile") {
				return guest.ExecResult{ExitCode: 1}, nil
			}
			return guest.ExecResult{ExitCode: 0}, nil
		},
	}

	err := (&ExecuteEngine{}).Run(context.Background(), sc)
	require.NoError(t, err)
	require.Len(t, sc.Results, 1)
	assert.Equal(t, types.OutcomeError, sc.Results[0].Result)
	assert.Contains(t, sc.Results[0].Note, "pidfile locking")
}

func TestExecuteEnginePermissionDeniedIsError(t *testing.T) {
	sc := newTestContext(t, testPlan(types.PhaseSpec{Name: "default", How: "tmt"}))
	sc.GuestInfo = []types.GuestInfo{{Name: "default-0"}}
	sc.Tests = []types.Test{{Name: "/noexec", Path: "/noexec", Test: "./script", Enabled: true}}
	sc.Guests["default-0"] = &fakeGuest{
		name: "default-0",
		execHandler: func(cmd []string, opts guest.ExecOptions) (guest.ExecResult, error) {
			if cmdContains(cmd, "./script") {
				return guest.ExecResult{ExitCode: 126, Stderr: "sh: ./script: Permission denied"}, nil
			}
			return guest.ExecResult{ExitCode: 0}, nil
		},
	}

	err := (&ExecuteEngine{}).Run(context.Background(), sc)
	require.NoError(t, err)
	require.Len(t, sc.Results, 1)
	assert.Equal(t, types.OutcomeError, sc.Results[0].Result)
	assert.Contains(t, sc.Results[0].Note, "permission")
}

func TestExecuteEngineBeakerlibOverridesExitCode(t *testing.T) {
	sc := newTestContext(t, testPlan(types.PhaseSpec{Name: "default", How: "tmt"}))
	sc.GuestInfo = []types.GuestInfo{{Name: "default-0"}}
	sc.Tests = []types.Test{{Name: "/bkr", Path: "/bkr", Test: "rlJournalStart; rlJournalEnd", Framework: types.FrameworkBeakerlib, Enabled: true}}
	sc.Guests["default-0"] = &fakeGuest{
		name: "default-0",
		execHandler: func(cmd []string, opts guest.ExecOptions) (guest.ExecResult, error) {
			if cmdContains(cmd, "rlJournalStart") {
				return guest.ExecResult{
					ExitCode: 1,
					Stdout:   "TESTRESULT_RESULT_STRING=PASS\nTESTRESULT_STATE=complete\n",
				}, nil
			}
			return guest.ExecResult{ExitCode: 0}, nil
		},
	}

	err := (&ExecuteEngine{}).Run(context.Background(), sc)
	require.NoError(t, err)
	require.Len(t, sc.Results, 1)
	assert.Equal(t, types.OutcomePass, sc.Results[0].Result)
}

func TestExecuteEngineCustomModeReadsResultsFile(t *testing.T) {
	sc := newTestContext(t, testPlan(types.PhaseSpec{Name: "default", How: "tmt"}))
	sc.GuestInfo = []types.GuestInfo{{Name: "default-0"}}
	sc.Tests = []types.Test{{Name: "/custom", Path: "/custom", Test: "true", Result: types.ResultCustom, Enabled: true}}
	sc.Guests["default-0"] = &fakeGuest{
		name: "default-0",
		execHandler: func(cmd []string, opts guest.ExecOptions) (guest.ExecResult, error) {
			if cmdContains(cmd, "results.yaml") {
				return guest.ExecResult{ExitCode: 0, Stdout: "result: warn\nnote: [\"from test\"]\n"}, nil
			}
			return guest.ExecResult{ExitCode: 0}, nil
		},
	}

	err := (&ExecuteEngine{}).Run(context.Background(), sc)
	require.NoError(t, err)
	require.Len(t, sc.Results, 1)
	assert.Equal(t, types.OutcomeWarn, sc.Results[0].Result)
}

func TestExecuteEngineCustomModeMissingFileIsError(t *testing.T) {
	sc := newTestContext(t, testPlan(types.PhaseSpec{Name: "default", How: "tmt"}))
	sc.GuestInfo = []types.GuestInfo{{Name: "default-0"}}
	sc.Tests = []types.Test{{Name: "/custom", Path: "/custom", Test: "true", Result: types.ResultCustom, Enabled: true}}
	sc.Guests["default-0"] = &fakeGuest{
		name: "default-0",
		execHandler: func(cmd []string, opts guest.ExecOptions) (guest.ExecResult, error) {
			if len(cmd) > 0 && cmd[0] == "cat" && (cmdContains(cmd, "results.yaml") || cmdContains(cmd, "results.json")) {
				return guest.ExecResult{ExitCode: 1}, nil
			}
			return guest.ExecResult{ExitCode: 0}, nil
		},
	}

	err := (&ExecuteEngine{}).Run(context.Background(), sc)
	require.NoError(t, err)
	require.Len(t, sc.Results, 1)
	assert.Equal(t, types.OutcomeError, sc.Results[0].Result)
	assert.Contains(t, sc.Results[0].Note, "custom results missing")
}

func TestExecuteEngineRestraintModeAggregatesWorstSubresult(t *testing.T) {
	sc := newTestContext(t, testPlan(types.PhaseSpec{Name: "default", How: "tmt"}))
	sc.GuestInfo = []types.GuestInfo{{Name: "default-0"}}
	sc.Tests = []types.Test{{Name: "/restraint", Path: "/restraint", Test: "true", Result: types.ResultRestraint, Enabled: true}}
	sc.Guests["default-0"] = &fakeGuest{
		name: "default-0",
		execHandler: func(cmd []string, opts guest.ExecOptions) (guest.ExecResult, error) {
			if cmdContains(cmd, "tmt-report-results.yaml") {
				return guest.ExecResult{ExitCode: 0, Stdout: "" +
					"- name: setup\n  result: pass\n" +
					"- name: body\n  result: fail\n",
				}, nil
			}
			return guest.ExecResult{ExitCode: 0}, nil
		},
	}

	err := (&ExecuteEngine{}).Run(context.Background(), sc)
	require.NoError(t, err)
	require.Len(t, sc.Results, 1)
	assert.Equal(t, types.OutcomeFail, sc.Results[0].Result)
	require.Len(t, sc.Results[0].Subresult, 2)
	assert.Equal(t, "body", sc.Results[0].Subresult[1].Name)
}

func TestExecuteEngineInterruptMarksRemainingTestsPending(t *testing.T) {
	sc := newTestContext(t, testPlan(types.PhaseSpec{Name: "default", How: "tmt"}))
	sc.GuestInfo = []types.GuestInfo{{Name: "default-0"}}
	sc.Tests = []types.Test{
		{Name: "/first", Path: "/first", Test: "true", Enabled: true},
		{Name: "/second", Path: "/second", Test: "true", Enabled: true},
	}

	ctx, cancel := context.WithCancel(context.Background())
	sc.Guests["default-0"] = &fakeGuest{
		name: "default-0",
		execHandler: func(cmd []string, opts guest.ExecOptions) (guest.ExecResult, error) {
			if cmdContains(cmd, "export PATH=") && cmdContains(cmd, "/first") {
				cancel()
				return guest.ExecResult{}, context.Canceled
			}
			return guest.ExecResult{ExitCode: 0}, nil
		},
	}

	err := (&ExecuteEngine{}).Run(ctx, sc)
	require.Error(t, err)
	require.Len(t, sc.Results, 2)

	first := sc.Results[0]
	assert.Equal(t, types.OutcomeError, first.Result)
	assert.Contains(t, first.Note, "interrupted")

	second := sc.Results[1]
	assert.Equal(t, types.OutcomePending, second.Result)
	require.Len(t, second.Check, 1)
	assert.Equal(t, "internal/interrupt", second.Check[0].Name)
	assert.Equal(t, types.OutcomeFail, second.Check[0].Result)
}

func TestInterpretOutcomeXFailAnnotatesOriginalResult(t *testing.T) {
	g := &fakeGuest{name: "default-0"}
	test := types.Test{Result: types.ResultXFail}

	passDetail := interpretOutcome(context.Background(), g, test, guest.ExecResult{ExitCode: 0}, "/data", "/data/pidfile")
	assert.Equal(t, types.OutcomeFail, passDetail.Outcome)
	assert.Contains(t, passDetail.Note, "original result: pass")

	failDetail := interpretOutcome(context.Background(), g, test, guest.ExecResult{ExitCode: 1}, "/data", "/data/pidfile")
	assert.Equal(t, types.OutcomePass, failDetail.Outcome)
	assert.Contains(t, failDetail.Note, "original result: fail")
}

func TestInterpretOutcomeForcePass(t *testing.T) {
	g := &fakeGuest{name: "default-0"}
	test := types.Test{Result: types.ResultForcePass}
	detail := interpretOutcome(context.Background(), g, test, guest.ExecResult{ExitCode: 1}, "/data", "/data/pidfile")
	assert.Equal(t, types.OutcomePass, detail.Outcome)
}

func TestTestsForGuestFiltersByWhere(t *testing.T) {
	sc := newTestContext(t, testPlan())
	sc.GuestInfo = []types.GuestInfo{
		{Name: "client-0", Role: "client"},
		{Name: "server-0", Role: "server"},
	}
	sc.Tests = []types.Test{
		{Name: "/shared", Where: ""},
		{Name: "/client-only", Where: "client"},
		{Name: "/server-named", Where: "server-0"},
	}

	client := testsForGuest(sc, "client-0")
	require.Len(t, client, 2)
	assert.ElementsMatch(t, []string{"/shared", "/client-only"}, testNames(client))

	server := testsForGuest(sc, "server-0")
	require.Len(t, server, 2)
	assert.ElementsMatch(t, []string{"/shared", "/server-named"}, testNames(server))
}

func testNames(tests []types.Test) []string {
	names := make([]string, len(tests))
	for i, t := range tests {
		names[i] = t.Name
	}
	return names
}

func saveResultsAndMarkDone(t *testing.T, sc *Context, results []types.Result) error {
	t.Helper()
	if err := markRunning(sc, types.StepExecute); err != nil {
		return err
	}
	if err := workdir.SaveResults(sc.Run, sc.Plan.Name, results); err != nil {
		return err
	}
	return markDone(sc, types.StepExecute)
}
