package step

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/tmt/pkg/guest"
	"github.com/cuemby/tmt/pkg/types"
)

func TestPrepareEngineInstallsDeclaredPackages(t *testing.T) {
	plan := &types.Plan{
		Name: "plans/default",
		Phases: map[types.StepKind][]types.PhaseSpec{
			types.StepPrepare: {{Name: "install", How: "install", Options: map[string]interface{}{"package": []interface{}{"vim"}}}},
		},
	}
	sc := newTestContext(t, plan)
	sc.GuestInfo = []types.GuestInfo{{Name: "default-0"}}

	var ranCmd []string
	sc.Guests["default-0"] = &fakeGuest{
		name: "default-0",
		execHandler: func(cmd []string, opts guest.ExecOptions) (guest.ExecResult, error) {
			ranCmd = cmd
			return guest.ExecResult{ExitCode: 0}, nil
		},
	}

	err := (&PrepareEngine{}).Run(context.Background(), sc)
	require.NoError(t, err)
	require.NotEmpty(t, ranCmd)
	assert.Contains(t, ranCmd[len(ranCmd)-1], "vim")
	assert.Contains(t, ranCmd[len(ranCmd)-1], "dnf install")
}

func TestPrepareEngineFallsBackToTestRequires(t *testing.T) {
	plan := &types.Plan{
		Name: "plans/default",
		Phases: map[types.StepKind][]types.PhaseSpec{
			types.StepPrepare: {{Name: "install", How: "install"}},
		},
	}
	sc := newTestContext(t, plan)
	sc.GuestInfo = []types.GuestInfo{{Name: "default-0"}}
	sc.Tests = []types.Test{{Name: "/t", Require: []string{"gcc"}, Recommend: []string{"make"}}}

	var ranCmd []string
	sc.Guests["default-0"] = &fakeGuest{
		name: "default-0",
		execHandler: func(cmd []string, opts guest.ExecOptions) (guest.ExecResult, error) {
			ranCmd = cmd
			return guest.ExecResult{ExitCode: 0}, nil
		},
	}

	err := (&PrepareEngine{}).Run(context.Background(), sc)
	require.NoError(t, err)
	assert.Contains(t, ranCmd[len(ranCmd)-1], "gcc")
	assert.Contains(t, ranCmd[len(ranCmd)-1], "make")
}

func TestPrepareEngineShellRunsScript(t *testing.T) {
	plan := &types.Plan{
		Name: "plans/default",
		Phases: map[types.StepKind][]types.PhaseSpec{
			types.StepPrepare: {{Name: "setup", How: "shell", Options: map[string]interface{}{"script": "echo hi"}}},
		},
	}
	sc := newTestContext(t, plan)
	sc.GuestInfo = []types.GuestInfo{{Name: "default-0"}}

	var ran bool
	sc.Guests["default-0"] = &fakeGuest{
		name: "default-0",
		execHandler: func(cmd []string, opts guest.ExecOptions) (guest.ExecResult, error) {
			ran = true
			return guest.ExecResult{ExitCode: 0}, nil
		},
	}

	err := (&PrepareEngine{}).Run(context.Background(), sc)
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestPrepareEngineShellExitFailurePropagates(t *testing.T) {
	plan := &types.Plan{
		Name: "plans/default",
		Phases: map[types.StepKind][]types.PhaseSpec{
			types.StepPrepare: {{Name: "setup", How: "shell", Options: map[string]interface{}{"script": "exit 1"}}},
		},
	}
	sc := newTestContext(t, plan)
	sc.GuestInfo = []types.GuestInfo{{Name: "default-0"}}
	sc.Guests["default-0"] = &fakeGuest{
		name: "default-0",
		execHandler: func(cmd []string, opts guest.ExecOptions) (guest.ExecResult, error) {
			return guest.ExecResult{ExitCode: 1, Stderr: "boom"}, nil
		},
	}

	err := (&PrepareEngine{}).Run(context.Background(), sc)
	assert.Error(t, err)
}

func TestInstallCommandUnsupportedManager(t *testing.T) {
	_, err := installCommand("pacman", []string{"vim"})
	assert.Error(t, err)
}
