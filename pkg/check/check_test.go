package check

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cuemby/tmt/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestExecChecker(t *testing.T) {
	tests := []struct {
		name        string
		run         RunFunc
		wantOutcome types.Outcome
	}{
		{
			name: "success maps to pass",
			run: func(ctx context.Context, cmd []string) (string, error) {
				return "ok\n", nil
			},
			wantOutcome: types.OutcomePass,
		},
		{
			name: "failure maps to fail by default",
			run: func(ctx context.Context, cmd []string) (string, error) {
				return "", errors.New("exit status 1")
			},
			wantOutcome: types.OutcomeFail,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := NewExecChecker("journal", []string{"journalctl"}, tt.run)
			result := checker.Check(context.Background())
			assert.Equal(t, tt.wantOutcome, result.Outcome)
			assert.Equal(t, KindExec, checker.Kind())
		})
	}
}

func TestExecCheckerEmptyCommand(t *testing.T) {
	checker := NewExecChecker("custom", nil, func(ctx context.Context, cmd []string) (string, error) {
		return "", nil
	})
	result := checker.Check(context.Background())
	assert.Equal(t, types.OutcomeError, result.Outcome)
}

func TestDefaultEnabled(t *testing.T) {
	tests := []struct {
		name    string
		how     string
		wantAll bool
	}{
		{name: "virtual gets every check", how: "virtual", wantAll: true},
		{name: "connect gets every check", how: "connect", wantAll: true},
		{name: "container skips kernel-level checks", how: "container", wantAll: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enabled := DefaultEnabled(tt.how)
			assert.Contains(t, enabled, NameJournal)

			if tt.wantAll {
				assert.Contains(t, enabled, NameWatchdog)
			} else {
				assert.NotContains(t, enabled, NameWatchdog)
				assert.NotContains(t, enabled, NameAVC)
			}
		})
	}
}

func TestStateUpdate(t *testing.T) {
	cfg := Config{Retries: 2}
	state := NewState()
	assert.True(t, state.Healthy)

	state.Update(Result{Outcome: types.OutcomeFail, CheckedAt: time.Now()}, cfg)
	assert.True(t, state.Healthy, "one failure shouldn't flip healthy below the retry threshold")

	state.Update(Result{Outcome: types.OutcomeFail, CheckedAt: time.Now()}, cfg)
	assert.False(t, state.Healthy, "consecutive failures reaching Retries should flip healthy")

	state.Update(Result{Outcome: types.OutcomePass, CheckedAt: time.Now()}, cfg)
	assert.True(t, state.Healthy, "a pass should reset to healthy")
	assert.Equal(t, 0, state.ConsecutiveFailures)
}

func TestBuildUnknownCheck(t *testing.T) {
	_, err := Build(types.CheckSpec{Name: "not-a-real-check", How: "exec"}, nil)
	assert.Error(t, err)
}

func TestBuildWatchdogDegradesToWarn(t *testing.T) {
	c, err := Build(types.CheckSpec{Name: NameWatchdog, How: "exec"}, func(ctx context.Context, cmd []string) (string, error) {
		return "", errors.New("no such device")
	})
	assert.NoError(t, err)

	exec, ok := c.(*ExecChecker)
	assert.True(t, ok)
	assert.Equal(t, types.OutcomeWarn, exec.FailOutcome)
}
