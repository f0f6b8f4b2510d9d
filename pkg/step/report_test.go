package step

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/tmt/pkg/types"
)

func TestReportEngineDefaultsToDisplay(t *testing.T) {
	plan := &types.Plan{Name: "plans/default"}
	sc := newTestContext(t, plan)
	sc.Results = []types.Result{{Name: "/sanity", Result: types.OutcomePass}}

	err := (&ReportEngine{}).Run(context.Background(), sc)
	require.NoError(t, err)
}

func TestReportEngineJUnitWritesFile(t *testing.T) {
	plan := &types.Plan{
		Name: "plans/default",
		Phases: map[types.StepKind][]types.PhaseSpec{
			types.StepReport: {{Name: "junit", How: "junit"}},
		},
	}
	sc := newTestContext(t, plan)
	sc.Results = []types.Result{
		{Name: "/sanity", Result: types.OutcomePass, Guest: types.GuestRef{Name: "default-0"}},
		{Name: "/broken", Result: types.OutcomeFail, Guest: types.GuestRef{Name: "default-0"}, Log: []string{"boom"}},
	}

	err := (&ReportEngine{}).Run(context.Background(), sc)
	require.NoError(t, err)

	path := filepath.Join(sc.Run.StepDir(plan.Name, "report"), "results.xml")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "<testsuite")
	assert.Contains(t, string(data), "/sanity")
	assert.Contains(t, string(data), "failure")
}

func TestReportEngineUnsupportedHowFails(t *testing.T) {
	plan := &types.Plan{
		Name: "plans/default",
		Phases: map[types.StepKind][]types.PhaseSpec{
			types.StepReport: {{Name: "weird", How: "weird"}},
		},
	}
	sc := newTestContext(t, plan)

	err := (&ReportEngine{}).Run(context.Background(), sc)
	assert.Error(t, err)
}
