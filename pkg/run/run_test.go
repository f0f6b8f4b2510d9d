package run

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/tmt/pkg/types"
)

const sampleTree = `
children:
  tests:
    children:
      sanity:
        data:
          test: "true"
          duration: 5s
  plans:
    children:
      default:
        data:
          provision:
            - {name: "default-0", how: local}
          discover:
            - {name: default, how: fmf, where: /tests}
          execute:
            - {name: default, how: shell}
`

func writeTree(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "tree.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadTreeInheritsParentData(t *testing.T) {
	path := writeTree(t, sampleTree)
	tree, err := LoadTree(path)
	require.NoError(t, err)

	node := findNode(tree, "/tests/sanity")
	require.NotNil(t, node)
	assert.Equal(t, "true", node.Data["test"])

	inherited, err := LoadTree(writeTree(t, "data:\n  component: core\nchildren:\n  tests:\n    children:\n      sanity:\n        data:\n          test: \"true\"\n"))
	require.NoError(t, err)
	leaf := findNode(inherited, "/tests/sanity")
	require.NotNil(t, leaf)
	assert.Equal(t, "core", leaf.Data["component"])
	assert.Equal(t, "true", leaf.Data["test"])
}

func TestDiscoverPlansBuildsPhasesFromData(t *testing.T) {
	path := writeTree(t, sampleTree)
	tree, err := LoadTree(path)
	require.NoError(t, err)

	plans, err := DiscoverPlans(tree, "/plans")
	require.NoError(t, err)
	require.Len(t, plans, 1)

	p := plans[0]
	assert.Equal(t, "/plans/default", p.Name)
	require.Len(t, p.Phases[types.StepProvision], 1)
	assert.Equal(t, "local", p.Phases[types.StepProvision][0].How)
	require.Len(t, p.Phases[types.StepDiscover], 1)
	assert.Equal(t, "/tests", p.Phases[types.StepDiscover][0].Where)
}

func TestFilterPlansByName(t *testing.T) {
	plans := []*types.Plan{{Name: "/plans/smoke"}, {Name: "/plans/full"}}
	matched, err := FilterPlans(plans, []string{"^/plans/smoke$"})
	require.NoError(t, err)
	require.Len(t, matched, 1)
	assert.Equal(t, "/plans/smoke", matched[0].Name)
}

func TestFilterPlansNoPatternsKeepsAll(t *testing.T) {
	plans := []*types.Plan{{Name: "/plans/smoke"}, {Name: "/plans/full"}}
	matched, err := FilterPlans(plans, nil)
	require.NoError(t, err)
	assert.Len(t, matched, 2)
}

func TestTestFilterMatchesByName(t *testing.T) {
	keep, err := TestFilter([]string{"sanity"})
	require.NoError(t, err)
	assert.True(t, keep(types.Test{Name: "/tests/sanity"}))
	assert.False(t, keep(types.Test{Name: "/tests/other"}))
}

func TestValidatePlanRejectsDuplicatePhaseName(t *testing.T) {
	p := &types.Plan{
		Name: "/plans/default",
		Phases: map[types.StepKind][]types.PhaseSpec{
			types.StepProvision: {{Name: "x"}, {Name: "x"}},
		},
	}
	assert.Error(t, ValidatePlan(p))
}

func TestValidatePlanRejectsUnknownWhereTarget(t *testing.T) {
	p := &types.Plan{
		Name: "/plans/default",
		Phases: map[types.StepKind][]types.PhaseSpec{
			types.StepProvision: {{Name: "server"}},
			types.StepExecute:   {{Name: "default", Where: "client"}},
		},
	}
	assert.Error(t, ValidatePlan(p))
}

func TestValidatePlanAcceptsRoleTarget(t *testing.T) {
	p := &types.Plan{
		Name: "/plans/default",
		Phases: map[types.StepKind][]types.PhaseSpec{
			types.StepProvision: {{Name: "server-0", Options: map[string]interface{}{"role": "server"}}},
			types.StepExecute:   {{Name: "default", Where: "server"}},
		},
	}
	assert.NoError(t, ValidatePlan(p))
}

func TestRunnerExecutesLocalPlanEndToEnd(t *testing.T) {
	treePath := writeTree(t, sampleTree)
	r, err := NewRunner(Recipe{
		TreePath:    treePath,
		WorkdirBase: t.TempDir(),
	})
	require.NoError(t, err)

	code, results, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Nil(t, results[0].Err)
	assert.Equal(t, ExitSuccess, code)
	require.Len(t, results[0].Results, 1)
	assert.Equal(t, types.OutcomePass, results[0].Results[0].Result)
}

func TestRunnerDryRunSkipsGuestIO(t *testing.T) {
	treePath := writeTree(t, sampleTree)
	r, err := NewRunner(Recipe{
		TreePath:    treePath,
		WorkdirBase: t.TempDir(),
		DryRun:      true,
	})
	require.NoError(t, err)

	code, results, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.NoError(t, results[0].Err)
	assert.Equal(t, ExitSuccess, code)
	assert.Equal(t, 1, results[0].MatchedTests)
	assert.Empty(t, results[0].Results)
}

func TestRunnerNoMatchingPlansExitsThree(t *testing.T) {
	treePath := writeTree(t, sampleTree)
	r, err := NewRunner(Recipe{
		TreePath:     treePath,
		WorkdirBase:  t.TempDir(),
		PlanPatterns: []string{"^/plans/nonexistent$"},
	})
	require.NoError(t, err)

	code, results, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Nil(t, results)
	assert.Equal(t, ExitNoMatch, code)
}
