package run

import (
	"fmt"
	"regexp"

	"github.com/cuemby/tmt/pkg/types"
)

// DiscoverPlans walks tree's leaves under root (default "/plans") and
// builds one types.Plan per leaf, the plan-side mirror of
// pkg/step/discover.go's testFromNode for tests.
func DiscoverPlans(tree *types.Node, root string) ([]*types.Plan, error) {
	if tree == nil {
		return nil, nil
	}
	if root == "" {
		root = "/plans"
	}
	node := findNode(tree, root)
	if node == nil {
		return nil, nil
	}

	var plans []*types.Plan
	for _, leaf := range node.Leaves() {
		p, err := planFromNode(leaf)
		if err != nil {
			return nil, fmt.Errorf("run: plan %s: %w", leaf.Name, err)
		}
		plans = append(plans, p)
	}
	return plans, nil
}

func findNode(tree *types.Node, name string) *types.Node {
	if tree == nil {
		return nil
	}
	if tree.Name == name {
		return tree
	}
	for _, c := range tree.Children {
		if found := findNode(c, name); found != nil {
			return found
		}
	}
	return nil
}

func planFromNode(n *types.Node) (*types.Plan, error) {
	p := &types.Plan{
		Name:        n.Name,
		Phases:      map[types.StepKind][]types.PhaseSpec{},
		Environment: stringMap(n.Data["environment"]),
		EnvFiles:    stringSlice(n.Data["environment-file"]),
		Gate:        str(n.Data["gate"]),
	}

	for _, kind := range types.Steps {
		raw, ok := n.Data[string(kind)]
		if !ok {
			continue
		}
		phases, err := phasesFromRaw(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", kind, err)
		}
		p.Phases[kind] = phases
	}

	return p, nil
}

func phasesFromRaw(raw interface{}) ([]types.PhaseSpec, error) {
	items, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("expected a list of phases, got %T", raw)
	}

	var phases []types.PhaseSpec
	for _, item := range items {
		m, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("expected a phase mapping, got %T", item)
		}
		options := map[string]interface{}{}
		for k, v := range m {
			options[k] = v
		}
		phases = append(phases, types.PhaseSpec{
			How:     str(m["how"]),
			Name:    str(m["name"]),
			Order:   intValue(m["order"], types.DefaultOrder),
			Where:   str(m["where"]),
			When:    str(m["when"]),
			Options: options,
		})
	}
	return phases, nil
}

func str(v interface{}) string {
	s, _ := v.(string)
	return s
}

func intValue(v interface{}, def int) int {
	switch t := v.(type) {
	case int:
		return t
	case float64:
		return int(t)
	}
	return def
}

func stringSlice(v interface{}) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func stringMap(v interface{}) map[string]string {
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, val := range m {
		if s, ok := val.(string); ok {
			out[k] = s
		} else {
			out[k] = fmt.Sprintf("%v", val)
		}
	}
	return out
}

// FilterPlans keeps only the plans whose Name matches at least one of
// patterns (a "plans --name REGEX" selector). No patterns keeps every
// plan.
func FilterPlans(plans []*types.Plan, patterns []string) ([]*types.Plan, error) {
	if len(patterns) == 0 {
		return plans, nil
	}
	res, err := compileAll(patterns)
	if err != nil {
		return nil, err
	}
	var out []*types.Plan
	for _, p := range plans {
		if matchesAny(res, p.Name) {
			out = append(out, p)
		}
	}
	return out, nil
}

// TestFilter compiles a "tests --name REGEX" selector into a predicate
// for pkg/plan.Executor.TestFilter. No patterns matches every test.
func TestFilter(patterns []string) (func(types.Test) bool, error) {
	if len(patterns) == 0 {
		return func(types.Test) bool { return true }, nil
	}
	res, err := compileAll(patterns)
	if err != nil {
		return nil, err
	}
	return func(t types.Test) bool { return matchesAny(res, t.Name) }, nil
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("run: invalid selector %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

func matchesAny(res []*regexp.Regexp, name string) bool {
	for _, re := range res {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}
