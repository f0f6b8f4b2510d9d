package step

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/tmt/pkg/types"
)

// DiscoverEngine resolves the plan's discover phases into the test
// list every later step consumes. Two "how" providers are supported:
// "fmf" (the default) walks the leaves of the loaded metadata tree
// under a phase's `where` subtree (default "/tests"); "shell" runs an
// arbitrary discovery command and parses a YAML list of tests from its
// stdout, for test sources the static tree doesn't cover.
type DiscoverEngine struct{}

func (e *DiscoverEngine) Kind() types.StepKind { return types.StepDiscover }

func (e *DiscoverEngine) Run(ctx context.Context, sc *Context) error {
	done, err := skipIfDone(sc, types.StepDiscover)
	if err != nil {
		return err
	}
	if done {
		tests, err := loadTests(sc)
		if err != nil {
			return err
		}
		sc.Tests = tests
		return nil
	}

	if err := markRunning(sc, types.StepDiscover); err != nil {
		return err
	}

	var tests []types.Test
	for _, phase := range sc.Plan.Phases[types.StepDiscover] {
		var discovered []types.Test
		var err error
		switch phase.How {
		case "", "fmf":
			discovered, err = discoverFMF(sc, phase)
		case "shell":
			discovered, err = discoverShell(ctx, phase)
		default:
			err = fmt.Errorf("discover: unsupported how %q", phase.How)
		}
		if err != nil {
			_ = markFailed(sc, types.StepDiscover, err)
			return err
		}
		tests = append(tests, discovered...)
	}

	assignSerialNumbers(tests)

	if err := saveTests(sc, tests); err != nil {
		_ = markFailed(sc, types.StepDiscover, err)
		return err
	}
	sc.Tests = tests
	return markDone(sc, types.StepDiscover)
}

func discoverFMF(sc *Context, phase types.PhaseSpec) ([]types.Test, error) {
	if sc.Tree == nil {
		return nil, nil
	}
	root := phase.Where
	if root == "" {
		root = "/tests"
	}

	node := findNode(sc.Tree, root)
	if node == nil {
		return nil, nil
	}

	var tests []types.Test
	for _, leaf := range node.Leaves() {
		test, err := testFromNode(leaf)
		if err != nil {
			return nil, fmt.Errorf("discover: %s: %w", leaf.Name, err)
		}
		tests = append(tests, test)
	}
	return tests, nil
}

// discoverShell runs phase.Options["command"] and parses its stdout as
// a YAML list of tests, mirroring the fmf case's use of Data maps but
// sourced from a subprocess instead of the loaded tree.
func discoverShell(ctx context.Context, phase types.PhaseSpec) ([]types.Test, error) {
	command, _ := phase.Options["command"].(string)
	if command == "" {
		return nil, fmt.Errorf("discover: shell phase %q has no options.command", phase.Name)
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("discover: shell command failed: %w: %s", err, stderr.String())
	}

	var raw []map[string]interface{}
	if err := yaml.Unmarshal(stdout.Bytes(), &raw); err != nil {
		return nil, fmt.Errorf("discover: parse shell discovery output: %w", err)
	}

	var tests []types.Test
	for _, data := range raw {
		test, err := testFromData(data)
		if err != nil {
			return nil, err
		}
		tests = append(tests, test)
	}
	return tests, nil
}

// findNode locates the node with the given absolute name anywhere
// under tree (inclusive), nil if absent. This is the "fetch a node by
// name" query spec names; a linear walk is fine since trees are small
// and load-once.
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

func testFromNode(n *types.Node) (types.Test, error) {
	data := map[string]interface{}{}
	for k, v := range n.Data {
		data[k] = v
	}
	if _, ok := data["name"]; !ok {
		data["name"] = n.Name
	}
	if _, ok := data["path"]; !ok {
		data["path"] = n.Name
	}
	return testFromData(data)
}

func testFromData(data map[string]interface{}) (types.Test, error) {
	t := types.Test{
		Name:        strField(data, "name"),
		Path:        strField(data, "path"),
		Test:        strField(data, "test"),
		Framework:   types.Framework(strFieldDefault(data, "framework", string(types.FrameworkShell))),
		Environment: strMapField(data, "environment"),
		Require:     strSliceField(data, "require"),
		Recommend:   strSliceField(data, "recommend"),
		Tag:         strSliceField(data, "tag"),
		Tier:        strField(data, "tier"),
		Order:       intFieldDefault(data, "order", types.DefaultOrder),
		Enabled:     boolFieldDefault(data, "enabled", true),
		TTY:         boolFieldDefault(data, "tty", false),
		RestartWithReboot: boolFieldDefault(data, "restart-with-reboot", false),
		MaxRestarts:       intFieldDefault(data, "max-restarts", types.DefaultMaxRestarts),
		Where:             strField(data, "where"),
		Result:            types.ResultInterpretation(strFieldDefault(data, "result", string(types.ResultRespect))),
	}

	duration, err := types.ParseDuration(strField(data, "duration"))
	if err != nil {
		return types.Test{}, fmt.Errorf("test %q: %w", t.Name, err)
	}
	t.Duration = duration

	if checks, ok := data["check"].([]interface{}); ok {
		for _, raw := range checks {
			cm, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			t.Checks = append(t.Checks, types.CheckSpec{
				Name:  strField(cm, "name"),
				Event: types.CheckEvent(strFieldDefault(cm, "event", string(types.CheckBeforeTest))),
				How:   strField(cm, "how"),
			})
		}
	}

	return t, nil
}

func assignSerialNumbers(tests []types.Test) {
	sort.SliceStable(tests, func(i, j int) bool { return tests[i].Order < tests[j].Order })
	for i := range tests {
		tests[i].SerialNumber = i + 1
	}
}

func saveTests(sc *Context, tests []types.Test) error {
	dir := sc.Run.StepDir(sc.Plan.Name, "discover")
	data, err := yaml.Marshal(tests)
	if err != nil {
		return fmt.Errorf("discover: marshal tests: %w", err)
	}
	return writeFile(dir, "tests.yaml", data)
}

func loadTests(sc *Context) ([]types.Test, error) {
	path := sc.Run.StepDir(sc.Plan.Name, "discover")
	data, err := readFile(path, "tests.yaml")
	if err != nil {
		return nil, err
	}
	var tests []types.Test
	if err := yaml.Unmarshal(data, &tests); err != nil {
		return nil, fmt.Errorf("discover: parse cached tests.yaml: %w", err)
	}
	return tests, nil
}

func strField(data map[string]interface{}, key string) string {
	return strFieldDefault(data, key, "")
}

func strFieldDefault(data map[string]interface{}, key, def string) string {
	if v, ok := data[key]; ok {
		switch t := v.(type) {
		case string:
			return t
		case int:
			return strconv.Itoa(t)
		case fmt.Stringer:
			return t.String()
		}
	}
	return def
}

func intFieldDefault(data map[string]interface{}, key string, def int) int {
	if v, ok := data[key]; ok {
		switch t := v.(type) {
		case int:
			return t
		case float64:
			return int(t)
		}
	}
	return def
}

func boolFieldDefault(data map[string]interface{}, key string, def bool) bool {
	if v, ok := data[key].(bool); ok {
		return v
	}
	return def
}

func strSliceField(data map[string]interface{}, key string) []string {
	v, ok := data[key]
	if !ok {
		return nil
	}
	switch t := v.(type) {
	case []string:
		return t
	case []interface{}:
		var out []string
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return strings.Fields(t)
	}
	return nil
}

func strMapField(data map[string]interface{}, key string) map[string]string {
	v, ok := data[key].(map[string]interface{})
	if !ok {
		return nil
	}
	out := map[string]string{}
	for k, val := range v {
		out[k] = fmt.Sprintf("%v", val)
	}
	return out
}
