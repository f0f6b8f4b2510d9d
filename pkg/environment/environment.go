// Package environment composes the variables a test sees on a guest,
// per spec §4.8's fixed 9-step precedence (lowest first): per-guest
// `environment`, plan intrinsics, plan `environment-file`, plan
// `environment`, the importing plan's chain, CLI `--environment-file`/
// `--environment`, the test's own `environment`, and finally
// phase/plugin intrinsics. Each step contributes either a flat map or
// a list of files; later steps simply overwrite earlier ones key by
// key.
package environment

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// step is one ordered contributor to the composed environment: either
// a literal map, or a list of files to be read fresh at Resolve time.
type step struct {
	name   string
	values map[string]string
	files  []string
}

// Chain is the ordered, fixed-shape precedence list for one test
// invocation. Build it with NewChain; the field order there is the
// order Resolve applies.
type Chain struct {
	steps []step
}

// NewChain builds the fixed 9-step precedence order of spec §4.8. Any
// map may be nil and any file list may be empty; an absent step
// contributes nothing.
func NewChain(
	guestEnv map[string]string,
	planIntrinsics map[string]string,
	planEnvFiles []string,
	planEnv map[string]string,
	importingEnv map[string]string,
	cliEnvFiles []string,
	cliEnv map[string]string,
	testEnv map[string]string,
	phaseIntrinsics map[string]string,
) *Chain {
	return &Chain{steps: []step{
		{name: "guest", values: guestEnv},
		{name: "plan-intrinsics", values: planIntrinsics},
		{name: "plan-environment-file", files: planEnvFiles},
		{name: "plan", values: planEnv},
		{name: "importing-plan", values: importingEnv},
		{name: "cli-environment-file", files: cliEnvFiles},
		{name: "cli", values: cliEnv},
		{name: "test", values: testEnv},
		{name: "phase-intrinsics", values: phaseIntrinsics},
	}}
}

// Resolve merges every step low-to-high, re-reading file-backed steps
// fresh on every call — spec §4.8 rule 3 requires `environment-file`
// be re-read per test, not snapshotted once at plan start.
func (c *Chain) Resolve() (map[string]string, error) {
	out := map[string]string{}
	for _, s := range c.steps {
		for k, v := range s.values {
			out[k] = v
		}
		for _, path := range s.files {
			if path == "" {
				continue
			}
			values, err := ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("environment: %s: read %s: %w", s.name, path, err)
			}
			for k, v := range values {
				out[k] = v
			}
		}
	}
	return out, nil
}

// ReadFile parses an environment file: YAML (a flat key: value map)
// for .yaml/.yml paths, otherwise KEY=VALUE lines (blank lines and
// lines starting with "#" ignored), matching the two formats tmt's
// `--environment-file` documents.
func ReadFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		var values map[string]string
		if err := yaml.Unmarshal(data, &values); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
		return values, nil
	}

	values := map[string]string{}
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		values[strings.TrimSpace(key)] = strings.TrimSpace(val)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return values, nil
}
