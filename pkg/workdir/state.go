package workdir

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/tmt/pkg/types"
)

// StepStatus is the lifecycle of one step within one plan.
type StepStatus string

const (
	StepTodo    StepStatus = "todo"
	StepRunning StepStatus = "running"
	StepDone    StepStatus = "done"
	StepFailed  StepStatus = "failed"
)

// PhaseState is one phase's status within a step.
type PhaseState struct {
	Name   string     `yaml:"name"`
	Status StepStatus `yaml:"status"`
}

// StepState is the persisted state of one step: step.yaml.
type StepState struct {
	Status StepStatus   `yaml:"status"`
	Phases []PhaseState `yaml:"phases"`
}

// LoadStepState reads <run>/plans/<plan>/<step>/step.yaml. A missing
// file is not an error: it means the step has never run, so the
// returned state has status todo and no phases.
func LoadStepState(run *Run, planName, step string) (StepState, error) {
	path := filepath.Join(run.StepDir(planName, step), "step.yaml")

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return StepState{Status: StepTodo}, nil
	}
	if err != nil {
		return StepState{}, fmt.Errorf("workdir: read %s: %w", path, err)
	}

	var state StepState
	if err := yaml.Unmarshal(data, &state); err != nil {
		return StepState{}, fmt.Errorf("workdir: parse %s: %w", path, err)
	}
	return state, nil
}

// SaveStepState atomically writes step.yaml.
func SaveStepState(run *Run, planName, step string, state StepState) error {
	dir := run.StepDir(planName, step)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("workdir: create step dir: %w", err)
	}

	data, err := yaml.Marshal(state)
	if err != nil {
		return fmt.Errorf("workdir: marshal step state: %w", err)
	}
	return writeAtomic(filepath.Join(dir, "step.yaml"), data)
}

// LoadResults reads <run>/plans/<plan>/execute/results.yaml. A missing
// file yields an empty slice.
func LoadResults(run *Run, planName string) ([]types.Result, error) {
	path := filepath.Join(run.StepDir(planName, "execute"), "results.yaml")

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("workdir: read %s: %w", path, err)
	}

	var results []types.Result
	if err := yaml.Unmarshal(data, &results); err != nil {
		return nil, fmt.Errorf("workdir: parse %s: %w", path, err)
	}
	return results, nil
}

// SaveResults atomically writes results.yaml.
func SaveResults(run *Run, planName string, results []types.Result) error {
	dir := run.StepDir(planName, "execute")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("workdir: create execute dir: %w", err)
	}

	data, err := yaml.Marshal(results)
	if err != nil {
		return fmt.Errorf("workdir: marshal results: %w", err)
	}
	return writeAtomic(filepath.Join(dir, "results.yaml"), data)
}

// writeAtomic writes data to a temp file in path's directory, then
// renames it over path — the write(tmp); rename(tmp, final) contract
// spec §4.1 requires so a crash mid-write never leaves a truncated
// step.yaml/results.yaml behind.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("workdir: create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("workdir: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("workdir: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("workdir: rename into place: %w", err)
	}
	return nil
}
