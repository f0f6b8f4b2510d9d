package step

import (
	"context"
	"fmt"
	"strings"

	"github.com/cuemby/tmt/pkg/guest"
	"github.com/cuemby/tmt/pkg/types"
)

// PrepareEngine installs test requirements and runs plan-declared
// setup phases on every guest before execute begins. Two "how"
// providers: "install" installs a phase's `package` list (or, with no
// explicit list, the union of every discovered test's require/
// recommend) via the guest's package manager; "shell" runs an
// arbitrary script.
type PrepareEngine struct{}

func (e *PrepareEngine) Kind() types.StepKind { return types.StepPrepare }

func (e *PrepareEngine) Run(ctx context.Context, sc *Context) error {
	done, err := skipIfDone(sc, types.StepPrepare)
	if err != nil {
		return err
	}
	if done {
		return nil
	}

	if err := markRunning(sc, types.StepPrepare); err != nil {
		return err
	}

	err = runPhaseQueue(ctx, sc, types.StepPrepare, func(ctx context.Context, phase types.PhaseSpec, guestName string) error {
		g, ok := sc.Guests[guestName]
		if !ok {
			return fmt.Errorf("prepare: unknown guest %q", guestName)
		}
		switch phase.How {
		case "", "install":
			return prepareInstall(ctx, sc, g, phase)
		case "shell":
			return prepareShell(ctx, g, phase)
		default:
			return fmt.Errorf("prepare: unsupported how %q", phase.How)
		}
	})
	if err != nil {
		_ = markFailed(sc, types.StepPrepare, err)
		return err
	}
	return markDone(sc, types.StepPrepare)
}

func prepareInstall(ctx context.Context, sc *Context, g guest.Guest, phase types.PhaseSpec) error {
	packages := strSliceField(phase.Options, "package")
	if len(packages) == 0 {
		seen := map[string]bool{}
		for _, t := range sc.Tests {
			for _, r := range append(append([]string{}, t.Require...), t.Recommend...) {
				if !seen[r] {
					seen[r] = true
					packages = append(packages, r)
				}
			}
		}
	}
	if len(packages) == 0 {
		return nil
	}

	facts, err := g.Facts(ctx)
	if err != nil {
		return fmt.Errorf("prepare: facts: %w", err)
	}

	cmd, err := installCommand(facts.PackageManager, packages)
	if err != nil {
		return err
	}

	res, err := g.Exec(ctx, cmd, guest.ExecOptions{})
	if err != nil {
		return fmt.Errorf("prepare: install: %w", err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("prepare: install exited %d: %s", res.ExitCode, res.Stderr)
	}
	return nil
}

func prepareShell(ctx context.Context, g guest.Guest, phase types.PhaseSpec) error {
	script, _ := phase.Options["script"].(string)
	if script == "" {
		return fmt.Errorf("prepare: shell phase %q has no options.script", phase.Name)
	}
	res, err := g.Exec(ctx, []string{"sh", "-c", script}, guest.ExecOptions{})
	if err != nil {
		return fmt.Errorf("prepare: shell: %w", err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("prepare: shell exited %d: %s", res.ExitCode, res.Stderr)
	}
	return nil
}

// installCommand picks the package-manager invocation for a guest's
// detected facts.PackageManager; dnf is the default since it covers
// current Fedora/RHEL/CentOS guests, the tmt ecosystem's primary
// target.
func installCommand(manager string, packages []string) ([]string, error) {
	joined := strings.Join(packages, " ")
	switch manager {
	case "apt", "apt-get":
		return []string{"sh", "-c", "apt-get update && apt-get install -y " + joined}, nil
	case "apk":
		return []string{"sh", "-c", "apk add --no-cache " + joined}, nil
	case "", "dnf", "yum":
		return []string{"sh", "-c", "dnf install -y " + joined}, nil
	default:
		return nil, fmt.Errorf("prepare: unsupported package manager %q", manager)
	}
}
