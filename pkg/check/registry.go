package check

import (
	"fmt"

	"github.com/cuemby/tmt/pkg/types"
)

// Names of the built-in checks spec §4.6 names explicitly.
const (
	NameAVC          = "avc"
	NameDmesg        = "dmesg"
	NameJournal      = "journal"
	NameJournalDmesg = "journal-dmesg"
	NameWatchdog     = "watchdog"
	NameCoredump     = "coredump"
)

// command is the exec-check command run on the guest for each built-in
// check name. These are the standard Linux diagnostics the names imply;
// plan authors can still define a `how: exec` check of their own under
// any name, which bypasses this table.
var command = map[string][]string{
	NameAVC:          {"sh", "-c", "ausearch -m avc --input-logs -ts recent 2>/dev/null || true"},
	NameDmesg:        {"sh", "-c", "dmesg --level=err,crit,alert,emerg --since -1min 2>/dev/null || true"},
	NameJournal:      {"sh", "-c", "journalctl -p err --since -1min --no-pager 2>/dev/null || true"},
	NameJournalDmesg: {"sh", "-c", "journalctl -k -p err --since -1min --no-pager 2>/dev/null || true"},
	NameWatchdog:     {"sh", "-c", "test -e /dev/watchdog && echo present || true"},
	NameCoredump:     {"sh", "-c", "coredumpctl list --since -1min --no-pager 2>/dev/null || true"},
}

// kernelLevel marks the checks that need direct kernel/journal access
// and are skipped by default inside containers (spec §4.6: "containers
// skip kernel-level checks").
var kernelLevel = map[string]bool{
	NameAVC:          true,
	NameDmesg:        true,
	NameJournalDmesg: true,
	NameWatchdog:     true,
	NameCoredump:     true,
}

// DefaultEnabled returns the check names enabled by default for a guest
// provisioned with the given `how` (container/virtual/connect/local).
func DefaultEnabled(how string) []string {
	all := []string{NameAVC, NameDmesg, NameJournal, NameJournalDmesg, NameWatchdog, NameCoredump}
	if how != "container" {
		return all
	}
	var enabled []string
	for _, name := range all {
		if !kernelLevel[name] {
			enabled = append(enabled, name)
		}
	}
	return enabled
}

// Build constructs the Checker for a CheckSpec. run executes a command
// on the guest the check is scoped to.
func Build(spec types.CheckSpec, run RunFunc) (Checker, error) {
	switch spec.How {
	case "", "exec":
		cmd, ok := command[spec.Name]
		if custom, hasCustom := spec.Options["command"]; hasCustom && custom != "" {
			cmd, ok = []string{"sh", "-c", custom}, true
		}
		if !ok {
			return nil, fmt.Errorf("check %q has how=exec but no options.command and isn't a built-in check name", spec.Name)
		}
		c := NewExecChecker(spec.Name, cmd, run)
		if spec.Name == NameWatchdog {
			// a missing watchdog device degrades rather than fails the test
			c.FailOutcome = types.OutcomeWarn
		}
		return c, nil
	default:
		return nil, fmt.Errorf("check %q: unsupported how %q", spec.Name, spec.How)
	}
}
