package scheduler

import "github.com/cuemby/tmt/pkg/types"

// Overlay is the CLI-provided phase-list mutation of spec §4.4 rule 3
// (`--insert`/`--update`/`--update-missing`/`--remove`), applied
// before phases are grouped into ticks.
type Overlay struct {
	// Insert adds phases unconditionally, appended after the matching
	// step's declared phases.
	Insert []types.PhaseSpec

	// Update replaces an existing phase (matched by Name) in place;
	// a name with no match is left untouched.
	Update []types.PhaseSpec

	// UpdateMissing sets a phase only if no phase with that Name
	// already exists — otherwise a no-op.
	UpdateMissing []types.PhaseSpec

	// Remove drops phases by Name.
	Remove []string
}

// Apply returns phases with the overlay's Remove, Update,
// UpdateMissing and Insert mutations applied, in that order, so an
// --update can't resurrect a phase --remove just dropped and
// --update-missing only fires after existing names are known.
func Apply(phases []types.PhaseSpec, overlay Overlay) []types.PhaseSpec {
	out := make([]types.PhaseSpec, 0, len(phases))
	removed := map[string]bool{}
	for _, name := range overlay.Remove {
		removed[name] = true
	}
	for _, p := range phases {
		if !removed[p.Name] {
			out = append(out, p)
		}
	}

	updates := map[string]types.PhaseSpec{}
	for _, u := range overlay.Update {
		updates[u.Name] = u
	}
	for i, p := range out {
		if u, ok := updates[p.Name]; ok {
			out[i] = u
		}
	}

	existing := map[string]bool{}
	for _, p := range out {
		existing[p.Name] = true
	}
	for _, p := range overlay.UpdateMissing {
		if !existing[p.Name] {
			out = append(out, p)
			existing[p.Name] = true
		}
	}

	out = append(out, overlay.Insert...)
	return out
}
