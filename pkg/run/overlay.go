package run

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cuemby/tmt/pkg/types"
)

// OverlayOp is the kind of post-hoc phase-list edit spec §4.4 rule 3
// and §6 name: "--insert"/"--update"/"--update-missing"/"--remove".
type OverlayOp string

const (
	OverlayInsert        OverlayOp = "insert"
	OverlayUpdate        OverlayOp = "update"
	OverlayUpdateMissing OverlayOp = "update-missing"
	OverlayRemove        OverlayOp = "remove"
)

// Overlay is one CLI-provided phase edit, applied against a plan's
// phase list for one step before that step runs. The real CLI
// grammar is `<step> --insert --how NAME [--name N] [--order K]
// [--<option> ...]`; ParseOverlay accepts the same information as a
// single comma-separated `key=value` flag value
// (`--insert step=prepare,name=extra,how=shell,script=true`) so the
// whole overlay fits one repeatable cobra flag instead of a bespoke
// per-step sub-parser.
type Overlay struct {
	Step    types.StepKind
	Op      OverlayOp
	Name    string
	How     string
	Order   int
	Where   string
	Options map[string]interface{}
}

// ParseOverlay parses one "--insert"/"--update"/"--update-missing"/
// "--remove" flag value into an Overlay. raw must set step= and
// (implicitly, via which flag was used) op; everything else is
// optional and becomes a PhaseSpec field or, for anything unrecognized,
// a phase option.
func ParseOverlay(op OverlayOp, raw string) (Overlay, error) {
	o := Overlay{Op: op, Order: types.DefaultOrder, Options: map[string]interface{}{}}

	for _, field := range strings.Split(raw, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		kv := strings.SplitN(field, "=", 2)
		if len(kv) != 2 {
			return Overlay{}, fmt.Errorf("run: invalid overlay field %q (want key=value)", field)
		}
		key, value := strings.TrimSpace(kv[0]), strings.TrimSpace(kv[1])
		switch key {
		case "step":
			o.Step = types.StepKind(value)
		case "name":
			o.Name = value
		case "how":
			o.How = value
		case "where":
			o.Where = value
		case "order":
			n, err := strconv.Atoi(value)
			if err != nil {
				return Overlay{}, fmt.Errorf("run: invalid overlay order %q: %w", value, err)
			}
			o.Order = n
		default:
			o.Options[key] = value
		}
	}

	if o.Step == "" {
		return Overlay{}, fmt.Errorf("run: overlay missing step=")
	}
	return o, nil
}

// ApplyOverlays edits p's phase lists in place per spec §4.4 rule 3:
// insert adds a new phase (appended, later sorted by order/declaration
// as usual), update replaces a phase matched by name (or every phase
// of that step when name is empty), update-missing sets a field only
// on a phase missing it, remove drops a matched phase entirely.
func ApplyOverlays(p *types.Plan, overlays []Overlay) error {
	for _, o := range overlays {
		switch o.Op {
		case OverlayInsert:
			p.Phases[o.Step] = append(p.Phases[o.Step], types.PhaseSpec{
				Name: o.Name, How: o.How, Order: o.Order, Where: o.Where, Options: o.Options,
			})

		case OverlayRemove:
			p.Phases[o.Step] = removeMatching(p.Phases[o.Step], o.Name)

		case OverlayUpdate:
			updateMatching(p.Phases[o.Step], o, true)

		case OverlayUpdateMissing:
			updateMatching(p.Phases[o.Step], o, false)

		default:
			return fmt.Errorf("run: unsupported overlay op %q", o.Op)
		}
	}
	return nil
}

func removeMatching(phases []types.PhaseSpec, name string) []types.PhaseSpec {
	out := phases[:0]
	for _, p := range phases {
		if name == "" || p.Name == name {
			continue
		}
		out = append(out, p)
	}
	return out
}

// updateMatching rewrites every phase whose name matches (or every
// phase of the step, when name is empty). overwrite=false ("update-
// missing") only fills a field currently at its zero value.
func updateMatching(phases []types.PhaseSpec, o Overlay, overwrite bool) {
	for i := range phases {
		if o.Name != "" && phases[i].Name != o.Name {
			continue
		}
		if o.How != "" && (overwrite || phases[i].How == "") {
			phases[i].How = o.How
		}
		if o.Where != "" && (overwrite || phases[i].Where == "") {
			phases[i].Where = o.Where
		}
		if overwrite && o.Order != 0 {
			phases[i].Order = o.Order
		}
		for k, v := range o.Options {
			if _, exists := phases[i].Options[k]; overwrite || !exists {
				if phases[i].Options == nil {
					phases[i].Options = map[string]interface{}{}
				}
				phases[i].Options[k] = v
			}
		}
	}
}
