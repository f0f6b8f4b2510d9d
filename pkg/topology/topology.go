// Package topology materializes the set of live guests and their
// roles into the per-test topology files spec §6 names:
// TMT_TOPOLOGY_YAML and TMT_TOPOLOGY_BASH. It adapts the teacher's
// "write a resolvable config file into the guest-visible tree"
// pattern (worker/dns.go's GenerateResolvConf) from a DNS resolver
// file to a test-facing topology snapshot.
package topology

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/tmt/pkg/types"
)

// yamlGuest mirrors one entry of spec §6's `guests:` map.
type yamlGuest struct {
	Name           string `yaml:"name"`
	Role           string `yaml:"role,omitempty"`
	Hostname       string `yaml:"hostname"`
	PrimaryAddress string `yaml:"primary-address"`
}

// yamlDoc is the exact shape of TMT_TOPOLOGY_YAML.
type yamlDoc struct {
	Guest      yamlGuest              `yaml:"guest"`
	GuestNames []string               `yaml:"guest-names"`
	RoleNames  []string               `yaml:"role-names"`
	Roles      map[string][]string    `yaml:"roles"`
	Guests     map[string]yamlGuest   `yaml:"guests"`
}

// RenderYAML builds the TMT_TOPOLOGY_YAML document for one (test,
// guest) pair: `current` is the guest the test is running on, `all`
// is every guest in the plan.
func RenderYAML(current types.GuestInfo, all []types.GuestInfo) ([]byte, error) {
	doc := build(current, all)
	data, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("topology: marshal yaml: %w", err)
	}
	return data, nil
}

func build(current types.GuestInfo, all []types.GuestInfo) yamlDoc {
	doc := yamlDoc{
		Guest: yamlGuest{
			Name:           current.Name,
			Role:           current.Role,
			Hostname:       current.Hostname,
			PrimaryAddress: current.PrimaryAddress,
		},
		Roles:  map[string][]string{},
		Guests: map[string]yamlGuest{},
	}

	roleSet := map[string]bool{}
	for _, g := range all {
		doc.GuestNames = append(doc.GuestNames, g.Name)
		doc.Guests[g.Name] = yamlGuest{
			Name:           g.Name,
			Role:           g.Role,
			Hostname:       g.Hostname,
			PrimaryAddress: g.PrimaryAddress,
		}
		if g.Role != "" {
			roleSet[g.Role] = true
			doc.Roles[g.Role] = append(doc.Roles[g.Role], g.Name)
		}
	}
	sort.Strings(doc.GuestNames)
	for role := range roleSet {
		doc.RoleNames = append(doc.RoleNames, role)
	}
	sort.Strings(doc.RoleNames)
	for role := range doc.Roles {
		sort.Strings(doc.Roles[role])
	}

	return doc
}

// RenderBash builds the sh-sourceable TMT_TOPOLOGY_BASH content: plain
// variables for the current guest, a TMT_ROLE_<role> space-separated
// hostname list per role, a TMT_GUESTS associative array keyed
// "<name>.hostname", and SERVERS listing every guest's hostname.
func RenderBash(current types.GuestInfo, all []types.GuestInfo) []byte {
	var b strings.Builder

	fmt.Fprintf(&b, "TMT_GUEST_HOSTNAME=%s\n", shQuote(current.Hostname))
	fmt.Fprintf(&b, "TMT_GUEST_ROLE=%s\n", shQuote(current.Role))

	roles := map[string][]string{}
	var hostnames []string
	for _, g := range all {
		hostnames = append(hostnames, g.Hostname)
		if g.Role != "" {
			roles[g.Role] = append(roles[g.Role], g.Hostname)
		}
	}

	var roleNames []string
	for role := range roles {
		roleNames = append(roleNames, role)
	}
	sort.Strings(roleNames)
	for _, role := range roleNames {
		hosts := roles[role]
		sort.Strings(hosts)
		fmt.Fprintf(&b, "TMT_ROLE_%s=%s\n", shIdent(role), shQuote(strings.Join(hosts, " ")))
	}

	b.WriteString("declare -A TMT_GUESTS\n")
	var names []string
	for _, g := range all {
		names = append(names, g.Name)
	}
	sort.Strings(names)
	byName := map[string]types.GuestInfo{}
	for _, g := range all {
		byName[g.Name] = g
	}
	for _, name := range names {
		fmt.Fprintf(&b, "TMT_GUESTS[%s.hostname]=%s\n", shIdent(name), shQuote(byName[name].Hostname))
	}

	sort.Strings(hostnames)
	fmt.Fprintf(&b, "SERVERS=%s\n", shQuote(strings.Join(hostnames, " ")))

	return []byte(b.String())
}

// shIdent makes a guest/role name safe as a bash array-key/identifier
// fragment: only letters, digits and underscore survive, everything
// else (e.g. a provisioner's "-" in role names) becomes "_".
func shIdent(s string) string {
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}

func shQuote(s string) string {
	return "\"" + strings.ReplaceAll(s, "\"", "\\\"") + "\""
}
