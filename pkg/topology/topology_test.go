package topology

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/cuemby/tmt/pkg/types"
)

func sampleGuests() []types.GuestInfo {
	return []types.GuestInfo{
		{Name: "client-0", Role: "client", Hostname: "client-0.tmt", PrimaryAddress: "10.0.0.2"},
		{Name: "server-0", Role: "server", Hostname: "server-0.tmt", PrimaryAddress: "10.0.0.3"},
		{Name: "server-1", Role: "server", Hostname: "server-1.tmt", PrimaryAddress: "10.0.0.4"},
	}
}

func TestRenderYAMLShape(t *testing.T) {
	all := sampleGuests()
	current := all[0]

	data, err := RenderYAML(current, all)
	require.NoError(t, err)

	var doc yamlDoc
	require.NoError(t, yaml.Unmarshal(data, &doc))

	assert.Equal(t, "client-0", doc.Guest.Name)
	assert.Equal(t, "client", doc.Guest.Role)
	assert.ElementsMatch(t, []string{"client-0", "server-0", "server-1"}, doc.GuestNames)
	assert.ElementsMatch(t, []string{"client", "server"}, doc.RoleNames)
	assert.ElementsMatch(t, []string{"server-0", "server-1"}, doc.Roles["server"])
	assert.Equal(t, "server-0.tmt", doc.Guests["server-0"].Hostname)
}

func TestRenderBashContainsExpectedAssignments(t *testing.T) {
	all := sampleGuests()
	current := all[1]

	out := string(RenderBash(current, all))

	assert.Contains(t, out, `TMT_GUEST_HOSTNAME="server-0.tmt"`)
	assert.Contains(t, out, `TMT_GUEST_ROLE="server"`)
	assert.Contains(t, out, `TMT_ROLE_server="server-0.tmt server-1.tmt"`)
	assert.Contains(t, out, "declare -A TMT_GUESTS")
	assert.Contains(t, out, `TMT_GUESTS[client_0.hostname]="client-0.tmt"`)
	assert.Contains(t, out, `SERVERS="client-0.tmt server-0.tmt server-1.tmt"`)
}

func TestRenderBashSanitizesRoleNames(t *testing.T) {
	all := []types.GuestInfo{{Name: "db.primary", Role: "db-primary", Hostname: "db0.tmt"}}
	out := string(RenderBash(all[0], all))
	assert.Contains(t, out, "TMT_ROLE_db_primary=")
	assert.Contains(t, out, "TMT_GUESTS[db_primary.hostname]=")
}
