package step

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/tmt/pkg/types"
)

func TestProvisionEngineStartsEveryPhaseConcurrently(t *testing.T) {
	plan := &types.Plan{
		Name: "plans/default",
		Phases: map[types.StepKind][]types.PhaseSpec{
			types.StepProvision: {
				{Name: "client", How: "local", Options: map[string]interface{}{"role": "client"}},
				{Name: "server", How: "local", Options: map[string]interface{}{"role": "server"}},
			},
		},
	}
	sc := newTestContext(t, plan)

	err := (&ProvisionEngine{}).Run(context.Background(), sc)
	require.NoError(t, err)
	assert.Len(t, sc.Guests, 2)
	assert.Len(t, sc.GuestInfo, 2)
	assert.Contains(t, sc.Guests, "client")
	assert.Contains(t, sc.Guests, "server")
}

func TestProvisionEngineUnknownHowFails(t *testing.T) {
	plan := &types.Plan{
		Name: "plans/default",
		Phases: map[types.StepKind][]types.PhaseSpec{
			types.StepProvision: {{Name: "default", How: "nonexistent"}},
		},
	}
	sc := newTestContext(t, plan)

	err := (&ProvisionEngine{}).Run(context.Background(), sc)
	assert.Error(t, err)
}

func TestProvisionEngineReloadsGuestInfoWhenAlreadyDone(t *testing.T) {
	plan := &types.Plan{
		Name: "plans/default",
		Phases: map[types.StepKind][]types.PhaseSpec{
			types.StepProvision: {{Name: "default", How: "local"}},
		},
	}
	sc := newTestContext(t, plan)
	require.NoError(t, (&ProvisionEngine{}).Run(context.Background(), sc))
	require.Len(t, sc.GuestInfo, 1)

	sc2 := newContextSharingRun(sc, plan)
	err := (&ProvisionEngine{}).Run(context.Background(), sc2)
	require.NoError(t, err)
	assert.Len(t, sc2.GuestInfo, 1)
	// loadGuests deliberately doesn't reconnect live handles.
	assert.Empty(t, sc2.Guests)
}
