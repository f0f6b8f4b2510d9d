package scheduler

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/tmt/pkg/types"
)

func phase(name string, order int) types.PhaseSpec {
	return types.PhaseSpec{Name: name, Order: order}
}

func TestBuildTicksSplitsOnOrderChange(t *testing.T) {
	assignments := []PhaseAssignment{
		{Phase: phase("prepare/install", 10), Guests: []string{"client"}},
		{Phase: phase("prepare/setup", 20), Guests: []string{"client"}},
	}

	ticks := BuildTicks(assignments, nil)
	require.Len(t, ticks, 2)
	assert.Equal(t, "prepare/install", ticks[0].Phases[0].Phase.Name)
	assert.Equal(t, "prepare/setup", ticks[1].Phases[0].Phase.Name)
}

func TestBuildTicksSplitsOnSharedTransition(t *testing.T) {
	shared := func(p types.PhaseSpec) bool { return p.Name == "multihost/sync" }

	assignments := []PhaseAssignment{
		{Phase: phase("multihost/sync", 10), Guests: []string{"client", "server"}},
		{Phase: phase("prepare/install", 10), Guests: []string{"client", "server"}},
	}

	ticks := BuildTicks(assignments, shared)
	require.Len(t, ticks, 2, "same order but shared->per-guest transition must split")
	assert.Equal(t, "multihost/sync", ticks[0].Phases[0].Phase.Name)
	assert.Equal(t, "prepare/install", ticks[1].Phases[0].Phase.Name)
}

func TestBuildTicksKeepsSameOrderNonSharedTogether(t *testing.T) {
	assignments := []PhaseAssignment{
		{Phase: phase("prepare/install-a", 10), Guests: []string{"client"}},
		{Phase: phase("prepare/install-b", 10), Guests: []string{"server"}},
	}

	ticks := BuildTicks(assignments, nil)
	require.Len(t, ticks, 1)
	assert.Len(t, ticks[0].Phases, 2)
}

func TestBuildTicksStableSortsByOrder(t *testing.T) {
	assignments := []PhaseAssignment{
		{Phase: phase("second", 20), Guests: []string{"client"}},
		{Phase: phase("first", 10), Guests: []string{"client"}},
	}

	ticks := BuildTicks(assignments, nil)
	require.Len(t, ticks, 2)
	assert.Equal(t, "first", ticks[0].Phases[0].Phase.Name)
	assert.Equal(t, "second", ticks[1].Phases[0].Phase.Name)
}

func TestSchedulerRunSequentialPerGuestConcurrentAcrossGuests(t *testing.T) {
	ticks := BuildTicks([]PhaseAssignment{
		{Phase: phase("a", 10), Guests: []string{"client", "server"}},
		{Phase: phase("b", 20), Guests: []string{"client", "server"}},
	}, nil)
	require.Len(t, ticks, 2)

	var mu sync.Mutex
	var order []string

	exec := func(ctx context.Context, p types.PhaseSpec, guest string) error {
		mu.Lock()
		order = append(order, fmt.Sprintf("%s/%s", guest, p.Name))
		mu.Unlock()
		return nil
	}

	s := NewScheduler()
	results := s.Run(context.Background(), ticks, exec)

	require.Len(t, results, 4)
	for _, r := range results {
		assert.NoError(t, r.Err)
	}

	// Within a guest, "a" must precede "b"; across guests there's no
	// ordering guarantee so we just check the per-guest subsequence.
	var clientOrder, serverOrder []string
	for _, entry := range order {
		switch {
		case entry == "client/a" || entry == "client/b":
			clientOrder = append(clientOrder, entry)
		case entry == "server/a" || entry == "server/b":
			serverOrder = append(serverOrder, entry)
		}
	}
	assert.Equal(t, []string{"client/a", "client/b"}, clientOrder)
	assert.Equal(t, []string{"server/a", "server/b"}, serverOrder)
}

func TestSchedulerRunFailureDoesNotAbortPeers(t *testing.T) {
	ticks := BuildTicks([]PhaseAssignment{
		{Phase: phase("install", 10), Guests: []string{"client", "server"}},
	}, nil)

	exec := func(ctx context.Context, p types.PhaseSpec, guest string) error {
		if guest == "client" {
			return fmt.Errorf("install failed")
		}
		return nil
	}

	s := NewScheduler()
	results := s.Run(context.Background(), ticks, exec)

	require.Len(t, results, 2)
	byGuest := map[string]error{}
	for _, r := range results {
		byGuest[r.Guest] = r.Err
	}
	assert.Error(t, byGuest["client"])
	assert.NoError(t, byGuest["server"])
}

func TestApplyRemoveThenUpdateThenUpdateMissingThenInsert(t *testing.T) {
	phases := []types.PhaseSpec{
		phase("keep", 10),
		phase("drop", 20),
		phase("replace", 30),
	}

	overlay := Overlay{
		Remove:        []string{"drop"},
		Update:        []types.PhaseSpec{{Name: "replace", Order: 99}},
		UpdateMissing: []types.PhaseSpec{{Name: "keep", Order: 1}, {Name: "new-missing", Order: 40}},
		Insert:        []types.PhaseSpec{{Name: "appended", Order: 50}},
	}

	out := Apply(phases, overlay)

	names := make([]string, len(out))
	for i, p := range out {
		names[i] = p.Name
	}
	assert.Equal(t, []string{"keep", "replace", "new-missing", "appended"}, names)

	for _, p := range out {
		if p.Name == "replace" {
			assert.Equal(t, 99, p.Order, "update must replace in place")
		}
		if p.Name == "keep" {
			assert.Equal(t, 10, p.Order, "update-missing must not touch an existing phase")
		}
	}
}

func TestApplyUpdateOnMissingNameIsNoop(t *testing.T) {
	phases := []types.PhaseSpec{phase("only", 10)}
	out := Apply(phases, Overlay{Update: []types.PhaseSpec{{Name: "absent", Order: 5}}})
	require.Len(t, out, 1)
	assert.Equal(t, "only", out[0].Name)
	assert.Equal(t, 10, out[0].Order)
}
