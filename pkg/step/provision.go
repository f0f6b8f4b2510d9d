package step

import (
	"context"
	"fmt"
	"sync"

	"github.com/cuemby/tmt/pkg/config"
	"github.com/cuemby/tmt/pkg/guest"
	"github.com/cuemby/tmt/pkg/log"
	"github.com/cuemby/tmt/pkg/types"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

// ProvisionEngine turns the plan's provision phases into live guests.
// Guests have no ordering dependency on each other, so every phase
// starts concurrently (unlike prepare/execute/finish, which
// share a phase-queue that respects declared order).
type ProvisionEngine struct{}

func (e *ProvisionEngine) Kind() types.StepKind { return types.StepProvision }

func (e *ProvisionEngine) Run(ctx context.Context, sc *Context) error {
	done, err := skipIfDone(sc, types.StepProvision)
	if err != nil {
		return err
	}
	if done {
		return loadGuests(sc)
	}

	if err := markRunning(sc, types.StepProvision); err != nil {
		return err
	}

	cfg := config.Load()

	var mu sync.Mutex
	var g errgroup.Group
	for _, phase := range sc.Plan.Phases[types.StepProvision] {
		phase := phase
		g.Go(func() error {
			spec := types.NodeSpec{
				Name:    phase.Name,
				Role:    roleOption(phase),
				How:     phase.How,
				Options: phase.Options,
			}

			gst, err := guest.New(spec, log.WithGuest(spec.Name))
			if err != nil {
				return fmt.Errorf("provision %s: %w", spec.Name, err)
			}
			if err := gst.Start(ctx, cfg.BootTimeout); err != nil {
				return fmt.Errorf("provision %s: start: %w", spec.Name, err)
			}

			info := types.GuestInfo{
				Name:           spec.Name,
				Role:           spec.Role,
				Hostname:       spec.Name + ".tmt",
				PrimaryAddress: addressOption(phase),
			}

			mu.Lock()
			sc.Guests[spec.Name] = gst
			sc.GuestInfo = append(sc.GuestInfo, info)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		_ = markFailed(sc, types.StepProvision, err)
		return err
	}

	if err := saveGuestInfo(sc); err != nil {
		_ = markFailed(sc, types.StepProvision, err)
		return err
	}
	return markDone(sc, types.StepProvision)
}

func roleOption(phase types.PhaseSpec) string {
	if v, ok := phase.Options["role"].(string); ok {
		return v
	}
	return ""
}

func addressOption(phase types.PhaseSpec) string {
	if v, ok := phase.Options["address"].(string); ok {
		return v
	}
	return ""
}

func saveGuestInfo(sc *Context) error {
	dir := sc.Run.StepDir(sc.Plan.Name, "provision")
	data, err := yaml.Marshal(sc.GuestInfo)
	if err != nil {
		return fmt.Errorf("provision: marshal guests.yaml: %w", err)
	}
	return writeFile(dir, "guests.yaml", data)
}

// loadGuests restores GuestInfo from a previous run's provision step
// when it's already done; it deliberately does not reconnect live
// Guest handles — a resumed run that needs prepare/execute to act on
// guests again must re-provision, since the underlying VM/container
// may no longer exist.
func loadGuests(sc *Context) error {
	dir := sc.Run.StepDir(sc.Plan.Name, "provision")
	data, err := readFile(dir, "guests.yaml")
	if err != nil {
		return err
	}
	var info []types.GuestInfo
	if err := yaml.Unmarshal(data, &info); err != nil {
		return fmt.Errorf("provision: parse cached guests.yaml: %w", err)
	}
	sc.GuestInfo = info
	return nil
}
