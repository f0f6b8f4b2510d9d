package guest

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/tmt/pkg/types"
)

// BeakerGuest is the `beaker` provisioner: a hardware machine reserved
// from a lab inventory service. Reservation and power control are an
// external-service boundary (spec §1); once reservation hands back an
// SSH address, this guest behaves exactly like `connect`, so it embeds
// one and adds the hardware-reboot capability the lab can perform that
// a bare SSH connection can't.
type BeakerGuest struct {
	*ConnectGuest
	poolName string
}

// NewBeakerGuest resolves a reservation (documented boundary: the
// actual lab handshake is out of scope beyond the address it returns)
// and wraps the resulting address in a ConnectGuest.
func NewBeakerGuest(spec types.NodeSpec, logger zerolog.Logger) (*BeakerGuest, error) {
	pool := optString(spec.Options, "pool", "")
	addr := optString(spec.Options, "address", "")
	if addr == "" {
		return nil, fmt.Errorf("guest %s: beaker provisioner requires a reserved address (pool %q)", spec.Name, pool)
	}

	inner, err := NewConnectGuest(spec, logger)
	if err != nil {
		return nil, err
	}
	inner.logger = logger.With().Str("guest", spec.Name).Str("how", "beaker").Logger()

	return &BeakerGuest{ConnectGuest: inner, poolName: pool}, nil
}

func (g *BeakerGuest) How() string { return "beaker" }

func (g *BeakerGuest) Capabilities() map[Capability]bool {
	caps := g.ConnectGuest.Capabilities()
	caps[CapRebootHard] = true
	return caps
}

// Reboot adds hard (lab-issued power cycle) on top of ConnectGuest's
// soft/systemd-soft handling.
func (g *BeakerGuest) Reboot(ctx context.Context, mode RebootMode, customCmd string, feelingSafe bool, timeout time.Duration) error {
	if mode != RebootHard {
		return g.ConnectGuest.Reboot(ctx, mode, customCmd, feelingSafe, timeout)
	}

	g.set(types.GuestRebooting)
	rebootCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// The lab's hardware power-cycle call is the external-service
	// boundary; here it is represented by dropping and re-dialing the
	// connection, since the reservation handshake itself is out of
	// scope.
	g.Stop(rebootCtx)
	return g.Start(rebootCtx, timeout)
}
