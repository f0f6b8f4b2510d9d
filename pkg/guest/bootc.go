package guest

import (
	"github.com/rs/zerolog"

	"github.com/cuemby/tmt/pkg/types"
)

// BootcGuest is the `bootc` provisioner: a bootc-managed image-based
// host reached over SSH once provisioned. The bootc-specific
// provisioning handshake (image build/deploy) is an external-service
// boundary (spec §1); this guest embeds `connect` for everything after
// that handshake hands back an address.
type BootcGuest struct {
	*ConnectGuest
}

// NewBootcGuest wraps a ConnectGuest, relabeling it as `bootc`.
func NewBootcGuest(spec types.NodeSpec, logger zerolog.Logger) (*BootcGuest, error) {
	inner, err := NewConnectGuest(spec, logger)
	if err != nil {
		return nil, err
	}
	inner.logger = logger.With().Str("guest", spec.Name).Str("how", "bootc").Logger()
	return &BootcGuest{ConnectGuest: inner}, nil
}

func (g *BootcGuest) How() string { return "bootc" }
