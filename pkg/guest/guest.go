// Package guest implements the polymorphic provisioner contract of
// spec §4.3: a single Guest interface backed by six factories
// (container, virtual, connect, local, and the thin beaker/bootc
// wrappers around connect), plus the reboot coordination of §4.7.
package guest

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/tmt/pkg/types"
)

// Capability names one operation a Guest may or may not support.
type Capability string

const (
	CapStart          Capability = "start"
	CapStop           Capability = "stop"
	CapRebootSoft     Capability = "reboot-soft"
	CapRebootHard     Capability = "reboot-hard"
	CapRebootSystemd  Capability = "reboot-systemd-soft"
	CapExec           Capability = "exec"
	CapPush           Capability = "push"
	CapPull           Capability = "pull"
	CapFacts          Capability = "facts"
)

// ExecOptions tunes one exec invocation.
type ExecOptions struct {
	Cwd     string
	Env     map[string]string
	TTY     bool
	Timeout time.Duration
	Stdin   []byte
	Stdout  io.Writer
	Stderr  io.Writer
}

// ExecResult is the outcome of one exec invocation.
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	TimedOut bool
}

// PullOptions tunes a pull; Extend names additional glob patterns to
// preserve beyond dest itself (beakerlib's backup* directories).
type PullOptions struct {
	Extend []string
}

// RebootMode selects how reboot() asks the guest to restart.
type RebootMode string

const (
	RebootSoft        RebootMode = "soft"
	RebootSystemdSoft RebootMode = "systemd-soft"
	RebootHard        RebootMode = "hard"
)

// ErrUnsupported is returned by an operation a guest variant's
// capability set doesn't include.
type ErrUnsupported struct {
	Guest string
	Op    string
}

func (e *ErrUnsupported) Error() string {
	return fmt.Sprintf("guest %s does not support %s", e.Guest, e.Op)
}

// Guest is the polymorphic provisioner contract of spec §4.3.
type Guest interface {
	// Name is the guest's role-qualified identifier (e.g. "default-0").
	Name() string

	// How names the provisioner variant (container, virtual, connect,
	// local, beaker, bootc).
	How() string

	// Capabilities reports which operations this variant supports.
	Capabilities() map[Capability]bool

	// Start is idempotent until Stop; it blocks until the guest is
	// reachable or bootTimeout elapses.
	Start(ctx context.Context, bootTimeout time.Duration) error

	// Stop tears the guest down.
	Stop(ctx context.Context) error

	// Exec runs cmd and returns its outcome.
	Exec(ctx context.Context, cmd []string, opts ExecOptions) (ExecResult, error)

	// Push copies src (runner) to dest (guest), preserving the
	// executable bit.
	Push(ctx context.Context, src, dest string) error

	// Pull copies src (guest) to dest (runner).
	Pull(ctx context.Context, src, dest string, opts PullOptions) error

	// Reboot restarts the guest per mode, returning once it is ready
	// again or timeout elapses.
	Reboot(ctx context.Context, mode RebootMode, customCmd string, feelingSafe bool, timeout time.Duration) error

	// Facts returns best-effort discovered guest facts, cached after
	// first success.
	Facts(ctx context.Context) (types.GuestFacts, error)

	// Lifecycle reports the current state machine position.
	Lifecycle() types.GuestLifecycle

	// Quarantine marks the guest lost: every phase subsequently
	// targeted at it must fail fast rather than attempt I/O (spec
	// §4.3's "lost connection" failure semantics).
	Quarantine(reason string)
}

// factsCache is embedded by every Guest implementation so Facts()
// fetches at most once per guest lifetime (spec §4.3's "cached after
// first success").
type factsCache struct {
	mu    sync.Mutex
	done  bool
	facts types.GuestFacts
}

func (c *factsCache) get(fetch func() (types.GuestFacts, error)) (types.GuestFacts, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return c.facts, nil
	}
	facts, err := fetch()
	if err != nil {
		// allow a retry on the next call instead of caching a failure
		return types.GuestFacts{}, err
	}
	c.facts, c.done = facts, true
	return c.facts, nil
}

// lifecycleState is embedded by every Guest implementation to track
// the state machine of spec §4.3 and the quarantine flag of its
// failure semantics paragraph.
type lifecycleState struct {
	mu               sync.Mutex
	state            types.GuestLifecycle
	quarantineReason string
}

func (s *lifecycleState) set(state types.GuestLifecycle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

func (s *lifecycleState) get() types.GuestLifecycle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *lifecycleState) quarantine(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = types.GuestLost
	s.quarantineReason = reason
}

func (s *lifecycleState) quarantined() (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == types.GuestLost, s.quarantineReason
}

// New constructs the Guest variant named by spec.How, dispatching to
// the matching factory, which reads its options from spec.Options.
func New(spec types.NodeSpec, logger zerolog.Logger) (Guest, error) {
	switch spec.How {
	case "container":
		return NewContainerGuest(spec, logger)
	case "virtual":
		return NewVirtualGuest(spec, logger)
	case "connect":
		return NewConnectGuest(spec, logger)
	case "local":
		return NewLocalGuest(spec, logger)
	case "beaker":
		return NewBeakerGuest(spec, logger)
	case "bootc":
		return NewBootcGuest(spec, logger)
	default:
		return nil, fmt.Errorf("guest: unknown provisioner %q for %q", spec.How, spec.Name)
	}
}

func optString(opts map[string]interface{}, key, def string) string {
	if opts == nil {
		return def
	}
	if v, ok := opts[key]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return def
}

func optBool(opts map[string]interface{}, key string, def bool) bool {
	if opts == nil {
		return def
	}
	if v, ok := opts[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}
