//go:build darwin

package guest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/lima-vm/lima/pkg/instance"
	"github.com/lima-vm/lima/pkg/limayaml"
	"github.com/lima-vm/lima/pkg/store"
	"github.com/rs/zerolog"

	"github.com/cuemby/tmt/pkg/types"
)

// VirtualGuest runs tests inside a Lima-managed virtual machine,
// adapted from the teacher's LimaManager: same
// inspect-or-create/Start/StopGracefully/StopForcibly lifecycle, but
// Exec/Push/Pull shell out to `limactl shell` instead of assuming a
// containerd socket inside the VM.
type VirtualGuest struct {
	factsCache
	lifecycleState

	name     string
	instName string
	sshAddr  string
	inst     *store.Instance
	logger   zerolog.Logger
}

// NewVirtualGuest prepares (without starting) a Lima instance guest.
func NewVirtualGuest(spec types.NodeSpec, logger zerolog.Logger) (*VirtualGuest, error) {
	instName := optString(spec.Options, "instance", "tmt-"+spec.Name)
	return &VirtualGuest{
		name:     spec.Name,
		instName: instName,
		logger:   logger.With().Str("guest", spec.Name).Str("how", "virtual").Logger(),
	}, nil
}

func (g *VirtualGuest) Name() string { return g.name }
func (g *VirtualGuest) How() string  { return "virtual" }

func (g *VirtualGuest) Capabilities() map[Capability]bool {
	return map[Capability]bool{
		CapStart: true, CapStop: true, CapExec: true, CapPush: true,
		CapPull: true, CapFacts: true, CapRebootSoft: true,
		CapRebootSystemd: true, CapRebootHard: true,
	}
}

func (g *VirtualGuest) Lifecycle() types.GuestLifecycle { return g.get() }
func (g *VirtualGuest) Quarantine(reason string)        { g.quarantine(reason) }

// Start inspects for an existing instance, creates one if absent, and
// waits for limactl shell to succeed before reporting ready.
func (g *VirtualGuest) Start(ctx context.Context, bootTimeout time.Duration) error {
	if g.get() == types.GuestReady {
		return nil
	}
	g.set(types.GuestStarting)

	bootCtx, cancel := context.WithTimeout(ctx, bootTimeout)
	defer cancel()

	inst, err := store.Inspect(g.instName)
	if err != nil {
		if err := g.create(bootCtx); err != nil {
			g.set(types.GuestLost)
			return fmt.Errorf("guest %s: create instance: %w", g.name, err)
		}
		inst, err = store.Inspect(g.instName)
		if err != nil {
			g.set(types.GuestLost)
			return fmt.Errorf("guest %s: inspect created instance: %w", g.name, err)
		}
	}
	g.inst = inst

	if inst.Status != store.StatusRunning {
		if err := instance.Start(bootCtx, inst, "", false); err != nil {
			g.set(types.GuestLost)
			return fmt.Errorf("guest %s: start instance: %w", g.name, err)
		}
	}

	if err := g.waitReady(bootCtx); err != nil {
		g.set(types.GuestLost)
		return fmt.Errorf("guest %s: not ready: %w", g.name, err)
	}

	g.set(types.GuestReady)
	return nil
}

func (g *VirtualGuest) create(ctx context.Context) error {
	arch := limayaml.X8664
	cpus := 2
	memory := "2GiB"
	disk := "20GiB"
	cfg := limayaml.LimaYAML{
		Arch:    &arch,
		CPUs:    &cpus,
		Memory:  &memory,
		Disk:    &disk,
		Message: "tmt virtual guest",
	}
	data, err := limayaml.Marshal(&cfg, false)
	if err != nil {
		return fmt.Errorf("marshal lima config: %w", err)
	}
	_, err = instance.Create(ctx, g.instName, data, false)
	return err
}

func (g *VirtualGuest) waitReady(ctx context.Context) error {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for virtual guest to be ready")
		case <-ticker.C:
			cmd := exec.CommandContext(ctx, "limactl", "shell", g.instName, "--", "true")
			if err := cmd.Run(); err == nil {
				return nil
			}
		}
	}
}

// Stop stops the instance gracefully, falling back to a forced stop —
// mirroring the teacher's Stop.
func (g *VirtualGuest) Stop(ctx context.Context) error {
	if g.inst == nil {
		return nil
	}
	if err := instance.StopGracefully(ctx, g.inst, false); err != nil {
		g.logger.Warn().Err(err).Msg("graceful stop failed, forcing stop")
		instance.StopForcibly(g.inst)
	}
	g.set(types.GuestStopped)
	return nil
}

// Exec shells out to `limactl shell <instance> -- <cmd>`.
func (g *VirtualGuest) Exec(ctx context.Context, cmdArgs []string, opts ExecOptions) (ExecResult, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	args := []string{"shell", g.instName}
	if opts.Cwd != "" {
		args = append(args, "--workdir", opts.Cwd)
	}
	args = append(args, "--")
	args = append(args, cmdArgs...)

	cmd := exec.CommandContext(ctx, "limactl", args...)
	for k, v := range opts.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	if len(opts.Stdin) > 0 {
		cmd.Stdin = bytes.NewReader(opts.Stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := ExecResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if ctx.Err() == context.DeadlineExceeded {
		res.TimedOut = true
		return res, ctx.Err()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	if err != nil {
		g.quarantine("lost connection")
		return res, fmt.Errorf("guest %s: exec: %w", g.name, err)
	}
	return res, nil
}

func (g *VirtualGuest) Push(ctx context.Context, src, dest string) error {
	cmd := exec.CommandContext(ctx, "limactl", "copy", src, g.instName+":"+dest)
	return cmd.Run()
}

func (g *VirtualGuest) Pull(ctx context.Context, src, dest string, opts PullOptions) error {
	cmd := exec.CommandContext(ctx, "limactl", "copy", g.instName+":"+src, dest)
	return cmd.Run()
}

// Reboot supports soft (reboot), systemd-soft (systemctl soft-reboot)
// and hard (stop+start) per spec §4.7.
func (g *VirtualGuest) Reboot(ctx context.Context, mode RebootMode, customCmd string, feelingSafe bool, timeout time.Duration) error {
	if customCmd != "" && !feelingSafe {
		return fmt.Errorf("guest %s: custom reboot command requires feeling-safe", g.name)
	}

	g.set(types.GuestRebooting)
	rebootCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	switch mode {
	case RebootHard:
		if err := g.Stop(rebootCtx); err != nil {
			return err
		}
		return g.Start(rebootCtx, timeout)
	case RebootSystemdSoft:
		cmd := customCmd
		if cmd == "" {
			cmd = "systemctl soft-reboot"
		}
		if _, err := g.Exec(rebootCtx, []string{"sh", "-c", cmd}, ExecOptions{}); err != nil {
			g.logger.Warn().Err(err).Msg("systemd-soft reboot command failed")
		}
	default:
		cmd := customCmd
		if cmd == "" {
			cmd = "reboot"
		}
		if _, err := g.Exec(rebootCtx, []string{"sh", "-c", cmd}, ExecOptions{}); err != nil {
			g.logger.Warn().Err(err).Msg("soft reboot command failed")
		}
	}

	if err := g.waitReady(rebootCtx); err != nil {
		return fmt.Errorf("guest %s: reboot readiness: %w", g.name, err)
	}
	g.set(types.GuestReady)
	return nil
}

func (g *VirtualGuest) Facts(ctx context.Context) (types.GuestFacts, error) {
	return g.factsCache.get(func() (types.GuestFacts, error) {
		res, err := g.Exec(ctx, []string{"uname", "-srm"}, ExecOptions{Timeout: 10 * time.Second})
		if err != nil {
			return types.GuestFacts{}, err
		}
		return types.GuestFacts{Kernel: trimNL(res.Stdout)}, nil
	})
}
