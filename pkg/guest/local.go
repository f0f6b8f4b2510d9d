package guest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/tmt/pkg/types"
)

// LocalGuest runs tests directly on the runner host via os/exec, the
// `local` provisioner variant for CI smoke-testing a metadata tree
// without provisioning anything.
type LocalGuest struct {
	factsCache
	lifecycleState

	name   string
	logger zerolog.Logger
}

// NewLocalGuest builds a guest that execs on the current host.
func NewLocalGuest(spec types.NodeSpec, logger zerolog.Logger) (*LocalGuest, error) {
	return &LocalGuest{
		name:   spec.Name,
		logger: logger.With().Str("guest", spec.Name).Str("how", "local").Logger(),
	}, nil
}

func (g *LocalGuest) Name() string { return g.name }
func (g *LocalGuest) How() string  { return "local" }

func (g *LocalGuest) Capabilities() map[Capability]bool {
	return map[Capability]bool{CapExec: true, CapPush: true, CapPull: true, CapFacts: true}
}

func (g *LocalGuest) Lifecycle() types.GuestLifecycle { return g.get() }
func (g *LocalGuest) Quarantine(reason string)        { g.quarantine(reason) }

// Start is a no-op: the local guest is always reachable.
func (g *LocalGuest) Start(ctx context.Context, bootTimeout time.Duration) error {
	g.set(types.GuestReady)
	return nil
}

func (g *LocalGuest) Stop(ctx context.Context) error {
	g.set(types.GuestStopped)
	return nil
}

func (g *LocalGuest) Exec(ctx context.Context, cmdArgs []string, opts ExecOptions) (ExecResult, error) {
	if len(cmdArgs) == 0 {
		return ExecResult{}, fmt.Errorf("guest %s: empty command", g.name)
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, cmdArgs[0], cmdArgs[1:]...)
	cmd.Dir = opts.Cwd
	cmd.Env = os.Environ()
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
	return res, err
}

// Push and Pull are plain filesystem copies, src and dest both
// already on the same host.
func (g *LocalGuest) Push(ctx context.Context, src, dest string) error {
	return copyFile(src, dest)
}

func (g *LocalGuest) Pull(ctx context.Context, src, dest string, opts PullOptions) error {
	return copyFile(src, dest)
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	fi, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, fi.Mode().Perm())
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

// Reboot is unsupported: the local guest is the runner host itself.
func (g *LocalGuest) Reboot(ctx context.Context, mode RebootMode, customCmd string, feelingSafe bool, timeout time.Duration) error {
	return &ErrUnsupported{Guest: g.name, Op: string(mode) + " reboot"}
}

func (g *LocalGuest) Facts(ctx context.Context) (types.GuestFacts, error) {
	return g.factsCache.get(func() (types.GuestFacts, error) {
		res, err := g.Exec(ctx, []string{"uname", "-srm"}, ExecOptions{Timeout: 5 * time.Second})
		if err != nil {
			return types.GuestFacts{}, err
		}
		return types.GuestFacts{Kernel: trimNL(res.Stdout)}, nil
	})
}
