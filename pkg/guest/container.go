package guest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"syscall"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/rs/zerolog"

	"github.com/cuemby/tmt/pkg/types"
)

// Namespace is the containerd namespace tmt containers run under,
// kept separate from any other workload on the same containerd.
const Namespace = "tmt"

// DefaultSocketPath is the default containerd socket.
const DefaultSocketPath = "/run/containerd/containerd.sock"

// ContainerGuest runs the test framework wrapper inside a containerd
// container instead of a long-running service — same
// connect/pull/create/start sequence as the teacher's runtime client,
// generalized from "start a service" to "run one command to
// completion and capture its output".
type ContainerGuest struct {
	factsCache
	lifecycleState

	name    string
	image   string
	client  *containerd.Client
	logger  zerolog.Logger

	container containerd.Container
}

// NewContainerGuest dials containerd and prepares (without yet
// pulling) the container guest named by spec.
func NewContainerGuest(spec types.NodeSpec, logger zerolog.Logger) (*ContainerGuest, error) {
	socket := optString(spec.Options, "socket", DefaultSocketPath)
	image := optString(spec.Options, "image", "")
	if image == "" {
		return nil, fmt.Errorf("guest %s: container provisioner requires an image option", spec.Name)
	}

	client, err := containerd.New(socket)
	if err != nil {
		return nil, fmt.Errorf("guest %s: connect to containerd: %w", spec.Name, err)
	}

	g := &ContainerGuest{
		name:   spec.Name,
		image:  image,
		client: client,
		logger: logger.With().Str("guest", spec.Name).Str("how", "container").Logger(),
	}
	g.set(types.GuestNotStarted)
	return g, nil
}

func (g *ContainerGuest) Name() string { return g.name }
func (g *ContainerGuest) How() string  { return "container" }

func (g *ContainerGuest) Capabilities() map[Capability]bool {
	return map[Capability]bool{
		CapStart: true, CapStop: true, CapExec: true, CapPush: true,
		CapPull: true, CapFacts: true, CapRebootHard: true,
	}
}

func (g *ContainerGuest) Lifecycle() types.GuestLifecycle { return g.get() }
func (g *ContainerGuest) Quarantine(reason string)        { g.quarantine(reason) }

// Start pulls the image, creates the container and its task, and
// blocks until the task reports running or bootTimeout elapses.
func (g *ContainerGuest) Start(ctx context.Context, bootTimeout time.Duration) error {
	if g.get() == types.GuestReady {
		return nil
	}
	g.set(types.GuestStarting)

	ctx = namespaces.WithNamespace(ctx, Namespace)
	bootCtx, cancel := context.WithTimeout(ctx, bootTimeout)
	defer cancel()

	image, err := g.client.Pull(bootCtx, g.image, containerd.WithPullUnpack)
	if err != nil {
		g.set(types.GuestLost)
		return fmt.Errorf("guest %s: pull image %s: %w", g.name, g.image, err)
	}

	container, err := g.client.NewContainer(
		bootCtx,
		g.name,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(g.name+"-snapshot", image),
		containerd.WithNewSpec(oci.WithImageConfig(image), oci.WithProcessArgs("sleep", "infinity")),
	)
	if err != nil {
		g.set(types.GuestLost)
		return fmt.Errorf("guest %s: create container: %w", g.name, err)
	}
	g.container = container

	task, err := container.NewTask(bootCtx, cio.NullIO)
	if err != nil {
		g.set(types.GuestLost)
		return fmt.Errorf("guest %s: create task: %w", g.name, err)
	}
	if err := task.Start(bootCtx); err != nil {
		g.set(types.GuestLost)
		return fmt.Errorf("guest %s: start task: %w", g.name, err)
	}

	g.set(types.GuestReady)
	return nil
}

// Stop kills and deletes the container's task and the container's
// snapshot, mirroring the teacher's StopContainer/DeleteContainer
// pair collapsed into one guest-level operation.
func (g *ContainerGuest) Stop(ctx context.Context) error {
	if g.container == nil {
		return nil
	}
	ctx = namespaces.WithNamespace(ctx, Namespace)

	task, err := g.container.Task(ctx, nil)
	if err == nil {
		stopCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		if err := task.Kill(stopCtx, syscall.SIGTERM); err == nil {
			statusC, waitErr := task.Wait(stopCtx)
			if waitErr == nil {
				select {
				case <-statusC:
				case <-stopCtx.Done():
					task.Kill(ctx, syscall.SIGKILL)
				}
			}
		}
		task.Delete(ctx)
	}

	if err := g.container.Delete(ctx, containerd.WithSnapshotCleanup); err != nil {
		return fmt.Errorf("guest %s: delete container: %w", g.name, err)
	}
	g.set(types.GuestStopped)
	return nil
}

// Exec runs cmd as a new process inside the running task, the
// container analogue of the teacher's nsenter-based inspection —
// here used to invoke the test's framework wrapper instead.
func (g *ContainerGuest) Exec(ctx context.Context, cmd []string, opts ExecOptions) (ExecResult, error) {
	if len(cmd) == 0 {
		return ExecResult{}, fmt.Errorf("guest %s: empty command", g.name)
	}
	ctx = namespaces.WithNamespace(ctx, Namespace)

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	task, err := g.container.Task(ctx, nil)
	if err != nil {
		g.quarantine("lost connection")
		return ExecResult{}, fmt.Errorf("guest %s: task unavailable: %w", g.name, err)
	}

	var env []string
	for k, v := range opts.Env {
		env = append(env, k+"="+v)
	}

	var stdout, stderr bytes.Buffer
	var stdin io.Reader
	if len(opts.Stdin) > 0 {
		stdin = bytes.NewReader(opts.Stdin)
	}
	procSpec := &specs.Process{
		Args: cmd,
		Env:  env,
		Cwd:  opts.Cwd,
	}

	execID := "exec-" + strconv.FormatInt(time.Now().UnixNano(), 36)
	process, err := task.Exec(ctx, execID, procSpec, cio.NewCreator(cio.WithStreams(stdin, &stdout, &stderr)))
	if err != nil {
		return ExecResult{}, fmt.Errorf("guest %s: exec: %w", g.name, err)
	}
	defer process.Delete(ctx)

	statusC, err := process.Wait(ctx)
	if err != nil {
		return ExecResult{}, fmt.Errorf("guest %s: wait for exec: %w", g.name, err)
	}

	if err := process.Start(ctx); err != nil {
		return ExecResult{}, fmt.Errorf("guest %s: start exec: %w", g.name, err)
	}

	select {
	case status := <-statusC:
		code, _, err := status.Result()
		if err != nil {
			return ExecResult{}, fmt.Errorf("guest %s: exec result: %w", g.name, err)
		}
		if opts.Stdout != nil {
			io.Copy(opts.Stdout, &stdout)
		}
		if opts.Stderr != nil {
			io.Copy(opts.Stderr, &stderr)
		}
		return ExecResult{ExitCode: int(code), Stdout: stdout.String(), Stderr: stderr.String()}, nil
	case <-ctx.Done():
		process.Kill(ctx, syscall.SIGKILL)
		return ExecResult{TimedOut: true}, ctx.Err()
	}
}

// Push and Pull move a single file by streaming it through Exec's
// stdin/stdout, sufficient for the test trees (tarred by the caller)
// and results files this guest moves; a dedicated archive mount is
// out of scope for tmt's needs.
func (g *ContainerGuest) Push(ctx context.Context, src, dest string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("guest %s: read %s: %w", g.name, src, err)
	}
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("guest %s: stat %s: %w", g.name, src, err)
	}
	script := fmt.Sprintf("cat > %s && chmod %o %s", dest, info.Mode().Perm(), dest)
	_, err = g.Exec(ctx, []string{"sh", "-c", script}, ExecOptions{
		Timeout: 30 * time.Second,
		Stdin:   data,
	})
	return err
}

func (g *ContainerGuest) Pull(ctx context.Context, src, dest string, opts PullOptions) error {
	res, err := g.Exec(ctx, []string{"cat", src}, ExecOptions{Timeout: 30 * time.Second})
	if err != nil {
		return err
	}
	if err := os.WriteFile(dest, []byte(res.Stdout), 0o644); err != nil {
		return fmt.Errorf("guest %s: write %s: %w", g.name, dest, err)
	}
	return nil
}

func (g *ContainerGuest) Reboot(ctx context.Context, mode RebootMode, customCmd string, feelingSafe bool, timeout time.Duration) error {
	if mode != RebootHard {
		return &ErrUnsupported{Guest: g.name, Op: string(mode) + " reboot"}
	}
	if customCmd != "" && !feelingSafe {
		return fmt.Errorf("guest %s: custom reboot command requires feeling-safe", g.name)
	}
	g.set(types.GuestRebooting)
	if err := g.Stop(ctx); err != nil {
		return fmt.Errorf("guest %s: hard reboot stop: %w", g.name, err)
	}
	if err := g.Start(ctx, timeout); err != nil {
		return fmt.Errorf("guest %s: hard reboot start: %w", g.name, err)
	}
	return nil
}

func (g *ContainerGuest) Facts(ctx context.Context) (types.GuestFacts, error) {
	return g.factsCache.get(func() (types.GuestFacts, error) {
		res, err := g.Exec(ctx, []string{"uname", "-m"}, ExecOptions{Timeout: 10 * time.Second})
		if err != nil {
			return types.GuestFacts{}, err
		}
		return types.GuestFacts{Arch: trimNL(res.Stdout)}, nil
	})
}

func trimNL(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
