package step

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/tmt/pkg/events"
	"github.com/cuemby/tmt/pkg/guest"
	"github.com/cuemby/tmt/pkg/scheduler"
	"github.com/cuemby/tmt/pkg/types"
	"github.com/cuemby/tmt/pkg/workdir"
)

// fakeGuest is a minimal in-memory guest.Guest used by every test file
// in this package: execHandler lets a test script a guest's responses
// without a real provisioner backend.
type fakeGuest struct {
	name        string
	stopCalls   int
	stopErr     error
	execHandler func(cmd []string, opts guest.ExecOptions) (guest.ExecResult, error)
	rebootErr   error
	caps        map[guest.Capability]bool
}

func (f *fakeGuest) Name() string { return f.name }
func (f *fakeGuest) How() string  { return "fake" }
func (f *fakeGuest) Capabilities() map[guest.Capability]bool {
	if f.caps != nil {
		return f.caps
	}
	return map[guest.Capability]bool{}
}
func (f *fakeGuest) Start(ctx context.Context, bootTimeout time.Duration) error { return nil }
func (f *fakeGuest) Stop(ctx context.Context) error {
	f.stopCalls++
	return f.stopErr
}
func (f *fakeGuest) Exec(ctx context.Context, cmd []string, opts guest.ExecOptions) (guest.ExecResult, error) {
	if f.execHandler != nil {
		return f.execHandler(cmd, opts)
	}
	return guest.ExecResult{ExitCode: 0}, nil
}
func (f *fakeGuest) Push(ctx context.Context, src, dest string) error { return nil }
func (f *fakeGuest) Pull(ctx context.Context, src, dest string, opts guest.PullOptions) error {
	return nil
}
func (f *fakeGuest) Facts(ctx context.Context) (types.GuestFacts, error) {
	return types.GuestFacts{PackageManager: "dnf"}, nil
}
func (f *fakeGuest) Lifecycle() types.GuestLifecycle { return types.GuestReady }
func (f *fakeGuest) Quarantine(reason string)        {}
func (f *fakeGuest) Reboot(ctx context.Context, mode guest.RebootMode, customCmd string, feelingSafe bool, timeout time.Duration) error {
	return f.rebootErr
}

func newTestContext(t *testing.T, plan *types.Plan) *Context {
	t.Helper()
	dir := t.TempDir()
	mgr, err := workdir.NewManager(dir)
	require.NoError(t, err)
	t.Cleanup(func() { mgr.Close() })

	run, err := mgr.AllocRun("", false)
	require.NoError(t, err)
	t.Cleanup(func() { run.Close() })

	broker := events.NewBroker()
	sc := NewContext(run, plan, nil, broker)
	sc.Logger = zerolog.Nop()
	sc.Scheduler = scheduler.NewScheduler()
	return sc
}

// newContextSharingRun builds a fresh Context against the same
// workdir.Run as an existing one, simulating a process restart that
// resumes mid-plan and must read step state back off disk.
func newContextSharingRun(sc *Context, plan *types.Plan) *Context {
	fresh := NewContext(sc.Run, plan, sc.Tree, sc.Events)
	fresh.Logger = zerolog.Nop()
	fresh.Scheduler = scheduler.NewScheduler()
	return fresh
}
