package guest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/tmt/pkg/types"
)

func TestLocalGuestExec(t *testing.T) {
	g, err := NewLocalGuest(types.NodeSpec{Name: "default-0"}, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, g.Start(context.Background(), time.Second))
	assert.Equal(t, types.GuestReady, g.Lifecycle())

	res, err := g.Exec(context.Background(), []string{"sh", "-c", "echo hello"}, ExecOptions{Timeout: 2 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "hello\n", res.Stdout)
}

func TestLocalGuestExecNonZeroExit(t *testing.T) {
	g, err := NewLocalGuest(types.NodeSpec{Name: "default-0"}, zerolog.Nop())
	require.NoError(t, err)

	res, err := g.Exec(context.Background(), []string{"sh", "-c", "exit 3"}, ExecOptions{Timeout: 2 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
}

func TestLocalGuestPushPull(t *testing.T) {
	g, err := NewLocalGuest(types.NodeSpec{Name: "default-0"}, zerolog.Nop())
	require.NoError(t, err)

	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	dest := filepath.Join(dir, "dest.txt")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o644))

	require.NoError(t, g.Push(context.Background(), src, dest))
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	back := filepath.Join(dir, "back.txt")
	require.NoError(t, g.Pull(context.Background(), dest, back, PullOptions{}))
	data, err = os.ReadFile(back)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
}

func TestLocalGuestRebootUnsupported(t *testing.T) {
	g, err := NewLocalGuest(types.NodeSpec{Name: "default-0"}, zerolog.Nop())
	require.NoError(t, err)

	err = g.Reboot(context.Background(), RebootSoft, "", false, time.Second)
	var unsupported *ErrUnsupported
	assert.ErrorAs(t, err, &unsupported)
}

func TestFactsCacheFetchesOnce(t *testing.T) {
	calls := 0
	var c factsCache
	fetch := func() (types.GuestFacts, error) {
		calls++
		return types.GuestFacts{Arch: "x86_64"}, nil
	}

	f1, err := c.get(fetch)
	require.NoError(t, err)
	f2, err := c.get(fetch)
	require.NoError(t, err)

	assert.Equal(t, f1, f2)
	assert.Equal(t, 1, calls)
}

func TestFactsCacheRetriesAfterError(t *testing.T) {
	calls := 0
	var c factsCache
	fetch := func() (types.GuestFacts, error) {
		calls++
		if calls == 1 {
			return types.GuestFacts{}, assertErr{}
		}
		return types.GuestFacts{Arch: "aarch64"}, nil
	}

	_, err := c.get(fetch)
	require.Error(t, err)

	f, err := c.get(fetch)
	require.NoError(t, err)
	assert.Equal(t, "aarch64", f.Arch)
	assert.Equal(t, 2, calls)
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }

func TestLifecycleQuarantine(t *testing.T) {
	var s lifecycleState
	s.set(types.GuestReady)
	assert.Equal(t, types.GuestReady, s.get())

	s.quarantine("lost connection")
	assert.Equal(t, types.GuestLost, s.get())
	quarantined, reason := s.quarantined()
	assert.True(t, quarantined)
	assert.Equal(t, "lost connection", reason)
}

// fakeGuest lets reboot.go's escalation logic be tested without a real
// provisioner backend.
type fakeGuest struct {
	name          string
	rebootResults map[RebootMode]error
	calls         []RebootMode
}

func (f *fakeGuest) Name() string { return f.name }
func (f *fakeGuest) How() string  { return "fake" }
func (f *fakeGuest) Capabilities() map[Capability]bool { return nil }
func (f *fakeGuest) Start(ctx context.Context, bootTimeout time.Duration) error { return nil }
func (f *fakeGuest) Stop(ctx context.Context) error                            { return nil }
func (f *fakeGuest) Exec(ctx context.Context, cmd []string, opts ExecOptions) (ExecResult, error) {
	return ExecResult{}, nil
}
func (f *fakeGuest) Push(ctx context.Context, src, dest string) error { return nil }
func (f *fakeGuest) Pull(ctx context.Context, src, dest string, opts PullOptions) error {
	return nil
}
func (f *fakeGuest) Facts(ctx context.Context) (types.GuestFacts, error) {
	return types.GuestFacts{}, nil
}
func (f *fakeGuest) Lifecycle() types.GuestLifecycle { return types.GuestReady }
func (f *fakeGuest) Quarantine(reason string)        {}

func (f *fakeGuest) Reboot(ctx context.Context, mode RebootMode, customCmd string, feelingSafe bool, timeout time.Duration) error {
	f.calls = append(f.calls, mode)
	return f.rebootResults[mode]
}

func TestCoordinateEscalatesToHardWhenAllowed(t *testing.T) {
	g := &fakeGuest{
		name: "default-0",
		rebootResults: map[RebootMode]error{
			RebootSoft: assertErr{},
			RebootHard: nil,
		},
	}

	err := Coordinate(context.Background(), g, RebootSoft, "", false, true, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []RebootMode{RebootSoft, RebootHard}, g.calls)
}

func TestCoordinateDoesNotEscalateWhenNotAllowed(t *testing.T) {
	g := &fakeGuest{
		name: "default-0",
		rebootResults: map[RebootMode]error{
			RebootSoft: assertErr{},
		},
	}

	err := Coordinate(context.Background(), g, RebootSoft, "", false, false, time.Second)
	require.Error(t, err)
	assert.Equal(t, []RebootMode{RebootSoft}, g.calls)
}

func TestCoordinateReportsUnsupportedHard(t *testing.T) {
	g := &fakeGuest{
		name: "default-0",
		rebootResults: map[RebootMode]error{
			RebootSoft: assertErr{},
			RebootHard: &ErrUnsupported{Guest: "default-0", Op: "hard reboot"},
		},
	}

	err := Coordinate(context.Background(), g, RebootSoft, "", false, true, time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not support hard reboot")
}
