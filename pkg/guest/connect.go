package guest

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/rs/zerolog"

	"github.com/cuemby/tmt/pkg/check"
	"github.com/cuemby/tmt/pkg/config"
	"github.com/cuemby/tmt/pkg/types"
)

// Default SSH tuning per spec §4.3.
const (
	DefaultConnectionAttempts  = 5
	DefaultConnectTimeout      = 60 * time.Second
	DefaultServerAliveInterval = 5 * time.Second
	DefaultServerAliveCount    = 60
)

// ConnectGuest is the `connect` provisioner variant: an existing
// machine reached over SSH, with no lifecycle management beyond
// connecting and (if permitted) issuing a reboot command.
type ConnectGuest struct {
	factsCache
	lifecycleState

	name     string
	addr     string
	user     string
	keyPath  string

	attempts      int
	connectTO     time.Duration
	aliveInterval time.Duration
	aliveCount    int

	logger zerolog.Logger
	client *ssh.Client

	cancelKeepalive context.CancelFunc
}

// NewConnectGuest builds an SSH-backed guest from spec. Options read:
// address (host:port, required), user (default root), key (path to a
// private key; ssh-agent is not consulted, so connecting without a key
// fails).
//
// Tuning follows the override-before-default precedence spec §4.3
// requires: config.SSHOption values (set via TMT_SSH_*) are consulted
// first; spec.Options values next; built-in defaults last.
func NewConnectGuest(spec types.NodeSpec, logger zerolog.Logger) (*ConnectGuest, error) {
	addr := optString(spec.Options, "address", "")
	if addr == "" {
		return nil, fmt.Errorf("guest %s: connect provisioner requires an address option", spec.Name)
	}

	g := &ConnectGuest{
		name:          spec.Name,
		addr:          addr,
		user:          optString(spec.Options, "user", "root"),
		keyPath:       optString(spec.Options, "key", ""),
		attempts:      sshIntOption("connection-attempts", spec.Options, DefaultConnectionAttempts),
		connectTO:     sshDurationOption("connect-timeout", spec.Options, DefaultConnectTimeout),
		aliveInterval: sshDurationOption("server-alive-interval", spec.Options, DefaultServerAliveInterval),
		aliveCount:    sshIntOption("server-alive-count-max", spec.Options, DefaultServerAliveCount),
		logger:        logger.With().Str("guest", spec.Name).Str("how", "connect").Logger(),
	}
	return g, nil
}

// sshIntOption applies the TMT_SSH_<OPTION> ambient override, then the
// guest's own NodeSpec option, then def.
func sshIntOption(option string, opts map[string]interface{}, def int) int {
	if v, ok := config.SSHOption(option); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return optInt(opts, option, def)
}

func sshDurationOption(option string, opts map[string]interface{}, def time.Duration) time.Duration {
	if v, ok := config.SSHOption(option); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	if v, ok := opts[option]; ok {
		if s, ok := v.(string); ok {
			if d, err := time.ParseDuration(s); err == nil {
				return d
			}
		}
	}
	return def
}

func optInt(opts map[string]interface{}, key string, def int) int {
	if opts == nil {
		return def
	}
	if v, ok := opts[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case float64:
			return int(n)
		}
	}
	return def
}

func (g *ConnectGuest) Name() string { return g.name }
func (g *ConnectGuest) How() string  { return "connect" }

func (g *ConnectGuest) Capabilities() map[Capability]bool {
	return map[Capability]bool{
		CapExec: true, CapPush: true, CapPull: true, CapFacts: true,
		CapRebootSoft: true, CapRebootSystemd: true,
	}
}

func (g *ConnectGuest) Lifecycle() types.GuestLifecycle { return g.get() }
func (g *ConnectGuest) Quarantine(reason string)        { g.quarantine(reason) }

// Start dials SSH with up to attempts retries spaced by connectTO/attempts,
// starts a ServerAlive-style keepalive loop, and blocks until reachable
// or bootTimeout elapses.
func (g *ConnectGuest) Start(ctx context.Context, bootTimeout time.Duration) error {
	if g.get() == types.GuestReady {
		return nil
	}
	g.set(types.GuestStarting)

	bootCtx, cancel := context.WithTimeout(ctx, bootTimeout)
	defer cancel()

	authMethods, err := g.authMethods()
	if err != nil {
		g.set(types.GuestLost)
		return fmt.Errorf("guest %s: ssh auth: %w", g.name, err)
	}

	cfg := &ssh.ClientConfig{
		User:            g.user,
		Auth:            authMethods,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         g.connectTO,
	}

	var lastErr error
	for attempt := 1; attempt <= g.attempts; attempt++ {
		select {
		case <-bootCtx.Done():
			g.set(types.GuestLost)
			return fmt.Errorf("guest %s: boot timeout dialing ssh: %w", g.name, bootCtx.Err())
		default:
		}

		client, dialErr := ssh.Dial("tcp", g.addr, cfg)
		if dialErr == nil {
			g.client = client
			g.startKeepalive()
			g.set(types.GuestReady)
			return nil
		}
		lastErr = dialErr
		g.logger.Debug().Err(dialErr).Int("attempt", attempt).Msg("ssh dial failed, retrying")

		select {
		case <-bootCtx.Done():
		case <-time.After(g.connectTO / time.Duration(g.attempts)):
		}
	}

	g.set(types.GuestLost)
	return fmt.Errorf("guest %s: ssh dial failed after %d attempts: %w", g.name, g.attempts, lastErr)
}

// startKeepalive sends a keepalive request every aliveInterval;
// aliveCount consecutive failures quarantine the guest, the SSH
// analogue of ServerAliveCountMax.
func (g *ConnectGuest) startKeepalive() {
	ctx, cancel := context.WithCancel(context.Background())
	g.cancelKeepalive = cancel

	go func() {
		ticker := time.NewTicker(g.aliveInterval)
		defer ticker.Stop()
		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if g.client == nil {
					return
				}
				_, _, err := g.client.SendRequest("keepalive@tmt", true, nil)
				if err != nil {
					failures++
					if failures >= g.aliveCount {
						g.quarantine("lost connection")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()
}

func (g *ConnectGuest) authMethods() ([]ssh.AuthMethod, error) {
	if g.keyPath == "" {
		return nil, fmt.Errorf("ssh key-based auth required: no key option set")
	}
	data, err := os.ReadFile(g.keyPath)
	if err != nil {
		return nil, fmt.Errorf("read key %s: %w", g.keyPath, err)
	}
	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("parse key %s: %w", g.keyPath, err)
	}
	return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
}

// Stop closes the SSH session; the `connect` variant never owns the
// machine's lifecycle, so this never powers anything off.
func (g *ConnectGuest) Stop(ctx context.Context) error {
	if g.cancelKeepalive != nil {
		g.cancelKeepalive()
	}
	if g.client != nil {
		g.client.Close()
	}
	g.set(types.GuestStopped)
	return nil
}

func (g *ConnectGuest) Exec(ctx context.Context, cmd []string, opts ExecOptions) (ExecResult, error) {
	if g.client == nil {
		return ExecResult{}, fmt.Errorf("guest %s: not connected", g.name)
	}
	session, err := g.client.NewSession()
	if err != nil {
		g.quarantine("lost connection")
		return ExecResult{}, fmt.Errorf("guest %s: open ssh session: %w", g.name, err)
	}
	defer session.Close()

	if opts.TTY {
		if err := session.RequestPty("xterm", 80, 24, ssh.TerminalModes{}); err != nil {
			return ExecResult{}, fmt.Errorf("guest %s: request pty: %w", g.name, err)
		}
	}
	for k, v := range opts.Env {
		session.Setenv(k, v)
	}
	if len(opts.Stdin) > 0 {
		session.Stdin = bytes.NewReader(opts.Stdin)
	}

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	command := shellJoin(cmd)
	if opts.Cwd != "" {
		command = "cd " + opts.Cwd + " && " + command
	}

	if opts.Timeout > 0 {
		done := make(chan error, 1)
		go func() { done <- session.Run(command) }()
		select {
		case err := <-done:
			return resultFromSessionErr(stdout.String(), stderr.String(), err)
		case <-time.After(opts.Timeout):
			session.Signal(ssh.SIGKILL)
			return ExecResult{Stdout: stdout.String(), Stderr: stderr.String(), TimedOut: true}, fmt.Errorf("guest %s: exec timed out", g.name)
		}
	}

	err = session.Run(command)
	return resultFromSessionErr(stdout.String(), stderr.String(), err)
}

func resultFromSessionErr(stdout, stderr string, err error) (ExecResult, error) {
	res := ExecResult{Stdout: stdout, Stderr: stderr}
	if err == nil {
		return res, nil
	}
	if exitErr, ok := err.(*ssh.ExitError); ok {
		res.ExitCode = exitErr.ExitStatus()
		return res, nil
	}
	return res, err
}

func shellJoin(cmd []string) string {
	var b bytes.Buffer
	for i, c := range cmd {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(c)
	}
	return b.String()
}

// Push copies a local file to dest over an SFTP-free `cat` pipe — SSH
// exec with stdin redirection, avoiding a dependency on the SFTP
// subsystem being enabled on the target.
func (g *ConnectGuest) Push(ctx context.Context, src, dest string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("guest %s: read %s: %w", g.name, src, err)
	}
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("guest %s: stat %s: %w", g.name, src, err)
	}
	script := fmt.Sprintf("cat > %s && chmod %o %s", dest, info.Mode().Perm(), dest)
	_, err = g.Exec(ctx, []string{"sh", "-c", script}, ExecOptions{Stdin: data, Timeout: 30 * time.Second})
	return err
}

func (g *ConnectGuest) Pull(ctx context.Context, src, dest string, opts PullOptions) error {
	res, err := g.Exec(ctx, []string{"cat", src}, ExecOptions{Timeout: 30 * time.Second})
	if err != nil {
		return err
	}
	return os.WriteFile(dest, []byte(res.Stdout), 0o644)
}

// Reboot per spec §4.7: soft issues the provisioner's default reboot
// command (or a feeling-safe custom one), systemd-soft runs
// `systemctl soft-reboot`, hard is unsupported for a bare SSH
// connection (the remote machine's power control is out of the
// connect guest's reach).
func (g *ConnectGuest) Reboot(ctx context.Context, mode RebootMode, customCmd string, feelingSafe bool, timeout time.Duration) error {
	if mode == RebootHard {
		return &ErrUnsupported{Guest: g.name, Op: "hard reboot"}
	}
	if customCmd != "" && !feelingSafe {
		return fmt.Errorf("guest %s: custom reboot command requires feeling-safe", g.name)
	}

	cmd := customCmd
	if cmd == "" {
		if mode == RebootSystemdSoft {
			cmd = "systemctl soft-reboot"
		} else {
			cmd = "reboot"
		}
	}

	g.set(types.GuestRebooting)
	rebootCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// The reboot command's own connection usually drops before a
	// response arrives; an error here is expected and not fatal.
	g.Exec(rebootCtx, []string{"sh", "-c", cmd}, ExecOptions{})
	g.Stop(rebootCtx)

	host, _, err := net.SplitHostPort(g.addr)
	if err != nil {
		host = g.addr
	}
	if err := check.WaitReady(rebootCtx, host+":22", 2*time.Second); err != nil {
		return fmt.Errorf("guest %s: reboot readiness: %w", g.name, err)
	}

	return g.Start(rebootCtx, timeout)
}

func (g *ConnectGuest) Facts(ctx context.Context) (types.GuestFacts, error) {
	return g.factsCache.get(func() (types.GuestFacts, error) {
		res, err := g.Exec(ctx, []string{"uname", "-srm"}, ExecOptions{Timeout: 10 * time.Second})
		if err != nil {
			return types.GuestFacts{}, err
		}
		return types.GuestFacts{Kernel: trimNL(res.Stdout)}, nil
	})
}
