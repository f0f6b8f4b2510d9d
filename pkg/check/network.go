package check

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/cuemby/tmt/pkg/types"
)

// TCPChecker probes whether a TCP address accepts connections. It isn't
// one of the named test-result checks; it's used by the guest
// provisioners (virtual, connect) to poll for SSH readiness after start
// and after a reboot, before handing control back to the step engine.
type TCPChecker struct {
	Address string
	Timeout time.Duration
}

// NewTCPChecker creates a TCP readiness checker.
func NewTCPChecker(address string) *TCPChecker {
	return &TCPChecker{
		Address: address,
		Timeout: 5 * time.Second,
	}
}

// Check attempts a single connection.
func (t *TCPChecker) Check(ctx context.Context) Result {
	start := time.Now()

	dialer := &net.Dialer{Timeout: t.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", t.Address)
	if err != nil {
		return Result{
			Outcome:   types.OutcomeFail,
			Message:   fmt.Sprintf("connection to %s failed: %v", t.Address, err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}
	defer conn.Close()

	return Result{
		Outcome:   types.OutcomePass,
		Message:   fmt.Sprintf("TCP connection to %s succeeded", t.Address),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Kind returns KindTCP.
func (t *TCPChecker) Kind() Kind {
	return KindTCP
}

// WithTimeout sets the connection timeout.
func (t *TCPChecker) WithTimeout(timeout time.Duration) *TCPChecker {
	t.Timeout = timeout
	return t
}

// WaitReady polls address every interval until it accepts a connection
// or ctx is cancelled; it has no deadline of its own. Used by
// the virtual and connect guests while waiting for SSH to come up.
func WaitReady(ctx context.Context, address string, interval time.Duration) error {
	checker := NewTCPChecker(address)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if res := checker.Check(ctx); res.Outcome == types.OutcomePass {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
