package run

import (
	"context"

	"github.com/cuemby/tmt/pkg/events"
)

// WatchForInterrupt returns a context derived from parent that's
// cancelled the moment broker publishes events.EventInterrupt — the
// cooperative-cancellation signal events.Broker.WatchInterrupt raises
// on the process's first SIGINT/SIGTERM. Every guest suspension point
// (exec/push/pull/reboot/sleep) already selects on its own context
// next to its I/O wait, so cancelling here is what actually makes
// spec §4.9's "observe between suspension points" model take effect:
// the in-flight step notices on its next wait and winds down instead
// of being killed outright.
func WatchForInterrupt(parent context.Context, broker *events.Broker) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sub := broker.Subscribe()
	go func() {
		defer broker.Unsubscribe(sub)
		for {
			select {
			case ev, ok := <-sub:
				if !ok {
					return
				}
				if ev.Type == events.EventInterrupt {
					cancel()
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return ctx, cancel
}
