/*
Package events provides an in-memory event broker for run lifecycle
notifications.

The broker decouples the plan executor (which knows when a step, guest,
or test transitions) from whatever is watching — a CLI progress printer,
the run driver's interrupt handling, or a test harness asserting on
the sequence of events a run produced.

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	broker.WatchInterrupt()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	go func() {
		for ev := range sub {
			if ev.Type == events.EventInterrupt {
				cancel()
			}
		}
	}()

	broker.Publish(&events.Event{Type: events.EventPlanStarted, Message: plan.Name})

Publish never blocks the caller past the broker's own 100-event buffer;
a slow or absent subscriber drops events rather than stalling the run.
*/
package events
