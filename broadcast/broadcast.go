// Package broadcast fans attendance transitions out to observers:
// dashboard clients over WebSocket and the status plane over MQTT.
// Every implementation is fire-and-forget; the ledger never waits on or
// fails because of an observer.
package broadcast

import "goattend/ledger"

// Multi combines multiple notifiers.
type Multi struct {
	notifiers []ledger.Notifier
}

// NewMulti returns a notifier that publishes to each of ns in order.
func NewMulti(ns ...ledger.Notifier) *Multi {
	return &Multi{notifiers: ns}
}

// Publish implements ledger.Notifier.
func (m *Multi) Publish(t ledger.Transition) {
	for _, n := range m.notifiers {
		n.Publish(t)
	}
}

// Noop implements ledger.Notifier but does nothing.
// Used when no broadcasters are configured.
type Noop struct{}

// Publish implements ledger.Notifier.
func (Noop) Publish(ledger.Transition) {}
