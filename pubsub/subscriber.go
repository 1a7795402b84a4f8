package pubsub

import "github.com/hermeslog/hermes"

// Subscriber receives published records for the topics it is registered
// under. A subscriber only needs to implement the handlers relevant to
// the record kinds it cares about; Subscriber is the full interface so
// embedding NoopSubscriber lets a caller override just one method.
type Subscriber interface {
	OnEvent(topic string, e *hermes.Event)
	OnTransaction(topic string, t *hermes.Transaction)
	OnTransactionGroup(topic string, g *hermes.TransactionGroup)
	// Stop is called once when the bus is stopped, so a subscriber can
	// flush buffered state (an open file, a network client) before the
	// bus drops its reference.
	Stop()
}

// NoopSubscriber implements Subscriber with no-op handlers so concrete
// subscribers can embed it and override only the methods they need.
type NoopSubscriber struct{}

func (NoopSubscriber) OnEvent(string, *hermes.Event)                       {}
func (NoopSubscriber) OnTransaction(string, *hermes.Transaction)           {}
func (NoopSubscriber) OnTransactionGroup(string, *hermes.TransactionGroup) {}
func (NoopSubscriber) Stop()                                               {}

// Publisher is the write side of a bus, kept separate from Subscriber so
// replay (a pure publisher) doesn't need to implement Subscriber's
// methods just to call Publish.
type Publisher interface {
	PublishEvent(topic string, e *hermes.Event)
	PublishTransaction(topic string, t *hermes.Transaction)
	PublishTransactionGroup(topic string, g *hermes.TransactionGroup)
}
