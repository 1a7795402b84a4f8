// Package pubsub implements Hermes's replay sink: a topic-keyed message
// bus with priority-ordered subscribers (spec.md §4.10), plus a Kafka
// sink subscriber for forwarding replayed records to an external topic.
package pubsub

import (
	"sort"
	"sync"

	"github.com/hermeslog/hermes"
)

type subscriberEntry struct {
	sub      Subscriber
	priority int
	seq      int // insertion order, for stable tie-break
}

// MessageBus fans published records out to subscribers registered per
// topic, in ascending-priority order (ties broken by registration order).
type MessageBus struct {
	mu     sync.Mutex
	topics map[string][]subscriberEntry
	seq    int
}

// NewMessageBus returns an empty bus.
func NewMessageBus() *MessageBus {
	return &MessageBus{topics: make(map[string][]subscriberEntry)}
}

// defaultBus is the process-wide bus spec.md §4.10 names.
var defaultBus = NewMessageBus()

// Default returns the process-wide default bus.
func Default() *MessageBus { return defaultBus }

// Subscribe registers sub under topic at the given priority. Lower
// priority values run first.
func (b *MessageBus) Subscribe(topic string, sub Subscriber, priority int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	entries := append(b.topics[topic], subscriberEntry{sub: sub, priority: priority, seq: b.seq})
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].priority != entries[j].priority {
			return entries[i].priority < entries[j].priority
		}
		return entries[i].seq < entries[j].seq
	})
	b.topics[topic] = entries
}

func (b *MessageBus) subscribers(topic string) []Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()
	entries := b.topics[topic]
	out := make([]Subscriber, len(entries))
	for i, e := range entries {
		out[i] = e.sub
	}
	return out
}

// PublishEvent delivers e to every subscriber of topic, in priority
// order, synchronously.
func (b *MessageBus) PublishEvent(topic string, e *hermes.Event) {
	for _, s := range b.subscribers(topic) {
		s.OnEvent(topic, e)
	}
}

func (b *MessageBus) PublishTransaction(topic string, t *hermes.Transaction) {
	for _, s := range b.subscribers(topic) {
		s.OnTransaction(topic, t)
	}
}

func (b *MessageBus) PublishTransactionGroup(topic string, g *hermes.TransactionGroup) {
	for _, s := range b.subscribers(topic) {
		s.OnTransactionGroup(topic, g)
	}
}

// Stop invokes Stop on every registered subscriber exactly once, then
// clears every topic.
func (b *MessageBus) Stop() {
	b.mu.Lock()
	seen := make(map[Subscriber]bool)
	var all []Subscriber
	for _, entries := range b.topics {
		for _, e := range entries {
			if !seen[e.sub] {
				seen[e.sub] = true
				all = append(all, e.sub)
			}
		}
	}
	b.topics = make(map[string][]subscriberEntry)
	b.mu.Unlock()

	for _, s := range all {
		s.Stop()
	}
}
