// Package replay implements the k-way, per-kind merge that drives
// Hermes's stream(bus, with_transactions) entry point (spec.md §4.7):
// every event/transaction/group chunk, decoded once, merged by key
// within its own kind, and published onto a pubsub.MessageBus. Each step
// publishes the smallest key among the chunks' current records, and each
// chunk is walked in its stored order, so a kind's output is in
// ascending-key order only when every chunk of it is key-ordered.
// Ordering across kinds is not guaranteed.
package replay

import (
	"context"

	"github.com/hermeslog/hermes"
	"github.com/hermeslog/hermes/internal/chunkindex"
	"github.com/hermeslog/hermes/pubsub"
)

// Loader is the subset of loader.Loader replay needs.
type Loader interface {
	DecodeEventChunk(ctx context.Context, h chunkindex.Handle) (*hermes.EventBatch, error)
	DecodeTransactionChunk(ctx context.Context, h chunkindex.Handle) (*hermes.TransactionBatch, error)
	DecodeGroupChunk(ctx context.Context, h chunkindex.Handle) (*hermes.TransactionGroupBatch, error)
	EntriesOfType(recordType string) []chunkindex.Entry
	FileName(h chunkindex.Handle) string
}

// cursor walks one decoded batch's records in append order, tracking the
// batch's logical stream name for publication.
type cursor struct {
	name string
	pos  int
	key  func(i int) uint64
	n    int
	publish func(bus *pubsub.MessageBus, topic string, i int)
}

func (c *cursor) exhausted() bool { return c.pos >= c.n }

func (c *cursor) currentKey() uint64 { return c.key(c.pos) }

func (c *cursor) advance() { c.pos++ }

// Options configures Stream.
type Options struct {
	// WithTransactions includes transaction and group chunks in the
	// merge. When false, only events are replayed.
	WithTransactions bool
}

// Stream runs the merge over every registered event chunk (and, if
// opts.WithTransactions, every transaction/group chunk too), publishing
// each record on bus under its file's logical stream name.
func Stream(ctx context.Context, l Loader, bus *pubsub.MessageBus, opts Options) error {
	eventCursors, err := buildEventCursors(ctx, l)
	if err != nil {
		return err
	}

	var txCursors, groupCursors []*cursor
	if opts.WithTransactions {
		txCursors, err = buildTransactionCursors(ctx, l)
		if err != nil {
			return err
		}
		groupCursors, err = buildGroupCursors(ctx, l)
		if err != nil {
			return err
		}
	}

	for {
		eDone := allExhausted(eventCursors)
		tDone := allExhausted(txCursors)
		gDone := allExhausted(groupCursors)
		if eDone && tDone && gDone {
			return nil
		}

		if !eDone {
			advanceSmallest(bus, eventCursors)
		}
		if !tDone {
			advanceSmallest(bus, txCursors)
		}
		if !gDone {
			advanceSmallest(bus, groupCursors)
		}
	}
}

func allExhausted(cursors []*cursor) bool {
	for _, c := range cursors {
		if !c.exhausted() {
			return false
		}
	}
	return true
}

// advanceSmallest publishes the record at the smallest key among every
// not-yet-exhausted cursor in the given kind, ties broken by the
// cursor's position in the slice (insertion order), then advances it.
func advanceSmallest(bus *pubsub.MessageBus, cursors []*cursor) {
	best := -1
	var bestKey uint64
	for i, c := range cursors {
		if c.exhausted() {
			continue
		}
		k := c.currentKey()
		if best == -1 || k < bestKey {
			best = i
			bestKey = k
		}
	}
	if best == -1 {
		return
	}
	c := cursors[best]
	c.publish(bus, c.name, c.pos)
	c.advance()
}

func buildEventCursors(ctx context.Context, l Loader) ([]*cursor, error) {
	var cursors []*cursor
	for _, e := range l.EntriesOfType("event") {
		batch, err := l.DecodeEventChunk(ctx, e.Handle)
		if err != nil {
			return nil, err
		}
		if batch.Len() == 0 {
			continue
		}
		records := batch.Records()
		cursors = append(cursors, &cursor{
			name: l.FileName(e.Handle),
			n:    len(records),
			key:  func(i int) uint64 { return records[i].Time() },
			publish: func(bus *pubsub.MessageBus, topic string, i int) {
				bus.PublishEvent(topic, records[i])
			},
		})
	}
	return cursors, nil
}

func buildTransactionCursors(ctx context.Context, l Loader) ([]*cursor, error) {
	var cursors []*cursor
	for _, e := range l.EntriesOfType("transaction") {
		batch, err := l.DecodeTransactionChunk(ctx, e.Handle)
		if err != nil {
			return nil, err
		}
		if batch.Len() == 0 {
			continue
		}
		records := batch.Records()
		cursors = append(cursors, &cursor{
			name: l.FileName(e.Handle),
			n:    len(records),
			key:  func(i int) uint64 { return records[i].StartTime() },
			publish: func(bus *pubsub.MessageBus, topic string, i int) {
				bus.PublishTransaction(topic, records[i])
			},
		})
	}
	return cursors, nil
}

func buildGroupCursors(ctx context.Context, l Loader) ([]*cursor, error) {
	var cursors []*cursor
	for _, e := range l.EntriesOfType("transaction-group") {
		batch, err := l.DecodeGroupChunk(ctx, e.Handle)
		if err != nil {
			return nil, err
		}
		if batch.Len() == 0 {
			continue
		}
		records := batch.Records()
		cursors = append(cursors, &cursor{
			name: l.FileName(e.Handle),
			n:    len(records),
			key:  func(i int) uint64 { return records[i].StartTime() },
			publish: func(bus *pubsub.MessageBus, topic string, i int) {
				bus.PublishTransactionGroup(topic, records[i])
			},
		})
	}
	return cursors, nil
}
