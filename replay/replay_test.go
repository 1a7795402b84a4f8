package replay

import (
	"context"
	"testing"

	"github.com/hermeslog/hermes"
	"github.com/hermeslog/hermes/internal/chunkindex"
	"github.com/hermeslog/hermes/pubsub"
)

type fakeLoader struct {
	events       map[chunkindex.Handle]*hermes.EventBatch
	transactions map[chunkindex.Handle]*hermes.TransactionBatch
	groups       map[chunkindex.Handle]*hermes.TransactionGroupBatch
	names        map[chunkindex.Handle]string
	byType       map[string][]chunkindex.Entry
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{
		events:       make(map[chunkindex.Handle]*hermes.EventBatch),
		transactions: make(map[chunkindex.Handle]*hermes.TransactionBatch),
		groups:       make(map[chunkindex.Handle]*hermes.TransactionGroupBatch),
		names:        make(map[chunkindex.Handle]string),
		byType:       make(map[string][]chunkindex.Entry),
	}
}

func (f *fakeLoader) addEventChunk(name string, batch *hermes.EventBatch) {
	h := chunkindex.Handle{FileIndex: len(f.byType["event"])}
	f.events[h] = batch
	f.names[h] = name
	f.byType["event"] = append(f.byType["event"], chunkindex.Entry{Handle: h})
}

func (f *fakeLoader) addTransactionChunk(name string, batch *hermes.TransactionBatch) {
	h := chunkindex.Handle{FileIndex: 1000 + len(f.byType["transaction"])}
	f.transactions[h] = batch
	f.names[h] = name
	f.byType["transaction"] = append(f.byType["transaction"], chunkindex.Entry{Handle: h})
}

func (f *fakeLoader) DecodeEventChunk(_ context.Context, h chunkindex.Handle) (*hermes.EventBatch, error) {
	return f.events[h], nil
}

func (f *fakeLoader) DecodeTransactionChunk(_ context.Context, h chunkindex.Handle) (*hermes.TransactionBatch, error) {
	return f.transactions[h], nil
}

func (f *fakeLoader) DecodeGroupChunk(_ context.Context, h chunkindex.Handle) (*hermes.TransactionGroupBatch, error) {
	return f.groups[h], nil
}

func (f *fakeLoader) EntriesOfType(recordType string) []chunkindex.Entry {
	return f.byType[recordType]
}

func (f *fakeLoader) FileName(h chunkindex.Handle) string {
	return f.names[h]
}

type recordingSubscriber struct {
	pubsub.NoopSubscriber
	eventTimes []uint64
}

func (s *recordingSubscriber) OnEvent(_ string, e *hermes.Event) {
	s.eventTimes = append(s.eventTimes, e.Time())
}

func TestStreamMergesEventsByTimeAscending(t *testing.T) {
	l := newFakeLoader()

	ids := hermes.NewIDAllocator()
	batchA := hermes.NewEventBatch()
	batchA.Append(hermes.NewEventWithIDs(ids, 30, "a"))
	batchA.Append(hermes.NewEventWithIDs(ids, 10, "a"))
	l.addEventChunk("stream-a", batchA)

	batchB := hermes.NewEventBatch()
	batchB.Append(hermes.NewEventWithIDs(ids, 20, "b"))
	batchB.Append(hermes.NewEventWithIDs(ids, 40, "b"))
	l.addEventChunk("stream-b", batchB)

	bus := pubsub.NewMessageBus()
	sub := &recordingSubscriber{}
	bus.Subscribe("stream-a", sub, 0)
	bus.Subscribe("stream-b", sub, 0)

	if err := Stream(context.Background(), l, bus, Options{}); err != nil {
		t.Fatalf("Stream: %v", err)
	}

	// Global k-way merge across every event cursor: batchA starts at 30,
	// batchB starts at 20, so 20 is picked first; batchB then advances to
	// 40 while batchA is still at 30.
	want := []uint64{20, 30, 10, 40}
	if len(sub.eventTimes) != len(want) {
		t.Fatalf("got %v; want %v", sub.eventTimes, want)
	}
	for i, v := range want {
		if sub.eventTimes[i] != v {
			t.Errorf("eventTimes[%d] = %d; want %d", i, sub.eventTimes[i], v)
		}
	}
}

func TestStreamWithoutTransactionsSkipsThem(t *testing.T) {
	l := newFakeLoader()
	ids := hermes.NewIDAllocator()

	batch := hermes.NewEventBatch()
	batch.Append(hermes.NewEventWithIDs(ids, 1, "a"))
	l.addEventChunk("stream-a", batch)

	txIDs := hermes.NewIDAllocator()
	tx := hermes.NewTransactionWithIDs(txIDs, "t")
	tx.AddEvent(hermes.NewEventWithIDs(ids, 5, "e"))
	tx.Finish()
	txBatch := hermes.NewTransactionBatch()
	txBatch.Append(tx)
	l.addTransactionChunk("tx-stream", txBatch)

	bus := pubsub.NewMessageBus()
	var txSeen int
	sub := &countingTxSubscriber{count: &txSeen}
	bus.Subscribe("tx-stream", sub, 0)

	if err := Stream(context.Background(), l, bus, Options{WithTransactions: false}); err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if txSeen != 0 {
		t.Errorf("txSeen = %d; want 0 when WithTransactions is false", txSeen)
	}
}

type countingTxSubscriber struct {
	pubsub.NoopSubscriber
	count *int
}

func (s *countingTxSubscriber) OnTransaction(string, *hermes.Transaction) {
	*s.count++
}
