package query_test

import (
	"testing"

	"github.com/hermeslog/hermes"
	"github.com/hermeslog/hermes/query"
)

func TestConcurrentEventsRange(t *testing.T) {
	ids := hermes.NewIDAllocator()
	batch := hermes.NewEventBatch()
	batch.Append(hermes.NewEventWithIDs(ids, 10, "a"))
	batch.Append(hermes.NewEventWithIDs(ids, 20, "b"))
	batch.Append(hermes.NewEventWithIDs(ids, 30, "c"))

	got := query.ConcurrentEvents(batch, 15, 25)
	if len(got) != 1 || got[0].Time() != 20 {
		t.Fatalf("ConcurrentEvents(15,25) = %v; want single event at time 20", got)
	}
}

func TestConcurrentEventsOfSingleRecord(t *testing.T) {
	ids := hermes.NewIDAllocator()
	batch := hermes.NewEventBatch()
	e1 := hermes.NewEventWithIDs(ids, 10, "a")
	e2 := hermes.NewEventWithIDs(ids, 10, "b")
	e3 := hermes.NewEventWithIDs(ids, 20, "c")
	batch.Append(e1)
	batch.Append(e2)
	batch.Append(e3)

	got := query.ConcurrentEventsOf(batch, e1)
	if len(got) != 2 {
		t.Fatalf("ConcurrentEventsOf = %v; want 2 events sharing time 10", got)
	}
}

func TestConcurrentTransactionsOverlap(t *testing.T) {
	ids := hermes.NewIDAllocator()
	eventIDs := hermes.NewIDAllocator()

	tx1 := hermes.NewTransactionWithIDs(ids, "t1")
	tx1.AddEvent(hermes.NewEventWithIDs(eventIDs, 0, "e"))
	tx1.AddEvent(hermes.NewEventWithIDs(eventIDs, 10, "e"))
	tx1.Finish()

	tx2 := hermes.NewTransactionWithIDs(ids, "t2")
	tx2.AddEvent(hermes.NewEventWithIDs(eventIDs, 5, "e"))
	tx2.AddEvent(hermes.NewEventWithIDs(eventIDs, 15, "e"))
	tx2.Finish()

	tx3 := hermes.NewTransactionWithIDs(ids, "t3")
	tx3.AddEvent(hermes.NewEventWithIDs(eventIDs, 100, "e"))
	tx3.AddEvent(hermes.NewEventWithIDs(eventIDs, 110, "e"))
	tx3.Finish()

	records := []*hermes.Transaction{tx1, tx2, tx3}

	got := query.ConcurrentTransactions(records, 8, 9)
	if len(got) != 2 {
		t.Fatalf("ConcurrentTransactions(8,9) = %v; want tx1 and tx2", got)
	}
}

func TestConcurrentTransactionsOfSingleRecord(t *testing.T) {
	ids := hermes.NewIDAllocator()
	eventIDs := hermes.NewIDAllocator()

	tx1 := hermes.NewTransactionWithIDs(ids, "t1")
	tx1.AddEvent(hermes.NewEventWithIDs(eventIDs, 0, "e"))
	tx1.AddEvent(hermes.NewEventWithIDs(eventIDs, 10, "e"))
	tx1.Finish()

	tx2 := hermes.NewTransactionWithIDs(ids, "t2")
	tx2.AddEvent(hermes.NewEventWithIDs(eventIDs, 20, "e"))
	tx2.AddEvent(hermes.NewEventWithIDs(eventIDs, 30, "e"))
	tx2.Finish()

	got := query.ConcurrentTransactionsOf([]*hermes.Transaction{tx1, tx2}, tx1)
	if len(got) != 1 || got[0].Name() != "t1" {
		t.Fatalf("ConcurrentTransactionsOf(tx1) = %v; want just tx1", got)
	}
}
