package hermes

import "testing"

func TestTransactionAddEventDerivesWindow(t *testing.T) {
	eventIDs := NewIDAllocator()
	txIDs := NewIDAllocator()

	tx := NewTransactionWithIDs(txIDs, "burst")
	tx.AddEvent(NewEventWithIDs(eventIDs, 50, "a"))
	tx.AddEvent(NewEventWithIDs(eventIDs, 10, "b"))
	tx.AddEvent(NewEventWithIDs(eventIDs, 30, "c"))

	if tx.StartTime() != 10 {
		t.Errorf("StartTime() = %d; want 10", tx.StartTime())
	}
	if tx.EndTime() != 50 {
		t.Errorf("EndTime() = %d; want 50", tx.EndTime())
	}
	if len(tx.Events()) != 3 {
		t.Errorf("len(Events()) = %d; want 3", len(tx.Events()))
	}
}

func TestTransactionAddAttrRejectsReservedNames(t *testing.T) {
	tx := NewTransactionWithIDs(NewIDAllocator(), "tx")

	for name := range reservedTransactionAttrs {
		if err := tx.AddAttr(name, U8(1)); err == nil {
			t.Errorf("AddAttr(%q) should be rejected as reserved", name)
		}
	}

	if err := tx.AddAttr("priority", U8(1)); err != nil {
		t.Errorf("AddAttr(priority) should succeed, got %v", err)
	}
}

func TestTransactionAddEventPanicsAfterFinish(t *testing.T) {
	eventIDs := NewIDAllocator()
	tx := NewTransactionWithIDs(NewIDAllocator(), "tx")
	tx.AddEvent(NewEventWithIDs(eventIDs, 0, "a"))
	tx.Finish()

	defer func() {
		if recover() == nil {
			t.Error("AddEvent after Finish should panic")
		}
	}()
	tx.AddEvent(NewEventWithIDs(eventIDs, 1, "b"))
}

func TestTransactionBatchShouldFlush(t *testing.T) {
	b := NewTransactionBatch()
	ids := NewIDAllocator()

	if b.ShouldFlush() {
		t.Error("empty batch should not request a flush")
	}

	for i := 0; i < FlushThreshold; i++ {
		tx := NewTransactionWithIDs(ids, "t")
		tx.Finish()
		b.Append(tx)
	}

	if !b.ShouldFlush() {
		t.Error("batch at FlushThreshold should request a flush")
	}
}
