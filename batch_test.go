package hermes

import "testing"

func TestBatchIndexOf(t *testing.T) {
	ids := NewIDAllocator()
	b := NewBatch(func(e *Event) uint64 { return e.ID() })

	var want []*Event
	for i := 0; i < 5; i++ {
		e := NewEventWithIDs(ids, uint64(i), "e")
		b.Append(e)
		want = append(want, e)
	}

	for _, e := range want {
		got, ok := b.ByID(e.ID())
		if !ok || got != e {
			t.Errorf("ByID(%d) = %v, %v; want %v, true", e.ID(), got, ok, e)
		}
	}

	if _, ok := b.ByID(9999); ok {
		t.Error("ByID(9999) should report false")
	}
}

func TestBatchIndexBuiltLazilyReflectsAppends(t *testing.T) {
	ids := NewIDAllocator()
	b := NewBatch(func(e *Event) uint64 { return e.ID() })
	first := NewEventWithIDs(ids, 0, "a")
	b.Append(first)

	// Force the index to build before the second Append.
	if _, ok := b.ByID(first.ID()); !ok {
		t.Fatal("expected first event to be indexed")
	}

	second := NewEventWithIDs(ids, 1, "b")
	b.Append(second)

	if _, ok := b.ByID(second.ID()); !ok {
		t.Error("index should track records appended after first build")
	}
}

func TestEventBatchBounds(t *testing.T) {
	ids := NewIDAllocator()
	b := NewEventBatch()
	times := []uint64{50, 10, 30, 30, 90}
	for _, tm := range times {
		b.Append(NewEventWithIDs(ids, tm, "e"))
	}

	if got := b.MinTime(); got != 10 {
		t.Errorf("MinTime() = %d; want 10", got)
	}
	if got := b.MaxTime(); got != 90 {
		t.Errorf("MaxTime() = %d; want 90", got)
	}

	// [10,30,30,50,90] sorted: LowerBound(30) -> first 30 (index 1),
	// UpperBound(30) -> first value > 30 (index 3).
	if got := b.LowerBound(30); got != 1 {
		t.Errorf("LowerBound(30) = %d; want 1", got)
	}
	if got := b.UpperBound(30); got != 3 {
		t.Errorf("UpperBound(30) = %d; want 3", got)
	}

	count := b.UpperBound(90) - b.LowerBound(10)
	if count != 5 {
		t.Errorf("range[10,90] count = %d; want 5", count)
	}
}

func TestEventBatchAppendInvalidatesSortCache(t *testing.T) {
	ids := NewIDAllocator()
	b := NewEventBatch()
	b.Append(NewEventWithIDs(ids, 100, "e"))
	_ = b.MinTime() // force sort

	b.Append(NewEventWithIDs(ids, 5, "e"))
	if got := b.MinTime(); got != 5 {
		t.Errorf("MinTime() after append = %d; want 5", got)
	}
}
