package hermes

import "testing"

func TestNewEventWithIDs(t *testing.T) {
	ids := NewIDAllocator()
	e := NewEventWithIDs(ids, 123, "kickoff")

	if e.ID() != 1 {
		t.Errorf("ID() = %d; want 1", e.ID())
	}
	if e.Time() != 123 {
		t.Errorf("Time() = %d; want 123", e.Time())
	}
	if e.Name() != "kickoff" {
		t.Errorf("Name() = %q; want kickoff", e.Name())
	}
}

func TestEventAddAttr(t *testing.T) {
	ids := NewIDAllocator()
	e := NewEventWithIDs(ids, 0, "e")
	e.AddAttr("priority", U8(3))

	v, ok := e.Attr("priority")
	if !ok {
		t.Fatal("expected priority attribute to be set")
	}
	n, _ := v.Uint8()
	if n != 3 {
		t.Errorf("priority = %d; want 3", n)
	}

	if _, ok := e.Attr("missing"); ok {
		t.Error("Attr(missing) should report false")
	}
}
