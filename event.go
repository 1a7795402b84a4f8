package hermes

import "encoding/json"

// Event is the smallest record Hermes stores: a point in simulation time
// with a name and a closed set of typed attributes (spec.md §3.1).
type Event struct {
	id    uint64
	time  uint64
	name  string
	attrs AttrMap
}

// NewEvent allocates an id from DefaultEventIDs and returns an Event ready
// to receive attributes via AddAttr.
func NewEvent(time uint64, name string) *Event {
	return NewEventWithIDs(DefaultEventIDs, time, name)
}

// NewEventWithIDs is NewEvent with an explicit allocator, for callers that
// need reproducible ids (tests, replay-from-checkpoint tooling).
func NewEventWithIDs(ids *IDAllocator, time uint64, name string) *Event {
	return &Event{id: ids.Next(), time: time, name: name}
}

// NewDecodedEvent reconstitutes an Event read back from a chunk, with its
// original id and attributes rather than a freshly allocated one. The
// codec is the only intended caller.
func NewDecodedEvent(id, time uint64, name string, attrs AttrMap) *Event {
	return &Event{id: id, time: time, name: name, attrs: attrs}
}

func (e *Event) ID() uint64   { return e.id }
func (e *Event) Time() uint64 { return e.time }
func (e *Event) Name() string { return e.name }

// AddAttr sets name to value on the event's attribute map.
func (e *Event) AddAttr(name string, value AttributeValue) {
	e.attrs.Set(name, value)
}

// Attr returns the value of the named attribute.
func (e *Event) Attr(name string) (AttributeValue, bool) {
	return e.attrs.Get(name)
}

// Attrs returns the event's attribute map. The returned value shares
// storage with the event and must not be mutated by the caller; use
// AddAttr to mutate.
func (e *Event) Attrs() *AttrMap {
	return &e.attrs
}

// eventJSON is Event's JSON rendering, used by the stream package's
// json() output and by pubsub's Kafka sink.
type eventJSON struct {
	ID    uint64         `json:"id"`
	Time  uint64         `json:"time"`
	Name  string         `json:"name"`
	Attrs map[string]any `json:"attrs,omitempty"`
}

func (e *Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(eventJSON{ID: e.id, Time: e.time, Name: e.name, Attrs: attrsToJSON(&e.attrs)})
}

func attrsToJSON(attrs *AttrMap) map[string]any {
	names := attrs.Names()
	if len(names) == 0 {
		return nil
	}
	out := make(map[string]any, len(names))
	for _, name := range names {
		v, _ := attrs.Get(name)
		out[name] = attrValueToJSON(v)
	}
	return out
}

func attrValueToJSON(v AttributeValue) any {
	switch v.Kind() {
	case AttrString:
		s, _ := v.String()
		return s
	case AttrBool:
		b, _ := v.Bool()
		return b
	default:
		return v.numeric()
	}
}
