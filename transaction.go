package hermes

import (
	"encoding/json"
	"fmt"
)

// reservedTransactionAttrs are the struct-backed fields that shadow the
// Transaction attribute namespace; a caller may not AddAttr under any of
// these names since they would collide with the fixed columns the codec
// emits for a transaction batch (spec.md §3).
var reservedTransactionAttrs = map[string]struct{}{
	"id":         {},
	"start_time": {},
	"end_time":   {},
	"finished":   {},
	"name":       {},
	"events":     {},
}

// Transaction groups an ordered sequence of event ids under a name, with
// start_time/end_time derived from its events' min/max time once finished.
type Transaction struct {
	id        uint64
	name      string
	startTime uint64
	endTime   uint64
	finished  bool
	events    []uint64
	attrs     AttrMap
}

// NewTransaction allocates an id from DefaultTransactionIDs.
func NewTransaction(name string) *Transaction {
	return NewTransactionWithIDs(DefaultTransactionIDs, name)
}

func NewTransactionWithIDs(ids *IDAllocator, name string) *Transaction {
	return &Transaction{id: ids.Next(), name: name}
}

// NewDecodedTransaction reconstitutes a Transaction read back from a
// chunk: finished is whatever the chunk recorded, and events/attrs are
// taken as-is rather than accumulated via AddEvent. The codec is the only
// intended caller.
func NewDecodedTransaction(id, startTime, endTime uint64, finished bool, name string, events []uint64, attrs AttrMap) *Transaction {
	return &Transaction{
		id:        id,
		name:      name,
		startTime: startTime,
		endTime:   endTime,
		finished:  finished,
		events:    events,
		attrs:     attrs,
	}
}

func (t *Transaction) ID() uint64        { return t.id }
func (t *Transaction) Name() string      { return t.name }
func (t *Transaction) StartTime() uint64 { return t.startTime }
func (t *Transaction) EndTime() uint64   { return t.endTime }
func (t *Transaction) Finished() bool    { return t.finished }
func (t *Transaction) Events() []uint64  { return t.events }

// AddEvent appends an event id to the transaction. It panics if called
// after Finish, matching the "appended in-flight... then read-only"
// lifecycle spelled out for Transaction (spec.md §4.2).
func (t *Transaction) AddEvent(e *Event) {
	if t.finished {
		panic("hermes: AddEvent called on a finished Transaction")
	}
	t.events = append(t.events, e.ID())
	if len(t.events) == 1 {
		t.startTime = e.Time()
		t.endTime = e.Time()
	} else {
		if e.Time() < t.startTime {
			t.startTime = e.Time()
		}
		if e.Time() > t.endTime {
			t.endTime = e.Time()
		}
	}
}

// AddAttr sets a transaction-level attribute. It returns an error if the
// transaction is finished or name collides with a reserved field name.
func (t *Transaction) AddAttr(name string, value AttributeValue) error {
	if t.finished {
		return fmt.Errorf("hermes: AddAttr called on finished Transaction %d", t.id)
	}
	if _, reserved := reservedTransactionAttrs[name]; reserved {
		return newError(SchemaMismatch, fmt.Sprintf("attribute name %q is reserved on Transaction", name))
	}
	t.attrs.Set(name, value)
	return nil
}

func (t *Transaction) Attr(name string) (AttributeValue, bool) {
	return t.attrs.Get(name)
}

func (t *Transaction) Attrs() *AttrMap { return &t.attrs }

// Finish marks the transaction read-only. Calling AddEvent or AddAttr
// after Finish panics/errors respectively.
func (t *Transaction) Finish() {
	t.finished = true
}

// TransactionBatch mirrors Batch[*Event] for transactions and adds the
// flush-threshold bookkeeping the original in-flight tracker used to bound
// producer memory (see FlushThreshold).
type TransactionBatch struct {
	*Batch[*Transaction]
}

func NewTransactionBatch() *TransactionBatch {
	return &TransactionBatch{Batch: NewBatch(func(t *Transaction) uint64 { return t.ID() })}
}

// FlushThreshold is the number of finished transactions a producer should
// accumulate before flushing a batch to the codec, matching the original
// in-flight tracker's bound. Hermes itself does not run a background
// flusher; this constant and ShouldFlush exist so a producer built on this
// package can reproduce that behavior.
const FlushThreshold = 1 << 16

// ShouldFlush reports whether the batch has reached FlushThreshold
// records and should be handed to the codec.
func (b *TransactionBatch) ShouldFlush() bool {
	return b.Len() >= FlushThreshold
}

type transactionJSON struct {
	ID        uint64         `json:"id"`
	Name      string         `json:"name"`
	StartTime uint64         `json:"start_time"`
	EndTime   uint64         `json:"end_time"`
	Finished  bool           `json:"finished"`
	Events    []uint64       `json:"events"`
	Attrs     map[string]any `json:"attrs,omitempty"`
}

func (t *Transaction) MarshalJSON() ([]byte, error) {
	return json.Marshal(transactionJSON{
		ID:        t.id,
		Name:      t.name,
		StartTime: t.startTime,
		EndTime:   t.endTime,
		Finished:  t.finished,
		Events:    t.events,
		Attrs:     attrsToJSON(&t.attrs),
	})
}
