package hermes

import (
	"encoding/json"
	"sort"
)

// Batch is the in-memory unit the codec encodes to and decodes from one
// chunk (spec.md §4.1): a same-schema run of records of type T, with a
// lazily built id->index map so lookups after decode don't pay for an
// index the caller never needed (e.g. a pure sequential scan).
//
// T supplies its own id via idFn because Event, Transaction and
// TransactionGroup each key differently but share the same lookup shape.
type Batch[T any] struct {
	records []T
	idFn    func(T) uint64
	idIndex map[uint64]int // built lazily by ensureIDIndex
}

// NewBatch returns an empty batch. idFn extracts the stable id used for
// IndexOf lookups.
func NewBatch[T any](idFn func(T) uint64) *Batch[T] {
	return &Batch[T]{idFn: idFn}
}

// Append adds a record to the end of the batch. It does not check schema
// compatibility; the codec checks it when the batch is encoded.
func (b *Batch[T]) Append(record T) {
	b.records = append(b.records, record)
	if b.idIndex != nil {
		b.idIndex[b.idFn(record)] = len(b.records) - 1
	}
}

func (b *Batch[T]) Len() int { return len(b.records) }

// At returns the record at position i.
func (b *Batch[T]) At(i int) T { return b.records[i] }

// Records returns the batch's records in append order. The slice shares
// storage with the batch and must not be mutated.
func (b *Batch[T]) Records() []T { return b.records }

func (b *Batch[T]) ensureIDIndex() {
	if b.idIndex != nil {
		return
	}
	b.idIndex = make(map[uint64]int, len(b.records))
	for i, r := range b.records {
		b.idIndex[b.idFn(r)] = i
	}
}

// IndexOf returns the position of the record with the given id, or
// (0, false) if no such record exists in this batch. Building the index
// is deferred to the first call.
func (b *Batch[T]) IndexOf(id uint64) (int, bool) {
	b.ensureIDIndex()
	i, ok := b.idIndex[id]
	return i, ok
}

// ByID is IndexOf followed by At.
func (b *Batch[T]) ByID(id uint64) (T, bool) {
	var zero T
	i, ok := b.IndexOf(id)
	if !ok {
		return zero, false
	}
	return b.records[i], true
}

// EventBatch is a Batch[*Event] with a time-sorted index over its records,
// supporting LowerBound/UpperBound for the range queries in package query
// and the chunk-level pruning in internal/chunkindex.
type EventBatch struct {
	*Batch[*Event]
	timeOrder []int // indices into records, sorted by Time() then append order
	sorted    bool
}

func NewEventBatch() *EventBatch {
	return &EventBatch{Batch: NewBatch(func(e *Event) uint64 { return e.ID() })}
}

func (b *EventBatch) Append(e *Event) {
	b.Batch.Append(e)
	b.sorted = false
}

func (b *EventBatch) ensureTimeOrder() {
	if b.sorted {
		return
	}
	n := b.Batch.Len()
	b.timeOrder = make([]int, n)
	for i := range b.timeOrder {
		b.timeOrder[i] = i
	}
	sort.SliceStable(b.timeOrder, func(i, j int) bool {
		return b.Batch.At(b.timeOrder[i]).Time() < b.Batch.At(b.timeOrder[j]).Time()
	})
	b.sorted = true
}

// LowerBound returns the smallest time-order position whose event's time
// is >= t (like sort.Search / C++ std::lower_bound).
func (b *EventBatch) LowerBound(t uint64) int {
	b.ensureTimeOrder()
	return sort.Search(len(b.timeOrder), func(i int) bool {
		return b.Batch.At(b.timeOrder[i]).Time() >= t
	})
}

// UpperBound returns the smallest time-order position whose event's time
// is > t (like sort.Search / C++ std::upper_bound).
func (b *EventBatch) UpperBound(t uint64) int {
	b.ensureTimeOrder()
	return sort.Search(len(b.timeOrder), func(i int) bool {
		return b.Batch.At(b.timeOrder[i]).Time() > t
	})
}

// EventAtTimeOrder returns the event at the given position in time order.
func (b *EventBatch) EventAtTimeOrder(pos int) *Event {
	b.ensureTimeOrder()
	return b.Batch.At(b.timeOrder[pos])
}

// MinTime and MaxTime back internal/chunkindex's stats-based pruning; both
// panic on an empty batch, so callers check Len() first (the manifest's
// per-chunk stats pass does).
func (b *EventBatch) MinTime() uint64 {
	b.ensureTimeOrder()
	return b.Batch.At(b.timeOrder[0]).Time()
}

func (b *EventBatch) MaxTime() uint64 {
	b.ensureTimeOrder()
	return b.Batch.At(b.timeOrder[len(b.timeOrder)-1]).Time()
}

// MarshalJSON renders the batch as a JSON array of its events in append
// order (not time order), matching Records().
func (b *EventBatch) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.Batch.Records())
}
