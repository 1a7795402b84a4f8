// Package stream implements TransactionStream: an ordered, randomly
// indexable view over every transaction/group chunk matching a name and
// time window (spec.md §4.6).
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/hermeslog/hermes"
	"github.com/hermeslog/hermes/internal/chunkindex"
)

// Loader is the subset of loader.Loader a Stream needs. It is declared
// here, not imported from package loader, so loader can construct a
// Stream without an import cycle (loader.Loader satisfies this interface
// structurally).
type Loader interface {
	DecodeTransactionChunk(ctx context.Context, h chunkindex.Handle) (*hermes.TransactionBatch, error)
	DecodeGroupChunk(ctx context.Context, h chunkindex.Handle) (*hermes.TransactionGroupBatch, error)
	GetTransaction(ctx context.Context, id uint64) (*hermes.Transaction, bool, error)
	GetTransactionGroup(ctx context.Context, id uint64) (*hermes.TransactionGroup, bool, error)
	GetEventsForTransaction(ctx context.Context, t *hermes.Transaction) (*hermes.EventBatch, error)
	EntriesOfType(recordType string) []chunkindex.Entry
	FileName(h chunkindex.Handle) string
}

// entry is one (is_group, chunk_handle) pair plus its materializable row
// count, computed once at construction.
type entry struct {
	isGroup bool
	handle  chunkindex.Handle
	rows    int
}

// TransactionData is the tagged-union row shape spec.md §4.6 describes:
// exactly one of Transaction or Group is set.
type TransactionData struct {
	Transaction *hermes.Transaction
	Events      *hermes.EventBatch

	Group    *hermes.TransactionGroup
	Children []TransactionData
}

// Stream is a randomly indexable, optionally filtered view over a set of
// transaction/group chunks.
type Stream struct {
	loader  Loader
	entries []entry
	cum     []int // cum[i] = sum of rows through entry i, inclusive

	// filter, if non-nil, restricts iteration to filter[k], an ordered
	// list of surviving row indices within entry k. A Stream built by
	// where() on a filtered parent also holds raw row indices, chosen
	// from among the parent's surviving rows.
	filter [][]int
}

// New builds a Stream over every transaction and group chunk named name
// whose [start_time,end_time] overlaps [lo,hi].
func New(ctx context.Context, l Loader, name string, lo, hi uint64) (*Stream, error) {
	var entries []entry

	for _, recordType := range []string{"transaction", "transaction-group"} {
		isGroup := recordType == "transaction-group"
		handles := chunkindex.Prune(l.EntriesOfType(recordType), chunkindex.ByWindow(lo, hi))
		for _, h := range handles {
			if l.FileName(h) != name {
				continue
			}
			rows, err := rowCount(ctx, l, isGroup, h)
			if err != nil {
				return nil, err
			}
			if rows == 0 {
				continue
			}
			entries = append(entries, entry{isGroup: isGroup, handle: h, rows: rows})
		}
	}

	return newStream(l, entries, nil), nil
}

func rowCount(ctx context.Context, l Loader, isGroup bool, h chunkindex.Handle) (int, error) {
	if isGroup {
		b, err := l.DecodeGroupChunk(ctx, h)
		if err != nil {
			return 0, err
		}
		return b.Len(), nil
	}
	b, err := l.DecodeTransactionChunk(ctx, h)
	if err != nil {
		return 0, err
	}
	return b.Len(), nil
}

func newStream(l Loader, entries []entry, filter [][]int) *Stream {
	cum := make([]int, len(entries))
	total := 0
	for i, e := range entries {
		n := e.rows
		if filter != nil {
			n = len(filter[i])
		}
		total += n
		cum[i] = total
	}
	return &Stream{loader: l, entries: entries, cum: cum, filter: filter}
}

// Size returns the total number of materializable rows across every
// entry (after any row filter).
func (s *Stream) Size() int {
	if len(s.cum) == 0 {
		return 0
	}
	return s.cum[len(s.cum)-1]
}

// entryAt returns the entry index owning the given global row position
// and the intra-entry row index (post-filter), or an error if pos is out
// of range.
func (s *Stream) entryAt(pos int) (int, int, error) {
	if pos < 0 || pos >= s.Size() {
		return 0, 0, fmt.Errorf("stream: index %d out of range [0,%d)", pos, s.Size())
	}
	k := sort.Search(len(s.cum), func(i int) bool { return s.cum[i] > pos })
	prior := 0
	if k > 0 {
		prior = s.cum[k-1]
	}
	offset := pos - prior
	if s.filter != nil {
		offset = s.filter[k][offset]
	}
	return k, offset, nil
}

// At materializes the row at global position pos. Complexity is
// O(log K + decode) where K is the number of entries.
func (s *Stream) At(ctx context.Context, pos int) (TransactionData, error) {
	k, offset, err := s.entryAt(pos)
	if err != nil {
		return TransactionData{}, err
	}
	return s.materialize(ctx, s.entries[k], offset)
}

func (s *Stream) materialize(ctx context.Context, e entry, row int) (TransactionData, error) {
	if e.isGroup {
		batch, err := s.loader.DecodeGroupChunk(ctx, e.handle)
		if err != nil {
			return TransactionData{}, err
		}
		g := batch.At(row)
		children, err := s.materializeChildren(ctx, g)
		if err != nil {
			return TransactionData{}, err
		}
		return TransactionData{Group: g, Children: children}, nil
	}

	batch, err := s.loader.DecodeTransactionChunk(ctx, e.handle)
	if err != nil {
		return TransactionData{}, err
	}
	t := batch.At(row)
	events, err := s.loader.GetEventsForTransaction(ctx, t)
	if err != nil {
		return TransactionData{}, err
	}
	return TransactionData{Transaction: t, Events: events}, nil
}

func (s *Stream) materializeChildren(ctx context.Context, g *hermes.TransactionGroup) ([]TransactionData, error) {
	children := make([]TransactionData, 0, len(g.Children()))
	for _, c := range g.Children() {
		if c.IsGroup {
			child, ok, err := s.loader.GetTransactionGroup(ctx, c.ID)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, fmt.Errorf("stream: group %d references missing group %d", g.ID(), c.ID)
			}
			grandchildren, err := s.materializeChildren(ctx, child)
			if err != nil {
				return nil, err
			}
			children = append(children, TransactionData{Group: child, Children: grandchildren})
			continue
		}
		t, ok, err := s.loader.GetTransaction(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("stream: group %d references missing transaction %d", g.ID(), c.ID)
		}
		events, err := s.loader.GetEventsForTransaction(ctx, t)
		if err != nil {
			return nil, err
		}
		children = append(children, TransactionData{Transaction: t, Events: events})
	}
	return children, nil
}

// Predicate tests a materialized row.
type Predicate func(TransactionData) bool

// Where returns a new Stream over the same entries, restricted to rows
// matching predicate. Each entry is scanned independently (and
// concurrently); filters compose — a Stream already carrying a filter
// narrows it further rather than re-deriving raw row indices. Ordering
// is preserved.
func (s *Stream) Where(ctx context.Context, predicate Predicate) (*Stream, error) {
	newFilter := make([][]int, len(s.entries))
	errs := make([]error, len(s.entries))

	var wg sync.WaitGroup
	for i, e := range s.entries {
		wg.Add(1)
		go func(i int, e entry) {
			defer wg.Done()
			n := e.rows
			if s.filter != nil {
				n = len(s.filter[i])
			}
			surviving := make([]int, 0, n)
			for offset := 0; offset < n; offset++ {
				row := offset
				if s.filter != nil {
					row = s.filter[i][offset]
				}
				data, err := s.materialize(ctx, e, row)
				if err != nil {
					errs[i] = err
					return
				}
				if predicate(data) {
					surviving = append(surviving, row)
				}
			}
			newFilter[i] = surviving
		}(i, e)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	return newStream(s.loader, s.entries, newFilter), nil
}

// JSON renders every row in the stream into a JSON array using the
// TransactionData shape: times, ids, finished flag, and event attributes
// are all included.
func (s *Stream) JSON(ctx context.Context) ([]byte, error) {
	rows := make([]json.RawMessage, 0, s.Size())
	for pos := 0; pos < s.Size(); pos++ {
		data, err := s.At(ctx, pos)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		rows = append(rows, raw)
	}
	return json.Marshal(rows)
}

// transactionDataJSON is TransactionData's wire shape: exactly one of
// "transaction" or "group" is present, matching the original tool's
// `json.cc` rendering (supplemented feature, spec.md §9).
type transactionDataJSON struct {
	Transaction *hermes.Transaction `json:"transaction,omitempty"`
	Events      *hermes.EventBatch  `json:"events,omitempty"`
	Group       *groupDataJSON      `json:"group,omitempty"`
}

type groupDataJSON struct {
	Group    *hermes.TransactionGroup `json:"info"`
	Children []TransactionData        `json:"children"`
}

func (d TransactionData) MarshalJSON() ([]byte, error) {
	out := transactionDataJSON{}
	if d.Transaction != nil {
		out.Transaction = d.Transaction
		out.Events = d.Events
	}
	if d.Group != nil {
		out.Group = &groupDataJSON{Group: d.Group, Children: d.Children}
	}
	return json.Marshal(out)
}
