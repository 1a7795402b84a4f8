package hermes

import "encoding/json"

// GroupChild is one entry in a TransactionGroup's ordered child sequence:
// IsGroup true means ID names another TransactionGroup, false means it
// names a Transaction. This is the in-memory mirror of the on-disk
// (mask, id) pair the codec writes as parallel `children`/`transaction_masks`
// columns (spec.md §3).
type GroupChild struct {
	IsGroup bool   `json:"is_group"`
	ID      uint64 `json:"id"`
}

// TransactionGroup aggregates transactions and nested groups under a name.
// Child membership is fixed at Finish time and must be acyclic; Hermes
// trusts callers to build groups bottom-up (a group can only reference
// already-constructed children), so no cycle check runs at AddGroup time.
type TransactionGroup struct {
	id        uint64
	name      string
	startTime uint64
	endTime   uint64
	finished  bool
	children  []GroupChild
}

func NewTransactionGroup(name string) *TransactionGroup {
	return NewTransactionGroupWithIDs(DefaultTransactionGroupIDs, name)
}

func NewTransactionGroupWithIDs(ids *IDAllocator, name string) *TransactionGroup {
	return &TransactionGroup{id: ids.Next(), name: name}
}

// NewDecodedTransactionGroup reconstitutes a TransactionGroup read back
// from a chunk. The codec is the only intended caller.
func NewDecodedTransactionGroup(id, startTime, endTime uint64, finished bool, name string, children []GroupChild) *TransactionGroup {
	return &TransactionGroup{
		id:        id,
		name:      name,
		startTime: startTime,
		endTime:   endTime,
		finished:  finished,
		children:  children,
	}
}

func (g *TransactionGroup) ID() uint64             { return g.id }
func (g *TransactionGroup) Name() string           { return g.name }
func (g *TransactionGroup) StartTime() uint64      { return g.startTime }
func (g *TransactionGroup) EndTime() uint64        { return g.endTime }
func (g *TransactionGroup) Finished() bool         { return g.finished }
func (g *TransactionGroup) Children() []GroupChild { return g.children }

func (g *TransactionGroup) extendWindow(start, end uint64) {
	if len(g.children) == 1 {
		g.startTime = start
		g.endTime = end
		return
	}
	if start < g.startTime {
		g.startTime = start
	}
	if end > g.endTime {
		g.endTime = end
	}
}

// AddTransaction appends a finished transaction as a child. It panics if
// the group is already finished or the transaction is not yet finished,
// since an in-flight transaction's start/end time window is not yet
// final.
func (g *TransactionGroup) AddTransaction(t *Transaction) {
	if g.finished {
		panic("hermes: AddTransaction called on a finished TransactionGroup")
	}
	if !t.Finished() {
		panic("hermes: AddTransaction requires a finished Transaction")
	}
	g.children = append(g.children, GroupChild{IsGroup: false, ID: t.ID()})
	g.extendWindow(t.StartTime(), t.EndTime())
}

// AddGroup appends a finished nested group as a child.
func (g *TransactionGroup) AddGroup(child *TransactionGroup) {
	if g.finished {
		panic("hermes: AddGroup called on a finished TransactionGroup")
	}
	if !child.Finished() {
		panic("hermes: AddGroup requires a finished TransactionGroup")
	}
	g.children = append(g.children, GroupChild{IsGroup: true, ID: child.ID()})
	g.extendWindow(child.StartTime(), child.EndTime())
}

// Finish marks the group read-only.
func (g *TransactionGroup) Finish() {
	g.finished = true
}

// TransactionGroupBatch mirrors Batch[*Event] for groups.
type TransactionGroupBatch struct {
	*Batch[*TransactionGroup]
}

func NewTransactionGroupBatch() *TransactionGroupBatch {
	return &TransactionGroupBatch{Batch: NewBatch(func(g *TransactionGroup) uint64 { return g.ID() })}
}

type groupJSON struct {
	ID        uint64       `json:"id"`
	Name      string       `json:"name"`
	StartTime uint64       `json:"start_time"`
	EndTime   uint64       `json:"end_time"`
	Finished  bool         `json:"finished"`
	Children  []GroupChild `json:"children"`
}

func (g *TransactionGroup) MarshalJSON() ([]byte, error) {
	return json.Marshal(groupJSON{
		ID:        g.id,
		Name:      g.name,
		StartTime: g.startTime,
		EndTime:   g.endTime,
		Finished:  g.finished,
		Children:  g.children,
	})
}
