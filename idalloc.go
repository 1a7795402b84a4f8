package hermes

import "sync/atomic"

// IDAllocator hands out process-wide monotonically increasing ids starting
// at 1 (0 is reserved to mean "unset"). It is a thin atomic counter rather
// than a UUID generator because chunk-local id indexes rely on ids being
// small and densely packed for cheap stats-based pruning (internal/chunkindex).
//
// Library code never calls the package-level Default* allocators directly
// from inside a loop body meant to be deterministic under test; callers
// that need reproducible ids construct their own *IDAllocator and inject
// it, which is why NewIDAllocator and Reset exist instead of a package-only
// singleton.
type IDAllocator struct {
	counter atomic.Uint64
}

// NewIDAllocator returns an allocator whose first Next() call returns 1.
func NewIDAllocator() *IDAllocator {
	return &IDAllocator{}
}

// Next returns the next id in sequence.
func (a *IDAllocator) Next() uint64 {
	return a.counter.Add(1)
}

// Reset rewinds the allocator so the next Next() call returns 1. Intended
// for test sandboxing between independent test cases that otherwise share
// a default allocator.
func (a *IDAllocator) Reset() {
	a.counter.Store(0)
}

// Default allocators used by the constructors in event.go, transaction.go
// and group.go when no allocator is explicitly injected.
var (
	DefaultEventIDs            = NewIDAllocator()
	DefaultTransactionIDs      = NewIDAllocator()
	DefaultTransactionGroupIDs = NewIDAllocator()
)
