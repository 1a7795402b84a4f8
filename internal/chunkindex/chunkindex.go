// Package chunkindex implements the statistics-driven predicate pruner
// that lets the loader skip whole (file, row-group) chunks without
// decoding them.
package chunkindex

// Stats is a per-column min/max dictionary for one chunk, keyed by column
// name ("id", "time", "start_time", "end_time", or any attribute column).
// The manifest reader populates one Stats per registered chunk handle.
type Stats map[string]MinMax

// MinMax is an inclusive [Min, Max] bound over one column's values within
// a chunk.
type MinMax struct {
	Min uint64
	Max uint64
}

// ContainsID reports whether v could be present in a chunk whose id column
// has the given bounds (spec.md §4.3: stats.min <= v <= stats.max). It is
// a may-contain test: false negatives are forbidden, false positives are
// expected and harmless (the caller decodes and checks precisely).
func ContainsID(stats Stats, column string, v uint64) bool {
	mm, ok := stats[column]
	if !ok {
		// No stats for this column means the pruner cannot rule the chunk
		// out, so treat it as a match to preserve the no-false-negatives
		// invariant.
		return true
	}
	return mm.Min <= v && v <= mm.Max
}

// ContainsRange reports whether [lo, hi] could overlap a chunk whose
// column has the given bounds.
func ContainsRange(stats Stats, column string, lo, hi uint64) bool {
	if hi < lo {
		return false
	}
	mm, ok := stats[column]
	if !ok {
		return true
	}
	return mm.Min <= hi && lo <= mm.Max
}

// OverlapsWindow implements the transaction/group time-overlap test:
// start_time.min <= hi && lo <= end_time.max.
func OverlapsWindow(stats Stats, lo, hi uint64) bool {
	if hi < lo {
		return false
	}
	startMM, hasStart := stats["start_time"]
	endMM, hasEnd := stats["end_time"]
	if !hasStart || !hasEnd {
		return true
	}
	return startMM.Min <= hi && lo <= endMM.Max
}

// Handle identifies one chunk: a registered file index (stable,
// registration-order) and a row-group ordinal within that file.
type Handle struct {
	FileIndex int
	RowGroup  int
}

// Entry pairs a Handle with the Stats the manifest captured for it at
// registration time.
type Entry struct {
	Handle Handle
	Stats  Stats
}

// Predicate is anything the pruner can test a chunk's Stats against.
type Predicate func(Stats) bool

// ByID returns a Predicate matching ContainsID on the given column.
func ByID(column string, v uint64) Predicate {
	return func(s Stats) bool { return ContainsID(s, column, v) }
}

// ByRange returns a Predicate matching ContainsRange on the given column.
func ByRange(column string, lo, hi uint64) Predicate {
	return func(s Stats) bool { return ContainsRange(s, column, lo, hi) }
}

// ByWindow returns a Predicate matching OverlapsWindow.
func ByWindow(lo, hi uint64) Predicate {
	return func(s Stats) bool { return OverlapsWindow(s, lo, hi) }
}

// Prune returns the subset of entries whose Stats satisfy every predicate,
// preserving entries' relative order (file registration order, then
// row-group ordinal — spec.md §4.3's "stable deterministic order"). Entries
// are assumed to already be sorted that way by the caller (the manifest
// registers them in that order).
func Prune(entries []Entry, predicates ...Predicate) []Handle {
	out := make([]Handle, 0, len(entries))
	for _, e := range entries {
		match := true
		for _, p := range predicates {
			if !p(e.Stats) {
				match = false
				break
			}
		}
		if match {
			out = append(out, e.Handle)
		}
	}
	return out
}
