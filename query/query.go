// Package query implements the concurrent_events/concurrent_transactions
// helpers described in spec.md §4.8: range queries over an already
// decoded batch, using the batch's own time index rather than touching
// the loader or chunk index again.
package query

import "github.com/hermeslog/hermes"

// ConcurrentEvents returns every event in batch whose time falls in
// [lo, hi], using EventBatch's lower_bound/upper_bound time index.
func ConcurrentEvents(batch *hermes.EventBatch, lo, hi uint64) []*hermes.Event {
	from := batch.LowerBound(lo)
	to := batch.UpperBound(hi)
	out := make([]*hermes.Event, 0, to-from)
	for pos := from; pos < to; pos++ {
		out = append(out, batch.EventAtTimeOrder(pos))
	}
	return out
}

// ConcurrentEventsOf returns the events concurrent with e's own instant
// — the single-record overload delegating to the range form with e's
// time as both bounds.
func ConcurrentEventsOf(batch *hermes.EventBatch, e *hermes.Event) []*hermes.Event {
	return ConcurrentEvents(batch, e.Time(), e.Time())
}

// ConcurrentTransactions returns every transaction in records whose
// window [start_time, end_time] overlaps [lo, hi]: start_time <= hi and
// end_time >= lo.
func ConcurrentTransactions(records []*hermes.Transaction, lo, hi uint64) []*hermes.Transaction {
	out := make([]*hermes.Transaction, 0)
	for _, t := range records {
		if t.StartTime() <= hi && t.EndTime() >= lo {
			out = append(out, t)
		}
	}
	return out
}

// ConcurrentTransactionsOf returns the transactions concurrent with t's
// own window — the single-record overload delegating to the range form
// with t's own start/end time.
func ConcurrentTransactionsOf(records []*hermes.Transaction, t *hermes.Transaction) []*hermes.Transaction {
	return ConcurrentTransactions(records, t.StartTime(), t.EndTime())
}
