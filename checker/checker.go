// Package checker implements the stateless/stateful check driver from
// spec.md §4.9: it walks a TransactionStream and calls a user-supplied
// Check function for every row, optionally concurrently.
package checker

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/hermeslog/hermes"
	"github.com/hermeslog/hermes/query"
	"github.com/hermeslog/hermes/stream"
)

// Assertion is raised by Helper.Assert when AssertException is enabled and
// cond is false.
type Assertion struct {
	Msg string
}

func (e *Assertion) Error() string { return fmt.Sprintf("checker: assertion failed: %s", e.Msg) }

// Helper is the QueryHelper spec.md §4.9 passes to Check: it bundles the
// assertion sink with the event/transaction helpers from package query so
// a check function never needs to import both packages itself.
type Helper struct {
	// AssertException selects assert_'s failure mode: when true, a failed
	// assertion returns an *Assertion error instead of writing to Errors.
	AssertException bool
	// Errors is where a non-exception assertion failure is written
	// ("[ERROR]: msg"). Defaults to os.Stderr if nil.
	Errors io.Writer

	mu      sync.Mutex
	failure error
}

func newHelper(assertException bool, errs io.Writer) *Helper {
	if errs == nil {
		errs = os.Stderr
	}
	return &Helper{AssertException: assertException, Errors: errs}
}

// Assert is assert_(cond, msg) from spec.md §4.9. In the default mode it
// only writes "[ERROR]: msg" to the error sink and never fails the run,
// matching the original checker's std::cerr-only assert_; the first
// failure is latched (and surfaces from Run once every worker joins)
// only when AssertException selects the throwing mode.
func (h *Helper) Assert(cond bool, msg string) error {
	if cond {
		return nil
	}
	if h.AssertException {
		err := &Assertion{Msg: msg}
		h.latch(err)
		return err
	}
	fmt.Fprintf(h.Errors, "[ERROR]: %s\n", msg)
	return nil
}

func (h *Helper) latch(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failure == nil {
		h.failure = err
	}
}

// FirstFailure returns the first assertion failure latched across every
// worker, or nil if none occurred.
func (h *Helper) FirstFailure() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.failure
}

// ConcurrentEvents exposes query.ConcurrentEvents through the Helper a
// Check receives, matching spec.md's "QueryHelper" bundling — a check
// function can test a row's events against the rest of its own batch
// without importing package query itself.
func (h *Helper) ConcurrentEvents(batch *hermes.EventBatch, lo, hi uint64) []*hermes.Event {
	return query.ConcurrentEvents(batch, lo, hi)
}

// ConcurrentTransactions exposes query.ConcurrentTransactions the same way.
func (h *Helper) ConcurrentTransactions(records []*hermes.Transaction, lo, hi uint64) []*hermes.Transaction {
	return query.ConcurrentTransactions(records, lo, hi)
}

// Check is the user-authored per-row validation function: it receives one
// materialized TransactionData and the shared Helper for assertions and
// range queries.
type Check func(ctx context.Context, data stream.TransactionData, h *Helper) error

// Mode selects how Run drives the stream.
type Mode int

const (
	// Stateless runs check concurrently with one goroutine per stream row
	// (see runStateless). No order is kept between rows, including rows
	// of the same chunk.
	Stateless Mode = iota
	// Stateful drains every row in source (stream) order on one worker.
	Stateful
)

// Options configures Run.
type Options struct {
	Mode            Mode
	AssertException bool
	Errors          io.Writer
}

// Loader is the subset of loader.Loader RunName needs to build the
// underlying TransactionStream.
type Loader = stream.Loader

// RunName is run(name, loader) from spec.md §4.9: it builds a
// TransactionStream over every transaction/group chunk named name in
// [lo,hi] and drives it with Run.
func RunName(ctx context.Context, l Loader, name string, lo, hi uint64, check Check, opts Options) error {
	s, err := stream.New(ctx, l, name, lo, hi)
	if err != nil {
		return err
	}
	return Run(ctx, s, check, opts)
}

// Run iterates s, calling check for every row per opts.Mode. It returns
// the first assertion failure latched by the Helper (across every
// worker, if Stateless), or the first materialization/check error
// encountered.
func Run(ctx context.Context, s *stream.Stream, check Check, opts Options) error {
	h := newHelper(opts.AssertException, opts.Errors)

	var runErr error
	if opts.Mode == Stateful {
		runErr = runStateful(ctx, s, check, h)
	} else {
		runErr = runStateless(ctx, s, check, h)
	}
	if runErr != nil {
		return runErr
	}
	if f := h.FirstFailure(); f != nil {
		return f
	}
	return nil
}

func runStateful(ctx context.Context, s *stream.Stream, check Check, h *Helper) error {
	for pos := 0; pos < s.Size(); pos++ {
		data, err := s.At(ctx, pos)
		if err != nil {
			return err
		}
		if err := check(ctx, data, h); err != nil {
			return err
		}
	}
	return nil
}

// runStateless spawns one worker per row, matching the "one worker per
// chunk runs its sub-stream concurrently" description at the row
// granularity Stream already exposes (Stream flattens chunks into rows,
// so there is no separate "sub-stream per chunk" boundary to preserve
// once materialized — concurrency is applied per row instead).
func runStateless(ctx context.Context, s *stream.Stream, check Check, h *Helper) error {
	n := s.Size()
	errs := make([]error, n)

	var wg sync.WaitGroup
	for pos := 0; pos < n; pos++ {
		wg.Add(1)
		go func(pos int) {
			defer wg.Done()
			data, err := s.At(ctx, pos)
			if err != nil {
				errs[pos] = err
				return
			}
			if err := check(ctx, data, h); err != nil {
				errs[pos] = err
			}
		}(pos)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
