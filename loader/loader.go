// Package loader implements Hermes's public query contract (spec.md
// §4.5): point lookups, windowed scans, stream construction and schema
// introspection over a set of manifest roots.
package loader

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/hermeslog/hermes"
	"github.com/hermeslog/hermes/cache"
	"github.com/hermeslog/hermes/internal/chunkindex"
	"github.com/hermeslog/hermes/internal/manifest"
	"github.com/hermeslog/hermes/internal/manifest/fsresolver"
	"github.com/hermeslog/hermes/pubsub"
	"github.com/hermeslog/hermes/replay"
	"github.com/hermeslog/hermes/stream"
)

// Budget splits a memory budget 3:1:1 across events:transactions:groups,
// per spec.md §4.4.
type Budget struct {
	// TotalBytes is the overall memory budget M.
	TotalBytes int64
	// AvgEventChunkBytes, AvgTransactionChunkBytes, AvgGroupChunkBytes are
	// estimated average chunk sizes per record type, used to convert a
	// byte budget into an entry-count capacity.
	AvgEventChunkBytes       int64
	AvgTransactionChunkBytes int64
	AvgGroupChunkBytes       int64
}

func (b Budget) capacities() (events, transactions, groups int) {
	events = capacityFor(b.TotalBytes*3/5, b.AvgEventChunkBytes)
	transactions = capacityFor(b.TotalBytes/5, b.AvgTransactionChunkBytes)
	groups = capacityFor(b.TotalBytes/5, b.AvgGroupChunkBytes)
	return
}

func capacityFor(budget, avgChunk int64) int {
	if avgChunk <= 0 {
		return 16
	}
	c := int(budget / avgChunk)
	if c < 16 {
		c = 16
	}
	return c
}

// Loader is the public query surface over one or more manifest roots.
type Loader struct {
	root   *manifest.Root
	logger *slog.Logger

	events       *cache.Cache[*hermes.EventBatch]
	transactions *cache.Cache[*hermes.TransactionBatch]
	groups       *cache.Cache[*hermes.TransactionGroupBatch]

	eventIDIndex []eventIDIndexEntry // sorted by MinID, built once at construction

	loadedFiles *prometheus.GaugeVec
}

type eventIDIndexEntry struct {
	MinID  uint64
	Handle chunkindex.Handle
}

// Option configures a Loader at construction.
type Option func(*options)

type options struct {
	logger   *slog.Logger
	budget   Budget
	registry prometheus.Registerer
}

func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }
func WithBudget(b Budget) Option       { return func(o *options) { o.budget = b } }
func WithRegisterer(r prometheus.Registerer) Option {
	return func(o *options) { o.registry = r }
}

// Open builds a Loader over the given roots. Each root is either a local
// directory or an s3:// URI; creds applies to every S3 root (callers
// needing different credentials per root should construct separate
// Loaders and merge query results themselves — spec.md names no
// per-root-credential requirement).
func Open(ctx context.Context, roots []string, creds fsresolver.Credentials, opts ...Option) (*Loader, error) {
	o := options{logger: slog.Default(), registry: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&o)
	}

	root := manifest.NewRoot(o.logger)
	for _, r := range roots {
		if err := root.Open(ctx, r, creds); err != nil {
			return nil, err
		}
	}

	eventsCap, txCap, groupsCap := o.budget.capacities()

	l := &Loader{
		root:         root,
		logger:       o.logger,
		events:       cache.New[*hermes.EventBatch]("events", eventsCap, o.registry),
		transactions: cache.New[*hermes.TransactionBatch]("transactions", txCap, o.registry),
		groups:       cache.New[*hermes.TransactionGroupBatch]("groups", groupsCap, o.registry),
		loadedFiles: promauto.With(o.registry).NewGaugeVec(prometheus.GaugeOpts{
			Name: "hermes_loader_files",
			Help: "Number of files registered per record type.",
		}, []string{"type"}),
	}
	l.recordLoadedFiles()
	l.buildEventIDIndex()
	return l, nil
}

func (l *Loader) recordLoadedFiles() {
	counts := map[manifest.RecordType]int{}
	for _, f := range l.root.Files() {
		counts[f.Type]++
	}
	for t, n := range counts {
		l.loadedFiles.WithLabelValues(string(t)).Set(float64(n))
	}
}

// buildEventIDIndex builds the min-id -> handle ordered map described in
// spec.md §4.5, once, read-only thereafter (no mutex needed).
func (l *Loader) buildEventIDIndex() {
	files := l.root.Files()
	for _, e := range l.root.Entries() {
		if files[e.Handle.FileIndex].Type != manifest.RecordType("event") {
			continue
		}
		mm, ok := e.Stats["id"]
		if !ok {
			continue
		}
		l.eventIDIndex = append(l.eventIDIndex, eventIDIndexEntry{MinID: mm.Min, Handle: e.Handle})
	}
	sort.Slice(l.eventIDIndex, func(i, j int) bool {
		return l.eventIDIndex[i].MinID < l.eventIDIndex[j].MinID
	})
}

func (l *Loader) decodeEventChunk(ctx context.Context, h chunkindex.Handle) (*hermes.EventBatch, error) {
	return l.events.GetOrDecode(h, func() (*hermes.EventBatch, error) {
		r, err := l.root.OpenReader(ctx, h.FileIndex)
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return r.DecodeEventChunk(ctx, h.RowGroup)
	})
}

func (l *Loader) decodeTransactionChunk(ctx context.Context, h chunkindex.Handle) (*hermes.TransactionBatch, error) {
	return l.transactions.GetOrDecode(h, func() (*hermes.TransactionBatch, error) {
		r, err := l.root.OpenReader(ctx, h.FileIndex)
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return r.DecodeTransactionChunk(ctx, h.RowGroup)
	})
}

func (l *Loader) decodeGroupChunk(ctx context.Context, h chunkindex.Handle) (*hermes.TransactionGroupBatch, error) {
	return l.groups.GetOrDecode(h, func() (*hermes.TransactionGroupBatch, error) {
		r, err := l.root.OpenReader(ctx, h.FileIndex)
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return r.DecodeGroupChunk(ctx, h.RowGroup)
	})
}

func (l *Loader) entriesOfType(t manifest.RecordType) []chunkindex.Entry {
	files := l.root.Files()
	var out []chunkindex.Entry
	for _, e := range l.root.Entries() {
		if files[e.Handle.FileIndex].Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (l *Loader) fileName(h chunkindex.Handle) string {
	files := l.root.Files()
	if h.FileIndex < 0 || h.FileIndex >= len(files) {
		return ""
	}
	return files[h.FileIndex].Name
}

// GetTransaction scans every transaction chunk whose id stats contain v,
// decodes, and returns the first matching row.
func (l *Loader) GetTransaction(ctx context.Context, id uint64) (*hermes.Transaction, bool, error) {
	handles := chunkindex.Prune(l.entriesOfType(manifest.RecordType("transaction")), chunkindex.ByID("id", id))
	for _, h := range handles {
		batch, err := l.decodeTransactionChunk(ctx, h)
		if err != nil {
			return nil, false, err
		}
		if tx, ok := batch.ByID(id); ok {
			return tx, true, nil
		}
	}
	return nil, false, nil
}

// GetTransactionGroup mirrors GetTransaction against group chunks.
func (l *Loader) GetTransactionGroup(ctx context.Context, id uint64) (*hermes.TransactionGroup, bool, error) {
	handles := chunkindex.Prune(l.entriesOfType(manifest.RecordType("transaction-group")), chunkindex.ByID("id", id))
	for _, h := range handles {
		batch, err := l.decodeGroupChunk(ctx, h)
		if err != nil {
			return nil, false, err
		}
		if g, ok := batch.ByID(id); ok {
			return g, true, nil
		}
	}
	return nil, false, nil
}

// GetTransactions prunes by name and [start_time,end_time]∩[lo,hi],
// decodes and concatenates matching transactions. A zero-value name
// matches every chunk.
func (l *Loader) GetTransactions(ctx context.Context, name string, lo, hi uint64) ([]*hermes.Transaction, error) {
	entries := l.entriesOfType(manifest.RecordType("transaction"))
	handles := chunkindex.Prune(entries, chunkindex.ByWindow(lo, hi))

	var out []*hermes.Transaction
	for _, h := range handles {
		if name != "" && l.fileName(h) != name {
			continue
		}
		batch, err := l.decodeTransactionChunk(ctx, h)
		if err != nil {
			return nil, err
		}
		for _, t := range batch.Records() {
			if t.StartTime() <= hi && lo <= t.EndTime() {
				out = append(out, t)
			}
		}
	}
	return out, nil
}

// GetEvents prunes by name and time∈[lo,hi], decodes and concatenates
// matching events.
func (l *Loader) GetEvents(ctx context.Context, name string, lo, hi uint64) ([]*hermes.Event, error) {
	entries := l.entriesOfType(manifest.RecordType("event"))
	handles := chunkindex.Prune(entries, chunkindex.ByRange("time", lo, hi))

	var out []*hermes.Event
	for _, h := range handles {
		if name != "" && l.fileName(h) != name {
			continue
		}
		batch, err := l.decodeEventChunk(ctx, h)
		if err != nil {
			return nil, err
		}
		from := batch.LowerBound(lo)
		to := batch.UpperBound(hi)
		for pos := from; pos < to; pos++ {
			out = append(out, batch.EventAtTimeOrder(pos))
		}
	}
	return out, nil
}

// GetEventsForTransaction resolves every event id in T via the
// event_id_index, decoding each matched chunk once.
func (l *Loader) GetEventsForTransaction(ctx context.Context, t *hermes.Transaction) (*hermes.EventBatch, error) {
	out := hermes.NewEventBatch()
	for _, id := range t.Events() {
		e, err := l.lookupEventByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if e == nil {
			return nil, &hermes.Error{Kind: hermes.CorruptChunk, Msg: fmt.Sprintf("transaction %d references missing event %d", t.ID(), id)}
		}
		out.Append(e)
	}
	return out, nil
}

// lookupEventByID uses the event_id_index: find the last entry whose
// MinID <= id, then walk forward through the remaining chunks in
// ascending MinID order. This never loops — it walks the
// already-sorted index at most once — and returns nil if no chunk
// contains the id, matching the Open Question's "fall back to scanning
// forward, bounded" resolution.
func (l *Loader) lookupEventByID(ctx context.Context, id uint64) (*hermes.Event, error) {
	start := sort.Search(len(l.eventIDIndex), func(i int) bool {
		return l.eventIDIndex[i].MinID > id
	})
	if start > 0 {
		start--
	}
	for i := start; i < len(l.eventIDIndex); i++ {
		batch, err := l.decodeEventChunk(ctx, l.eventIDIndex[i].Handle)
		if err != nil {
			return nil, err
		}
		if e, ok := batch.ByID(id); ok {
			return e, nil
		}
	}
	return nil, nil
}

// Stream replays every registered chunk through bus via package replay's
// k-way per-kind merge (spec.md §4.7).
func (l *Loader) Stream(ctx context.Context, bus *pubsub.MessageBus, withTransactions bool) error {
	return replay.Stream(ctx, l, bus, replay.Options{WithTransactions: withTransactions})
}

// GetTransactionStream builds a TransactionStream over every
// transaction/group chunk named name whose window overlaps [lo,hi].
func (l *Loader) GetTransactionStream(ctx context.Context, name string, lo, hi uint64) (*stream.Stream, error) {
	return stream.New(ctx, l, name, lo, hi)
}

// Schema reports the decoded arrow schema field names and types for any
// one chunk of the given name, across any record type.
func (l *Loader) Schema(ctx context.Context, name string) (map[string]string, error) {
	for _, rt := range []manifest.RecordType{"event", "transaction", "transaction-group"} {
		for _, e := range l.entriesOfType(rt) {
			if l.fileName(e.Handle) != name {
				continue
			}
			switch rt {
			case "event":
				batch, err := l.decodeEventChunk(ctx, e.Handle)
				if err != nil {
					return nil, err
				}
				return eventBatchSchema(batch), nil
			case "transaction":
				batch, err := l.decodeTransactionChunk(ctx, e.Handle)
				if err != nil {
					return nil, err
				}
				schema := map[string]string{"id": "u64", "start_time": "u64", "end_time": "u64", "finished": "bool", "name": "utf8", "events": "list<u64>"}
				if batch.Len() > 0 {
					for _, attr := range batch.At(0).Attrs().Names() {
						v, _ := batch.At(0).Attr(attr)
						schema[attr] = v.Kind().String()
					}
				}
				return schema, nil
			case "transaction-group":
				return map[string]string{"id": "u64", "start_time": "u64", "end_time": "u64", "finished": "bool", "name": "utf8", "transactions": "list<u64>", "transaction_masks": "list<bool>"}, nil
			}
		}
	}
	return nil, nil
}

func eventBatchSchema(batch *hermes.EventBatch) map[string]string {
	schema := map[string]string{"id": "u64", "time": "u64", "name": "utf8"}
	if batch.Len() == 0 {
		return schema
	}
	for _, name := range batch.At(0).Attrs().Names() {
		v, _ := batch.At(0).Attr(name)
		schema[name] = v.Kind().String()
	}
	return schema
}

// Root exposes the underlying manifest for packages (stream, replay) that
// need direct chunk access alongside the Loader's caches.
func (l *Loader) Root() *manifest.Root { return l.root }

// DecodeEventChunk, DecodeTransactionChunk and DecodeGroupChunk are the
// cache-backed decode entry points package stream and package replay use
// to materialize a specific handle without going through a
// name/time-window query.
func (l *Loader) DecodeEventChunk(ctx context.Context, h chunkindex.Handle) (*hermes.EventBatch, error) {
	return l.decodeEventChunk(ctx, h)
}

func (l *Loader) DecodeTransactionChunk(ctx context.Context, h chunkindex.Handle) (*hermes.TransactionBatch, error) {
	return l.decodeTransactionChunk(ctx, h)
}

func (l *Loader) DecodeGroupChunk(ctx context.Context, h chunkindex.Handle) (*hermes.TransactionGroupBatch, error) {
	return l.decodeGroupChunk(ctx, h)
}

// EntriesOfType exposes pruning entries for stream/replay construction.
func (l *Loader) EntriesOfType(t string) []chunkindex.Entry {
	return l.entriesOfType(manifest.RecordType(t))
}

// FileName exposes the logical stream name registered for a handle.
func (l *Loader) FileName(h chunkindex.Handle) string { return l.fileName(h) }

// Preload drives every cache up to capacity so later reads can bypass the
// lock once everything fits (spec.md §4.4's preload mode).
func (l *Loader) Preload(ctx context.Context) error {
	eventHandles := chunkindex.Prune(l.entriesOfType("event"))
	if err := l.events.Preload(eventHandles, func(h chunkindex.Handle) (*hermes.EventBatch, error) {
		r, err := l.root.OpenReader(ctx, h.FileIndex)
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return r.DecodeEventChunk(ctx, h.RowGroup)
	}); err != nil {
		return err
	}

	txHandles := chunkindex.Prune(l.entriesOfType("transaction"))
	if err := l.transactions.Preload(txHandles, func(h chunkindex.Handle) (*hermes.TransactionBatch, error) {
		r, err := l.root.OpenReader(ctx, h.FileIndex)
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return r.DecodeTransactionChunk(ctx, h.RowGroup)
	}); err != nil {
		return err
	}

	groupHandles := chunkindex.Prune(l.entriesOfType("transaction-group"))
	return l.groups.Preload(groupHandles, func(h chunkindex.Handle) (*hermes.TransactionGroupBatch, error) {
		r, err := l.root.OpenReader(ctx, h.FileIndex)
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return r.DecodeGroupChunk(ctx, h.RowGroup)
	})
}
