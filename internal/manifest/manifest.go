// Package manifest reads a Hermes root's checkpoint and per-file sidecars,
// opens each Parquet file, and registers one FileInfo plus one chunk handle
// per row group.
package manifest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/hermeslog/hermes"
	"github.com/hermeslog/hermes/internal/chunkindex"
	"github.com/hermeslog/hermes/internal/codec"
	"github.com/hermeslog/hermes/internal/manifest/fsresolver"
)

// RecordType mirrors codec.RecordType at the manifest layer so this
// package doesn't need to import internal/codec's encode/decode surface
// just to name a sidecar's declared type.
type RecordType = codec.RecordType

// Checkpoint is the root's `checkpoint.json` contract (spec.md §6).
type Checkpoint struct {
	Files []string `json:"files"`
}

// Sidecar is one `{parquet,type,name}.json` document.
type Sidecar struct {
	Parquet string     `json:"parquet"`
	Type    RecordType `json:"type"`
	Name    string     `json:"name"`
}

// FileInfo is the registered record for one opened Parquet file.
type FileInfo struct {
	Type      RecordType
	Name      string
	Path      string
	Size      int64
	RowGroups []chunkindex.Stats

	fs fsresolver.ChunkFileSystem // reopened lazily by OpenReader
}

// Root owns every FileInfo and chunk handle opened from a set of
// filesystem roots. files_mutex in spec.md §5 maps onto mu here: it guards
// Files and the per-handle chunk table during and after load.
type Root struct {
	resolver *fsresolver.Registry
	logger   *slog.Logger

	mu      sync.Mutex
	files   []*FileInfo
	entries []chunkindex.Entry // one per (file, row_group), in registration order
	opened  map[string]bool    // idempotency guard keyed by root+"/"+sidecar path
}

// NewRoot constructs an empty Root. logger defaults to slog.Default() when
// nil.
func NewRoot(logger *slog.Logger) *Root {
	if logger == nil {
		logger = slog.Default()
	}
	return &Root{
		resolver: fsresolver.NewRegistry(),
		logger:   logger,
		opened:   make(map[string]bool),
	}
}

// Open reads root's checkpoint and every sidecar it names, registering a
// FileInfo and chunk handles for each. Per-file failures
// (ManifestMissing/SidecarCorrupt/FileMissing) are logged and skipped; Open
// only returns an error if the checkpoint itself cannot be read, since a
// missing checkpoint means the root contributes nothing at all.
func (r *Root) Open(ctx context.Context, root string, creds fsresolver.Credentials) error {
	fs, err := r.resolver.Resolve(ctx, root, creds)
	if err != nil {
		return &Error{Kind: ManifestMissing, Msg: "resolving root " + root, Err: err}
	}

	cpFile, err := fs.Open(ctx, "checkpoint.json")
	if err != nil {
		return &Error{Kind: ManifestMissing, Msg: "opening checkpoint.json under " + root, Err: err}
	}
	defer cpFile.Close()

	var cp Checkpoint
	if err := json.NewDecoder(cpFile).Decode(&cp); err != nil {
		return &Error{Kind: ManifestMissing, Msg: "parsing checkpoint.json under " + root, Err: err}
	}

	var wg sync.WaitGroup
	for _, sidecarPath := range cp.Files {
		wg.Add(1)
		go func(sidecarPath string) {
			defer wg.Done()
			if err := r.openSidecar(ctx, root, fs, sidecarPath); err != nil {
				r.logger.Warn("skipping sidecar", "root", root, "sidecar", sidecarPath, "error", err)
			}
		}(sidecarPath)
	}
	wg.Wait()
	return nil
}

func (r *Root) openSidecar(ctx context.Context, root string, fs fsresolver.ChunkFileSystem, sidecarPath string) error {
	opKey := root + "/" + sidecarPath

	r.mu.Lock()
	if r.opened[opKey] {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	sideFile, err := fs.Open(ctx, sidecarPath)
	if err != nil {
		return &Error{Kind: FileMissing, Msg: "opening sidecar " + sidecarPath, Err: err}
	}
	var sidecar Sidecar
	decodeErr := json.NewDecoder(sideFile).Decode(&sidecar)
	sideFile.Close()
	if decodeErr != nil {
		return &Error{Kind: SidecarCorrupt, Msg: "parsing sidecar " + sidecarPath, Err: decodeErr}
	}

	parquetFile, err := fs.Open(ctx, sidecar.Parquet)
	if err != nil {
		return &Error{Kind: FileMissing, Msg: "opening parquet file " + sidecar.Parquet, Err: err}
	}
	defer parquetFile.Close()

	size, err := parquetFile.Seek(0, io.SeekEnd)
	if err != nil {
		return &Error{Kind: FileMissing, Msg: "seeking " + sidecar.Parquet, Err: err}
	}
	if _, err := parquetFile.Seek(0, io.SeekStart); err != nil {
		return &Error{Kind: FileMissing, Msg: "rewinding " + sidecar.Parquet, Err: err}
	}

	reader, err := codec.NewReader(parquetFile)
	if err != nil {
		return &Error{Kind: SidecarCorrupt, Msg: "opening parquet reader for " + sidecar.Parquet, Err: err}
	}
	defer reader.Close()

	numRowGroups := reader.NumRowGroups()
	rowGroups := make([]chunkindex.Stats, numRowGroups)
	for i := 0; i < numRowGroups; i++ {
		stats, err := statsForRowGroup(ctx, reader, sidecar.Type, i)
		if err != nil {
			return err
		}
		rowGroups[i] = stats
	}

	info := &FileInfo{
		Type:      sidecar.Type,
		Name:      sidecar.Name,
		Path:      sidecar.Parquet,
		Size:      size,
		RowGroups: rowGroups,
		fs:        fs,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.opened[opKey] {
		return nil
	}
	fileIndex := len(r.files)
	r.files = append(r.files, info)
	for rg, stats := range rowGroups {
		r.entries = append(r.entries, chunkindex.Entry{
			Handle: chunkindex.Handle{FileIndex: fileIndex, RowGroup: rg},
			Stats:  stats,
		})
	}
	r.opened[opKey] = true
	return nil
}

// statsForRowGroup derives the min/max stats chunkindex needs by decoding
// the row group once at registration time. This costs one decode per
// chunk at Open time in exchange for a stats-only pruner afterwards; the
// alternative (reading Parquet column statistics directly from the file
// footer) is a valid optimization a production encoder would add, but
// decode-once-at-open keeps this package's only dependency on
// internal/codec's public Decode surface.
func statsForRowGroup(ctx context.Context, reader *codec.Reader, recordType RecordType, idx int) (chunkindex.Stats, error) {
	stats := chunkindex.Stats{}
	switch recordType {
	case codec.RecordEvent:
		batch, err := reader.DecodeEventChunk(ctx, idx)
		if err != nil {
			return nil, &Error{Kind: SidecarCorrupt, Msg: fmt.Sprintf("decoding event chunk %d for stats", idx), Err: err}
		}
		if batch.Len() == 0 {
			return stats, nil
		}
		idMin, idMax := idBounds(batch.Records(), func(e *hermes.Event) uint64 { return e.ID() })
		stats["id"] = chunkindex.MinMax{Min: idMin, Max: idMax}
		stats["time"] = chunkindex.MinMax{Min: batch.MinTime(), Max: batch.MaxTime()}
	case codec.RecordTransaction:
		batch, err := reader.DecodeTransactionChunk(ctx, idx)
		if err != nil {
			return nil, &Error{Kind: SidecarCorrupt, Msg: fmt.Sprintf("decoding transaction chunk %d for stats", idx), Err: err}
		}
		if batch.Len() == 0 {
			return stats, nil
		}
		records := batch.Records()
		idMin, idMax := idBounds(records, func(t *hermes.Transaction) uint64 { return t.ID() })
		startMin, startMax := idBounds(records, func(t *hermes.Transaction) uint64 { return t.StartTime() })
		endMin, endMax := idBounds(records, func(t *hermes.Transaction) uint64 { return t.EndTime() })
		stats["id"] = chunkindex.MinMax{Min: idMin, Max: idMax}
		stats["start_time"] = chunkindex.MinMax{Min: startMin, Max: startMax}
		stats["end_time"] = chunkindex.MinMax{Min: endMin, Max: endMax}
	case codec.RecordTransactionGroup:
		batch, err := reader.DecodeGroupChunk(ctx, idx)
		if err != nil {
			return nil, &Error{Kind: SidecarCorrupt, Msg: fmt.Sprintf("decoding group chunk %d for stats", idx), Err: err}
		}
		if batch.Len() == 0 {
			return stats, nil
		}
		records := batch.Records()
		idMin, idMax := idBounds(records, func(g *hermes.TransactionGroup) uint64 { return g.ID() })
		startMin, startMax := idBounds(records, func(g *hermes.TransactionGroup) uint64 { return g.StartTime() })
		endMin, endMax := idBounds(records, func(g *hermes.TransactionGroup) uint64 { return g.EndTime() })
		stats["id"] = chunkindex.MinMax{Min: idMin, Max: idMax}
		stats["start_time"] = chunkindex.MinMax{Min: startMin, Max: startMax}
		stats["end_time"] = chunkindex.MinMax{Min: endMin, Max: endMax}
	default:
		return nil, &Error{Kind: SidecarCorrupt, Msg: fmt.Sprintf("unknown record type %q", recordType)}
	}
	return stats, nil
}

func idBounds[T any](records []T, get func(T) uint64) (uint64, uint64) {
	min, max := get(records[0]), get(records[0])
	for _, r := range records[1:] {
		v := get(r)
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max
}

// OpenReader reopens the Parquet file registered at fileIndex for chunk
// decode. Callers (the batch caches, via loader) are expected to call this
// once per cache miss and Close the result when done with that row
// group's decode.
func (r *Root) OpenReader(ctx context.Context, fileIndex int) (*codec.Reader, error) {
	r.mu.Lock()
	if fileIndex < 0 || fileIndex >= len(r.files) {
		r.mu.Unlock()
		return nil, &Error{Kind: FileMissing, Msg: fmt.Sprintf("no file registered at index %d", fileIndex)}
	}
	info := r.files[fileIndex]
	r.mu.Unlock()

	f, err := info.fs.Open(ctx, info.Path)
	if err != nil {
		return nil, &Error{Kind: FileMissing, Msg: "reopening " + info.Path, Err: err}
	}
	reader, err := codec.NewReader(f)
	if err != nil {
		f.Close()
		return nil, &Error{Kind: SidecarCorrupt, Msg: "reopening parquet reader for " + info.Path, Err: err}
	}
	return reader, nil
}

// Files returns the registered files in registration order.
func (r *Root) Files() []*FileInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*FileInfo, len(r.files))
	copy(out, r.files)
	return out
}

// Entries returns every registered chunk in stable (file, row-group)
// order, for internal/chunkindex.Prune.
func (r *Root) Entries() []chunkindex.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]chunkindex.Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Clear destructively wipes every registered file and chunk handle. No
// read path in this package calls Clear; it exists for test teardown
// between Root instances that share process-level caches.
func (r *Root) Clear(_ context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files = nil
	r.entries = nil
	r.opened = make(map[string]bool)
}
