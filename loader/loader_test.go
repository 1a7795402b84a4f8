package loader

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/hermeslog/hermes"
	"github.com/hermeslog/hermes/internal/codec"
	"github.com/hermeslog/hermes/internal/manifest"
	"github.com/hermeslog/hermes/internal/manifest/fsresolver"
)

func writeJSON(t *testing.T, path string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func writeEventFile(t *testing.T, dir, baseName, streamName string, times []uint64) {
	t.Helper()
	ids := hermes.NewIDAllocator()
	batch := hermes.NewEventBatch()
	for _, tm := range times {
		e := hermes.NewEventWithIDs(ids, tm, "tick")
		e.AddAttr("value", hermes.U32(uint32(tm)))
		batch.Append(e)
	}

	schema, rec, err := codec.EncodeEventBatch(batch)
	if err != nil {
		t.Fatalf("EncodeEventBatch: %v", err)
	}

	f, err := os.Create(filepath.Join(dir, baseName+".parquet"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer f.Close()

	w, err := codec.NewWriter(f, schema)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w.WriteRowGroup(rec); err != nil {
		t.Fatalf("WriteRowGroup: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	writeJSON(t, filepath.Join(dir, baseName+".json"), manifest.Sidecar{
		Parquet: baseName + ".parquet",
		Type:    "event",
		Name:    streamName,
	})
}

func writeTransactionFile(t *testing.T, dir, baseName, streamName string, txs []*hermes.Transaction) {
	t.Helper()
	batch := hermes.NewTransactionBatch()
	for _, tx := range txs {
		batch.Append(tx)
	}

	schema, rec, err := codec.EncodeTransactionBatch(batch)
	if err != nil {
		t.Fatalf("EncodeTransactionBatch: %v", err)
	}

	f, err := os.Create(filepath.Join(dir, baseName+".parquet"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer f.Close()

	w, err := codec.NewWriter(f, schema)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w.WriteRowGroup(rec); err != nil {
		t.Fatalf("WriteRowGroup: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	writeJSON(t, filepath.Join(dir, baseName+".json"), manifest.Sidecar{
		Parquet: baseName + ".parquet",
		Type:    "transaction",
		Name:    streamName,
	})
}

func finishedTransaction(ids *hermes.IDAllocator, name string, events []*hermes.Event) *hermes.Transaction {
	tx := hermes.NewTransactionWithIDs(ids, name)
	for _, e := range events {
		tx.AddEvent(e)
	}
	tx.Finish()
	return tx
}

func writeCheckpoint(t *testing.T, dir string, sidecars ...string) {
	t.Helper()
	writeJSON(t, filepath.Join(dir, "checkpoint.json"), manifest.Checkpoint{Files: sidecars})
}

func sidecarNames(bases ...string) []string {
	out := make([]string, len(bases))
	for i, b := range bases {
		out[i] = b + ".json"
	}
	return out
}

func openLoader(t *testing.T, dir string) *Loader {
	t.Helper()
	l, err := Open(context.Background(), []string{dir}, fsresolver.Credentials{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return l
}

func TestLoaderGetEventsByNameAndWindow(t *testing.T) {
	dir := t.TempDir()
	writeEventFile(t, dir, "events-a", "sensor", []uint64{0, 5, 10, 15, 20})
	writeEventFile(t, dir, "events-b", "other", []uint64{1, 2, 3})
	writeCheckpoint(t, dir, sidecarNames("events-a", "events-b")...)

	l := openLoader(t, dir)
	events, err := l.GetEvents(context.Background(), "sensor", 5, 15)
	if err != nil {
		t.Fatalf("GetEvents: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("len(events) = %d; want 3 (times 5,10,15)", len(events))
	}
	for _, e := range events {
		if e.Time() < 5 || e.Time() > 15 {
			t.Errorf("event time %d out of requested window", e.Time())
		}
	}
}

func TestLoaderGetEventsIsCached(t *testing.T) {
	dir := t.TempDir()
	writeEventFile(t, dir, "events-a", "sensor", []uint64{0, 1, 2})
	writeCheckpoint(t, dir, sidecarNames("events-a")...)

	l := openLoader(t, dir)
	ctx := context.Background()
	if _, err := l.GetEvents(ctx, "sensor", 0, 2); err != nil {
		t.Fatalf("GetEvents #1: %v", err)
	}
	if _, err := l.GetEvents(ctx, "sensor", 0, 2); err != nil {
		t.Fatalf("GetEvents #2: %v", err)
	}
	if l.events.Len() != 1 {
		t.Errorf("events cache Len() = %d; want 1", l.events.Len())
	}
}

func TestLoaderGetTransactionAndItsEvents(t *testing.T) {
	dir2 := t.TempDir()
	ids := hermes.NewIDAllocator()
	evtIDs := hermes.NewIDAllocator()
	a := hermes.NewEventWithIDs(evtIDs, 10, "start")
	b := hermes.NewEventWithIDs(evtIDs, 20, "end")
	tx := finishedTransaction(ids, "txn", []*hermes.Event{a, b})

	batch := hermes.NewEventBatch()
	batch.Append(a)
	batch.Append(b)
	schema, rec, err := codec.EncodeEventBatch(batch)
	if err != nil {
		t.Fatalf("EncodeEventBatch: %v", err)
	}
	f, err := os.Create(filepath.Join(dir2, "events.parquet"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	w, err := codec.NewWriter(f, schema)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w.WriteRowGroup(rec); err != nil {
		t.Fatalf("WriteRowGroup: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	f.Close()
	writeJSON(t, filepath.Join(dir2, "events.json"), manifest.Sidecar{Parquet: "events.parquet", Type: "event", Name: "sensor"})

	writeTransactionFile(t, dir2, "txns", "txn-stream", []*hermes.Transaction{tx})
	writeCheckpoint(t, dir2, "events.json", "txns.json")

	l := openLoader(t, dir2)
	ctx := context.Background()

	got, ok, err := l.GetTransaction(ctx, tx.ID())
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if !ok {
		t.Fatal("GetTransaction: not found")
	}
	if got.Name() != "txn" || got.StartTime() != 10 || got.EndTime() != 20 {
		t.Errorf("GetTransaction = %+v", got)
	}

	events, err := l.GetEventsForTransaction(ctx, got)
	if err != nil {
		t.Fatalf("GetEventsForTransaction: %v", err)
	}
	if events.Len() != 2 {
		t.Fatalf("GetEventsForTransaction len = %d; want 2", events.Len())
	}
}

func TestLoaderGetTransactionNotFoundReturnsFalse(t *testing.T) {
	dir := t.TempDir()
	ids := hermes.NewIDAllocator()
	evtIDs := hermes.NewIDAllocator()
	e := hermes.NewEventWithIDs(evtIDs, 1, "x")
	tx := finishedTransaction(ids, "only", []*hermes.Event{e})
	writeTransactionFile(t, dir, "txns", "only-stream", []*hermes.Transaction{tx})
	writeCheckpoint(t, dir, "txns.json")

	l := openLoader(t, dir)
	_, ok, err := l.GetTransaction(context.Background(), 999999)
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if ok {
		t.Error("GetTransaction should report not found for an unregistered id")
	}
}
