package stream_test

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
	"github.com/hermeslog/hermes/loader"
	"github.com/hermeslog/hermes/stream"
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

func buildTestRoot(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	eventIDs := hermes.NewIDAllocator()
	e1 := hermes.NewEventWithIDs(eventIDs, 10, "start")
	e2 := hermes.NewEventWithIDs(eventIDs, 20, "end")
	e3 := hermes.NewEventWithIDs(eventIDs, 30, "start")
	e4 := hermes.NewEventWithIDs(eventIDs, 40, "end")

	eventBatch := hermes.NewEventBatch()
	eventBatch.Append(e1)
	eventBatch.Append(e2)
	eventBatch.Append(e3)
	eventBatch.Append(e4)

	eSchema, eRec, err := codec.EncodeEventBatch(eventBatch)
	if err != nil {
		t.Fatalf("EncodeEventBatch: %v", err)
	}
	ef, err := os.Create(filepath.Join(dir, "events.parquet"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	ew, err := codec.NewWriter(ef, eSchema)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := ew.WriteRowGroup(eRec); err != nil {
		t.Fatalf("WriteRowGroup: %v", err)
	}
	if err := ew.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	ef.Close()
	writeJSON(t, filepath.Join(dir, "events.json"), manifest.Sidecar{Parquet: "events.parquet", Type: "event", Name: "sensor"})

	txIDs := hermes.NewIDAllocator()
	tx1 := hermes.NewTransactionWithIDs(txIDs, "op")
	tx1.AddEvent(e1)
	tx1.AddEvent(e2)
	tx1.Finish()

	tx2 := hermes.NewTransactionWithIDs(txIDs, "op")
	tx2.AddEvent(e3)
	tx2.AddEvent(e4)
	tx2.Finish()

	txBatch := hermes.NewTransactionBatch()
	txBatch.Append(tx1)
	txBatch.Append(tx2)

	tSchema, tRec, err := codec.EncodeTransactionBatch(txBatch)
	if err != nil {
		t.Fatalf("EncodeTransactionBatch: %v", err)
	}
	tf, err := os.Create(filepath.Join(dir, "txns.parquet"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	tw, err := codec.NewWriter(tf, tSchema)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := tw.WriteRowGroup(tRec); err != nil {
		t.Fatalf("WriteRowGroup: %v", err)
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	tf.Close()
	writeJSON(t, filepath.Join(dir, "txns.json"), manifest.Sidecar{Parquet: "txns.parquet", Type: "transaction", Name: "op-stream"})

	writeJSON(t, filepath.Join(dir, "checkpoint.json"), manifest.Checkpoint{Files: []string{"events.json", "txns.json"}})
	return dir
}

func openTestLoader(t *testing.T, dir string) *loader.Loader {
	t.Helper()
	l, err := loader.Open(context.Background(), []string{dir}, fsresolver.Credentials{})
	if err != nil {
		t.Fatalf("loader.Open: %v", err)
	}
	return l
}

func TestStreamSizeAndAt(t *testing.T) {
	dir := buildTestRoot(t)
	l := openTestLoader(t, dir)
	ctx := context.Background()

	s, err := l.GetTransactionStream(ctx, "op-stream", 0, 100)
	if err != nil {
		t.Fatalf("GetTransactionStream: %v", err)
	}
	if s.Size() != 2 {
		t.Fatalf("Size() = %d; want 2", s.Size())
	}

	row0, err := s.At(ctx, 0)
	if err != nil {
		t.Fatalf("At(0): %v", err)
	}
	if row0.Transaction == nil || row0.Transaction.StartTime() != 10 {
		t.Errorf("row0 = %+v", row0)
	}
	if row0.Events == nil || row0.Events.Len() != 2 {
		t.Errorf("row0.Events = %+v", row0.Events)
	}

	row1, err := s.At(ctx, 1)
	if err != nil {
		t.Fatalf("At(1): %v", err)
	}
	if row1.Transaction == nil || row1.Transaction.StartTime() != 30 {
		t.Errorf("row1 = %+v", row1)
	}
}

func TestStreamAtOutOfRange(t *testing.T) {
	dir := buildTestRoot(t)
	l := openTestLoader(t, dir)
	ctx := context.Background()

	s, err := l.GetTransactionStream(ctx, "op-stream", 0, 100)
	if err != nil {
		t.Fatalf("GetTransactionStream: %v", err)
	}
	if _, err := s.At(ctx, s.Size()); err == nil {
		t.Error("At(size) should error (out of range)")
	}
}

func TestStreamWhereFiltersRows(t *testing.T) {
	dir := buildTestRoot(t)
	l := openTestLoader(t, dir)
	ctx := context.Background()

	s, err := l.GetTransactionStream(ctx, "op-stream", 0, 100)
	if err != nil {
		t.Fatalf("GetTransactionStream: %v", err)
	}

	filtered, err := s.Where(ctx, func(d stream.TransactionData) bool {
		return d.Transaction != nil && d.Transaction.StartTime() == 30
	})
	if err != nil {
		t.Fatalf("Where: %v", err)
	}
	if filtered.Size() != 1 {
		t.Fatalf("filtered.Size() = %d; want 1", filtered.Size())
	}
	row, err := filtered.At(ctx, 0)
	if err != nil {
		t.Fatalf("At(0): %v", err)
	}
	if row.Transaction.StartTime() != 30 {
		t.Errorf("filtered row = %+v; want StartTime 30", row.Transaction)
	}
}

func TestStreamJSONRendersEveryRow(t *testing.T) {
	dir := buildTestRoot(t)
	l := openTestLoader(t, dir)
	ctx := context.Background()

	s, err := l.GetTransactionStream(ctx, "op-stream", 0, 100)
	if err != nil {
		t.Fatalf("GetTransactionStream: %v", err)
	}

	data, err := s.JSON(ctx)
	if err != nil {
		t.Fatalf("JSON: %v", err)
	}

	var rows []map[string]any
	if err := json.Unmarshal(data, &rows); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("len(rows) = %d; want 2", len(rows))
	}
	if _, ok := rows[0]["transaction"]; !ok {
		t.Errorf("rows[0] missing \"transaction\" key: %v", rows[0])
	}
}
