package codec

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"github.com/hermeslog/hermes"
)

// Reader opens one Parquet file for row-group-at-a-time decoding. A Reader
// is reused across every chunk (row group) belonging to the same file, as
// the manifest registers one FileInfo per sidecar but one chunk handle per
// row group (spec.md §4.2).
type Reader struct {
	pf *file.Reader
	fr *pqarrow.FileReader
}

// NewReader opens a seekable Parquet source. ra must stay valid for the
// Reader's lifetime; Close releases the underlying file handle.
func NewReader(ra file.ReaderAtSeeker) (*Reader, error) {
	pf, err := file.NewParquetReader(ra)
	if err != nil {
		return nil, wrapCorrupt("opening parquet file", err)
	}
	fr, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{}, memory.DefaultAllocator)
	if err != nil {
		pf.Close()
		return nil, wrapCorrupt("building arrow reader", err)
	}
	return &Reader{pf: pf, fr: fr}, nil
}

func (r *Reader) Close() error {
	return r.pf.Close()
}

// NumRowGroups reports how many chunks this file contains.
func (r *Reader) NumRowGroups() int {
	return r.pf.NumRowGroups()
}

// readRowGroup materializes row group idx into a single arrow.Record,
// concatenating across the library's internal record-batch size if the row
// group is split on the way out.
func (r *Reader) readRowGroup(ctx context.Context, idx int) (arrow.Record, error) {
	rr, err := r.fr.GetRecordReader(ctx, nil, []int{idx})
	if err != nil {
		return nil, wrapCorrupt("reading row group", err)
	}
	defer rr.Release()

	var recs []arrow.Record
	for {
		rec, err := rr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, wrapCorrupt("reading row group records", err)
		}
		rec.Retain()
		recs = append(recs, rec)
	}
	defer func() {
		for _, rec := range recs {
			rec.Release()
		}
	}()

	if len(recs) == 0 {
		return nil, wrapCorrupt("row group produced no records", fmt.Errorf("row group %d", idx))
	}
	if len(recs) == 1 {
		recs[0].Retain()
		return recs[0], nil
	}

	tbl := array.NewTableFromRecords(recs[0].Schema(), recs)
	defer tbl.Release()
	tr := array.NewTableReader(tbl, tbl.NumRows())
	defer tr.Release()
	if !tr.Next() {
		return nil, wrapCorrupt("concatenating row group records", fmt.Errorf("row group %d", idx))
	}
	rec := tr.Record()
	rec.Retain()
	return rec, nil
}

func columnIndex(schema *arrow.Schema, name string) (int, bool) {
	for i, f := range schema.Fields() {
		if f.Name == name {
			return i, true
		}
	}
	return -1, false
}

// decodeAttrs rebuilds the attribute map for row i of rec, reading every
// column whose name carries the attrColumnPrefix in schema order.
func decodeAttrs(rec arrow.Record, row int) (hermes.AttrMap, error) {
	var attrs hermes.AttrMap
	schema := rec.Schema()
	for i, f := range schema.Fields() {
		name, ok := strings.CutPrefix(f.Name, attrColumnPrefix)
		if !ok {
			continue
		}
		col := rec.Column(i)
		v, err := readAttrValue(col, row)
		if err != nil {
			return attrs, err
		}
		attrs.Set(name, v)
	}
	return attrs, nil
}

func readAttrValue(col arrow.Array, row int) (hermes.AttributeValue, error) {
	switch c := col.(type) {
	case *array.Uint8:
		return hermes.U8(c.Value(row)), nil
	case *array.Uint16:
		return hermes.U16(c.Value(row)), nil
	case *array.Uint32:
		return hermes.U32(c.Value(row)), nil
	case *array.Uint64:
		return hermes.U64(c.Value(row)), nil
	case *array.Boolean:
		return hermes.Bool(c.Value(row)), nil
	case *array.String:
		return hermes.String(c.Value(row)), nil
	default:
		return hermes.AttributeValue{}, wrapUnsupported(fmt.Errorf("column type %T", col))
	}
}

func readUint64List(col arrow.Array, row int) ([]uint64, error) {
	lst, ok := col.(*array.List)
	if !ok {
		return nil, wrapCorrupt("expected list column", fmt.Errorf("got %T", col))
	}
	values, ok := lst.ListValues().(*array.Uint64)
	if !ok {
		return nil, wrapCorrupt("expected uint64 list values", fmt.Errorf("got %T", lst.ListValues()))
	}
	start, end := lst.ValueOffsets(row)
	out := make([]uint64, 0, end-start)
	for i := start; i < end; i++ {
		out = append(out, values.Value(int(i)))
	}
	return out, nil
}

func readBoolList(col arrow.Array, row int) ([]bool, error) {
	lst, ok := col.(*array.List)
	if !ok {
		return nil, wrapCorrupt("expected list column", fmt.Errorf("got %T", col))
	}
	values, ok := lst.ListValues().(*array.Boolean)
	if !ok {
		return nil, wrapCorrupt("expected bool list values", fmt.Errorf("got %T", lst.ListValues()))
	}
	start, end := lst.ValueOffsets(row)
	out := make([]bool, 0, end-start)
	for i := start; i < end; i++ {
		out = append(out, values.Value(int(i)))
	}
	return out, nil
}

// DecodeEventChunk reads row group idx of the file as an EventBatch. ids
// are the on-disk ids, not re-allocated, since decode reconstitutes
// already-issued records rather than minting new ones.
func (r *Reader) DecodeEventChunk(ctx context.Context, idx int) (*hermes.EventBatch, error) {
	rec, err := r.readRowGroup(ctx, idx)
	if err != nil {
		return nil, err
	}
	defer rec.Release()

	schema := rec.Schema()
	idCol, ok := columnIndex(schema, "id")
	if !ok {
		return nil, wrapCorrupt("missing id column", fmt.Errorf("event chunk %d", idx))
	}
	timeCol, ok := columnIndex(schema, "time")
	if !ok {
		return nil, wrapCorrupt("missing time column", fmt.Errorf("event chunk %d", idx))
	}
	nameCol, ok := columnIndex(schema, "name")
	if !ok {
		return nil, wrapCorrupt("missing name column", fmt.Errorf("event chunk %d", idx))
	}

	ids, okIDs := rec.Column(idCol).(*array.Uint64)
	times, okTimes := rec.Column(timeCol).(*array.Uint64)
	names, okNames := rec.Column(nameCol).(*array.String)
	if !okIDs || !okTimes || !okNames {
		return nil, wrapCorrupt("unexpected fixed-column types", fmt.Errorf("event chunk %d", idx))
	}

	batch := hermes.NewEventBatch()
	n := int(rec.NumRows())
	for row := 0; row < n; row++ {
		attrs, err := decodeAttrs(rec, row)
		if err != nil {
			return nil, err
		}
		e := hermes.NewDecodedEvent(ids.Value(row), times.Value(row), names.Value(row), attrs)
		batch.Append(e)
	}
	return batch, nil
}

// DecodeTransactionChunk mirrors DecodeEventChunk for transactions.
func (r *Reader) DecodeTransactionChunk(ctx context.Context, idx int) (*hermes.TransactionBatch, error) {
	rec, err := r.readRowGroup(ctx, idx)
	if err != nil {
		return nil, err
	}
	defer rec.Release()

	schema := rec.Schema()
	cols := map[string]int{}
	for _, name := range []string{"id", "start_time", "end_time", "finished", "name", "events"} {
		i, ok := columnIndex(schema, name)
		if !ok {
			return nil, wrapCorrupt("missing column "+name, fmt.Errorf("transaction chunk %d", idx))
		}
		cols[name] = i
	}

	ids := rec.Column(cols["id"]).(*array.Uint64)
	starts := rec.Column(cols["start_time"]).(*array.Uint64)
	ends := rec.Column(cols["end_time"]).(*array.Uint64)
	finished := rec.Column(cols["finished"]).(*array.Boolean)
	names := rec.Column(cols["name"]).(*array.String)
	eventsCol := rec.Column(cols["events"])

	batch := hermes.NewTransactionBatch()
	n := int(rec.NumRows())
	for row := 0; row < n; row++ {
		events, err := readUint64List(eventsCol, row)
		if err != nil {
			return nil, err
		}
		attrs, err := decodeAttrs(rec, row)
		if err != nil {
			return nil, err
		}
		t := hermes.NewDecodedTransaction(ids.Value(row), starts.Value(row), ends.Value(row),
			finished.Value(row), names.Value(row), events, attrs)
		batch.Append(t)
	}
	return batch, nil
}

// DecodeGroupChunk mirrors DecodeEventChunk for transaction groups.
func (r *Reader) DecodeGroupChunk(ctx context.Context, idx int) (*hermes.TransactionGroupBatch, error) {
	rec, err := r.readRowGroup(ctx, idx)
	if err != nil {
		return nil, err
	}
	defer rec.Release()

	schema := rec.Schema()
	cols := map[string]int{}
	for _, name := range []string{"id", "start_time", "end_time", "finished", "name", "transactions", "transaction_masks"} {
		i, ok := columnIndex(schema, name)
		if !ok {
			return nil, wrapCorrupt("missing column "+name, fmt.Errorf("group chunk %d", idx))
		}
		cols[name] = i
	}

	ids := rec.Column(cols["id"]).(*array.Uint64)
	starts := rec.Column(cols["start_time"]).(*array.Uint64)
	ends := rec.Column(cols["end_time"]).(*array.Uint64)
	finished := rec.Column(cols["finished"]).(*array.Boolean)
	names := rec.Column(cols["name"]).(*array.String)
	childrenCol := rec.Column(cols["transactions"])
	masksCol := rec.Column(cols["transaction_masks"])

	batch := hermes.NewTransactionGroupBatch()
	n := int(rec.NumRows())
	for row := 0; row < n; row++ {
		childIDs, err := readUint64List(childrenCol, row)
		if err != nil {
			return nil, err
		}
		masks, err := readBoolList(masksCol, row)
		if err != nil {
			return nil, err
		}
		if len(childIDs) != len(masks) {
			return nil, wrapCorrupt("children/masks length mismatch", fmt.Errorf("group chunk %d row %d", idx, row))
		}
		children := make([]hermes.GroupChild, len(childIDs))
		for i := range childIDs {
			children[i] = hermes.GroupChild{IsGroup: masks[i], ID: childIDs[i]}
		}
		g := hermes.NewDecodedTransactionGroup(ids.Value(row), starts.Value(row), ends.Value(row),
			finished.Value(row), names.Value(row), children)
		batch.Append(g)
	}
	return batch, nil
}
