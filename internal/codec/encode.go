package codec

import (
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"github.com/hermeslog/hermes"
)

// RowGroupSize is the largest number of records the writer puts in one
// row group; a record longer than this is split across several row
// groups.
const RowGroupSize = 1 << 16

// Writer accumulates arrow.Records and emits one Parquet file with one row
// group per call to WriteRowGroup,
// matching the "one file per batch, one row group per flushed chunk"
// contract of spec.md §6.
type Writer struct {
	fw *pqarrow.FileWriter
}

func newParquetProps() *parquet.WriterProperties {
	return parquet.NewWriterProperties(
		parquet.WithVersion(parquet.V2_LATEST),
		parquet.WithCompression(compress.Codecs.Zstd),
		parquet.WithMaxRowGroupLength(RowGroupSize),
	)
}

// NewWriter opens a Parquet file writer over w using schema. The caller
// supplies the schema derived from the first record of the batch (see
// eventSchema/transactionSchema/groupSchema) since the schema is fixed for
// the lifetime of one file.
func NewWriter(w io.Writer, schema *arrow.Schema) (*Writer, error) {
	fw, err := pqarrow.NewFileWriter(schema, w, newParquetProps(), pqarrow.DefaultWriterProps())
	if err != nil {
		return nil, wrapCorrupt("opening parquet writer", err)
	}
	return &Writer{fw: fw}, nil
}

// WriteRowGroup writes rec as a single row group and flushes it.
func (wr *Writer) WriteRowGroup(rec arrow.Record) error {
	defer rec.Release()
	wr.fw.NewBufferedRowGroup()
	if err := wr.fw.WriteBuffered(rec); err != nil {
		return wrapCorrupt("writing row group", err)
	}
	return nil
}

// Close finalizes the file's footer. It must be called exactly once.
func (wr *Writer) Close() error {
	if err := wr.fw.Close(); err != nil {
		return wrapCorrupt("closing parquet writer", err)
	}
	return nil
}

// EncodeEventBatch derives an event schema from the batch's first record
// and builds the single arrow.Record spec.md §4.1 describes ("a single
// in-memory record batch per Batch"). It returns UnsupportedType /
// SchemaMismatch on the conditions §4.1 names. An empty batch encodes to a
// zero-length record over the given attrs-derived or, absent any record, a
// columns-only schema with no attribute columns.
func EncodeEventBatch(batch *hermes.EventBatch) (*arrow.Schema, arrow.Record, error) {
	records := batch.Records()
	var canonical hermes.AttrMap
	if len(records) > 0 {
		canonical = records[0].Attrs().Clone()
	}
	schema, err := eventSchema(&canonical)
	if err != nil {
		return nil, nil, wrapUnsupported(err)
	}

	mem := memory.DefaultAllocator
	idB := array.NewUint64Builder(mem)
	timeB := array.NewUint64Builder(mem)
	nameB := array.NewStringBuilder(mem)
	defer idB.Release()
	defer timeB.Release()
	defer nameB.Release()

	attrNames := canonical.Names()
	attrBuilders := make([]array.Builder, len(attrNames))
	for i, name := range attrNames {
		v, _ := canonical.Get(name)
		attrBuilders[i] = newAttrBuilder(mem, v.Kind())
		defer attrBuilders[i].Release()
	}

	for _, e := range records {
		if err := checkSchema(&canonical, e.Attrs()); err != nil {
			return nil, nil, err
		}
		idB.Append(e.ID())
		timeB.Append(e.Time())
		nameB.Append(e.Name())
		for i, name := range attrNames {
			v, _ := e.Attrs().Get(name)
			if err := appendAttr(attrBuilders[i], v); err != nil {
				return nil, nil, err
			}
		}
	}

	cols := []arrow.Array{idB.NewArray(), timeB.NewArray(), nameB.NewArray()}
	for _, b := range attrBuilders {
		cols = append(cols, b.NewArray())
	}
	defer func() {
		for _, c := range cols {
			c.Release()
		}
	}()

	rec := array.NewRecord(schema, cols, int64(len(records)))
	return schema, rec, nil
}

// EncodeTransactionBatch mirrors EncodeEventBatch for transactions.
func EncodeTransactionBatch(batch *hermes.TransactionBatch) (*arrow.Schema, arrow.Record, error) {
	records := batch.Records()
	var canonical hermes.AttrMap
	if len(records) > 0 {
		canonical = records[0].Attrs().Clone()
	}
	schema, err := transactionSchema(&canonical)
	if err != nil {
		return nil, nil, wrapUnsupported(err)
	}

	mem := memory.DefaultAllocator
	idB := array.NewUint64Builder(mem)
	startB := array.NewUint64Builder(mem)
	endB := array.NewUint64Builder(mem)
	finishedB := array.NewBooleanBuilder(mem)
	nameB := array.NewStringBuilder(mem)
	eventsB := array.NewListBuilder(mem, arrow.PrimitiveTypes.Uint64)
	eventsValueB := eventsB.ValueBuilder().(*array.Uint64Builder)
	defer idB.Release()
	defer startB.Release()
	defer endB.Release()
	defer finishedB.Release()
	defer nameB.Release()
	defer eventsB.Release()

	attrNames := canonical.Names()
	attrBuilders := make([]array.Builder, len(attrNames))
	for i, name := range attrNames {
		v, _ := canonical.Get(name)
		attrBuilders[i] = newAttrBuilder(mem, v.Kind())
		defer attrBuilders[i].Release()
	}

	for _, t := range records {
		if err := checkSchema(&canonical, t.Attrs()); err != nil {
			return nil, nil, err
		}
		idB.Append(t.ID())
		startB.Append(t.StartTime())
		endB.Append(t.EndTime())
		finishedB.Append(t.Finished())
		nameB.Append(t.Name())

		eventsB.Append(true)
		for _, eid := range t.Events() {
			eventsValueB.Append(eid)
		}

		for i, name := range attrNames {
			v, _ := t.Attrs().Get(name)
			if err := appendAttr(attrBuilders[i], v); err != nil {
				return nil, nil, err
			}
		}
	}

	cols := []arrow.Array{idB.NewArray(), startB.NewArray(), endB.NewArray(), finishedB.NewArray(), nameB.NewArray(), eventsB.NewArray()}
	for _, b := range attrBuilders {
		cols = append(cols, b.NewArray())
	}
	defer func() {
		for _, c := range cols {
			c.Release()
		}
	}()

	rec := array.NewRecord(schema, cols, int64(len(records)))
	return schema, rec, nil
}

// EncodeGroupBatch mirrors EncodeEventBatch for transaction groups. Groups
// have no attribute map (spec.md §3), so the schema is always the fixed
// set of columns.
func EncodeGroupBatch(batch *hermes.TransactionGroupBatch) (*arrow.Schema, arrow.Record, error) {
	records := batch.Records()
	schema := groupSchema()

	mem := memory.DefaultAllocator
	idB := array.NewUint64Builder(mem)
	startB := array.NewUint64Builder(mem)
	endB := array.NewUint64Builder(mem)
	finishedB := array.NewBooleanBuilder(mem)
	nameB := array.NewStringBuilder(mem)
	childrenB := array.NewListBuilder(mem, arrow.PrimitiveTypes.Uint64)
	childrenValueB := childrenB.ValueBuilder().(*array.Uint64Builder)
	masksB := array.NewListBuilder(mem, arrow.FixedWidthTypes.Boolean)
	masksValueB := masksB.ValueBuilder().(*array.BooleanBuilder)
	defer idB.Release()
	defer startB.Release()
	defer endB.Release()
	defer finishedB.Release()
	defer nameB.Release()
	defer childrenB.Release()
	defer masksB.Release()

	for _, g := range records {
		idB.Append(g.ID())
		startB.Append(g.StartTime())
		endB.Append(g.EndTime())
		finishedB.Append(g.Finished())
		nameB.Append(g.Name())

		childrenB.Append(true)
		masksB.Append(true)
		for _, c := range g.Children() {
			childrenValueB.Append(c.ID)
			masksValueB.Append(c.IsGroup)
		}
	}

	cols := []arrow.Array{idB.NewArray(), startB.NewArray(), endB.NewArray(), finishedB.NewArray(), nameB.NewArray(), childrenB.NewArray(), masksB.NewArray()}
	defer func() {
		for _, c := range cols {
			c.Release()
		}
	}()

	rec := array.NewRecord(schema, cols, int64(len(records)))
	return schema, rec, nil
}

func newAttrBuilder(mem memory.Allocator, kind hermes.AttrKind) array.Builder {
	switch kind {
	case hermes.AttrU8:
		return array.NewUint8Builder(mem)
	case hermes.AttrU16:
		return array.NewUint16Builder(mem)
	case hermes.AttrU32:
		return array.NewUint32Builder(mem)
	case hermes.AttrU64:
		return array.NewUint64Builder(mem)
	case hermes.AttrBool:
		return array.NewBooleanBuilder(mem)
	default:
		return array.NewStringBuilder(mem)
	}
}

func appendAttr(b array.Builder, v hermes.AttributeValue) error {
	switch bb := b.(type) {
	case *array.Uint8Builder:
		n, _ := v.Uint8()
		bb.Append(n)
	case *array.Uint16Builder:
		n, _ := v.Uint16()
		bb.Append(n)
	case *array.Uint32Builder:
		n, _ := v.Uint32()
		bb.Append(n)
	case *array.Uint64Builder:
		n, _ := v.Uint64()
		bb.Append(n)
	case *array.BooleanBuilder:
		n, _ := v.Bool()
		bb.Append(n)
	case *array.StringBuilder:
		s, _ := v.String()
		bb.Append(s)
	default:
		return wrapUnsupported(errUnsupportedBuilder)
	}
	return nil
}
