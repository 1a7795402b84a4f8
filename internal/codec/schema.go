// Package codec turns the in-memory hermes.Batch types into Apache Parquet
// files and back. Schema derivation, encode and decode live in separate
// files; this one only builds the arrow.Schema a batch will be written with.
package codec

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/hermeslog/hermes"
)

// RecordType names which fixed-column layout a chunk uses.
type RecordType string

const (
	RecordEvent            RecordType = "event"
	RecordTransaction      RecordType = "transaction"
	RecordTransactionGroup RecordType = "transaction-group"
)

const attrColumnPrefix = "attr:"

// attrFieldType maps an AttrKind to its arrow column type. UnsupportedType
// is returned for any kind outside the closed set.
func attrFieldType(kind hermes.AttrKind) (arrow.DataType, error) {
	switch kind {
	case hermes.AttrU8:
		return arrow.PrimitiveTypes.Uint8, nil
	case hermes.AttrU16:
		return arrow.PrimitiveTypes.Uint16, nil
	case hermes.AttrU32:
		return arrow.PrimitiveTypes.Uint32, nil
	case hermes.AttrU64:
		return arrow.PrimitiveTypes.Uint64, nil
	case hermes.AttrBool:
		return arrow.FixedWidthTypes.Boolean, nil
	case hermes.AttrString:
		return arrow.BinaryTypes.String, nil
	default:
		return nil, fmt.Errorf("attribute kind %v has no column mapping", kind)
	}
}

// attrSchemaFields returns the attribute columns in canonical (first
// record's insertion) order, prefixed so they never collide with a fixed
// column name.
func attrSchemaFields(attrs *hermes.AttrMap) ([]arrow.Field, error) {
	fields := make([]arrow.Field, 0, attrs.Len())
	for _, name := range attrs.Names() {
		v, _ := attrs.Get(name)
		typ, err := attrFieldType(v.Kind())
		if err != nil {
			return nil, err
		}
		fields = append(fields, arrow.Field{Name: attrColumnPrefix + name, Type: typ})
	}
	return fields, nil
}

// eventSchema returns the fixed event columns (id, time, name) plus the
// attribute columns derived from the canonical attribute map.
func eventSchema(attrs *hermes.AttrMap) (*arrow.Schema, error) {
	attrFields, err := attrSchemaFields(attrs)
	if err != nil {
		return nil, err
	}
	fields := append([]arrow.Field{
		{Name: "id", Type: arrow.PrimitiveTypes.Uint64},
		{Name: "time", Type: arrow.PrimitiveTypes.Uint64},
		{Name: "name", Type: arrow.BinaryTypes.String},
	}, attrFields...)
	return arrow.NewSchema(fields, nil), nil
}

func transactionSchema(attrs *hermes.AttrMap) (*arrow.Schema, error) {
	attrFields, err := attrSchemaFields(attrs)
	if err != nil {
		return nil, err
	}
	fields := append([]arrow.Field{
		{Name: "id", Type: arrow.PrimitiveTypes.Uint64},
		{Name: "start_time", Type: arrow.PrimitiveTypes.Uint64},
		{Name: "end_time", Type: arrow.PrimitiveTypes.Uint64},
		{Name: "finished", Type: arrow.FixedWidthTypes.Boolean},
		{Name: "name", Type: arrow.BinaryTypes.String},
		{Name: "events", Type: arrow.ListOf(arrow.PrimitiveTypes.Uint64)},
	}, attrFields...)
	return arrow.NewSchema(fields, nil), nil
}

func groupSchema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: "id", Type: arrow.PrimitiveTypes.Uint64},
		{Name: "start_time", Type: arrow.PrimitiveTypes.Uint64},
		{Name: "end_time", Type: arrow.PrimitiveTypes.Uint64},
		{Name: "finished", Type: arrow.FixedWidthTypes.Boolean},
		{Name: "name", Type: arrow.BinaryTypes.String},
		{Name: "transactions", Type: arrow.ListOf(arrow.PrimitiveTypes.Uint64)},
		{Name: "transaction_masks", Type: arrow.ListOf(arrow.FixedWidthTypes.Boolean)},
	}, nil)
}

// checkSchema validates that attrs matches the canonical schema exactly in
// key set and value kind, per spec.md §4.1 ("each following record MUST
// match both key set and value-tag set").
func checkSchema(canonical, attrs *hermes.AttrMap) error {
	if !canonical.SameSchema(attrs) {
		return &hermes.Error{Kind: hermes.SchemaMismatch, Msg: "record attributes do not match batch schema"}
	}
	return nil
}
