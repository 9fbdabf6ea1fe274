package executor

import "time"

// Kind tags the dynamic type carried by a Value. It is a closed set, filled
// in from sql.ColumnType rather than grown via reflection.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt8
	KindInt16
	KindInt32
	KindInt64
	KindFloat32
	KindFloat64
	KindBigInt
	KindBigDecimal
	KindDate
	KindTime
	KindTimestamp
	KindString
	KindBinary
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt8:
		return "int8"
	case KindInt16:
		return "int16"
	case KindInt32:
		return "int32"
	case KindInt64:
		return "int64"
	case KindFloat32:
		return "float32"
	case KindFloat64:
		return "float64"
	case KindBigInt:
		return "bigint"
	case KindBigDecimal:
		return "bigdecimal"
	case KindDate:
		return "date"
	case KindTime:
		return "time"
	case KindTimestamp:
		return "timestamp"
	case KindString:
		return "string"
	case KindBinary:
		return "binary"
	default:
		return "unknown"
	}
}

// Value is the tagged union replacing a reflection-over-subclasses value
// hierarchy: every wire-visible cell value is one of this fixed set.
type Value struct {
	Kind Kind

	Bool    bool
	Int64   int64
	Float64 float64
	Time    time.Time
	String  string
	Binary  []byte
}

// IsNull reports whether the value represents SQL NULL.
func (v Value) IsNull() bool { return v.Kind == KindNull }

// NullValue is the sentinel NULL value.
var NullValue = Value{Kind: KindNull}

// JDBCType mirrors spec.md §9's "encode as a plain enum plus a
// (precision, scale, signed, nullable) record" guidance for describing a
// column's declared type independent of any particular row's value.
type JDBCType struct {
	Name      string
	Kind      Kind
	Precision int
	Scale     int
	Signed    bool
	Nullable  bool
}

// Column describes one projected column of a Result.
type Column struct {
	Name string
	Type JDBCType
}
