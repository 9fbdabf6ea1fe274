package serde

import (
	"encoding/base64"
	"strconv"
	"time"

	"github.com/queryhub/qbridge/executor"
)

// stringify renders v the way every text-based Serde in this package needs:
// NULL as "", binary as base64, everything else via its natural text form.
func stringify(v executor.Value) string {
	switch v.Kind {
	case executor.KindNull:
		return ""
	case executor.KindBool:
		return strconv.FormatBool(v.Bool)
	case executor.KindInt8, executor.KindInt16, executor.KindInt32, executor.KindInt64, executor.KindBigInt:
		return strconv.FormatInt(v.Int64, 10)
	case executor.KindFloat32, executor.KindFloat64, executor.KindBigDecimal:
		return strconv.FormatFloat(v.Float64, 'g', -1, 64)
	case executor.KindDate:
		return v.Time.Format("2006-01-02")
	case executor.KindTime:
		return v.Time.Format("15:04:05")
	case executor.KindTimestamp:
		return v.Time.Format(time.RFC3339)
	case executor.KindBinary:
		return base64.StdEncoding.EncodeToString(v.Binary)
	default:
		return v.String
	}
}

// parseValue parses a text cell back into a Value typed per col, for the
// Decode direction (used by VALUES decoding MUTATION parameter lists).
func parseValue(s string, col executor.Column) executor.Value {
	if s == "" {
		return executor.NullValue
	}
	switch col.Type.Kind {
	case executor.KindBool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return executor.Value{Kind: executor.KindString, String: s}
		}
		return executor.Value{Kind: executor.KindBool, Bool: b}
	case executor.KindInt8, executor.KindInt16, executor.KindInt32, executor.KindInt64, executor.KindBigInt:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return executor.Value{Kind: executor.KindString, String: s}
		}
		return executor.Value{Kind: executor.KindInt64, Int64: n}
	case executor.KindFloat32, executor.KindFloat64, executor.KindBigDecimal:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return executor.Value{Kind: executor.KindString, String: s}
		}
		return executor.Value{Kind: executor.KindFloat64, Float64: f}
	case executor.KindBinary:
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return executor.Value{Kind: executor.KindString, String: s}
		}
		return executor.Value{Kind: executor.KindBinary, Binary: b}
	default:
		return executor.Value{Kind: executor.KindString, String: s}
	}
}
