package serde

import (
	"bufio"
	"encoding/json"
	"io"

	"github.com/queryhub/qbridge/executor"
)

// jsonlSerde implements both JSONL and NDJSON (wire.FormatJSONL,
// wire.FormatNDJSON): one JSON object per line, keyed by column name.
type jsonlSerde struct{}

func (jsonlSerde) Encode(w io.Writer, res *executor.Result) (int64, error) {
	enc := json.NewEncoder(w)
	var n int64
	vals := make([]executor.Value, len(res.Columns))
	for {
		ok, err := res.Next(vals)
		if err != nil {
			return n, err
		}
		if !ok {
			break
		}
		row := make(map[string]interface{}, len(res.Columns))
		for i, c := range res.Columns {
			row[c.Name] = jsonValue(vals[i])
		}
		if err := enc.Encode(row); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (jsonlSerde) Decode(r io.Reader, columns []executor.Column) ([][]executor.Value, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var rows [][]executor.Value
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var obj map[string]interface{}
		if err := json.Unmarshal(line, &obj); err != nil {
			return nil, err
		}
		row := make([]executor.Value, len(columns))
		for i, c := range columns {
			row[i] = parseValue(jsonText(obj[c.Name]), c)
		}
		rows = append(rows, row)
	}
	return rows, scanner.Err()
}

func jsonValue(v executor.Value) interface{} {
	switch v.Kind {
	case executor.KindNull:
		return nil
	case executor.KindBool:
		return v.Bool
	case executor.KindInt8, executor.KindInt16, executor.KindInt32, executor.KindInt64, executor.KindBigInt:
		return v.Int64
	case executor.KindFloat32, executor.KindFloat64, executor.KindBigDecimal:
		return v.Float64
	default:
		return stringify(v)
	}
}

func jsonText(v interface{}) string {
	if v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}
