package serde

import (
	"encoding/json"
	"io"

	"github.com/queryhub/qbridge/executor"
)

// jsonSerde implements wire.FormatJSON: a single JSON object with a "meta"
// column-descriptor array and a "data" array of row objects, analogous to
// ClickHouse's JSON output format.
type jsonSerde struct{}

type jsonMeta struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

func (jsonSerde) Encode(w io.Writer, res *executor.Result) (int64, error) {
	meta := make([]jsonMeta, len(res.Columns))
	for i, c := range res.Columns {
		meta[i] = jsonMeta{Name: c.Name, Type: c.Type.Kind.String()}
	}

	if _, err := io.WriteString(w, `{"meta":`); err != nil {
		return 0, err
	}
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return 0, err
	}
	if _, err := w.Write(metaBytes); err != nil {
		return 0, err
	}
	if _, err := io.WriteString(w, `,"data":[`); err != nil {
		return 0, err
	}

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
		if n > 0 {
			if _, err := io.WriteString(w, ","); err != nil {
				return n, err
			}
		}
		row := make(map[string]interface{}, len(res.Columns))
		for i, c := range res.Columns {
			row[c.Name] = jsonValue(vals[i])
		}
		rowBytes, err := json.Marshal(row)
		if err != nil {
			return n, err
		}
		if _, err := w.Write(rowBytes); err != nil {
			return n, err
		}
		n++
	}

	if _, err := io.WriteString(w, `],"rows":`); err != nil {
		return n, err
	}
	countBytes, _ := json.Marshal(n)
	if _, err := w.Write(countBytes); err != nil {
		return n, err
	}
	_, err = io.WriteString(w, `}`)
	return n, err
}

func (jsonSerde) Decode(r io.Reader, columns []executor.Column) ([][]executor.Value, error) {
	var doc struct {
		Data []map[string]interface{} `json:"data"`
	}
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, err
	}
	rows := make([][]executor.Value, len(doc.Data))
	for i, obj := range doc.Data {
		row := make([]executor.Value, len(columns))
		for j, c := range columns {
			row[j] = parseValue(jsonText(obj[c.Name]), c)
		}
		rows[i] = row
	}
	return rows, nil
}
