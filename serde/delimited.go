package serde

import (
	"encoding/csv"
	"io"

	"github.com/queryhub/qbridge/executor"
)

// Delimited implements CSV (comma) and TSV (tab) via encoding/csv, matching
// the wire.FormatCSV/wire.FormatTSV table entries.
type Delimited struct {
	sep rune
}

// NewDelimited returns a Serde writing/reading records separated by sep.
func NewDelimited(sep rune) Delimited {
	return Delimited{sep: sep}
}

func (d Delimited) Encode(w io.Writer, res *executor.Result) (int64, error) {
	cw := csv.NewWriter(w)
	cw.Comma = d.sep
	defer cw.Flush()

	header := make([]string, len(res.Columns))
	for i, c := range res.Columns {
		header[i] = c.Name
	}
	if len(header) > 0 {
		if err := cw.Write(header); err != nil {
			return 0, err
		}
	}

	var n int64
	vals := make([]executor.Value, len(res.Columns))
	record := make([]string, len(res.Columns))
	for {
		ok, err := res.Next(vals)
		if err != nil {
			return n, err
		}
		if !ok {
			break
		}
		for i, v := range vals {
			record[i] = stringify(v)
		}
		if err := cw.Write(record); err != nil {
			return n, err
		}
		n++
	}
	cw.Flush()
	return n, cw.Error()
}

func (d Delimited) Decode(r io.Reader, columns []executor.Column) ([][]executor.Value, error) {
	cr := csv.NewReader(r)
	cr.Comma = d.sep
	cr.FieldsPerRecord = -1

	records, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	// First record is the header; skip it if it looks like column names.
	body := records
	if len(records[0]) == len(columns) {
		matchesHeader := true
		for i, c := range columns {
			if records[0][i] != c.Name {
				matchesHeader = false
				break
			}
		}
		if matchesHeader {
			body = records[1:]
		}
	}

	rows := make([][]executor.Value, len(body))
	for i, rec := range body {
		row := make([]executor.Value, len(columns))
		for j, col := range columns {
			if j < len(rec) {
				row[j] = parseValue(rec[j], col)
			} else {
				row[j] = executor.NullValue
			}
		}
		rows[i] = row
	}
	return rows, nil
}
