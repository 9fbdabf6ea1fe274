package serde

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/queryhub/qbridge/executor"
)

// valuesSerde implements wire.FormatValues: SQL VALUES-literal rows,
// `(v1,v2,...)` one per line, the form MUTATION bodies and redirect-mode
// bulk inserts arrive in.
type valuesSerde struct{}

func (valuesSerde) Encode(w io.Writer, res *executor.Result) (int64, error) {
	var n int64
	vals := make([]executor.Value, len(res.Columns))
	cells := make([]string, len(res.Columns))
	for {
		ok, err := res.Next(vals)
		if err != nil {
			return n, err
		}
		if !ok {
			break
		}
		for i, v := range vals {
			cells[i] = valuesLiteral(v)
		}
		if _, err := fmt.Fprintf(w, "(%s)\n", strings.Join(cells, ",")); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func valuesLiteral(v executor.Value) string {
	switch v.Kind {
	case executor.KindNull:
		return "NULL"
	case executor.KindBool, executor.KindInt8, executor.KindInt16, executor.KindInt32,
		executor.KindInt64, executor.KindBigInt, executor.KindFloat32, executor.KindFloat64,
		executor.KindBigDecimal:
		return stringify(v)
	default:
		return "'" + strings.ReplaceAll(stringify(v), "'", "''") + "'"
	}
}

func (valuesSerde) Decode(r io.Reader, columns []executor.Column) ([][]executor.Value, error) {
	scanner := bufio.NewScanner(r)
	var rows [][]executor.Value
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		line = strings.TrimPrefix(line, "(")
		line = strings.TrimSuffix(line, ")")
		cells := splitValuesRow(line)
		row := make([]executor.Value, len(columns))
		for i, col := range columns {
			if i < len(cells) {
				row[i] = parseValue(unquoteValuesCell(cells[i]), col)
			} else {
				row[i] = executor.NullValue
			}
		}
		rows = append(rows, row)
	}
	return rows, scanner.Err()
}

// splitValuesRow splits on commas outside of single-quoted strings.
func splitValuesRow(line string) []string {
	var cells []string
	var cur strings.Builder
	inQuote := false
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case c == '\'' && inQuote && i+1 < len(line) && line[i+1] == '\'':
			cur.WriteByte('\'')
			i++
		case c == '\'':
			inQuote = !inQuote
			cur.WriteByte(c)
		case c == ',' && !inQuote:
			cells = append(cells, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	cells = append(cells, cur.String())
	return cells
}

func unquoteValuesCell(cell string) string {
	cell = strings.TrimSpace(cell)
	if strings.EqualFold(cell, "NULL") {
		return ""
	}
	if len(cell) >= 2 && cell[0] == '\'' && cell[len(cell)-1] == '\'' {
		return strings.ReplaceAll(cell[1:len(cell)-1], "''", "'")
	}
	return cell
}
