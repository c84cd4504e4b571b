package query

import (
	"bytes"
	"encoding/json"
	"time"
)

// Row is an ordered mapping from column name to value. Columns keep the
// order the database returned them in.
type Row struct {
	columns []string
	values  []any
}

// NewRow builds a Row from parallel column and value slices. Values are
// normalized the same way the executor normalizes driver output.
func NewRow(columns []string, values []any) Row {
	cols := make([]string, len(columns))
	copy(cols, columns)
	vals := make([]any, len(cols))
	for i := range cols {
		if i < len(values) {
			vals[i] = normalize(values[i])
		}
	}
	return Row{columns: cols, values: vals}
}

// Len returns the number of columns.
func (r Row) Len() int { return len(r.columns) }

// Columns returns the column names in order.
func (r Row) Columns() []string {
	out := make([]string, len(r.columns))
	copy(out, r.columns)
	return out
}

// Value returns the i-th value.
func (r Row) Value(i int) any { return r.values[i] }

// Get returns the value for column.
func (r Row) Get(column string) (any, bool) {
	for i, c := range r.columns {
		if c == column {
			return r.values[i], true
		}
	}
	return nil, false
}

// Map returns the row as an unordered map.
func (r Row) Map() map[string]any {
	m := make(map[string]any, len(r.columns))
	for i, c := range r.columns {
		m[c] = r.values[i]
	}
	return m
}

// MarshalJSON encodes the row as a JSON object with keys in column order.
func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, c := range r.columns {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(c)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(r.values[i])
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// normalize converts driver values into JSON- and protobuf-friendly forms.
func normalize(v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	default:
		return x
	}
}
