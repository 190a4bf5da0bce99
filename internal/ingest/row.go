package ingest

import "encoding/json"

// Row is one raw input record: its 1-based ordinal within the file and its
// cells keyed by the original column names.
type Row struct {
	Ordinal int64

	fields map[string]string
	fold   map[string]string // folded column name -> original name
}

// NewRow builds a Row from column names and values. Missing trailing values
// read as empty; when a header repeats a name the last column wins.
func NewRow(ordinal int64, columns, values []string) Row {
	r := Row{
		Ordinal: ordinal,
		fields:  make(map[string]string, len(columns)),
		fold:    make(map[string]string, len(columns)),
	}
	for i, c := range columns {
		v := ""
		if i < len(values) {
			v = values[i]
		}
		r.fields[c] = v
		r.fold[foldColumn(c)] = c
	}
	return r
}

// RowFromMap builds a Row from an already keyed record (SQLite exports).
func RowFromMap(ordinal int64, m map[string]string) Row {
	r := Row{
		Ordinal: ordinal,
		fields:  make(map[string]string, len(m)),
		fold:    make(map[string]string, len(m)),
	}
	for k, v := range m {
		r.fields[k] = v
		r.fold[foldColumn(k)] = k
	}
	return r
}

// Get returns the first of names present in the row, matched
// case-insensitively, or "" when none is.
func (r Row) Get(names ...string) string {
	for _, n := range names {
		if v, ok := r.fields[n]; ok {
			return v
		}
		if orig, ok := r.fold[foldColumn(n)]; ok {
			return r.fields[orig]
		}
	}
	return ""
}

// MarshalJSON serializes the row as a flat JSON object, the shape archived in
// detections_raw.
func (r Row) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.fields)
}
