// Package codec converts the '#'/newline table blobs stored by the carpool
// contracts into ordered rows and back.
package codec

import "strings"

const (
	// FieldSeparator separates the fields of a row.
	FieldSeparator = "#"
	// RowSeparator separates the rows of a table.
	RowSeparator = "\n"
)

// Row is one record of a table. Fields are kept exactly as stored.
type Row []string

// Field returns the i-th field, or "" when the row is too short.
func (r Row) Field(i int) string {
	if i < 0 || i >= len(r) {
		return ""
	}
	return r[i]
}

// Clone returns a copy of the row that can be modified freely.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	copy(out, r)
	return out
}

// String encodes the row without a trailing separator.
func (r Row) String() string {
	return strings.Join(r, FieldSeparator)
}

// DecodeTable splits a blob into rows. Blank rows are dropped; fields are
// neither trimmed nor counted.
func DecodeTable(blob string) []Row {
	if blob == "" {
		return nil
	}

	lines := strings.Split(blob, RowSeparator)
	rows := make([]Row, 0, len(lines))
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		rows = append(rows, Row(strings.Split(line, FieldSeparator)))
	}
	return rows
}

// EncodeTable joins rows into a blob terminated by a row separator.
// An empty table encodes to "".
func EncodeTable(rows []Row) string {
	if len(rows) == 0 {
		return ""
	}

	var b strings.Builder
	for _, row := range rows {
		b.WriteString(row.String())
		b.WriteString(RowSeparator)
	}
	return b.String()
}

// FindFirst returns the first row matching pred along with its index.
func FindFirst(rows []Row, pred func(Row) bool) (Row, int, bool) {
	for i, row := range rows {
		if pred(row) {
			return row, i, true
		}
	}
	return nil, -1, false
}

// FilterOut returns the rows that do not match pred, preserving order.
func FilterOut(rows []Row, pred func(Row) bool) []Row {
	out := make([]Row, 0, len(rows))
	for _, row := range rows {
		if !pred(row) {
			out = append(out, row)
		}
	}
	return out
}

// Filter returns the rows matching pred, preserving order.
func Filter(rows []Row, pred func(Row) bool) []Row {
	var out []Row
	for _, row := range rows {
		if pred(row) {
			out = append(out, row)
		}
	}
	return out
}

// CloneRows deep-copies a table so a transform cannot alias the input.
func CloneRows(rows []Row) []Row {
	out := make([]Row, len(rows))
	for i, row := range rows {
		out[i] = row.Clone()
	}
	return out
}
