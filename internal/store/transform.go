package store

import "github.com/withObsrvr/carpool-ledger/internal/codec"

// Transform rewrites a decoded table. It receives a private copy of the
// rows and may modify them in place.
type Transform func(rows []codec.Row) ([]codec.Row, error)

// Insert appends row.
func Insert(row codec.Row) Transform {
	return func(rows []codec.Row) ([]codec.Row, error) {
		return append(rows, row), nil
	}
}

// InsertFunc appends the row built from the current table, for rows whose
// identity depends on what is already stored.
func InsertFunc(build func(rows []codec.Row) (codec.Row, error)) Transform {
	return func(rows []codec.Row) ([]codec.Row, error) {
		row, err := build(rows)
		if err != nil {
			return nil, err
		}
		return append(rows, row), nil
	}
}

// InsertIfAbsent appends row unless a row matches pred, in which case
// exists is returned.
func InsertIfAbsent(pred func(codec.Row) bool, row codec.Row, exists error) Transform {
	return func(rows []codec.Row) ([]codec.Row, error) {
		if _, _, ok := codec.FindFirst(rows, pred); ok {
			return nil, exists
		}
		return append(rows, row), nil
	}
}

// UpdateWhere applies mutate to every row matching pred. When nothing
// matches, onMiss decides what happens to the table.
func UpdateWhere(pred func(codec.Row) bool, mutate func(codec.Row) (codec.Row, error), onMiss Transform) Transform {
	return func(rows []codec.Row) ([]codec.Row, error) {
		matched := false
		for i, row := range rows {
			if !pred(row) {
				continue
			}
			matched = true
			updated, err := mutate(row)
			if err != nil {
				return nil, err
			}
			rows[i] = updated
		}
		if !matched {
			return onMiss(rows)
		}
		return rows, nil
	}
}

// ReportNotFound is an onMiss policy that leaves the table untouched and
// fails with ErrRecordNotFound.
func ReportNotFound(rows []codec.Row) ([]codec.Row, error) {
	return nil, ErrRecordNotFound
}

// Ignore is an onMiss policy that leaves the table untouched.
func Ignore(rows []codec.Row) ([]codec.Row, error) {
	return nil, ErrNoChange
}
