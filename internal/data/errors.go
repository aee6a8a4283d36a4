package data

import (
	"fmt"
	"strings"
)

// DatasetFormatError reports a dataset whose shape cannot be used for training:
// missing required columns, no rows, or unreadable tabular text.
type DatasetFormatError struct {
	Missing []string
	Reason  string
	Err     error
}

func (e *DatasetFormatError) Error() string {
	var b strings.Builder
	b.WriteString("dataset format: ")
	switch {
	case len(e.Missing) > 0:
		fmt.Fprintf(&b, "missing required column(s) %s", strings.Join(e.Missing, ", "))
	case e.Reason != "":
		b.WriteString(e.Reason)
	default:
		b.WriteString("invalid dataset")
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *DatasetFormatError) Unwrap() error {
	return e.Err
}

// RowParseError reports a row whose pixel feature array is not a JSON numeric
// array. It is always fatal to loading.
type RowParseError struct {
	Line   int
	ID     string
	Column string
	Value  string
	Err    error
}

func (e *RowParseError) Error() string {
	value := e.Value
	if len(value) > 40 {
		value = value[:40] + "..."
	}
	return fmt.Sprintf("row %d (id=%q): column %s: cannot parse %q: %v", e.Line, e.ID, e.Column, value, e.Err)
}

func (e *RowParseError) Unwrap() error {
	return e.Err
}
