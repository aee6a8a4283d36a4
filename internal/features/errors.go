package features

import "fmt"

// LabelMappingError reports a label outside the skin texture vocabulary.
type LabelMappingError struct {
	Line  int
	ID    string
	Value string
}

func (e *LabelMappingError) Error() string {
	return rowPrefix(e.Line, e.ID) + fmt.Sprintf("label %q is not one of %v", e.Value, sourceLabels())
}

// PoreSizeError reports a pore size outside small/medium/large. Line is zero
// when the value came from a prediction request rather than a dataset row.
type PoreSizeError struct {
	Line  int
	ID    string
	Value string
}

func (e *PoreSizeError) Error() string {
	return rowPrefix(e.Line, e.ID) + fmt.Sprintf("unknown pore size %q", e.Value)
}

func rowPrefix(line int, id string) string {
	if line <= 0 {
		return ""
	}
	return fmt.Sprintf("row %d (id=%q): ", line, id)
}

// ImputationError is returned when a scalar column has no observed value to
// take a mean from.
type ImputationError struct {
	Column string
}

func (e *ImputationError) Error() string {
	return fmt.Sprintf("column %s has no observed values to impute from", e.Column)
}

// ImageDecodeError wraps failures to read uploaded image data.
type ImageDecodeError struct {
	Err error
}

func (e *ImageDecodeError) Error() string {
	if e.Err == nil {
		return "image decode failed"
	}
	return fmt.Sprintf("image decode failed: %v", e.Err)
}

func (e *ImageDecodeError) Unwrap() error {
	return e.Err
}
