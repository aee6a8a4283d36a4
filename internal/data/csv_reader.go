package data

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"io"
	"math"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
)

// Logical column keys.
const (
	ColID            = "id"
	ColPixelFeatures = "pixel_features"
	ColOil           = "oil"
	ColWater         = "water"
	ColPoreSize      = "pore_size"
	ColLabel         = "label"
)

var requiredColumns = []string{ColID, ColPixelFeatures, ColOil, ColWater, ColPoreSize, ColLabel}

// Header names accepted for each logical column. The clinic export uses the
// Indonesian names.
var columnAliases = map[string][]string{
	ColID:            {"id", "FotoCS"},
	ColPixelFeatures: {"pixel_features"},
	ColOil:           {"oil", "kadar minyak"},
	ColWater:         {"water", "kadar air"},
	ColPoreSize:      {"pore_size", "ukuran pori"},
	ColLabel:         {"label", "Tekstur Kulit"},
}

// Row is one raw dataset record. Missing oil or water readings are NaN.
type Row struct {
	Line     int
	ID       string
	Pixels   []float64
	Oil      float64
	Water    float64
	PoreSize string
	Label    string
}

type Dataset struct {
	Headers     []string
	Rows        []Row
	MaxPixelLen int
}

type CSVReader struct {
	overrides map[string]string
}

// NewCSVReader returns a reader. overrides maps a logical column to the header
// used in the file, taking precedence over the built-in aliases.
func NewCSVReader(overrides map[string]string) *CSVReader {
	return &CSVReader{overrides: overrides}
}

// Load parses dataset text that the caller has already fetched.
func Load(r io.Reader, overrides map[string]string) (*Dataset, error) {
	return NewCSVReader(overrides).LoadData(r)
}

func (cr *CSVReader) LoadData(r io.Reader) (*Dataset, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, &DatasetFormatError{Reason: "empty input, header row expected"}
	}
	if err != nil {
		return nil, &DatasetFormatError{Reason: "unreadable header", Err: err}
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}

	index, err := cr.resolveColumns(header)
	if err != nil {
		return nil, err
	}

	ds := &Dataset{Headers: header}
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, &DatasetFormatError{Reason: "malformed record", Err: err}
		}

		row, err := parseRow(record, index, line)
		if err != nil {
			return nil, err
		}
		if len(row.Pixels) > ds.MaxPixelLen {
			ds.MaxPixelLen = len(row.Pixels)
		}
		ds.Rows = append(ds.Rows, row)
	}

	if len(ds.Rows) == 0 {
		return nil, &DatasetFormatError{Reason: "no data rows"}
	}
	return ds, nil
}

func (cr *CSVReader) resolveColumns(header []string) (map[string]int, error) {
	position := make(map[string]int, len(header))
	for i, name := range header {
		position[strings.ToLower(name)] = i
	}

	index := make(map[string]int, len(requiredColumns))
	var missing []string
	for _, col := range requiredColumns {
		candidates := columnAliases[col]
		if name, ok := cr.overrides[col]; ok && name != "" {
			candidates = []string{name}
		}

		found := false
		for _, name := range candidates {
			if i, ok := position[strings.ToLower(name)]; ok {
				index[col] = i
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, col)
		}
	}

	if len(missing) > 0 {
		return nil, &DatasetFormatError{Missing: missing}
	}
	return index, nil
}

func parseRow(record []string, index map[string]int, line int) (Row, error) {
	row := Row{
		Line:     line,
		ID:       strings.TrimSpace(record[index[ColID]]),
		Oil:      parseReading(record[index[ColOil]]),
		Water:    parseReading(record[index[ColWater]]),
		PoreSize: strings.TrimSpace(record[index[ColPoreSize]]),
		Label:    strings.TrimSpace(record[index[ColLabel]]),
	}

	raw := record[index[ColPixelFeatures]]
	pixels, err := ParsePixelArray(raw)
	if err != nil {
		return Row{}, &RowParseError{Line: line, ID: row.ID, Column: ColPixelFeatures, Value: raw, Err: err}
	}
	row.Pixels = pixels
	return row, nil
}

// ParsePixelArray decodes a JSON numeric array such as "[12, 40.5, 255]".
// Every element must be a finite JSON number; null, strings and nested values
// are rejected.
func ParsePixelArray(raw string) ([]float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("empty value")
	}

	var elements []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &elements); err != nil {
		return nil, errors.Wrap(err, "not a JSON numeric array")
	}
	if elements == nil {
		return nil, errors.New("null is not an array")
	}

	pixels := make([]float64, len(elements))
	for i, el := range elements {
		text := string(bytes.TrimSpace(el))
		if !isJSONNumber(text) {
			return nil, errors.Newf("element %d is %s, not a number", i, text)
		}
		d, err := decimal.NewFromString(text)
		if err != nil {
			return nil, errors.Wrapf(err, "element %d", i)
		}
		v := d.InexactFloat64()
		if math.IsInf(v, 0) || math.IsNaN(v) {
			return nil, errors.Newf("element %d (%s) is out of range", i, text)
		}
		pixels[i] = v
	}
	return pixels, nil
}

// isJSONNumber reports whether a raw array element is a bare number rather
// than null, a string, a bool or a nested value.
func isJSONNumber(text string) bool {
	if text == "" {
		return false
	}
	c := text[0]
	return c == '-' || (c >= '0' && c <= '9')
}

// parseReading coerces a scalar cell to a number; anything unparsable is
// treated as missing.
func parseReading(raw string) float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return math.NaN()
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return math.NaN()
	}
	return d.InexactFloat64()
}
