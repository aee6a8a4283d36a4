package features

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/Demedah/Appsjiabao/internal/data"
)

// Matrix is a batch of encoded rows.
type Matrix struct {
	X          [][]float64
	Labels     []string
	PixelWidth int
	// ScalarMeans holds the batch mean of each scalar slot, in ScalarSlots
	// order. Oil and water means are taken over observed values only.
	ScalarMeans []float64
}

func (m *Matrix) Width() int {
	return m.PixelWidth + len(ScalarSlots)
}

// Schema returns the layout these rows were encoded with.
func (m *Matrix) Schema() Schema {
	return NewSchema(m.PixelWidth, m.ScalarMeans)
}

// EncodeRows builds the feature matrix for a dataset. Pixel arrays are padded
// with zeros or truncated to maxPixelLen; missing oil and water readings are
// replaced by the column mean over the batch.
func EncodeRows(rows []data.Row, maxPixelLen int) (*Matrix, error) {
	if maxPixelLen < 0 {
		maxPixelLen = 0
	}

	oilMean, err := observedMean(rows, SlotOil, func(r data.Row) float64 { return r.Oil })
	if err != nil {
		return nil, err
	}
	waterMean, err := observedMean(rows, SlotWater, func(r data.Row) float64 { return r.Water })
	if err != nil {
		return nil, err
	}

	m := &Matrix{
		X:          make([][]float64, len(rows)),
		Labels:     make([]string, len(rows)),
		PixelWidth: maxPixelLen,
	}
	poreCodes := make([]float64, len(rows))

	for i, row := range rows {
		label, ok := MapLabel(row.Label)
		if !ok {
			return nil, &LabelMappingError{Line: row.Line, ID: row.ID, Value: row.Label}
		}
		pore, ok := PoreCode(row.PoreSize)
		if !ok {
			return nil, &PoreSizeError{Line: row.Line, ID: row.ID, Value: row.PoreSize}
		}

		vec := make([]float64, maxPixelLen+len(ScalarSlots))
		copy(vec[:maxPixelLen], row.Pixels)
		vec[maxPixelLen] = imputed(row.Oil, oilMean)
		vec[maxPixelLen+1] = imputed(row.Water, waterMean)
		vec[maxPixelLen+2] = pore

		m.X[i] = vec
		m.Labels[i] = label
		poreCodes[i] = pore
	}

	m.ScalarMeans = []float64{oilMean, waterMean, stat.Mean(poreCodes, nil)}
	return m, nil
}

// EncodeDataset is EncodeRows over a loaded dataset.
func EncodeDataset(ds *data.Dataset) (*Matrix, error) {
	return EncodeRows(ds.Rows, ds.MaxPixelLen)
}

func observedMean(rows []data.Row, column string, value func(data.Row) float64) (float64, error) {
	observed := make([]float64, 0, len(rows))
	for _, r := range rows {
		if v := value(r); !math.IsNaN(v) && !math.IsInf(v, 0) {
			observed = append(observed, v)
		}
	}
	if len(observed) == 0 {
		return 0, &ImputationError{Column: column}
	}
	return stat.Mean(observed, nil), nil
}

func imputed(v, mean float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return mean
	}
	return v
}
