package preprocessing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStandardScalerFitTransform(t *testing.T) {
	X := [][]float64{
		{1, 10, 5},
		{2, 20, 5},
		{3, 30, 5},
	}
	s := NewStandardScaler()

	out, err := s.FitTransform(X)
	require.NoError(t, err)

	assert.InDeltaSlice(t, []float64{2, 20, 5}, s.FeatureMean, 1e-12)
	// population std of {1,2,3} is sqrt(2/3)
	assert.InDelta(t, 0.816496580927726, s.FeatureStd[0], 1e-12)
	assert.Equal(t, 1.0, s.FeatureStd[2])

	for j := 0; j < 2; j++ {
		var sum float64
		for i := range out {
			sum += out[i][j]
		}
		assert.InDelta(t, 0, sum, 1e-12)
	}
	assert.Equal(t, 0.0, out[0][2])
	assert.Equal(t, 1.0, X[0][0], "input must not be modified")
}

func TestScalerTransformRequiresFitAndWidth(t *testing.T) {
	s := NewStandardScaler()
	_, err := s.Transform([][]float64{{1}})
	assert.Error(t, err)

	require.NoError(t, s.Fit([][]float64{{1, 2}, {3, 4}}))
	_, err = s.Transform([][]float64{{1, 2, 3}})
	assert.Error(t, err)
}

func TestLabelEncoderFixedOrder(t *testing.T) {
	le := NewFixedLabelEncoder([]string{"dry", "normal", "oily"})

	codes, err := le.Transform([]string{"oily", "dry", "normal"})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 0, 1}, codes)

	_, err = le.Transform([]string{"combination"})
	assert.ErrorContains(t, err, "unknown label: combination")
}
