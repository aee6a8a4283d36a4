package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Demedah/Appsjiabao/internal/config"
	"github.com/Demedah/Appsjiabao/internal/data"
	"github.com/Demedah/Appsjiabao/internal/features"
	"github.com/Demedah/Appsjiabao/internal/persistence"
)

const testImageSize = 2

// skinCSV builds a dataset whose classes differ only by brightness: dry
// images are dark, normal mid-grey and oily bright. Scalar columns are
// constant so they carry no signal.
func skinCSV(perClass int, seed int64) string {
	r := rand.New(rand.NewSource(seed))
	levels := []struct {
		label string
		base  int
	}{{"kering", 20}, {"normal", 128}, {"berminyak", 230}}

	var b strings.Builder
	b.WriteString("id,pixel_features,oil,water,pore_size,label\n")
	id := 0
	for _, lv := range levels {
		for i := 0; i < perClass; i++ {
			px := make([]string, testImageSize*testImageSize*3)
			for j := range px {
				px[j] = fmt.Sprint(lv.base + r.Intn(21) - 10)
			}
			id++
			fmt.Fprintf(&b, "img%d,\"[%s]\",0.5,0.5,medium,%s\n", id, strings.Join(px, ","), lv.label)
		}
	}
	return b.String()
}

func testTrainingConfig() config.TrainingConfig {
	return config.TrainingConfig{
		TestSize:        0.2,
		Seed:            42,
		NTrees:          15,
		MaxDepth:        5,
		MinSamplesSplit: 2,
		MinSamplesLeaf:  1,
		MaxWorkers:      2,
	}
}

func trainBundle(t *testing.T, csvText string) (*persistence.Bundle, *Trainer) {
	t.Helper()
	trainer := NewTrainer(testTrainingConfig(), testImageSize, nil)
	b, report, err := trainer.TrainFromCSV(context.Background(), strings.NewReader(csvText), nil, "memory")
	require.NoError(t, err)
	require.NotNil(t, report)
	return b, trainer
}

func greyPNG(t *testing.T, level uint8) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.RGBA{R: level, G: level, B: level, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func sumProbabilities(p *Prediction) float64 {
	total := 0.0
	for _, v := range p.Probabilities {
		total += v
	}
	return total
}

func TestTrainerReport(t *testing.T) {
	trainer := NewTrainer(testTrainingConfig(), testImageSize, nil)
	b, report, err := trainer.TrainFromCSV(context.Background(), strings.NewReader(skinCSV(10, 1)), nil, "memory")
	require.NoError(t, err)

	assert.Equal(t, 6, report.Samples)
	assert.InDelta(t, 1.0, report.Accuracy, 1e-12)
	require.Len(t, report.Classes, 3)
	assert.Equal(t, []string{"dry", "normal", "oily"}, []string{report.Classes[0].Label, report.Classes[1].Label, report.Classes[2].Label})

	assert.Equal(t, 30, b.Metadata.Samples)
	assert.Equal(t, "memory", b.Metadata.Dataset)
	assert.Equal(t, testImageSize*testImageSize*3, b.Schema.PixelWidth)
	assert.Equal(t, testImageSize, b.Schema.ImageSize)
	assert.Equal(t, []float64{0.5, 0.5, 1}, b.Schema.Substitutes)
	assert.NotEmpty(t, b.ID)
	require.NoError(t, b.Validate())
}

func TestTrainerCrossValidation(t *testing.T) {
	cfg := testTrainingConfig()
	cfg.CVFolds = 3
	trainer := NewTrainer(cfg, testImageSize, nil)

	_, report, err := trainer.TrainFromCSV(context.Background(), strings.NewReader(skinCSV(9, 2)), nil, "memory")
	require.NoError(t, err)
	assert.Len(t, report.CVScores, 3)
	assert.Greater(t, report.CVMean, 0.9)
}

func TestTrainerDeterministic(t *testing.T) {
	text := skinCSV(10, 3)
	a, _ := trainBundle(t, text)
	b, _ := trainBundle(t, text)

	vec, err := features.EncodeImage(greyPNG(t, 140), a.Schema, nil)
	require.NoError(t, err)
	assert.Equal(t, classify(a, vec).Probabilities, classify(b, vec).Probabilities)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestTrainerRejectsSingleClass(t *testing.T) {
	text := "id,pixel_features,oil,water,pore_size,label\n" +
		"a,\"[1,2]\",0.1,0.2,small,normal\n" +
		"b,\"[3,4]\",0.1,0.2,small,normal\n"

	trainer := NewTrainer(testTrainingConfig(), testImageSize, nil)
	_, _, err := trainer.TrainFromCSV(context.Background(), strings.NewReader(text), nil, "memory")

	var formatErr *data.DatasetFormatError
	require.True(t, errors.As(err, &formatErr), "got %v", err)
}

func TestTrainerRejectsNonFiniteMatrix(t *testing.T) {
	m := &features.Matrix{
		X:           [][]float64{{1, 0.1, 0.1, 0}, {math.NaN(), 0.1, 0.1, 0}},
		Labels:      []string{"dry", "oily"},
		PixelWidth:  1,
		ScalarMeans: []float64{0.1, 0.1, 0},
	}
	_, _, err := NewTrainer(testTrainingConfig(), 0, nil).Train(context.Background(), m, "memory")

	var formatErr *data.DatasetFormatError
	require.True(t, errors.As(err, &formatErr), "got %v", err)
}

func TestTrainerHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	trainer := NewTrainer(testTrainingConfig(), testImageSize, nil)
	_, _, err := trainer.TrainFromCSV(ctx, strings.NewReader(skinCSV(5, 4)), nil, "memory")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPredictWithoutArtifact(t *testing.T) {
	store := persistence.NewStore(filepath.Join(t.TempDir(), "missing.model"))
	p := NewPredictor(store, nil)

	_, err := p.Predict(context.Background(), greyPNG(t, 100))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrModelNotTrained))
	assert.True(t, errors.Is(err, os.ErrNotExist), "the load failure stays in the chain")
	assert.Contains(t, err.Error(), "model not trained")
	assert.Equal(t, Untrained, p.State())

	_, err = NewPredictor(nil, nil).Predict(context.Background(), greyPNG(t, 100))
	assert.True(t, errors.Is(err, ErrModelNotTrained))
	assert.Contains(t, err.Error(), "model not trained")

	var extractErr *FeatureExtractionError
	assert.False(t, errors.As(err, &extractErr))
}

func TestPredictLoadsSavedBundle(t *testing.T) {
	b, _ := trainBundle(t, skinCSV(10, 5))
	store := persistence.NewStore(filepath.Join(t.TempDir(), "skin.model"))
	require.NoError(t, store.Save(b))

	p := NewPredictor(store, nil)
	assert.Equal(t, Untrained, p.State())

	for level, want := range map[uint8]string{20: "dry", 128: "normal", 230: "oily"} {
		pred, err := p.Predict(context.Background(), greyPNG(t, level))
		require.NoError(t, err)
		assert.Equal(t, want, pred.Label, "grey level %d", level)
		assert.Equal(t, b.ID, pred.BundleID)
		assert.Equal(t, pred.Probabilities[pred.Label], pred.Confidence)
		assert.Equal(t, []string{"oil", "water", "pore_size"}, pred.Substituted)
	}
	assert.Equal(t, Ready, p.State())
}

func TestPredictProbabilitiesFormDistribution(t *testing.T) {
	b, _ := trainBundle(t, skinCSV(10, 6))
	p := NewPredictor(nil, nil)
	require.NoError(t, p.Use(b))

	for _, level := range []uint8{0, 60, 128, 190, 255} {
		pred, err := p.Predict(context.Background(), greyPNG(t, level))
		require.NoError(t, err)
		require.Len(t, pred.Probabilities, 3)
		for class, v := range pred.Probabilities {
			assert.GreaterOrEqual(t, v, 0.0, class)
		}
		assert.InDelta(t, 1.0, sumProbabilities(pred), 1e-6)
	}
}

func TestBadImageDoesNotDisturbPredictor(t *testing.T) {
	b, _ := trainBundle(t, skinCSV(10, 7))
	p := NewPredictor(nil, nil)
	require.NoError(t, p.Use(b))

	_, err := p.Predict(context.Background(), []byte("not an image"))
	require.Error(t, err)

	var extractErr *FeatureExtractionError
	require.True(t, errors.As(err, &extractErr))
	var decodeErr *features.ImageDecodeError
	assert.True(t, errors.As(err, &decodeErr))
	assert.False(t, errors.Is(err, ErrModelNotTrained))

	pred, err := p.Predict(context.Background(), greyPNG(t, 230))
	require.NoError(t, err)
	assert.Equal(t, "oily", pred.Label)
	assert.Same(t, b, p.Bundle())
}

func TestRetrainingLeavesHeldBundleUnchanged(t *testing.T) {
	held, trainer := trainBundle(t, skinCSV(10, 8))
	p := NewPredictor(nil, nil)
	require.NoError(t, p.Use(held))

	raw := greyPNG(t, 128)
	before, err := p.Predict(context.Background(), raw)
	require.NoError(t, err)
	trees := held.Forest.Trees
	schema := held.Schema

	// Inverted brightness: retraining on it would flip the labels.
	inverted := strings.NewReplacer("kering", "X", "berminyak", "kering").Replace(skinCSV(12, 9))
	inverted = strings.ReplaceAll(inverted, ",X\n", ",berminyak\n")
	fresh, _, err := trainer.TrainFromCSV(context.Background(), strings.NewReader(inverted), nil, "inverted")
	require.NoError(t, err)
	require.NotSame(t, held, fresh)

	after, err := p.Predict(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, schema, held.Schema)
	assert.Equal(t, trees, held.Forest.Trees)

	require.NoError(t, p.Use(fresh))
	swapped, err := p.Predict(context.Background(), greyPNG(t, 230))
	require.NoError(t, err)
	assert.Equal(t, "dry", swapped.Label)
	assert.Equal(t, fresh.ID, swapped.BundleID)
}

func TestReloadFailureMakesPredictorUntrained(t *testing.T) {
	b, _ := trainBundle(t, skinCSV(10, 10))
	store := persistence.NewStore(filepath.Join(t.TempDir(), "skin.model"))
	p := NewPredictor(store, nil)

	require.NoError(t, p.Use(b))
	assert.Equal(t, Ready, p.State())

	err := p.Reload()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrModelNotTrained))
	assert.Equal(t, Untrained, p.State())

	require.NoError(t, store.Save(b))
	require.NoError(t, p.Reload())
	assert.Equal(t, Ready, p.State())
	assert.Equal(t, b.ID, p.Bundle().ID)
}

func TestPredictWithMeasurements(t *testing.T) {
	b, _ := trainBundle(t, skinCSV(10, 11))
	p := NewPredictor(nil, nil)
	require.NoError(t, p.Use(b))

	pred, err := p.PredictWithMeasurements(context.Background(), greyPNG(t, 20),
		features.Measurements{Oil: 0.5, Water: 0.5, PoreSize: "medium"})
	require.NoError(t, err)
	assert.Equal(t, "dry", pred.Label)
	assert.Empty(t, pred.Substituted)

	_, err = p.PredictWithMeasurements(context.Background(), greyPNG(t, 20),
		features.Measurements{PoreSize: "huge"})
	var poreErr *features.PoreSizeError
	assert.True(t, errors.As(err, &poreErr))
	assert.Contains(t, err.Error(), `unknown pore size "huge"`)
	assert.NotContains(t, err.Error(), "row 0")
}

func TestPredictImageHandle(t *testing.T) {
	b, _ := trainBundle(t, skinCSV(10, 12))
	p := NewPredictor(nil, nil)
	require.NoError(t, p.Use(b))

	img := image.NewNRGBA(image.Rect(0, 0, 3, 3))
	for i := range img.Pix {
		img.Pix[i] = 230
	}
	pred, err := p.PredictImage(context.Background(), img)
	require.NoError(t, err)
	assert.Equal(t, "oily", pred.Label)

	_, err = p.PredictImage(context.Background(), image.NewNRGBA(image.Rect(0, 0, 0, 0)))
	var extractErr *FeatureExtractionError
	assert.True(t, errors.As(err, &extractErr))
}

func TestUseRejectsInvalidBundle(t *testing.T) {
	p := NewPredictor(nil, nil)
	assert.Error(t, p.Use(nil))
	assert.Error(t, p.Use(&persistence.Bundle{}))
	assert.Equal(t, Untrained, p.State())
}
