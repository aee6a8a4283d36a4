package persistence

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Demedah/Appsjiabao/internal/evaluation"
	"github.com/Demedah/Appsjiabao/internal/features"
	"github.com/Demedah/Appsjiabao/internal/models"
	"github.com/Demedah/Appsjiabao/internal/preprocessing"
)

func trainedBundle(t *testing.T) *Bundle {
	t.Helper()

	X := [][]float64{
		{0, 1, 0.1, 0.2, 0}, {0, 2, 0.2, 0.1, 0}, {1, 1, 0.1, 0.3, 0},
		{9, 8, 0.8, 0.9, 2}, {8, 9, 0.9, 0.8, 2}, {9, 9, 0.7, 0.9, 2},
	}
	y := []int{0, 0, 0, 2, 2, 2}

	scaler := preprocessing.NewStandardScaler()
	scaled, err := scaler.FitTransform(X)
	require.NoError(t, err)

	forest := models.NewForest(models.ModelConfig{NTrees: 4, MinSplit: 2, MinLeaf: 1, Seed: 42})
	require.NoError(t, forest.Fit(scaled, y))

	b := NewBundle(features.NewSchema(2, []float64{0.45, 0.5, 1}), scaler, forest)
	b.Metadata.Dataset = "test.csv"
	b.Metadata.Accuracy = 1
	b.Metadata.Report = &evaluation.Report{Accuracy: 1, Samples: 2}
	return b
}

func TestStoreSaveLoadRoundTrip(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "models", "skin.model"))
	b := trainedBundle(t)

	require.NoError(t, store.Save(b))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, b.ID, loaded.ID)
	assert.Equal(t, b.Schema, loaded.Schema)
	assert.Equal(t, "test.csv", loaded.Metadata.Dataset)
	assert.Equal(t, 1.0, loaded.Metadata.Report.Accuracy)

	probe := [][]float64{b.Scaler.TransformRow([]float64{9, 9, 0.8, 0.8, 2})}
	assert.Equal(t, b.Forest.PredictProba(probe), loaded.Forest.PredictProba(probe))

	entries, err := os.ReadDir(filepath.Dir(store.Path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must not be left behind")
}

func TestStoreLoadMissing(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "none.model"))
	_, err := store.Load()
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestStoreLoadRejectsOtherSchemaVersion(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "skin.model"))
	b := trainedBundle(t)
	require.NoError(t, store.Save(b))

	b.Schema.Version = features.SchemaVersion + 1
	assert.Error(t, store.Save(b), "save validates too")

	raw, err := os.ReadFile(store.Path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(store.Path, raw[:len(raw)/2], 0o644))
	_, err = store.Load()
	assert.Error(t, err)
}

func TestBundleValidate(t *testing.T) {
	b := trainedBundle(t)
	require.NoError(t, b.Validate())

	wide := *b
	wide.Schema = features.NewSchema(3, []float64{0, 0, 0})
	assert.ErrorContains(t, wide.Validate(), "scaler expects 5 features")

	empty := *b
	empty.Forest = models.NewForest(models.ModelConfig{})
	assert.Error(t, empty.Validate())
}

func TestStoreBackup(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "skin.model"))

	path, err := store.Backup(filepath.Join(dir, "backup"))
	require.NoError(t, err)
	assert.Empty(t, path)

	require.NoError(t, store.Save(trainedBundle(t)))
	path, err = store.Backup(filepath.Join(dir, "backup"))
	require.NoError(t, err)
	assert.FileExists(t, path)
	assert.Contains(t, filepath.Base(path), "skin_backup_")
	assert.NoFileExists(t, store.Path)
}

func TestSaveMetadata(t *testing.T) {
	b := trainedBundle(t)
	path := filepath.Join(t.TempDir(), "skin.txt")
	require.NoError(t, b.SaveMetadata(path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), b.ID)
	assert.Contains(t, string(raw), "dry, normal, oily")
}
