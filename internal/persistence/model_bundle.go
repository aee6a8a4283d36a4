package persistence

import (
	"encoding/gob"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/Demedah/Appsjiabao/internal/evaluation"
	"github.com/Demedah/Appsjiabao/internal/features"
	"github.com/Demedah/Appsjiabao/internal/models"
	"github.com/Demedah/Appsjiabao/internal/preprocessing"
)

// Bundle is everything needed to classify an image: the feature layout, the
// fitted scaler and the forest. A bundle is never modified once built.
type Bundle struct {
	ID        string
	Schema    features.Schema
	Scaler    *preprocessing.Scaler
	Forest    *models.RandomForest
	Metadata  BundleMetadata
	CreatedAt time.Time
}

type BundleMetadata struct {
	ModelName    string
	Dataset      string
	Samples      int
	Accuracy     float64
	Precision    float64
	Recall       float64
	F1Score      float64
	CVMean       float64
	CVStd        float64
	TrainingTime time.Duration
	Report       *evaluation.Report
	Parameters   map[string]any
}

func NewBundle(schema features.Schema, scaler *preprocessing.Scaler, forest *models.RandomForest) *Bundle {
	return &Bundle{
		ID:        uuid.NewString(),
		Schema:    schema,
		Scaler:    scaler,
		Forest:    forest,
		CreatedAt: time.Now().UTC(),
		Metadata: BundleMetadata{
			ModelName:  forest.GetName(),
			Parameters: forest.GetParams(),
		},
	}
}

// Validate checks that the parts of the bundle agree with each other.
func (b *Bundle) Validate() error {
	if err := b.Schema.Validate(); err != nil {
		return errors.Wrap(err, "bundle schema")
	}
	if b.Scaler == nil || !b.Scaler.IsFitted {
		return errors.New("bundle has no fitted scaler")
	}
	if n := b.Scaler.NFeatures(); n >= 0 && n != b.Schema.Width() {
		return errors.Newf("scaler expects %d features, schema has %d", n, b.Schema.Width())
	}
	if b.Forest == nil || len(b.Forest.Trees) == 0 {
		return errors.New("bundle has no trained forest")
	}
	for _, class := range b.Forest.GetClasses() {
		if class < 0 || class >= len(b.Schema.Classes) {
			return errors.Newf("forest class code %d outside schema classes %v", class, b.Schema.Classes)
		}
	}
	return nil
}

// Store keeps a single bundle at Path.
type Store struct {
	Path string
}

func NewStore(path string) *Store {
	return &Store{Path: path}
}

// Save writes the bundle to a temporary file next to Path and renames it into
// place, so readers only ever see a complete bundle.
func (s *Store) Save(b *Bundle) error {
	if err := b.Validate(); err != nil {
		return err
	}

	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "create model directory %s", dir)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.Path)+".tmp-*")
	if err != nil {
		return errors.Wrap(err, "failed to create file")
	}
	defer os.Remove(tmp.Name())

	if err := gob.NewEncoder(tmp).Encode(b); err != nil {
		tmp.Close()
		return errors.Wrap(err, "failed to encode bundle")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "failed to flush bundle")
	}

	if err := os.Rename(tmp.Name(), s.Path); err != nil {
		return errors.Wrapf(err, "replace %s", s.Path)
	}
	return nil
}

// Load reads and validates the stored bundle. A missing file yields an error
// matching os.ErrNotExist.
func (s *Store) Load() (*Bundle, error) {
	file, err := os.Open(s.Path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open file")
	}
	defer file.Close()

	var bundle Bundle
	if err := gob.NewDecoder(file).Decode(&bundle); err != nil {
		return nil, errors.Wrapf(err, "failed to decode bundle %s", s.Path)
	}
	if err := bundle.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid bundle %s", s.Path)
	}
	return &bundle, nil
}

// Backup moves the current bundle into dir under a timestamped name and
// returns the new path. It returns "" when there is nothing to back up.
func (s *Store) Backup(dir string) (string, error) {
	if _, err := os.Stat(s.Path); errors.Is(err, os.ErrNotExist) {
		return "", nil
	} else if err != nil {
		return "", errors.Wrapf(err, "stat %s", s.Path)
	}

	if dir == "" {
		dir = filepath.Dir(s.Path)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrapf(err, "create backup directory %s", dir)
	}

	ext := filepath.Ext(s.Path)
	base := strings.TrimSuffix(filepath.Base(s.Path), ext)
	target := filepath.Join(dir, fmt.Sprintf("%s_backup_%s%s", base, time.Now().Format("20060102_150405"), ext))

	if err := os.Rename(s.Path, target); err != nil {
		return "", errors.Wrapf(err, "move %s to %s", s.Path, target)
	}
	return target, nil
}

func (b *Bundle) WriteSummary(w io.Writer) {
	fmt.Fprintf(w, "Bundle: %s\n", b.ID)
	fmt.Fprintf(w, "Model: %s\n", b.Metadata.ModelName)
	fmt.Fprintf(w, "Dataset: %s\n", b.Metadata.Dataset)
	fmt.Fprintf(w, "Created: %s\n", b.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "Samples: %d\n", b.Metadata.Samples)
	fmt.Fprintf(w, "Features: %d (%d pixels + %s)\n", b.Schema.Width(), b.Schema.PixelWidth, strings.Join(b.Schema.Slots, ", "))
	fmt.Fprintf(w, "Classes: %s\n", strings.Join(b.Schema.Classes, ", "))
	fmt.Fprintf(w, "Accuracy: %.4f\n", b.Metadata.Accuracy)
	fmt.Fprintf(w, "Precision: %.4f\n", b.Metadata.Precision)
	fmt.Fprintf(w, "Recall: %.4f\n", b.Metadata.Recall)
	fmt.Fprintf(w, "F1 Score: %.4f\n", b.Metadata.F1Score)
	if b.Metadata.CVMean > 0 {
		fmt.Fprintf(w, "CV Accuracy: %.4f ± %.4f\n", b.Metadata.CVMean, b.Metadata.CVStd)
	}
	fmt.Fprintf(w, "Training Time: %v\n", b.Metadata.TrainingTime)
}

func (b *Bundle) SaveMetadata(filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	b.WriteSummary(file)
	if b.Metadata.Report != nil {
		fmt.Fprintf(file, "\n%s", b.Metadata.Report.String())
	}
	return nil
}
