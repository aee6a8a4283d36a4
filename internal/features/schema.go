package features

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// SchemaVersion changes whenever the slot layout changes. Bundles written with
// another version are rejected on load.
const SchemaVersion = 1

const DefaultImageSize = 64

// Scalar slot names, in vector order after the pixel block.
const (
	SlotOil      = "oil"
	SlotWater    = "water"
	SlotPoreSize = "pore_size"
)

var ScalarSlots = []string{SlotOil, SlotWater, SlotPoreSize}

// Schema is the feature vector layout shared by training and inference:
// PixelWidth pixel values followed by one value per scalar slot.
type Schema struct {
	Version    int
	PixelWidth int
	ImageSize  int
	Slots      []string
	Classes    []string
	// Substitutes fill the scalar slots when an image carries no measurements.
	// They are the training set column means.
	Substitutes []float64
}

func NewSchema(pixelWidth int, substitutes []float64) Schema {
	return Schema{
		Version:     SchemaVersion,
		PixelWidth:  pixelWidth,
		ImageSize:   DefaultImageSize,
		Slots:       append([]string(nil), ScalarSlots...),
		Classes:     append([]string(nil), Classes...),
		Substitutes: append([]float64(nil), substitutes...),
	}
}

func (s Schema) Width() int {
	return s.PixelWidth + len(s.Slots)
}

func (s Schema) Validate() error {
	if s.Version != SchemaVersion {
		return errors.Newf("feature schema version %d, this build reads version %d", s.Version, SchemaVersion)
	}
	if s.PixelWidth < 0 {
		return errors.Newf("negative pixel width %d", s.PixelWidth)
	}
	if s.ImageSize <= 0 {
		return errors.Newf("invalid image size %d", s.ImageSize)
	}
	if len(s.Slots) != len(ScalarSlots) {
		return errors.Newf("expected %d scalar slots, got %d", len(ScalarSlots), len(s.Slots))
	}
	for i, slot := range ScalarSlots {
		if s.Slots[i] != slot {
			return errors.Newf("slot %d is %q, expected %q", i, s.Slots[i], slot)
		}
	}
	if len(s.Substitutes) != len(s.Slots) {
		return errors.Newf("expected %d substitute values, got %d", len(s.Slots), len(s.Substitutes))
	}
	if len(s.Classes) == 0 {
		return errors.New("schema has no classes")
	}
	return nil
}

// FeatureNames lists every slot of the vector, pixels first.
func (s Schema) FeatureNames() []string {
	names := make([]string, 0, s.Width())
	for i := 0; i < s.PixelWidth; i++ {
		names = append(names, fmt.Sprintf("pixel_%d", i))
	}
	return append(names, s.Slots...)
}
