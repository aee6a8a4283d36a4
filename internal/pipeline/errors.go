package pipeline

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// ErrModelNotTrained is returned by the Predictor when no bundle is loaded and
// none can be read from the store.
var ErrModelNotTrained = errors.New("model not trained")

// FeatureExtractionError reports an image that could not be turned into a
// feature vector. It applies to a single request only.
type FeatureExtractionError struct {
	Err error
}

func (e *FeatureExtractionError) Error() string {
	return fmt.Sprintf("feature extraction failed: %v", e.Err)
}

func (e *FeatureExtractionError) Unwrap() error {
	return e.Err
}
