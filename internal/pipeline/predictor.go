package pipeline

import (
	"context"
	"image"
	"sync"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"

	"github.com/Demedah/Appsjiabao/internal/features"
	"github.com/Demedah/Appsjiabao/internal/logging"
	"github.com/Demedah/Appsjiabao/internal/persistence"
)

type State int

const (
	Untrained State = iota
	Ready
)

func (s State) String() string {
	if s == Ready {
		return "ready"
	}
	return "untrained"
}

// Prediction is the result of classifying one image.
type Prediction struct {
	Label         string             `json:"label"`
	Confidence    float64            `json:"confidence"`
	Probabilities map[string]float64 `json:"probabilities"`
	// Substituted names the scalar slots filled from training means instead of
	// measurements.
	Substituted []string `json:"substituted,omitempty"`
	BundleID    string   `json:"bundle_id"`
}

// Predictor serves predictions from one bundle at a time. The bundle is read
// lazily from the store on first use and can be replaced at any time.
type Predictor struct {
	store  *persistence.Store
	logger *zap.Logger

	mu     sync.RWMutex
	bundle *persistence.Bundle
}

// NewPredictor returns an Untrained predictor. store may be nil, in which case
// bundles only arrive through Use.
func NewPredictor(store *persistence.Store, logger *zap.Logger) *Predictor {
	return &Predictor{store: store, logger: logging.OrNop(logger)}
}

func (p *Predictor) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.bundle == nil {
		return Untrained
	}
	return Ready
}

// Bundle returns the serving bundle, or nil when Untrained.
func (p *Predictor) Bundle() *persistence.Bundle {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.bundle
}

// Use makes b the serving bundle.
func (p *Predictor) Use(b *persistence.Bundle) error {
	if b == nil {
		return errors.New("nil bundle")
	}
	if err := b.Validate(); err != nil {
		return err
	}

	p.mu.Lock()
	p.bundle = b
	p.mu.Unlock()

	p.logger.Info("bundle in service", zap.String("bundle_id", b.ID))
	return nil
}

// Reload reads the store again. On failure the predictor becomes Untrained.
func (p *Predictor) Reload() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	b, err := p.load()
	if err != nil {
		p.bundle = nil
		p.logger.Warn("reload failed, predictor untrained", zap.Error(err))
		return err
	}
	p.bundle = b
	p.logger.Info("bundle reloaded", zap.String("bundle_id", b.ID))
	return nil
}

// load must be called with mu held for writing.
func (p *Predictor) load() (*persistence.Bundle, error) {
	if p.store == nil {
		return nil, errors.Mark(errors.Newf("%s: no model store configured", ErrModelNotTrained), ErrModelNotTrained)
	}
	b, err := p.store.Load()
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "%s: load model", ErrModelNotTrained), ErrModelNotTrained)
	}
	return b, nil
}

func (p *Predictor) current() (*persistence.Bundle, error) {
	p.mu.RLock()
	b := p.bundle
	p.mu.RUnlock()
	if b != nil {
		return b, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bundle != nil {
		return p.bundle, nil
	}
	b, err := p.load()
	if err != nil {
		return nil, err
	}
	p.bundle = b
	p.logger.Info("bundle loaded", zap.String("bundle_id", b.ID), zap.String("path", p.store.Path))
	return b, nil
}

// Predict classifies encoded image bytes. Scalar slots come from the bundle's
// training means.
func (p *Predictor) Predict(ctx context.Context, raw []byte) (*Prediction, error) {
	return p.predict(ctx, func(s features.Schema) ([]float64, error) {
		return features.EncodeImage(raw, s, nil)
	}, false)
}

// PredictImage classifies an already decoded image.
func (p *Predictor) PredictImage(ctx context.Context, img image.Image) (*Prediction, error) {
	return p.predict(ctx, func(s features.Schema) ([]float64, error) {
		return features.EncodeDecoded(img, s, nil)
	}, false)
}

// PredictWithMeasurements classifies image bytes using measured oil, water
// and pore size values.
func (p *Predictor) PredictWithMeasurements(ctx context.Context, raw []byte, m features.Measurements) (*Prediction, error) {
	return p.predict(ctx, func(s features.Schema) ([]float64, error) {
		return features.EncodeImage(raw, s, &m)
	}, true)
}

func (p *Predictor) predict(ctx context.Context, encode func(features.Schema) ([]float64, error), measured bool) (*Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b, err := p.current()
	if err != nil {
		return nil, err
	}

	vec, err := encode(b.Schema)
	if err != nil {
		return nil, &FeatureExtractionError{Err: err}
	}

	pred := classify(b, vec)
	if !measured {
		pred.Substituted = append([]string(nil), b.Schema.Slots...)
	}
	return pred, nil
}

// classify scales vec and reports the forest's class distribution over every
// schema class.
func classify(b *persistence.Bundle, vec []float64) *Prediction {
	scaled := b.Scaler.TransformRow(vec)
	proba := b.Forest.PredictProba([][]float64{scaled})[0]
	codes := b.Forest.GetClasses()

	pred := &Prediction{
		Probabilities: make(map[string]float64, len(b.Schema.Classes)),
		BundleID:      b.ID,
	}
	for _, class := range b.Schema.Classes {
		pred.Probabilities[class] = 0
	}
	for j, code := range codes {
		pred.Probabilities[b.Schema.Classes[code]] = proba[j]
	}

	best := floats.MaxIdx(proba)
	pred.Label = b.Schema.Classes[codes[best]]
	pred.Confidence = proba[best]
	return pred
}
