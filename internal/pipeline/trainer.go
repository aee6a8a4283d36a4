package pipeline

import (
	"context"
	"io"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/Demedah/Appsjiabao/internal/config"
	"github.com/Demedah/Appsjiabao/internal/data"
	"github.com/Demedah/Appsjiabao/internal/evaluation"
	"github.com/Demedah/Appsjiabao/internal/features"
	"github.com/Demedah/Appsjiabao/internal/logging"
	"github.com/Demedah/Appsjiabao/internal/models"
	"github.com/Demedah/Appsjiabao/internal/persistence"
	"github.com/Demedah/Appsjiabao/internal/preprocessing"
)

type Trainer struct {
	cfg       config.TrainingConfig
	imageSize int
	logger    *zap.Logger
}

func NewTrainer(cfg config.TrainingConfig, imageSize int, logger *zap.Logger) *Trainer {
	return &Trainer{cfg: cfg, imageSize: imageSize, logger: logging.OrNop(logger)}
}

func (t *Trainer) modelConfig() models.ModelConfig {
	return models.ModelConfig{
		NTrees:     t.cfg.NTrees,
		MaxDepth:   t.cfg.MaxDepth,
		MinSplit:   t.cfg.MinSamplesSplit,
		MinLeaf:    t.cfg.MinSamplesLeaf,
		Seed:       t.cfg.Seed,
		MaxWorkers: t.cfg.MaxWorkers,
	}
}

// Train fits a new bundle on m. source is recorded in the bundle metadata.
// Earlier bundles are never touched; persisting the result is up to the caller.
func (t *Trainer) Train(ctx context.Context, m *features.Matrix, source string) (*persistence.Bundle, *evaluation.Report, error) {
	start := time.Now()
	log := logging.WithOperation(t.logger, "train", "").With(zap.String("dataset", source))

	if m == nil {
		return nil, nil, &data.DatasetFormatError{Reason: "no feature matrix"}
	}

	y, err := preprocessing.NewFixedLabelEncoder(features.Classes).Transform(m.Labels)
	if err != nil {
		return nil, nil, &data.DatasetFormatError{Reason: "unmapped label", Err: err}
	}

	validator := data.NewDataValidator()
	if err := validator.ValidateDataset(m.X, y); err != nil {
		return nil, nil, err
	}
	if err := validator.ValidateLabels(y); err != nil {
		return nil, nil, err
	}
	if len(m.X[0]) != m.Width() {
		return nil, nil, &data.DatasetFormatError{Reason: "feature width does not match the encoded layout"}
	}

	testSize := t.cfg.TestSize
	if testSize <= 0 {
		testSize = 0.2
	}
	splitter := evaluation.NewTrainTestSplitter(testSize, t.cfg.Seed, true)
	XTrain, XTest, yTrain, yTest, err := splitter.StratifiedSplit(m.X, y)
	if err != nil {
		return nil, nil, &data.DatasetFormatError{Reason: "cannot split dataset", Err: err}
	}
	log.Info("dataset split",
		zap.Int("samples", len(m.X)),
		zap.Int("features", m.Width()),
		zap.Int("train", len(XTrain)),
		zap.Int("test", len(XTest)),
	)

	scaler := preprocessing.NewStandardScaler()
	XTrainScaled, err := scaler.FitTransform(XTrain)
	if err != nil {
		return nil, nil, errors.Wrap(err, "fit scaler")
	}
	XTestScaled, err := scaler.Transform(XTest)
	if err != nil {
		return nil, nil, errors.Wrap(err, "scale holdout")
	}

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	forest := models.NewForest(t.modelConfig())
	if err := forest.Fit(XTrainScaled, yTrain); err != nil {
		return nil, nil, errors.Wrap(err, "fit random forest")
	}

	classes := models.ExtractClasses(y)
	metrics := evaluation.CalculateMetrics(yTest, forest.Predict(XTestScaled), classes)
	report := evaluation.NewReport(metrics, classes, features.Classes)

	if t.cfg.CVFolds > 1 {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		cv := evaluation.NewCrossValidator(t.cfg.CVFolds, t.cfg.Seed)
		if t.cfg.MaxWorkers > 0 {
			cv.MaxWorkers = t.cfg.MaxWorkers
		}
		// Trees split on thresholds, so folds are fitted on unscaled features.
		scores, mean, std, err := cv.CrossValidate(m.X, y, func() models.Model {
			return models.NewForest(t.modelConfig())
		})
		if err != nil {
			log.Warn("cross-validation skipped", zap.Error(err))
		} else {
			report.CVScores, report.CVMean, report.CVStd = scores, mean, std
		}
	}

	schema := m.Schema()
	if t.imageSize > 0 {
		schema.ImageSize = t.imageSize
	}

	bundle := persistence.NewBundle(schema, scaler, forest)
	bundle.Metadata.Dataset = source
	bundle.Metadata.Samples = len(m.X)
	bundle.Metadata.Accuracy = metrics.Accuracy
	bundle.Metadata.Precision = metrics.WeightedPrecision
	bundle.Metadata.Recall = metrics.WeightedRecall
	bundle.Metadata.F1Score = metrics.WeightedF1
	bundle.Metadata.CVMean = report.CVMean
	bundle.Metadata.CVStd = report.CVStd
	bundle.Metadata.Report = report
	bundle.Metadata.TrainingTime = time.Since(start)

	log.Info("training complete",
		zap.String("bundle_id", bundle.ID),
		zap.Float64("accuracy", metrics.Accuracy),
		zap.Float64("f1_weighted", metrics.WeightedF1),
		zap.Duration("elapsed", bundle.Metadata.TrainingTime),
	)
	return bundle, report, nil
}

// TrainFromCSV loads, encodes and trains on a CSV dataset in one call.
func (t *Trainer) TrainFromCSV(ctx context.Context, r io.Reader, columns map[string]string, source string) (*persistence.Bundle, *evaluation.Report, error) {
	ds, err := data.Load(r, columns)
	if err != nil {
		return nil, nil, err
	}
	m, err := features.EncodeDataset(ds)
	if err != nil {
		return nil, nil, err
	}
	return t.Train(ctx, m, source)
}
