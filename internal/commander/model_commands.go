package commander

import (
	"context"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"

	"github.com/Demedah/Appsjiabao/internal/config"
	"github.com/Demedah/Appsjiabao/internal/evaluation"
	"github.com/Demedah/Appsjiabao/internal/features"
	"github.com/Demedah/Appsjiabao/internal/jobs"
	"github.com/Demedah/Appsjiabao/internal/models"
	"github.com/Demedah/Appsjiabao/internal/persistence"
	"github.com/Demedah/Appsjiabao/internal/pipeline"
	"github.com/Demedah/Appsjiabao/internal/preprocessing"
)

type trainOptions struct {
	backup   bool
	training config.TrainingConfig
}

func (c *Commander) parseTrainOptions(params []string) (trainOptions, error) {
	opts := trainOptions{training: c.cfg.Training}

	for _, p := range params {
		var err error
		switch {
		case p == "--backup":
			opts.backup = true
		case strings.HasPrefix(p, "--cv="):
			opts.training.CVFolds, err = strconv.Atoi(strings.TrimPrefix(p, "--cv="))
		case strings.HasPrefix(p, "--trees="):
			opts.training.NTrees, err = strconv.Atoi(strings.TrimPrefix(p, "--trees="))
		case strings.HasPrefix(p, "--depth="):
			opts.training.MaxDepth, err = strconv.Atoi(strings.TrimPrefix(p, "--depth="))
		case strings.HasPrefix(p, "--split="):
			opts.training.TestSize, err = strconv.ParseFloat(strings.TrimPrefix(p, "--split="), 64)
		default:
			return opts, errors.Newf("unknown option %s", p)
		}
		if err != nil {
			return opts, errors.Wrapf(err, "option %s", p)
		}
	}

	t := opts.training
	if t.TestSize <= 0 || t.TestSize >= 1 || t.NTrees <= 0 || t.MaxDepth <= 0 {
		return opts, errors.New("trees and depth must be positive and split between 0 and 1")
	}
	return opts, nil
}

// trainAndSave trains on loaded, optionally backs up the current model file,
// saves the new bundle and puts it in service. Progress messages go to note.
func (c *Commander) trainAndSave(ctx context.Context, loaded *LoadedData, opts trainOptions, note func(string)) (*persistence.Bundle, *evaluation.Report, error) {
	trainer := pipeline.NewTrainer(opts.training, c.cfg.Image.Size, c.logger)
	bundle, report, err := trainer.Train(ctx, loaded.Matrix, loaded.Source)
	if err != nil {
		return nil, nil, err
	}

	if opts.backup {
		path, err := c.store.Backup(c.cfg.Model.BackupDir)
		if err != nil {
			return nil, nil, err
		}
		if path != "" {
			note("Previous model backed up as: " + path)
		}
	}

	if err := c.store.Save(bundle); err != nil {
		return nil, nil, err
	}
	if err := c.predictor.Use(bundle); err != nil {
		return nil, nil, err
	}
	c.saveTrainingLog(bundle)
	return bundle, report, nil
}

func (c *Commander) trainModel(params []string) {
	if c.loaded == nil {
		fmt.Fprintln(c.out, c.red("No data loaded. Use 'load <file>' first"))
		return
	}

	opts, err := c.parseTrainOptions(params)
	if err != nil {
		fmt.Fprintf(c.out, "%s %v\n", c.red("✗"), err)
		return
	}

	fmt.Fprintf(c.out, "Training random forest (%d trees, depth %d) on %d samples...\n",
		opts.training.NTrees, opts.training.MaxDepth, len(c.loaded.Matrix.X))

	bundle, report, err := c.trainAndSave(context.Background(), c.loaded, opts, func(msg string) {
		fmt.Fprintln(c.out, msg)
	})
	if err != nil {
		fmt.Fprintf(c.out, "%s Training failed: %v\n", c.red("✗"), err)
		return
	}

	fmt.Fprintf(c.out, "%s Model trained and saved to %s\n", c.green("✓"), c.store.Path)
	fmt.Fprintln(c.out, strings.Repeat("─", 50))
	fmt.Fprintf(c.out, "Bundle:        %s\n", bundle.ID)
	fmt.Fprintf(c.out, "Training time: %.2fs\n", bundle.Metadata.TrainingTime.Seconds())
	fmt.Fprintf(c.out, "Accuracy:      %s\n", c.green(fmt.Sprintf("%.4f", report.Accuracy)))
	fmt.Fprintln(c.out)
	fmt.Fprint(c.out, report.String())
}

func (c *Commander) trainModelBackground(params []string) {
	if c.loaded == nil {
		fmt.Fprintln(c.out, c.red("No data loaded. Use 'load <file>' first"))
		return
	}

	opts, err := c.parseTrainOptions(params)
	if err != nil {
		fmt.Fprintf(c.out, "%s %v\n", c.red("✗"), err)
		return
	}

	// A later load replaces c.loaded; the job keeps the dataset it was given.
	loaded := c.loaded
	job := c.jobManager.Submit(context.Background(), "train", "Training on "+loaded.Source,
		func(ctx context.Context, job *jobs.Job) (any, error) {
			job.AddLog(fmt.Sprintf("Training with %d samples from %s...", len(loaded.Matrix.X), loaded.Source))
			bundle, report, err := c.trainAndSave(ctx, loaded, opts, job.AddLog)
			if err != nil {
				return nil, err
			}
			job.SetProgress(0.9)
			job.AddLog(fmt.Sprintf("Training completed. Accuracy: %.4f", report.Accuracy))
			job.AddLog("Model saved to: " + c.store.Path)
			return map[string]any{"bundle_id": bundle.ID, "accuracy": report.Accuracy}, nil
		})
	fmt.Fprintf(c.out, "Job submitted: %s\n", c.cyan(job.ID))
}

func (c *Commander) crossValidate(args []string) {
	if c.loaded == nil {
		fmt.Fprintln(c.out, c.red("No data loaded"))
		return
	}

	folds := 5
	if len(args) > 0 {
		if n, err := strconv.Atoi(args[0]); err == nil && n > 1 {
			folds = n
		}
	}

	y, err := preprocessing.NewFixedLabelEncoder(features.Classes).Transform(c.loaded.Matrix.Labels)
	if err != nil {
		fmt.Fprintf(c.out, "%s %v\n", c.red("✗"), err)
		return
	}

	fmt.Fprintf(c.out, "Running %d-fold cross-validation...\n", folds)

	t := c.cfg.Training
	cv := evaluation.NewCrossValidator(folds, t.Seed)
	scores, mean, std, err := cv.CrossValidate(c.loaded.Matrix.X, y, func() models.Model {
		return models.NewForest(models.ModelConfig{
			NTrees:     t.NTrees,
			MaxDepth:   t.MaxDepth,
			MinSplit:   t.MinSamplesSplit,
			MinLeaf:    t.MinSamplesLeaf,
			Seed:       t.Seed,
			MaxWorkers: t.MaxWorkers,
		})
	})
	if err != nil {
		fmt.Fprintf(c.out, "%s Cross-validation failed: %v\n", c.red("✗"), err)
		return
	}

	fmt.Fprintf(c.out, "%s Cross-validation complete!\n", c.green("✓"))
	fmt.Fprintf(c.out, "Scores: %.4f\n", scores)
	fmt.Fprintf(c.out, "Mean: %.4f (±%.4f)\n", mean, std)
}

func (c *Commander) predict(args []string) {
	if len(args) != 1 && len(args) != 4 {
		fmt.Fprintln(c.out, c.red("Usage: predict <image> [oil water pore_size]"))
		return
	}

	raw, err := os.ReadFile(args[0])
	if err != nil {
		fmt.Fprintf(c.out, "%s Error: %v\n", c.red("✗"), err)
		return
	}

	var pred *pipeline.Prediction
	if len(args) == 4 {
		oil, err1 := decimal.NewFromString(args[1])
		water, err2 := decimal.NewFromString(args[2])
		o, w := oil.InexactFloat64(), water.InexactFloat64()
		if err1 != nil || err2 != nil || math.IsInf(o, 0) || math.IsInf(w, 0) {
			fmt.Fprintf(c.out, "%s Oil and water must be finite numbers\n", c.red("✗"))
			return
		}
		pred, err = c.predictor.PredictWithMeasurements(context.Background(), raw, features.Measurements{
			Oil:      o,
			Water:    w,
			PoreSize: args[3],
		})
	} else {
		pred, err = c.predictor.Predict(context.Background(), raw)
	}

	if err != nil {
		if errors.Is(err, pipeline.ErrModelNotTrained) {
			fmt.Fprintln(c.out, c.red("No model available. Load data and 'train' first"))
			return
		}
		fmt.Fprintf(c.out, "%s Prediction failed: %v\n", c.red("✗"), err)
		return
	}

	c.printPrediction(args[0], pred)
}

func (c *Commander) printPrediction(source string, pred *pipeline.Prediction) {
	fmt.Fprintln(c.out, "\n"+strings.Repeat("═", 50))
	fmt.Fprintln(c.out, c.green("Prediction Results:"))
	fmt.Fprintln(c.out, strings.Repeat("─", 50))
	fmt.Fprintf(c.out, "Image: %s\n", source)
	fmt.Fprintf(c.out, "Skin type: %s\n", c.cyan(pred.Label))

	fmt.Fprintln(c.out, "\nConfidence Scores:")
	for _, class := range features.Classes {
		p := pred.Probabilities[class]
		barLength := int(p * 30)
		bar := strings.Repeat("█", barLength) + strings.Repeat("░", 30-barLength)

		paint := c.yellow
		if class == pred.Label {
			paint = c.green
		}
		fmt.Fprintf(c.out, "  %s: %s %.2f%%\n", paint(fmt.Sprintf("%-10s", class)), bar, p*100)
	}

	fmt.Fprintln(c.out, strings.Repeat("═", 50))

	switch {
	case pred.Confidence > 0.9:
		fmt.Fprintf(c.out, "Confidence Level: %s (%.2f%%)\n", c.green("Very High"), pred.Confidence*100)
	case pred.Confidence > 0.7:
		fmt.Fprintf(c.out, "Confidence Level: %s (%.2f%%)\n", c.green("High"), pred.Confidence*100)
	case pred.Confidence > 0.5:
		fmt.Fprintf(c.out, "Confidence Level: %s (%.2f%%)\n", c.yellow("Moderate"), pred.Confidence*100)
	default:
		fmt.Fprintf(c.out, "Confidence Level: %s (%.2f%%)\n", c.red("Low"), pred.Confidence*100)
	}

	if len(pred.Substituted) > 0 {
		fmt.Fprintf(c.out, "%s No measurements given; used training averages for %s\n",
			c.yellow("⚠"), strings.Join(pred.Substituted, ", "))
	}
}

func (c *Commander) showCurrentModel() {
	b := c.predictor.Bundle()
	if b == nil {
		if err := c.predictor.Reload(); err != nil {
			fmt.Fprintln(c.out, c.red("No model currently loaded"))
			fmt.Fprintln(c.out, "Use 'train' to train a new model")
			return
		}
		b = c.predictor.Bundle()
	}

	fmt.Fprintln(c.out, c.blue("\nCurrent Active Model:"))
	fmt.Fprintln(c.out, strings.Repeat("─", 50))
	b.WriteSummary(c.out)
	fmt.Fprintf(c.out, "Parameters: %v\n", b.Metadata.Parameters)
	fmt.Fprintf(c.out, "File: %s\n", c.store.Path)
}

func (c *Commander) reloadModel() {
	if err := c.predictor.Reload(); err != nil {
		fmt.Fprintf(c.out, "%s Reload failed, model is now untrained: %v\n", c.red("✗"), err)
		return
	}
	fmt.Fprintf(c.out, "%s Model reloaded: %s\n", c.green("✓"), c.predictor.Bundle().ID)
}

func (c *Commander) backupModel() {
	path, err := c.store.Backup(c.cfg.Model.BackupDir)
	if err != nil {
		fmt.Fprintf(c.out, "%s Backup failed: %v\n", c.red("✗"), err)
		return
	}
	if path == "" {
		fmt.Fprintln(c.out, c.yellow("No model file to back up"))
		return
	}
	fmt.Fprintf(c.out, "%s Model backed up as: %s\n", c.green("✓"), path)
}

func (c *Commander) exportSummary(filename string) {
	b := c.predictor.Bundle()
	if b == nil {
		fmt.Fprintln(c.out, c.red("No model currently loaded"))
		return
	}
	if err := b.SaveMetadata(filename); err != nil {
		fmt.Fprintf(c.out, "%s Export failed: %v\n", c.red("✗"), err)
		return
	}
	fmt.Fprintf(c.out, "%s Summary written to %s\n", c.green("✓"), filename)
}

func (c *Commander) listAllJobs() {
	list := c.jobManager.ListJobs()
	if len(list) == 0 {
		fmt.Fprintln(c.out, "No jobs found")
		return
	}

	fmt.Fprintln(c.out, c.cyan("Background Jobs:"))
	fmt.Fprintln(c.out, strings.Repeat("-", 80))
	fmt.Fprintf(c.out, "%-20s %-10s %-10s %-15s %s\n", "Job ID", "Type", "Status", "Progress", "Description")
	fmt.Fprintln(c.out, strings.Repeat("-", 80))

	for _, job := range list {
		statusColor := c.yellow
		switch job.GetStatus() {
		case jobs.JobCompleted:
			statusColor = c.green
		case jobs.JobFailed:
			statusColor = c.red
		case jobs.JobRunning:
			statusColor = c.cyan
		}

		progress := fmt.Sprintf("%.0f%%", job.GetProgress()*100)
		fmt.Fprintf(c.out, "%-20s %-10s %-10s %-15s %s\n",
			job.ID, job.Type, statusColor(string(job.GetStatus())), progress, job.Description)
	}
}

func (c *Commander) showJobStatus(jobID string) {
	job, exists := c.jobManager.GetJob(jobID)
	if !exists {
		fmt.Fprintf(c.out, "%s Job not found: %s\n", c.red("✗"), jobID)
		return
	}

	v := job.View()
	fmt.Fprintf(c.out, "\n%s\n", c.cyan("Job Details:"))
	fmt.Fprintf(c.out, "ID:          %s\n", v.ID)
	fmt.Fprintf(c.out, "Type:        %s\n", v.Type)
	fmt.Fprintf(c.out, "Status:      %s\n", v.Status)
	fmt.Fprintf(c.out, "Progress:    %.0f%%\n", v.Progress*100)
	fmt.Fprintf(c.out, "Start Time:  %s\n", v.StartTime.Format("15:04:05"))
	if v.EndTime != nil {
		fmt.Fprintf(c.out, "End Time:    %s\n", v.EndTime.Format("15:04:05"))
		fmt.Fprintf(c.out, "Duration:    %s\n", v.EndTime.Sub(v.StartTime))
	}
	if v.Error != "" {
		fmt.Fprintf(c.out, "Error:       %s\n", c.red(v.Error))
	}
}

func (c *Commander) cancelJob(jobID string) {
	if err := c.jobManager.CancelJob(jobID); err != nil {
		fmt.Fprintf(c.out, "%s %v\n", c.red("✗"), err)
		return
	}
	fmt.Fprintf(c.out, "%s Job cancelled: %s\n", c.green("✓"), jobID)
}

func (c *Commander) showJobLogs(jobID string) {
	job, exists := c.jobManager.GetJob(jobID)
	if !exists {
		fmt.Fprintf(c.out, "%s Job not found: %s\n", c.red("✗"), jobID)
		return
	}

	logs := job.GetLogs()
	if len(logs) == 0 {
		fmt.Fprintln(c.out, "No logs available")
		return
	}

	fmt.Fprintf(c.out, "\n%s\n", c.cyan(fmt.Sprintf("Logs for job %s:", jobID)))
	for _, log := range logs {
		fmt.Fprintln(c.out, log)
	}
}
