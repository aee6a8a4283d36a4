package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Demedah/Appsjiabao/internal/config"
	"github.com/Demedah/Appsjiabao/internal/data"
	"github.com/Demedah/Appsjiabao/internal/logging"
	"github.com/Demedah/Appsjiabao/internal/persistence"
	"github.com/Demedah/Appsjiabao/internal/pipeline"
)

func main() {
	configFile := flag.String("config", "config/config.yaml", "Path to configuration file")
	dataFile := flag.String("data", "", "Path to the skin dataset CSV")
	url := flag.String("url", "", "Download the dataset from this URL (default: dataset.url)")
	output := flag.String("output", "", "Model file to write (default: model.path)")
	nTrees := flag.Int("n-trees", 0, "Number of trees (default: training.n_trees)")
	maxDepth := flag.Int("max-depth", 0, "Max tree depth (default: training.max_depth)")
	testSize := flag.Float64("test-size", 0, "Holdout fraction (default: training.test_size)")
	cvFolds := flag.Int("cv-folds", -1, "Cross-validation folds, 0 to skip (default: training.cv_folds)")
	backup := flag.Bool("backup", false, "Move the existing model to model.backup_dir before saving")
	summary := flag.String("summary", "", "Also write a text summary of the model here")
	logLevel := flag.String("log-level", "", "Log level (default: logging.level)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	applyFlags(cfg, *output, *nTrees, *maxDepth, *testSize, *cvFolds, *logLevel)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(logging.Options{Level: cfg.Logging.Level, File: cfg.Logging.File})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	source := *dataFile
	if source == "" {
		source = *url
	}
	if source == "" {
		source = cfg.Dataset.Path
	}
	if source == "" {
		source = cfg.Dataset.URL
	}
	if source == "" {
		fmt.Println("Usage:")
		fmt.Println("  go run ./cmd/train -data data/skin.csv")
		fmt.Println("  go run ./cmd/train -url https://example.com/skin.csv -n-trees 200")
		fmt.Println("\nOptions:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Printf("Loading dataset from %s...\n", source)
	raw, err := readDataset(source)
	if err != nil {
		logger.Fatal("failed to read dataset", zap.String("source", source), zap.Error(err))
	}

	fmt.Printf("Training random forest (%d trees, depth %d, test size %.0f%%)...\n",
		cfg.Training.NTrees, cfg.Training.MaxDepth, cfg.Training.TestSize*100)
	trainer := pipeline.NewTrainer(cfg.Training, cfg.Image.Size, logger)
	bundle, report, err := trainer.TrainFromCSV(context.Background(), bytes.NewReader(raw), cfg.Dataset.Columns, source)
	if err != nil {
		logger.Fatal("training failed", zap.Error(err))
	}

	fmt.Printf("\nTraining Results:\n")
	fmt.Printf("Training time: %v\n", bundle.Metadata.TrainingTime)
	fmt.Print(report.String())

	store := persistence.NewStore(cfg.Model.Path)
	if *backup {
		path, err := store.Backup(cfg.Model.BackupDir)
		if err != nil {
			logger.Fatal("backup failed", zap.Error(err))
		}
		if path != "" {
			fmt.Printf("Previous model moved to: %s\n", path)
		}
	}

	if err := store.Save(bundle); err != nil {
		logger.Fatal("failed to save model", zap.Error(err))
	}
	fmt.Printf("Model saved to: %s\n", store.Path)

	if *summary != "" {
		if err := bundle.SaveMetadata(*summary); err != nil {
			logger.Warn("failed to write summary", zap.Error(err))
		} else {
			fmt.Printf("Summary written to: %s\n", *summary)
		}
	}

	fmt.Println("\nTraining completed successfully!")
}

func applyFlags(cfg *config.Config, output string, nTrees, maxDepth int, testSize float64, cvFolds int, logLevel string) {
	if output != "" {
		cfg.Model.Path = output
	}
	if nTrees > 0 {
		cfg.Training.NTrees = nTrees
	}
	if maxDepth > 0 {
		cfg.Training.MaxDepth = maxDepth
	}
	if testSize > 0 {
		cfg.Training.TestSize = testSize
	}
	if cvFolds >= 0 {
		cfg.Training.CVFolds = cvFolds
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
}

func readDataset(source string) ([]byte, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		return data.Fetch(ctx, source)
	}
	return os.ReadFile(source)
}
