package commander

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"go.uber.org/zap"

	"github.com/Demedah/Appsjiabao/internal/config"
	"github.com/Demedah/Appsjiabao/internal/data"
	"github.com/Demedah/Appsjiabao/internal/features"
	"github.com/Demedah/Appsjiabao/internal/jobs"
	"github.com/Demedah/Appsjiabao/internal/logging"
	"github.com/Demedah/Appsjiabao/internal/persistence"
	"github.com/Demedah/Appsjiabao/internal/pipeline"
)

type Commander struct {
	cfg        *config.Config
	store      *persistence.Store
	predictor  *pipeline.Predictor
	jobManager *jobs.Manager
	logger     *zap.Logger

	in  io.Reader
	out io.Writer

	loaded *LoadedData

	// Fetch downloads remote datasets. Tests replace it.
	Fetch func(ctx context.Context, url string) ([]byte, error)

	green  func(a ...any) string
	red    func(a ...any) string
	yellow func(a ...any) string
	cyan   func(a ...any) string
	blue   func(a ...any) string
}

// LoadedData is the dataset the session is working on.
type LoadedData struct {
	Dataset *data.Dataset
	Matrix  *features.Matrix
	Summary data.Summary
	Source  string
}

func NewCommander(cfg *config.Config, logger *zap.Logger) *Commander {
	store := persistence.NewStore(cfg.Model.Path)
	return &Commander{
		cfg:        cfg,
		store:      store,
		predictor:  pipeline.NewPredictor(store, logger),
		jobManager: jobs.NewManager(),
		logger:     logging.OrNop(logger),
		in:         os.Stdin,
		out:        os.Stdout,
		Fetch:      data.Fetch,
		green:      color.New(color.FgGreen).SprintFunc(),
		red:        color.New(color.FgRed).SprintFunc(),
		yellow:     color.New(color.FgYellow).SprintFunc(),
		cyan:       color.New(color.FgCyan).SprintFunc(),
		blue:       color.New(color.FgBlue).SprintFunc(),
	}
}

// SetIO redirects the session, mainly for tests.
func (c *Commander) SetIO(in io.Reader, out io.Writer) {
	c.in = in
	c.out = out
}

func (c *Commander) Start() {
	c.printWelcome()
	scanner := bufio.NewScanner(c.in)

	for {
		fmt.Fprint(c.out, c.yellow("\nskin> "))
		if !scanner.Scan() {
			if scanner.Err() != nil {
				fmt.Fprintf(c.out, "\n%s Scanner error: %v\n", c.red("✗"), scanner.Err())
			}
			break
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		parts := strings.Fields(input)
		command := strings.ToLower(parts[0])
		args := parts[1:]

		if !c.ExecuteCommand(command, args) {
			break
		}
	}

	c.jobManager.Wait()
}

// ExecuteCommand runs one command and reports whether the session continues.
func (c *Commander) ExecuteCommand(command string, args []string) bool {
	switch command {
	case "help", "h":
		c.showHelp()
	case "load":
		if len(args) > 0 {
			c.loadData(args[0])
		} else {
			fmt.Fprintln(c.out, c.red("Usage: load <file|url>"))
		}
	case "fetch":
		url := c.cfg.Dataset.URL
		if len(args) > 0 {
			url = args[0]
		}
		if url == "" {
			fmt.Fprintln(c.out, c.red("Usage: fetch <url>"))
		} else {
			c.loadData(url)
		}
	case "info":
		c.showDataInfo()
	case "train":
		c.trainModel(args)
	case "train-bg":
		c.trainModelBackground(args)
	case "cv":
		c.crossValidate(args)
	case "predict":
		c.predict(args)
	case "current":
		c.showCurrentModel()
	case "reload":
		c.reloadModel()
	case "backup":
		c.backupModel()
	case "export":
		if len(args) > 0 {
			c.exportSummary(args[0])
		} else {
			fmt.Fprintln(c.out, c.red("Usage: export <file>"))
		}
	case "jobs", "job-status":
		if len(args) > 0 {
			c.showJobStatus(args[0])
		} else {
			c.listAllJobs()
		}
	case "job-cancel":
		if len(args) > 0 {
			c.cancelJob(args[0])
		} else {
			fmt.Fprintln(c.out, c.red("Usage: job-cancel <job-id>"))
		}
	case "job-logs":
		if len(args) > 0 {
			c.showJobLogs(args[0])
		} else {
			fmt.Fprintln(c.out, c.red("Usage: job-logs <job-id>"))
		}
	case "clear":
		c.clearScreen()
	case "quit", "exit", "q":
		fmt.Fprintln(c.out, "Bye")
		return false
	default:
		fmt.Fprintf(c.out, "%s Unknown command: %s\n", c.red("✗"), command)
		fmt.Fprintln(c.out, "Type 'help' for available commands")
	}
	return true
}

func (c *Commander) printWelcome() {
	fmt.Fprintln(c.out, c.cyan("╔══════════════════════════════════════════╗"))
	fmt.Fprintln(c.out, c.cyan("║        Skin Texture Classifier           ║"))
	fmt.Fprintln(c.out, c.cyan("║     dry / normal / oily from photos      ║"))
	fmt.Fprintln(c.out, c.cyan("╚══════════════════════════════════════════╝"))
	fmt.Fprintln(c.out)
	fmt.Fprintln(c.out, "Type 'help' for available commands")
}

func (c *Commander) showHelp() {
	fmt.Fprintln(c.out, c.blue("\nAvailable Commands:"))

	fmt.Fprintln(c.out, "\n"+c.cyan("Data Management:"))
	fmt.Fprintln(c.out, "  load <file|url>        - Load a skin dataset CSV")
	fmt.Fprintln(c.out, "  fetch [url]            - Download the dataset (default: configured URL)")
	fmt.Fprintln(c.out, "  info                   - Show loaded data information")

	fmt.Fprintln(c.out, "\n"+c.cyan("Model Training:"))
	fmt.Fprintln(c.out, "  train [--backup] [--cv=N] [--trees=N] [--depth=N] [--split=F]")
	fmt.Fprintln(c.out, "                         - Train, save and serve a new model")
	fmt.Fprintln(c.out, "  train-bg [options]     - Train in background")
	fmt.Fprintln(c.out, "  cv [folds]             - Cross-validate on the loaded data (default: 5 folds)")

	fmt.Fprintln(c.out, "\n"+c.cyan("Model Management:"))
	fmt.Fprintln(c.out, "  current                - Show the serving model")
	fmt.Fprintln(c.out, "  reload                 - Reload the model file")
	fmt.Fprintln(c.out, "  backup                 - Move the model file to the backup directory")
	fmt.Fprintln(c.out, "  export <file>          - Write the model summary and report to a file")

	fmt.Fprintln(c.out, "\n"+c.cyan("Predictions:"))
	fmt.Fprintln(c.out, "  predict <image> [oil water pore_size]")
	fmt.Fprintln(c.out, "                         - Classify a face photo")

	fmt.Fprintln(c.out, "\n"+c.cyan("Job Management:"))
	fmt.Fprintln(c.out, "  jobs [job-id]          - Show job status or list all jobs")
	fmt.Fprintln(c.out, "  job-cancel <job-id>    - Cancel a running job")
	fmt.Fprintln(c.out, "  job-logs <job-id>      - View job logs")

	fmt.Fprintln(c.out, "\n"+c.cyan("System:"))
	fmt.Fprintln(c.out, "  help                   - Show this help message")
	fmt.Fprintln(c.out, "  clear                  - Clear screen")
	fmt.Fprintln(c.out, "  quit                   - Exit program")
}

func (c *Commander) readSource(source string) ([]byte, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		return c.Fetch(ctx, source)
	}
	return os.ReadFile(source)
}

func (c *Commander) loadData(source string) {
	startTime := time.Now()
	fmt.Fprintf(c.out, "Loading data from %s...\n", source)

	raw, err := c.readSource(source)
	if err != nil {
		fmt.Fprintf(c.out, "%s Error: %v\n", c.red("✗"), err)
		return
	}

	ds, err := data.Load(bytes.NewReader(raw), c.cfg.Dataset.Columns)
	if err != nil {
		fmt.Fprintf(c.out, "%s Error reading dataset: %v\n", c.red("✗"), err)
		return
	}

	matrix, err := features.EncodeDataset(ds)
	if err != nil {
		fmt.Fprintf(c.out, "%s Error encoding dataset: %v\n", c.red("✗"), err)
		return
	}

	c.loaded = &LoadedData{
		Dataset: ds,
		Matrix:  matrix,
		Summary: data.Inspect(ds),
		Source:  source,
	}

	fmt.Fprintf(c.out, "%s Data loaded successfully!\n", c.green("✓"))
	fmt.Fprintln(c.out, strings.Repeat("─", 50))
	fmt.Fprintf(c.out, "Size:          %.2f KB\n", float64(len(raw))/1024)
	fmt.Fprintf(c.out, "Load time:     %.3fs\n", time.Since(startTime).Seconds())
	c.printSummary()
	fmt.Fprintln(c.out, strings.Repeat("─", 50))
	fmt.Fprintln(c.out, "Ready to train! Use 'train' command")
}

func (c *Commander) printSummary() {
	s := c.loaded.Summary
	fmt.Fprintf(c.out, "Samples:       %d\n", s.Rows)
	fmt.Fprintf(c.out, "Features:      %d (%d pixel values + oil, water, pore size)\n", c.loaded.Matrix.Width(), c.loaded.Matrix.PixelWidth)
	if s.MinPixelLen != s.MaxPixelLen {
		fmt.Fprintf(c.out, "%s Pixel arrays range from %d to %d values; shorter ones are zero padded\n",
			c.yellow("⚠"), s.MinPixelLen, s.MaxPixelLen)
	}

	fmt.Fprint(c.out, "Distribution:  ")
	minCount, maxCount := s.Rows, 0
	for _, name := range s.LabelNames() {
		count := s.Labels[name]
		fmt.Fprintf(c.out, "%s:%d ", name, count)
		minCount = min(minCount, count)
		maxCount = max(maxCount, count)
	}
	fmt.Fprintln(c.out)

	if minCount > 0 && float64(maxCount)/float64(minCount) > 2 {
		fmt.Fprintf(c.out, "%s Class imbalance detected (ratio: %.2f)\n",
			c.yellow("⚠"), float64(maxCount)/float64(minCount))
	}
	if s.MissingOil > 0 || s.MissingWater > 0 {
		fmt.Fprintf(c.out, "%s Imputed %d oil and %d water readings with the column mean\n",
			c.yellow("⚠"), s.MissingOil, s.MissingWater)
	}
}

func (c *Commander) showDataInfo() {
	if c.loaded == nil {
		fmt.Fprintln(c.out, c.red("No data loaded. Use 'load <file>' first"))
		return
	}
	fmt.Fprintln(c.out, c.blue("\nLoaded Dataset:"))
	fmt.Fprintln(c.out, strings.Repeat("─", 50))
	fmt.Fprintf(c.out, "Source:        %s\n", c.loaded.Source)
	fmt.Fprintf(c.out, "Columns:       %s\n", strings.Join(c.loaded.Dataset.Headers, ", "))
	c.printSummary()
}

func (c *Commander) clearScreen() {
	fmt.Fprint(c.out, "\033[H\033[2J")
	c.printWelcome()
}

// saveTrainingLog appends one line per trained model next to the model file.
func (c *Commander) saveTrainingLog(b *persistence.Bundle) {
	logFile := filepath.Join(filepath.Dir(c.store.Path), "training_log.csv")
	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		c.logger.Warn("training log unavailable", zap.Error(err))
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err == nil && info.Size() == 0 {
		fmt.Fprintln(file, "Timestamp,Bundle,Dataset,Samples,Accuracy,TrainingTime")
	}

	fmt.Fprintf(file, "%s,%s,%s,%d,%.4f,%.2f\n",
		time.Now().Format("2006-01-02 15:04:05"),
		b.ID,
		b.Metadata.Dataset,
		b.Metadata.Samples,
		b.Metadata.Accuracy,
		b.Metadata.TrainingTime.Seconds())
}
