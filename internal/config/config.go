package config

import (
	"os"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Dataset  DatasetConfig  `yaml:"dataset"`
	Model    ModelConfig    `yaml:"model"`
	Training TrainingConfig `yaml:"training"`
	Image    ImageConfig    `yaml:"image"`
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type DatasetConfig struct {
	URL  string `yaml:"url"`
	Path string `yaml:"path"`
	// Columns overrides header names, keyed by logical column
	// (id, pixel_features, oil, water, pore_size, label).
	Columns map[string]string `yaml:"columns"`
}

type ModelConfig struct {
	Path      string `yaml:"path"`
	BackupDir string `yaml:"backup_dir"`
}

type TrainingConfig struct {
	TestSize        float64 `yaml:"test_size"`
	Seed            int64   `yaml:"seed"`
	NTrees          int     `yaml:"n_trees"`
	MaxDepth        int     `yaml:"max_depth"`
	MinSamplesSplit int     `yaml:"min_samples_split"`
	MinSamplesLeaf  int     `yaml:"min_samples_leaf"`
	MaxWorkers      int     `yaml:"max_workers"`
	CVFolds         int     `yaml:"cv_folds"`
}

type ImageConfig struct {
	Size int `yaml:"size"`
}

type ServerConfig struct {
	Addr           string `yaml:"addr"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`
	CacheSize      int    `yaml:"cache_size"`
	WatchModel     bool   `yaml:"watch_model"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

func Default() *Config {
	return &Config{
		Dataset: DatasetConfig{
			URL: "https://euyo7snfpiouaros.public.blob.vercel-storage.com/databaseJBC.csv",
		},
		Model: ModelConfig{
			Path:      "models/face_classifier.model",
			BackupDir: "models/backup",
		},
		Training: TrainingConfig{
			TestSize:        0.2,
			Seed:            42,
			NTrees:          100,
			MaxDepth:        10,
			MinSamplesSplit: 5,
			MinSamplesLeaf:  2,
			MaxWorkers:      4,
		},
		Image: ImageConfig{Size: 64},
		Server: ServerConfig{
			Addr:           ":8080",
			MaxUploadBytes: 10 << 20,
			CacheSize:      256,
			WatchModel:     true,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads a YAML file over the defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read config %s", path)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	t := c.Training
	if t.TestSize <= 0 || t.TestSize >= 1 {
		return errors.Newf("training.test_size must be between 0 and 1, got %v", t.TestSize)
	}
	if t.NTrees <= 0 {
		return errors.Newf("training.n_trees must be positive, got %d", t.NTrees)
	}
	if t.MinSamplesLeaf <= 0 || t.MinSamplesSplit < 2 {
		return errors.New("training.min_samples_leaf must be >= 1 and min_samples_split >= 2")
	}
	if c.Image.Size <= 0 {
		return errors.Newf("image.size must be positive, got %d", c.Image.Size)
	}
	if c.Model.Path == "" {
		return errors.New("model.path is required")
	}
	return nil
}
