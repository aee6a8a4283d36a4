package models

type ModelConfig struct {
	MaxDepth   int
	MinSplit   int
	MinLeaf    int
	NTrees     int
	Seed       int64
	MaxWorkers int
}

// NewForest builds a RandomForest from config, filling unset fields from
// DefaultConfig.
func NewForest(config ModelConfig) *RandomForest {
	def := DefaultConfig()
	if config.NTrees <= 0 {
		config.NTrees = def.NTrees
	}
	if config.MaxDepth <= 0 {
		config.MaxDepth = def.MaxDepth
	}
	if config.MinSplit <= 0 {
		config.MinSplit = def.MinSplit
	}
	if config.MinLeaf <= 0 {
		config.MinLeaf = def.MinLeaf
	}

	rf := NewRandomForest(config.NTrees, config.MaxDepth, config.MinSplit).
		WithLeafAndSeed(config.MinLeaf, config.Seed)
	if config.MaxWorkers > 0 {
		rf.MaxWorkers = config.MaxWorkers
	}
	return rf
}

// DefaultConfig is 100 trees of depth 10, min split 5, min leaf 2, seed 42.
func DefaultConfig() ModelConfig {
	return ModelConfig{
		NTrees:   100,
		MaxDepth: 10,
		MinSplit: 5,
		MinLeaf:  2,
		Seed:     42,
	}
}
