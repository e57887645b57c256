//
// Tencent is pleased to support the open source community by making trpc-prmeval-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-prmeval-go is licensed under the Apache License Version 2.0.
//
//

// Package config loads the evaluation run configuration from a YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"trpc.group/trpc-go/trpc-prmeval-go/dataset"
)

// Config is the full run configuration.
type Config struct {
	// ModelPath identifies the evaluated model; its last path element keys
	// the output directory.
	ModelPath string `yaml:"modelPath"`
	// ModelEndpoint is the HTTP inference server scoring token batches.
	ModelEndpoint string `yaml:"modelEndpoint"`
	// TokenizerModel selects the tokenizer codec.
	TokenizerModel string `yaml:"tokenizerModel"`
	// PadTokenID is the pad token id shared by tokenizer and model. It must
	// match the id the model was trained with; a mismatch corrupts score
	// positions silently.
	PadTokenID int `yaml:"padTokenID"`
	// NumClasses is the model's class count.
	NumClasses int `yaml:"numClasses"`
	// BatchSize is the number of examples packed per forward pass.
	BatchSize int `yaml:"batchSize"`
	// MaxModelBatch caps rows per inference request.
	MaxModelBatch int `yaml:"maxModelBatch"`
	// ModelParallelism is the number of concurrent inference requests.
	ModelParallelism int `yaml:"modelParallelism"`
	// Separator sits between the problem statement and the first step. It
	// must equal the separator used when the model was trained.
	Separator string `yaml:"separator"`
	// Seed seeds the process-wide random source.
	Seed int64 `yaml:"seed"`
	// DataDir holds one <config>.jsonl file per benchmark configuration.
	DataDir string `yaml:"dataDir"`
	// OutputDir is the root of persisted results.
	OutputDir string `yaml:"outputDir"`
	// LogLevel is one of debug, info, warn, error, fatal.
	LogLevel string `yaml:"logLevel"`
	// Rank is this worker's rank in [0, WorldSize).
	Rank int `yaml:"rank"`
	// WorldSize is the number of data-parallel workers.
	WorldSize int `yaml:"worldSize"`
	// CoordinatorAddr is the rank-0 collective address, required when
	// WorldSize > 1.
	CoordinatorAddr string `yaml:"coordinatorAddr"`
	// Configs lists the benchmark configurations to evaluate.
	Configs []dataset.Config `yaml:"configs"`
}

// Default returns the configuration defaults.
func Default() *Config {
	return &Config{
		TokenizerModel:   "cl100k_base",
		NumClasses:       2,
		BatchSize:        24,
		MaxModelBatch:    8,
		ModelParallelism: 1,
		Separator:        "\n",
		Seed:             42,
		DataDir:          "data",
		OutputDir:        "outputs",
		LogLevel:         "info",
		WorldSize:        1,
		Configs:          dataset.DefaultConfigs(),
	}
}

// Load reads the YAML file at path over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration invariants.
func (c *Config) Validate() error {
	if c.ModelPath == "" {
		return errors.New("modelPath is empty")
	}
	if c.ModelEndpoint == "" {
		return errors.New("modelEndpoint is empty")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batchSize must be positive, got %d", c.BatchSize)
	}
	if c.WorldSize <= 0 {
		return fmt.Errorf("worldSize must be positive, got %d", c.WorldSize)
	}
	if c.Rank < 0 || c.Rank >= c.WorldSize {
		return fmt.Errorf("rank %d out of range for world size %d", c.Rank, c.WorldSize)
	}
	if c.WorldSize > 1 && c.CoordinatorAddr == "" {
		return errors.New("coordinatorAddr is required when worldSize > 1")
	}
	if len(c.Configs) == 0 {
		return errors.New("no benchmark configurations")
	}
	for _, bench := range c.Configs {
		if bench.Name == "" {
			return errors.New("benchmark configuration with empty name")
		}
	}
	return nil
}

// ModelName returns the model identifier keying the output directory.
func (c *Config) ModelName() string {
	return filepath.Base(c.ModelPath)
}

// ResultDir returns the directory that receives this run's result files.
func (c *Config) ResultDir() string {
	return filepath.Join(c.OutputDir, c.ModelName())
}
