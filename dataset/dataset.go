//
// Tencent is pleased to support the open source community by making trpc-prmeval-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-prmeval-go is licensed under the Apache License Version 2.0.
//
//

// Package dataset defines the benchmark example model and loads benchmark
// configurations from line-delimited JSON files.
package dataset

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// NoError is the label value meaning every step of a solution is correct.
const NoError = -1

// Example is one benchmark sample: a problem statement, the ordered
// reasoning steps of a candidate solution, and the ground-truth index of the
// first incorrect step (NoError when all steps are correct).
//
// Examples are treated as immutable after load; derived prediction fields
// live on evalresult.Annotated, never here.
type Example struct {
	// ID identifies the example within its benchmark configuration.
	ID string `json:"id,omitempty"`
	// Generator names the model that produced the solution, when known.
	Generator string `json:"generator,omitempty"`
	// Problem is the problem statement.
	Problem string `json:"problem"`
	// Steps holds the reasoning steps in solution order.
	Steps []string `json:"steps"`
	// Label is the 0-based index of the first incorrect step, or NoError.
	Label int `json:"label"`

	// Index is the example's position in the loaded configuration. It is
	// assigned by Load and used to verify that the distributed merge is
	// loss-free; it is not part of the persisted example.
	Index int `json:"-"`
}

// Validate checks the label invariant: Label < len(Steps) or Label == NoError.
func (e *Example) Validate() error {
	if e.Label == NoError {
		return nil
	}
	if e.Label < 0 || e.Label >= len(e.Steps) {
		return fmt.Errorf("label %d out of range for %d steps", e.Label, len(e.Steps))
	}
	return nil
}

// Config names one benchmark configuration and the expected sizes of its
// error/correct partitions. The expected sizes drive a sanity check only,
// never gating.
type Config struct {
	// Name identifies the configuration (also the input file stem).
	Name string `json:"name" yaml:"name"`
	// ExpectedErrors is the expected number of examples whose label != -1.
	ExpectedErrors int `json:"expectedErrors" yaml:"expectedErrors"`
	// ExpectedCorrect is the expected number of examples whose label == -1.
	ExpectedCorrect int `json:"expectedCorrect" yaml:"expectedCorrect"`
}

// DefaultConfigs returns the standard benchmark configurations with their
// published error/correct counts.
func DefaultConfigs() []Config {
	return []Config{
		{Name: "gsm8k", ExpectedErrors: 207, ExpectedCorrect: 193},
		{Name: "math", ExpectedErrors: 594, ExpectedCorrect: 406},
		{Name: "olympiadbench", ExpectedErrors: 661, ExpectedCorrect: 339},
		{Name: "omnimath", ExpectedErrors: 759, ExpectedCorrect: 241},
	}
}

// Load reads a configuration's examples from the jsonl file
// <dir>/<name>.jsonl, assigning each example its dataset index.
func Load(dir, name string) ([]*Example, error) {
	if name == "" {
		return nil, errors.New("config name is empty")
	}
	path := filepath.Join(dir, name+".jsonl")
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset %s: %w", name, err)
	}
	defer f.Close()
	return parse(f, name)
}

func parse(f *os.File, name string) ([]*Example, error) {
	var examples []*Example
	scanner := bufio.NewScanner(f)
	// Problems plus long solutions can exceed the default scanner limit.
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		ex := &Example{}
		if err := json.Unmarshal(raw, ex); err != nil {
			return nil, fmt.Errorf("parse dataset %s line %d: %w", name, line, err)
		}
		if err := ex.Validate(); err != nil {
			return nil, fmt.Errorf("dataset %s line %d: %w", name, line, err)
		}
		ex.Index = len(examples)
		examples = append(examples, ex)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read dataset %s: %w", name, err)
	}
	return examples, nil
}
