//
// Tencent is pleased to support the open source community by making trpc-prmeval-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-prmeval-go is licensed under the Apache License Version 2.0.
//
//

// Package evalresult annotates scored examples and persists per-configuration
// result files.
package evalresult

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"trpc.group/trpc-go/trpc-prmeval-go/dataset"
	"trpc.group/trpc-go/trpc-prmeval-go/internal/clone"
	"trpc.group/trpc-go/trpc-prmeval-go/scorer"
)

// Annotated is one example plus its derived judgment. The embedded example
// is a deep copy: the batch's examples stay untouched while results are
// built, so concurrent readers of the batch never observe derived fields.
type Annotated struct {
	dataset.Example
	// Prediction is the predicted index of the first incorrect step, or -1.
	Prediction int `json:"prediction"`
	// Match reports whether Prediction equals the ground-truth label.
	Match bool `json:"match"`
}

// Annotate copies the example and attaches the judgment to the copy.
func Annotate(ex *dataset.Example, judgment scorer.Judgment) (*Annotated, error) {
	if ex == nil {
		return nil, errors.New("example is nil")
	}
	copied, err := clone.Clone(ex)
	if err != nil {
		return nil, fmt.Errorf("clone example: %w", err)
	}
	return &Annotated{
		Example:    *copied,
		Prediction: judgment.PredictedFirstError,
		Match:      judgment.MatchesLabel,
	}, nil
}

// HasError reports whether the ground truth marks any step incorrect.
func (a *Annotated) HasError() bool {
	return a.Label != dataset.NoError
}

// Writer persists result files under a base directory keyed by the model
// identifier. Only the designated aggregator worker writes, so files have a
// single writer by construction.
type Writer struct {
	baseDir string
}

// NewWriter creates a Writer rooted at dir.
func NewWriter(dir string) (*Writer, error) {
	if dir == "" {
		return nil, errors.New("output dir is empty")
	}
	return &Writer{baseDir: dir}, nil
}

// BaseDir returns the writer's output directory.
func (w *Writer) BaseDir() string {
	return w.baseDir
}

// WriteConfig persists one configuration's merged results as two jsonl
// files: <config>_error.jsonl for examples with ground-truth errors and
// <config>_correct.jsonl for fully-correct ones.
func (w *Writer) WriteConfig(config string, errorResults, correctResults []*Annotated) error {
	if config == "" {
		return errors.New("config name is empty")
	}
	if err := os.MkdirAll(w.baseDir, 0o755); err != nil {
		return err
	}
	if err := w.writeJSONL(config+"_error.jsonl", errorResults); err != nil {
		return err
	}
	return w.writeJSONL(config+"_correct.jsonl", correctResults)
}

func (w *Writer) writeJSONL(name string, results []*Annotated) error {
	path := filepath.Join(w.baseDir, name)
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	for _, result := range results {
		if err := enc.Encode(result); err != nil {
			f.Close()
			_ = os.Remove(tmp)
			return fmt.Errorf("encode result: %w", err)
		}
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// WriteSummary persists the run summary as indented JSON next to the
// per-configuration files.
func (w *Writer) WriteSummary(summary any) error {
	if summary == nil {
		return errors.New("summary is nil")
	}
	if err := os.MkdirAll(w.baseDir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(w.baseDir, "summary.json")
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
