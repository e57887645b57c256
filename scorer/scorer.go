//
// Tencent is pleased to support the open source community by making trpc-prmeval-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-prmeval-go is licensed under the Apache License Version 2.0.
//
//

// Package scorer runs the scoring model over packed batches, reduces
// per-step logits to class decisions, and judges the first incorrect step.
package scorer

import (
	"context"
	"errors"
	"fmt"

	"trpc.group/trpc-go/trpc-prmeval-go/encode"
	"trpc.group/trpc-go/trpc-prmeval-go/model"
)

// IncorrectClass is the class id meaning "this step is incorrect".
const IncorrectClass = 0

// NoError is the judgment value meaning no incorrect step was found.
const NoError = -1

// Judgment is the per-example verdict derived from per-step class decisions.
type Judgment struct {
	// PredictedFirstError is the index of the first step judged incorrect,
	// or NoError.
	PredictedFirstError int `json:"prediction"`
	// MatchesLabel reports whether the prediction equals the ground truth.
	MatchesLabel bool `json:"match"`
}

// Scorer scores packed batches with a token classification model.
type Scorer struct {
	classifier model.TokenClassifier
}

// New creates a Scorer over the given classifier.
func New(classifier model.TokenClassifier) (*Scorer, error) {
	if classifier == nil {
		return nil, errors.New("classifier is nil")
	}
	if classifier.NumClasses() < 2 {
		return nil, fmt.Errorf("classifier must have at least 2 classes, got %d", classifier.NumClasses())
	}
	return &Scorer{classifier: classifier}, nil
}

// ScoreBatch runs one forward pass over the batch and returns, per example,
// the predicted class of every step, gathered at the example's score
// positions. Padding positions are never read, so co-batched examples cannot
// leak into each other's predictions.
func (s *Scorer) ScoreBatch(ctx context.Context, batch *encode.Batch) ([][]int, error) {
	if batch == nil {
		return nil, errors.New("batch is nil")
	}
	if batch.PadTokenID != s.classifier.PadTokenID() {
		return nil, fmt.Errorf("pad token id mismatch: batch %d, model %d",
			batch.PadTokenID, s.classifier.PadTokenID())
	}
	logits, err := s.classifier.Score(ctx, batch.TokenIDs)
	if err != nil {
		return nil, fmt.Errorf("score batch: %w", err)
	}
	if len(logits) != len(batch.TokenIDs) {
		return nil, fmt.Errorf("model returned %d rows for %d examples", len(logits), len(batch.TokenIDs))
	}
	classes := make([][]int, len(batch.ScorePositions))
	for i, positions := range batch.ScorePositions {
		if len(logits[i]) != batch.MaxLen {
			return nil, fmt.Errorf("model returned %d positions for example %d, want %d",
				len(logits[i]), i, batch.MaxLen)
		}
		stepClasses := make([]int, len(positions))
		for j, pos := range positions {
			if pos < 0 || pos >= batch.MaxLen {
				return nil, fmt.Errorf("score position %d out of range for example %d", pos, i)
			}
			stepClasses[j] = Argmax(logits[i][pos])
		}
		classes[i] = stepClasses
	}
	return classes, nil
}

// Argmax returns the index of the largest logit, breaking ties toward the
// lowest class id.
func Argmax(logits []float64) int {
	best := 0
	for i := 1; i < len(logits); i++ {
		if logits[i] > logits[best] {
			best = i
		}
	}
	return best
}

// FirstError scans step classes in order and returns the index of the first
// step classified as incorrect, or NoError. A single early incorrect
// prediction overrides everything after it; an empty class list means no
// step positions to judge and always yields NoError.
func FirstError(classes []int) int {
	for i, class := range classes {
		if class == IncorrectClass {
			return i
		}
	}
	return NoError
}

// Judge reduces one example's step classes to a Judgment against its
// ground-truth label.
func Judge(classes []int, label int) Judgment {
	prediction := FirstError(classes)
	return Judgment{
		PredictedFirstError: prediction,
		MatchesLabel:        prediction == label,
	}
}

// JudgeBatch scores a batch and judges every example in it.
func (s *Scorer) JudgeBatch(ctx context.Context, batch *encode.Batch) ([]Judgment, error) {
	classes, err := s.ScoreBatch(ctx, batch)
	if err != nil {
		return nil, err
	}
	judgments := make([]Judgment, len(classes))
	for i, stepClasses := range classes {
		judgments[i] = Judge(stepClasses, batch.Examples[i].Label)
	}
	return judgments, nil
}
