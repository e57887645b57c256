//
// Tencent is pleased to support the open source community by making trpc-prmeval-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-prmeval-go is licensed under the Apache License Version 2.0.
//
//

// Package model defines the scoring-model boundary of the evaluation
// pipeline. The model is opaque: one forward pass maps a right-padded token
// id grid to per-token class logits.
package model

import "context"

// TokenClassifier scores every token position of a packed batch.
//
// Implementations run inference only; there is no gradient tracking and the
// model is read-only during evaluation. The pad token id the model was
// trained with must match tokenizer.Tokenizer.PadTokenID, otherwise score
// positions are silently corrupted.
type TokenClassifier interface {
	// Score maps a [batch][maxLen] token id grid to [batch][maxLen][numClasses]
	// logits. The returned grid must preserve batch order and sequence length.
	Score(ctx context.Context, tokenIDs [][]int) ([][][]float64, error)
	// NumClasses returns the model's class count (>= 2; class 0 means
	// "incorrect step").
	NumClasses() int
	// PadTokenID returns the pad token id the model expects.
	PadTokenID() int
}
