//
// Tencent is pleased to support the open source community by making trpc-prmeval-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-prmeval-go is licensed under the Apache License Version 2.0.
//
//

// Package encode turns benchmark examples into token sequences and packs
// them into right-padded batches, recording per-step score positions.
package encode

import (
	"errors"
	"fmt"

	"trpc.group/trpc-go/trpc-prmeval-go/dataset"
	"trpc.group/trpc-go/trpc-prmeval-go/tokenizer"
)

// DefaultSeparator is appended to the problem statement before the first
// step. It must match the separator the model was trained with.
const DefaultSeparator = "\n"

// stepTerminator closes every step so the last token of a step is a stable
// anchor for its score position.
const stepTerminator = "\n"

// Encoded is one example rendered as a single token sequence.
type Encoded struct {
	// Example is the source example, retained for annotation after scoring.
	Example *dataset.Example
	// TokenIDs is the full token sequence: problem+separator, then each
	// step+"\n" in order.
	TokenIDs []int
	// ScorePositions holds, per step, the index of the last token that step
	// contributed. len(ScorePositions) == len(Example.Steps) and positions
	// are strictly increasing.
	ScorePositions []int
}

// Batch is a right-padded grid of encoded examples. Padding never precedes
// real tokens, so the recorded score positions stay valid after packing.
type Batch struct {
	// TokenIDs is the [batch][MaxLen] token grid, right-padded with PadTokenID.
	TokenIDs [][]int
	// ScorePositions holds each example's score positions, unchanged by packing.
	ScorePositions [][]int
	// Examples holds the source examples in batch order.
	Examples []*dataset.Example
	// MaxLen is the padded sequence length.
	MaxLen int
	// PadTokenID is the id used for padding.
	PadTokenID int
}

// Encoder builds token sequences from examples.
type Encoder struct {
	tok       tokenizer.Tokenizer
	separator string
}

// Option configures an Encoder.
type Option func(*Encoder)

// WithSeparator overrides the problem/steps separator. It must equal the
// separator used when the model was trained.
func WithSeparator(separator string) Option {
	return func(e *Encoder) {
		e.separator = separator
	}
}

// NewEncoder creates an Encoder backed by the given tokenizer.
func NewEncoder(tok tokenizer.Tokenizer, opt ...Option) (*Encoder, error) {
	if tok == nil {
		return nil, errors.New("tokenizer is nil")
	}
	e := &Encoder{tok: tok, separator: DefaultSeparator}
	for _, o := range opt {
		o(e)
	}
	return e, nil
}

// PadTokenID returns the pad token id of the underlying tokenizer.
func (e *Encoder) PadTokenID() int {
	return e.tok.PadTokenID()
}

// Encode renders one example into a token sequence. The problem statement
// plus separator is tokenized first; each step is tokenized with a trailing
// "\n" and appended, recording the index of its final token as the step's
// score position. An example with no steps yields empty score positions.
func (e *Encoder) Encode(ex *dataset.Example) (*Encoded, error) {
	if ex == nil {
		return nil, errors.New("example is nil")
	}
	tokenIDs, err := e.tok.Encode(ex.Problem + e.separator)
	if err != nil {
		return nil, fmt.Errorf("encode problem: %w", err)
	}
	scorePositions := make([]int, 0, len(ex.Steps))
	for i, step := range ex.Steps {
		stepIDs, err := e.tok.Encode(step + stepTerminator)
		if err != nil {
			return nil, fmt.Errorf("encode step %d: %w", i, err)
		}
		tokenIDs = append(tokenIDs, stepIDs...)
		scorePositions = append(scorePositions, len(tokenIDs)-1)
	}
	return &Encoded{
		Example:        ex,
		TokenIDs:       tokenIDs,
		ScorePositions: scorePositions,
	}, nil
}

// Pack right-pads a slice of encoded examples to a uniform length so they
// can be scored together. Score positions pass through unchanged: all real
// content stays left of the padding.
func Pack(encoded []*Encoded, padTokenID int) (*Batch, error) {
	if len(encoded) == 0 {
		return nil, errors.New("empty batch")
	}
	maxLen := 0
	for i, enc := range encoded {
		if enc == nil {
			return nil, fmt.Errorf("encoded example %d is nil", i)
		}
		if len(enc.TokenIDs) > maxLen {
			maxLen = len(enc.TokenIDs)
		}
	}
	batch := &Batch{
		TokenIDs:       make([][]int, len(encoded)),
		ScorePositions: make([][]int, len(encoded)),
		Examples:       make([]*dataset.Example, len(encoded)),
		MaxLen:         maxLen,
		PadTokenID:     padTokenID,
	}
	for i, enc := range encoded {
		row := make([]int, maxLen)
		copy(row, enc.TokenIDs)
		for j := len(enc.TokenIDs); j < maxLen; j++ {
			row[j] = padTokenID
		}
		batch.TokenIDs[i] = row
		batch.ScorePositions[i] = enc.ScorePositions
		batch.Examples[i] = enc.Example
	}
	return batch, nil
}
