//
// Tencent is pleased to support the open source community by making trpc-prmeval-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-prmeval-go is licensed under the Apache License Version 2.0.
//
//

// Package tiktoken provides a tiktoken-go based tokenizer implementation
// that is compatible with the root tokenizer.Tokenizer interface.
package tiktoken

import (
	"fmt"

	"github.com/tiktoken-go/tokenizer"
)

// Tokenizer implements a tiktoken-based tokenizer compatible with the root
// tokenizer.Tokenizer interface.
type Tokenizer struct {
	encoding   tokenizer.Codec
	padTokenID int
}

// New creates a tiktoken-based tokenizer.
//
// Parameters:
//   - modelName: model name used to pick a codec with tokenizer.ForModel.
//     If the model is not supported, falls back to cl100k_base.
//   - padTokenID: pad token id of the scoring model. tiktoken vocabularies
//     carry no pad token, so the caller must supply the id the model expects.
//
// Returns:
// - *Tokenizer on success; error if codec initialization fails.
func New(modelName string, padTokenID int) (*Tokenizer, error) {
	enc, err := tokenizer.ForModel(tokenizer.Model(modelName))
	if err != nil {
		// Fallback to cl100k_base for broad compatibility.
		enc, err = tokenizer.Get(tokenizer.Cl100kBase)
		if err != nil {
			return nil, fmt.Errorf("failed to get fallback tokenizer: %w", err)
		}
	}
	return &Tokenizer{encoding: enc, padTokenID: padTokenID}, nil
}

// Encode tokenizes text into token ids using tiktoken-go.
func (t *Tokenizer) Encode(text string) ([]int, error) {
	toks, _, err := t.encoding.Encode(text)
	if err != nil {
		return nil, fmt.Errorf("encode text failed: %w", err)
	}
	ids := make([]int, len(toks))
	for i, tok := range toks {
		ids[i] = int(tok)
	}
	return ids, nil
}

// PadTokenID returns the configured pad token id.
func (t *Tokenizer) PadTokenID() int {
	return t.padTokenID
}
