//
// Tencent is pleased to support the open source community by making trpc-prmeval-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-prmeval-go is licensed under the Apache License Version 2.0.
//
//

// Package tokenizer defines the tokenizer boundary of the evaluation
// pipeline. The pipeline treats tokenization as opaque: any implementation
// that maps text to token ids and names its pad token id can drive it.
package tokenizer

// Tokenizer maps text to token id sequences.
//
// PadTokenID must be consistent with the pad token id the scoring model was
// trained with. A mismatched pad id does not fail loudly; it silently
// corrupts score positions, so wire this carefully.
type Tokenizer interface {
	// Encode tokenizes text into token ids. Errors are the implementation's
	// own and propagate unmodified.
	Encode(text string) ([]int, error)
	// PadTokenID returns the token id used to right-pad batches.
	PadTokenID() int
}
