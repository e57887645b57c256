//
// Tencent is pleased to support the open source community by making trpc-prmeval-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-prmeval-go is licensed under the Apache License Version 2.0.
//
//

// Package httpmodel implements model.TokenClassifier against an HTTP
// inference server that accepts a token id grid and returns per-token class
// logits. Large batches are split into sub-batches and scored concurrently;
// that concurrency lives entirely inside the model boundary.
package httpmodel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"trpc.group/trpc-go/trpc-prmeval-go/model"
)

const (
	defaultNumClasses  = 2
	defaultMaxBatch    = 8
	defaultParallelism = 1
)

// Model is an HTTP-backed token classifier.
type Model struct {
	endpoint    string
	client      *http.Client
	numClasses  int
	padTokenID  int
	maxBatch    int
	parallelism int
	pool        *chunkPool
}

var _ model.TokenClassifier = (*Model)(nil)

// options configures New.
type options struct {
	client      *http.Client
	numClasses  int
	padTokenID  int
	maxBatch    int
	parallelism int
}

// Option configures the HTTP model.
type Option func(*options)

// WithHTTPClient overrides the HTTP client (timeouts, transport).
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		if client != nil {
			o.client = client
		}
	}
}

// WithNumClasses sets the model's class count. Minimum 2; class 0 is the
// "incorrect step" class.
func WithNumClasses(n int) Option {
	return func(o *options) {
		o.numClasses = n
	}
}

// WithPadTokenID sets the pad token id the served model was trained with.
func WithPadTokenID(id int) Option {
	return func(o *options) {
		o.padTokenID = id
	}
}

// WithMaxBatch caps how many rows go into a single inference request.
func WithMaxBatch(n int) Option {
	return func(o *options) {
		o.maxBatch = n
	}
}

// WithParallelism sets how many sub-batch requests may be in flight at once.
func WithParallelism(n int) Option {
	return func(o *options) {
		o.parallelism = n
	}
}

// New creates an HTTP model client for the given inference endpoint.
func New(endpoint string, opt ...Option) (*Model, error) {
	if endpoint == "" {
		return nil, errors.New("endpoint is empty")
	}
	opts := &options{
		client:      http.DefaultClient,
		numClasses:  defaultNumClasses,
		maxBatch:    defaultMaxBatch,
		parallelism: defaultParallelism,
	}
	for _, o := range opt {
		o(opts)
	}
	if opts.numClasses < 2 {
		return nil, fmt.Errorf("num classes must be at least 2, got %d", opts.numClasses)
	}
	if opts.maxBatch <= 0 {
		return nil, fmt.Errorf("max batch must be positive, got %d", opts.maxBatch)
	}
	if opts.parallelism <= 0 {
		return nil, fmt.Errorf("parallelism must be positive, got %d", opts.parallelism)
	}
	m := &Model{
		endpoint:    endpoint,
		client:      opts.client,
		numClasses:  opts.numClasses,
		padTokenID:  opts.padTokenID,
		maxBatch:    opts.maxBatch,
		parallelism: opts.parallelism,
	}
	if opts.parallelism > 1 {
		pool, err := newChunkPool(opts.parallelism)
		if err != nil {
			return nil, fmt.Errorf("create chunk score pool: %w", err)
		}
		m.pool = pool
	}
	return m, nil
}

// Close releases the sub-batch worker pool.
func (m *Model) Close() error {
	if m.pool != nil {
		m.pool.release()
	}
	return nil
}

// NumClasses returns the configured class count.
func (m *Model) NumClasses() int { return m.numClasses }

// PadTokenID returns the configured pad token id.
func (m *Model) PadTokenID() int { return m.padTokenID }

// Score maps the token id grid to per-token class logits, splitting the
// batch into sub-batches of at most maxBatch rows. Row order is preserved.
func (m *Model) Score(ctx context.Context, tokenIDs [][]int) ([][][]float64, error) {
	if len(tokenIDs) == 0 {
		return nil, errors.New("empty batch")
	}
	logits := make([][][]float64, len(tokenIDs))
	var chunks []chunk
	for start := 0; start < len(tokenIDs); start += m.maxBatch {
		end := min(start+m.maxBatch, len(tokenIDs))
		chunks = append(chunks, chunk{start: start, rows: tokenIDs[start:end]})
	}
	if m.pool == nil || len(chunks) == 1 {
		for _, c := range chunks {
			if err := m.scoreChunk(ctx, c, logits); err != nil {
				return nil, err
			}
		}
		return logits, nil
	}
	if err := m.pool.scoreAll(ctx, m, chunks, logits); err != nil {
		return nil, err
	}
	return logits, nil
}

type chunk struct {
	start int
	rows  [][]int
}

type scoreRequest struct {
	InputIDs [][]int `json:"input_ids"`
}

type scoreResponse struct {
	Logits [][][]float64 `json:"logits"`
}

// scoreChunk runs one inference request and writes the chunk's logits into
// the shared output grid at the chunk's offset.
func (m *Model) scoreChunk(ctx context.Context, c chunk, out [][][]float64) error {
	body, err := json.Marshal(scoreRequest{InputIDs: c.rows})
	if err != nil {
		return fmt.Errorf("marshal score request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build score request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("score request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("score request failed with status %d: %s", resp.StatusCode, detail)
	}
	decoded := scoreResponse{}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return fmt.Errorf("decode score response: %w", err)
	}
	if len(decoded.Logits) != len(c.rows) {
		return fmt.Errorf("server returned %d rows for %d inputs", len(decoded.Logits), len(c.rows))
	}
	for i, row := range decoded.Logits {
		if len(row) != len(c.rows[i]) {
			return fmt.Errorf("server returned %d positions for row %d, want %d",
				len(row), c.start+i, len(c.rows[i]))
		}
		for j, cell := range row {
			if len(cell) != m.numClasses {
				return fmt.Errorf("server returned %d classes at row %d position %d, want %d",
					len(cell), c.start+i, j, m.numClasses)
			}
		}
		out[c.start+i] = row
	}
	return nil
}
