//
// Tencent is pleased to support the open source community by making trpc-prmeval-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-prmeval-go is licensed under the Apache License Version 2.0.
//
//

// Package runner drives the evaluation pipeline: it shards each benchmark
// configuration across workers, scores the local shard batch by batch,
// gathers all workers' results, and aggregates metrics on the designated
// worker.
package runner

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"trpc.group/trpc-go/trpc-prmeval-go/collective"
	"trpc.group/trpc-go/trpc-prmeval-go/dataset"
	"trpc.group/trpc-go/trpc-prmeval-go/encode"
	"trpc.group/trpc-go/trpc-prmeval-go/evalresult"
	"trpc.group/trpc-go/trpc-prmeval-go/log"
	"trpc.group/trpc-go/trpc-prmeval-go/metric"
	"trpc.group/trpc-go/trpc-prmeval-go/scorer"
	"trpc.group/trpc-go/trpc-prmeval-go/telemetry"
)

const defaultBatchSize = 24

// Runner evaluates benchmark configurations over a worker world.
type Runner struct {
	encoder   *encode.Encoder
	scorer    *scorer.Scorer
	comm      collective.Communicator
	writer    *evalresult.Writer
	batchSize int
	modelName string
	report    io.Writer
}

// options configures New.
type options struct {
	comm      collective.Communicator
	writer    *evalresult.Writer
	batchSize int
	modelName string
	report    io.Writer
}

// Option configures a Runner.
type Option func(*options)

// WithCommunicator sets the worker communicator. Defaults to the
// single-worker communicator.
func WithCommunicator(comm collective.Communicator) Option {
	return func(o *options) {
		o.comm = comm
	}
}

// WithWriter sets the result writer used by the designated worker.
func WithWriter(writer *evalresult.Writer) Option {
	return func(o *options) {
		o.writer = writer
	}
}

// WithBatchSize sets how many examples are packed per forward pass.
func WithBatchSize(n int) Option {
	return func(o *options) {
		o.batchSize = n
	}
}

// WithModelName records the evaluated model's identifier on the summary.
func WithModelName(name string) Option {
	return func(o *options) {
		o.modelName = name
	}
}

// WithReportWriter redirects the console report. Defaults to stdout.
func WithReportWriter(w io.Writer) Option {
	return func(o *options) {
		if w != nil {
			o.report = w
		}
	}
}

// New creates a Runner.
func New(encoder *encode.Encoder, sc *scorer.Scorer, opt ...Option) (*Runner, error) {
	if encoder == nil {
		return nil, errors.New("encoder is nil")
	}
	if sc == nil {
		return nil, errors.New("scorer is nil")
	}
	opts := &options{
		comm:      collective.NewLocal(),
		batchSize: defaultBatchSize,
		report:    os.Stdout,
	}
	for _, o := range opt {
		o(opts)
	}
	if opts.batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", opts.batchSize)
	}
	if opts.writer == nil {
		return nil, errors.New("result writer is nil")
	}
	return &Runner{
		encoder:   encoder,
		scorer:    sc,
		comm:      opts.comm,
		writer:    opts.writer,
		batchSize: opts.batchSize,
		modelName: opts.modelName,
		report:    opts.report,
	}, nil
}

// isMain reports whether this worker is the designated aggregator.
func (r *Runner) isMain() bool {
	return r.comm.Rank() == 0
}

// Run evaluates every configuration in order and, on the designated worker,
// prints the console report and persists the run summary. Non-designated
// workers return a nil summary.
func (r *Runner) Run(ctx context.Context, dataDir string, configs []dataset.Config) (*metric.Summary, error) {
	if len(configs) == 0 {
		return nil, errors.New("no configurations to evaluate")
	}
	var results []*metric.ConfigResult
	var f1Scores []float64
	for _, cfg := range configs {
		examples, err := dataset.Load(dataDir, cfg.Name)
		if err != nil {
			return nil, err
		}
		result, err := r.RunConfig(ctx, cfg, examples)
		if err != nil {
			return nil, fmt.Errorf("evaluate %s: %w", cfg.Name, err)
		}
		if !r.isMain() {
			continue
		}
		fmt.Fprintln(r.report, result.ReportLine())
		results = append(results, result)
		f1Scores = append(f1Scores, result.F1)
	}
	if !r.isMain() {
		return nil, nil
	}
	mean, skipped := metric.MeanF1(f1Scores)
	if skipped > 0 {
		log.Warnf("mean f1 skipped %d configuration(s) with undefined f1", skipped)
	}
	fmt.Fprintf(r.report, "Average F1: %.1f\n", mean)
	summary := &metric.Summary{
		RunID:      uuid.NewString(),
		Model:      r.modelName,
		Configs:    results,
		MeanF1:     mean,
		SkippedNaN: skipped,
	}
	if err := r.writer.WriteSummary(summary); err != nil {
		return nil, fmt.Errorf("write summary: %w", err)
	}
	return summary, nil
}

// RunConfig evaluates one configuration: scores the local shard, gathers all
// shards, and on the designated worker aggregates metrics and persists the
// result files. Non-designated workers return a nil result.
func (r *Runner) RunConfig(ctx context.Context, cfg dataset.Config, examples []*dataset.Example) (*metric.ConfigResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "evaluate_config",
		attribute.String("config", cfg.Name),
		attribute.Int("rank", r.comm.Rank()),
		attribute.Int("examples", len(examples)),
	)
	defer span.End()

	local, err := r.scoreShard(ctx, cfg.Name, examples)
	if err != nil {
		return nil, err
	}

	// All workers must finish local scoring before the gather; both are
	// blocking collectives, so a missing worker stalls the job here.
	if err := r.comm.Barrier(ctx); err != nil {
		return nil, fmt.Errorf("barrier: %w", err)
	}
	payload, err := encodeResults(local)
	if err != nil {
		return nil, fmt.Errorf("encode shard results: %w", err)
	}
	gathered, err := r.comm.AllGather(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("gather shard results: %w", err)
	}
	merged, err := mergeResults(gathered, len(examples))
	if err != nil {
		return nil, fmt.Errorf("merge shard results: %w", err)
	}

	if !r.isMain() {
		return nil, nil
	}
	return r.aggregate(cfg, merged)
}

// scoreShard encodes, packs, scores, and judges this worker's shard.
func (r *Runner) scoreShard(ctx context.Context, config string, examples []*dataset.Example) ([]*evalresult.Annotated, error) {
	indices, err := collective.ShardIndices(len(examples), r.comm.WorldSize(), r.comm.Rank())
	if err != nil {
		return nil, err
	}
	local := make([]*evalresult.Annotated, 0, len(indices))
	for start := 0; start < len(indices); start += r.batchSize {
		end := min(start+r.batchSize, len(indices))
		encoded := make([]*encode.Encoded, 0, end-start)
		for _, idx := range indices[start:end] {
			enc, err := r.encoder.Encode(examples[idx])
			if err != nil {
				return nil, fmt.Errorf("encode example %d: %w", idx, err)
			}
			encoded = append(encoded, enc)
		}
		batch, err := encode.Pack(encoded, r.encoder.PadTokenID())
		if err != nil {
			return nil, fmt.Errorf("pack batch: %w", err)
		}
		judgments, err := r.scorer.JudgeBatch(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("judge batch: %w", err)
		}
		for i, judgment := range judgments {
			annotated, err := evalresult.Annotate(batch.Examples[i], judgment)
			if err != nil {
				return nil, fmt.Errorf("annotate example: %w", err)
			}
			local = append(local, annotated)
		}
		if r.isMain() {
			log.Debugf("%s: scored %d/%d local examples", config, len(local), len(indices))
		}
	}
	return local, nil
}

// aggregate partitions the merged results, computes metrics, surfaces count
// mismatches and degenerate scores, and persists the configuration's files.
func (r *Runner) aggregate(cfg dataset.Config, merged []*evalresult.Annotated) (*metric.ConfigResult, error) {
	var errorResults, correctResults []*evalresult.Annotated
	var errorMatches, correctMatches []bool
	for _, result := range merged {
		if result.HasError() {
			errorResults = append(errorResults, result)
			errorMatches = append(errorMatches, result.Match)
		} else {
			correctResults = append(correctResults, result)
			correctMatches = append(correctMatches, result.Match)
		}
	}
	result := metric.Compute(cfg.Name, errorMatches, correctMatches)
	// Count mismatches are surfaced to the operator but never abort the run.
	for _, warning := range result.CheckExpected(cfg.ExpectedErrors, cfg.ExpectedCorrect) {
		log.Warn(warning)
	}
	if math.IsNaN(result.F1) {
		log.Warnf("%s: f1 is undefined (zero accuracy denominator)", cfg.Name)
	}
	if err := r.writer.WriteConfig(cfg.Name, errorResults, correctResults); err != nil {
		return nil, fmt.Errorf("write results: %w", err)
	}
	return result, nil
}

// encodeResults gob-encodes a shard's results for the gather.
func encodeResults(results []*evalresult.Annotated) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(results); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// mergeResults concatenates all workers' shard results and verifies the
// merge is loss-free: exactly n results, each dataset index exactly once.
func mergeResults(gathered [][]byte, n int) ([]*evalresult.Annotated, error) {
	var merged []*evalresult.Annotated
	for rank, payload := range gathered {
		if len(payload) == 0 {
			continue
		}
		var shard []*evalresult.Annotated
		if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&shard); err != nil {
			return nil, fmt.Errorf("decode shard from rank %d: %w", rank, err)
		}
		merged = append(merged, shard...)
	}
	if len(merged) != n {
		return nil, fmt.Errorf("merged %d results for %d examples", len(merged), n)
	}
	seen := make(map[int]bool, n)
	for _, result := range merged {
		if result.Index < 0 || result.Index >= n {
			return nil, fmt.Errorf("merged result index %d out of range", result.Index)
		}
		if seen[result.Index] {
			return nil, fmt.Errorf("example %d appears more than once in merge", result.Index)
		}
		seen[result.Index] = true
	}
	return merged, nil
}
