//
// Tencent is pleased to support the open source community by making trpc-prmeval-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-prmeval-go is licensed under the Apache License Version 2.0.
//
//

package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-prmeval-go/collective"
	"trpc.group/trpc-go/trpc-prmeval-go/dataset"
	"trpc.group/trpc-go/trpc-prmeval-go/encode"
	"trpc.group/trpc-go/trpc-prmeval-go/evalresult"
	"trpc.group/trpc-go/trpc-prmeval-go/metric"
	"trpc.group/trpc-go/trpc-prmeval-go/scorer"
)

const padID = 0

// stringTokenizer emits exactly one token per Encode call, the byte sum of
// the input. Each step then contributes one token whose id identifies the
// step text, which lets the fake classifier key decisions off step content.
type stringTokenizer struct{}

func (stringTokenizer) Encode(text string) ([]int, error) {
	sum := 0
	for i := 0; i < len(text); i++ {
		sum += int(text[i])
	}
	// Offset keeps real tokens distinct from the pad id.
	return []int{sum + 1}, nil
}

func (stringTokenizer) PadTokenID() int { return padID }

func stepToken(step string) int {
	ids, _ := stringTokenizer{}.Encode(step + "\n")
	return ids[0]
}

// stepClassifier classifies a token as "incorrect" when its id is the token
// of a known-bad step text.
type stepClassifier struct {
	bad map[int]bool
}

func newStepClassifier(badSteps ...string) *stepClassifier {
	bad := make(map[int]bool, len(badSteps))
	for _, step := range badSteps {
		bad[stepToken(step)] = true
	}
	return &stepClassifier{bad: bad}
}

func (c *stepClassifier) Score(_ context.Context, tokenIDs [][]int) ([][][]float64, error) {
	logits := make([][][]float64, len(tokenIDs))
	for i, row := range tokenIDs {
		logits[i] = make([][]float64, len(row))
		for j, id := range row {
			if c.bad[id] {
				logits[i][j] = []float64{1, 0}
			} else {
				logits[i][j] = []float64{0, 1}
			}
		}
	}
	return logits, nil
}

func (c *stepClassifier) NumClasses() int { return 2 }
func (c *stepClassifier) PadTokenID() int { return padID }

func writeExamples(t *testing.T, dir, config string, examples []*dataset.Example) {
	t.Helper()
	var lines []string
	for _, ex := range examples {
		data, err := json.Marshal(ex)
		require.NoError(t, err)
		lines = append(lines, string(data))
	}
	err := os.WriteFile(filepath.Join(dir, config+".jsonl"), []byte(strings.Join(lines, "\n")+"\n"), 0o644)
	require.NoError(t, err)
}

// threeExamples is the canonical scenario: one fully-correct solution and
// two solutions whose first error the classifier finds exactly.
func threeExamples() []*dataset.Example {
	return []*dataset.Example{
		{ID: "c0", Problem: "p0", Steps: []string{"ok", "ok"}, Label: dataset.NoError},
		{ID: "e0", Problem: "p1", Steps: []string{"bad", "ok"}, Label: 0},
		{ID: "e1", Problem: "p2", Steps: []string{"ok", "bad"}, Label: 1},
	}
}

func newTestRunner(t *testing.T, outDir string, opt ...Option) *Runner {
	t.Helper()
	encoder, err := encode.NewEncoder(stringTokenizer{})
	require.NoError(t, err)
	sc, err := scorer.New(newStepClassifier("bad"))
	require.NoError(t, err)
	writer, err := evalresult.NewWriter(outDir)
	require.NoError(t, err)
	opt = append([]Option{WithWriter(writer), WithModelName("test-prm")}, opt...)
	r, err := New(encoder, sc, opt...)
	require.NoError(t, err)
	return r
}

func countLines(t *testing.T, path string) int {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	n := 0
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) != "" {
			n++
		}
	}
	return n
}

func TestRunSingleWorker(t *testing.T) {
	dataDir := t.TempDir()
	outDir := filepath.Join(t.TempDir(), "outputs", "test-prm")
	writeExamples(t, dataDir, "gsm8k", threeExamples())

	var report bytes.Buffer
	r := newTestRunner(t, outDir, WithReportWriter(&report), WithBatchSize(2))

	summary, err := r.Run(context.Background(), dataDir, []dataset.Config{
		{Name: "gsm8k", ExpectedErrors: 2, ExpectedCorrect: 1},
	})
	require.NoError(t, err)
	require.NotNil(t, summary)

	require.Len(t, summary.Configs, 1)
	result := summary.Configs[0]
	assert.Equal(t, 100.0, result.AccError)
	assert.Equal(t, 100.0, result.AccCorrect)
	assert.Equal(t, 100.0, result.F1)
	assert.Equal(t, 100.0, summary.MeanF1)
	assert.Equal(t, "test-prm", summary.Model)
	assert.NotEmpty(t, summary.RunID)

	assert.Contains(t, report.String(), "gsm8k error acc: 100.0, correct acc: 100.0, f1: 100.0")
	assert.Contains(t, report.String(), "Average F1: 100.0")

	// Two error results and one correct result persisted.
	assert.Equal(t, 2, countLines(t, filepath.Join(outDir, "gsm8k_error.jsonl")))
	assert.Equal(t, 1, countLines(t, filepath.Join(outDir, "gsm8k_correct.jsonl")))
	_, err = os.Stat(filepath.Join(outDir, "summary.json"))
	assert.NoError(t, err)
}

func TestRunConfigMismatchedPrediction(t *testing.T) {
	examples := []*dataset.Example{
		// Labeled correct but the classifier flags step 0.
		{ID: "x", Problem: "p", Steps: []string{"bad"}, Label: dataset.NoError, Index: 0},
		{ID: "y", Problem: "p", Steps: []string{"bad"}, Label: 0, Index: 1},
	}
	r := newTestRunner(t, t.TempDir())

	result, err := r.RunConfig(context.Background(), dataset.Config{Name: "math"}, examples)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, 100.0, result.AccError)
	assert.Equal(t, 0.0, result.AccCorrect)
	// Zero accuracy on one side leaves the f1 undefined, not zero.
	assert.True(t, math.IsNaN(result.F1))
}

func TestRunConfigEmptySteps(t *testing.T) {
	examples := []*dataset.Example{
		{ID: "empty", Problem: "p", Steps: nil, Label: dataset.NoError},
	}
	r := newTestRunner(t, t.TempDir())

	result, err := r.RunConfig(context.Background(), dataset.Config{Name: "gsm8k", ExpectedCorrect: 1}, examples)
	require.NoError(t, err)
	// No steps means no error found, matching the -1 label.
	assert.Equal(t, 100.0, result.AccCorrect)
	assert.Equal(t, 0, result.NumError)
}

func TestRunMultiWorker(t *testing.T) {
	const worldSize = 2
	dataDir := t.TempDir()

	// Ten examples, half erroneous, so both shards see both subsets.
	var examples []*dataset.Example
	for i := 0; i < 10; i++ {
		if i%2 == 0 {
			examples = append(examples, &dataset.Example{
				ID: fmt.Sprintf("c%d", i), Problem: "p", Steps: []string{"ok"}, Label: dataset.NoError, Index: i,
			})
		} else {
			examples = append(examples, &dataset.Example{
				ID: fmt.Sprintf("e%d", i), Problem: "p", Steps: []string{"bad", "ok"}, Label: 0, Index: i,
			})
		}
	}
	writeExamples(t, dataDir, "omnimath", examples)

	root, err := collective.NewTCP(0, worldSize, "127.0.0.1:0")
	require.NoError(t, err)
	addr := root.(interface{ Addr() string }).Addr()
	peer, err := collective.NewTCP(1, worldSize, addr)
	require.NoError(t, err)
	defer root.Close()
	defer peer.Close()

	outDir := t.TempDir()
	comms := []collective.Communicator{root, peer}
	results := make([]*metric.ConfigResult, worldSize)
	errs := make([]error, worldSize)

	var wg sync.WaitGroup
	for rank := 0; rank < worldSize; rank++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			r := newTestRunner(t, outDir,
				WithCommunicator(comms[rank]),
				WithBatchSize(2),
				WithReportWriter(&bytes.Buffer{}),
			)
			cfg := dataset.Config{Name: "omnimath", ExpectedErrors: 5, ExpectedCorrect: 5}
			results[rank], errs[rank] = r.RunConfig(context.Background(), cfg, examples)
		}(rank)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	// Only the designated worker aggregates.
	require.NotNil(t, results[0])
	assert.Nil(t, results[1])

	assert.Equal(t, 5, results[0].NumError)
	assert.Equal(t, 5, results[0].NumCorrect)
	assert.Equal(t, 100.0, results[0].F1)

	// Only the designated worker wrote files.
	assert.Equal(t, 5, countLines(t, filepath.Join(outDir, "omnimath_error.jsonl")))
	assert.Equal(t, 5, countLines(t, filepath.Join(outDir, "omnimath_correct.jsonl")))
}

func TestMergeResultsLossAndDuplication(t *testing.T) {
	annotate := func(index int) *evalresult.Annotated {
		return &evalresult.Annotated{
			Example:    dataset.Example{Problem: "p", Index: index, Label: dataset.NoError},
			Prediction: scorer.NoError,
			Match:      true,
		}
	}
	encodeShard := func(results ...*evalresult.Annotated) []byte {
		payload, err := encodeResults(results)
		require.NoError(t, err)
		return payload
	}

	// Complete, order-independent merge.
	merged, err := mergeResults([][]byte{
		encodeShard(annotate(1)),
		encodeShard(annotate(0), annotate(2)),
	}, 3)
	require.NoError(t, err)
	assert.Len(t, merged, 3)

	// Loss is detected.
	_, err = mergeResults([][]byte{encodeShard(annotate(0))}, 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "merged 1 results for 2 examples")

	// Duplication is detected.
	_, err = mergeResults([][]byte{
		encodeShard(annotate(0)),
		encodeShard(annotate(0)),
	}, 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "more than once")

	// Out-of-range indices are detected.
	_, err = mergeResults([][]byte{encodeShard(annotate(5))}, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")
}

func TestNewValidation(t *testing.T) {
	encoder, err := encode.NewEncoder(stringTokenizer{})
	require.NoError(t, err)
	sc, err := scorer.New(newStepClassifier())
	require.NoError(t, err)
	writer, err := evalresult.NewWriter(t.TempDir())
	require.NoError(t, err)

	_, err = New(nil, sc, WithWriter(writer))
	assert.Error(t, err)
	_, err = New(encoder, nil, WithWriter(writer))
	assert.Error(t, err)
	_, err = New(encoder, sc)
	assert.Error(t, err)
	_, err = New(encoder, sc, WithWriter(writer), WithBatchSize(0))
	assert.Error(t, err)
}

func TestRunNoConfigs(t *testing.T) {
	r := newTestRunner(t, t.TempDir())
	_, err := r.Run(context.Background(), t.TempDir(), nil)
	assert.Error(t, err)
}
