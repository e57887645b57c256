//
// Tencent is pleased to support the open source community by making trpc-prmeval-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-prmeval-go is licensed under the Apache License Version 2.0.
//
//

// Package metric computes per-configuration accuracy and F1 scores and the
// cross-configuration summary.
package metric

import (
	"encoding/json"
	"fmt"
	"math"
)

// ConfigResult holds the metrics of one benchmark configuration.
type ConfigResult struct {
	// Config identifies the benchmark configuration.
	Config string `json:"config"`
	// NumError is the number of merged examples whose label != -1.
	NumError int `json:"numError"`
	// NumCorrect is the number of merged examples whose label == -1.
	NumCorrect int `json:"numCorrect"`
	// AccError is the match rate over error examples, in percent.
	AccError float64 `json:"accError"`
	// AccCorrect is the match rate over fully-correct examples, in percent.
	AccCorrect float64 `json:"accCorrect"`
	// F1 is the harmonic mean of AccError and AccCorrect. NaN when either
	// accuracy is zero; NaN is surfaced, never coerced to 0.
	F1 float64 `json:"f1"`
}

// Summary aggregates per-configuration results for one evaluation run.
type Summary struct {
	// RunID identifies this evaluation run.
	RunID string `json:"runId"`
	// Model identifies the evaluated model.
	Model string `json:"model"`
	// Configs holds per-configuration results in evaluation order.
	Configs []*ConfigResult `json:"configs"`
	// MeanF1 is the unweighted mean of defined per-configuration F1 scores.
	MeanF1 float64 `json:"meanF1"`
	// SkippedNaN counts configurations whose F1 was NaN and therefore
	// excluded from MeanF1.
	SkippedNaN int `json:"skippedNaN,omitempty"`
}

// Accuracy returns the percentage of true values in matches. An empty input
// has no defined accuracy and returns NaN.
func Accuracy(matches []bool) float64 {
	if len(matches) == 0 {
		return math.NaN()
	}
	hits := 0
	for _, m := range matches {
		if m {
			hits++
		}
	}
	return float64(hits) / float64(len(matches)) * 100
}

// F1 returns the harmonic mean of the two accuracies. A zero accuracy on
// either side makes the harmonic mean degenerate; the result is NaN so the
// case stays visible to downstream averaging and tests, never coerced to 0.
func F1(accError, accCorrect float64) float64 {
	if accError == 0 || accCorrect == 0 || math.IsNaN(accError) || math.IsNaN(accCorrect) {
		return math.NaN()
	}
	return 2 * accError * accCorrect / (accError + accCorrect)
}

// MeanF1 returns the unweighted mean of the defined scores, skipping NaN
// values, and reports how many were skipped. The mean over zero defined
// scores is NaN.
func MeanF1(scores []float64) (mean float64, skipped int) {
	sum := 0.0
	n := 0
	for _, score := range scores {
		if math.IsNaN(score) {
			skipped++
			continue
		}
		sum += score
		n++
	}
	if n == 0 {
		return math.NaN(), skipped
	}
	return sum / float64(n), skipped
}

// Compute builds the ConfigResult for one configuration from the per-subset
// match outcomes of the merged results.
func Compute(config string, errorMatches, correctMatches []bool) *ConfigResult {
	accError := Accuracy(errorMatches)
	accCorrect := Accuracy(correctMatches)
	return &ConfigResult{
		Config:     config,
		NumError:   len(errorMatches),
		NumCorrect: len(correctMatches),
		AccError:   accError,
		AccCorrect: accCorrect,
		F1:         F1(accError, accCorrect),
	}
}

// CheckExpected compares the merged partition sizes against the externally
// expected counts and returns a warning per mismatch. Mismatches are a data
// integrity signal for the operator, never fatal.
func (r *ConfigResult) CheckExpected(expectedErrors, expectedCorrect int) []string {
	var warnings []string
	if r.NumError != expectedErrors {
		warnings = append(warnings,
			fmt.Sprintf("%s error num mismatch: %d != %d", r.Config, r.NumError, expectedErrors))
	}
	if r.NumCorrect != expectedCorrect {
		warnings = append(warnings,
			fmt.Sprintf("%s correct num mismatch: %d != %d", r.Config, r.NumCorrect, expectedCorrect))
	}
	return warnings
}

// MarshalJSON renders NaN metrics as null: encoding/json rejects NaN, and
// the degenerate case must stay visible in persisted summaries.
func (r *ConfigResult) MarshalJSON() ([]byte, error) {
	type alias ConfigResult
	return json.Marshal(struct {
		*alias
		AccError   *float64 `json:"accError"`
		AccCorrect *float64 `json:"accCorrect"`
		F1         *float64 `json:"f1"`
	}{
		alias:      (*alias)(r),
		AccError:   nanAsNull(r.AccError),
		AccCorrect: nanAsNull(r.AccCorrect),
		F1:         nanAsNull(r.F1),
	})
}

// MarshalJSON renders a NaN mean as null, see ConfigResult.MarshalJSON.
func (s *Summary) MarshalJSON() ([]byte, error) {
	type alias Summary
	return json.Marshal(struct {
		*alias
		MeanF1 *float64 `json:"meanF1"`
	}{
		alias:  (*alias)(s),
		MeanF1: nanAsNull(s.MeanF1),
	})
}

func nanAsNull(v float64) *float64 {
	if math.IsNaN(v) {
		return nil
	}
	return &v
}

// ReportLine renders the configuration's console report line with one
// decimal place, matching the persisted summary.
func (r *ConfigResult) ReportLine() string {
	return fmt.Sprintf("%s error acc: %.1f, correct acc: %.1f, f1: %.1f",
		r.Config, r.AccError, r.AccCorrect, r.F1)
}
