// Package disfluency detects disfluency events in a timed word transcript and
// reduces them to a weighted severity metric.
//
// The package has two entry points that form a single forward pass:
//
//  1. [Annotate] scans a [types.WordToken] slice and flags fillers,
//     repetitions, prolongations, and blocks (long pauses) per token.
//  2. [Score] aggregates the annotated tokens into [types.SpeechMetrics],
//     including a word-count-normalised severity score and a discrete level.
//
// Both functions are pure: they never mutate their input and hold no state, so
// they are safe for concurrent use across runs. All tunable values live in
// [Policy].
package disfluency

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Default policy values.
const (
	DefaultLongPauseThreshold = 1.5

	DefaultBlockWeight        = 3.0
	DefaultProlongationWeight = 2.0
	DefaultRepetitionWeight   = 1.5
	DefaultFillerWeight       = 1.0

	DefaultModerateThreshold = 0.10
	DefaultSevereThreshold   = 0.25
)

// DefaultFillerWords is the closed filler vocabulary used when a policy does
// not name its own.
var DefaultFillerWords = []string{"uh", "um", "ah", "er", "hmm"}

// Weights sets how much each event category contributes to the severity score.
// Blocks disrupt fluency the most and fillers the least; the default ordering
// is a clinical judgement rather than a fitted model.
type Weights struct {
	Block        float64 `yaml:"block"`
	Prolongation float64 `yaml:"prolongation"`
	Repetition   float64 `yaml:"repetition"`
	Filler       float64 `yaml:"filler"`
}

// Thresholds are the lower bounds of the Moderate and Severe levels. Scores
// below Moderate are Mild.
type Thresholds struct {
	Moderate float64 `yaml:"moderate"`
	Severe   float64 `yaml:"severe"`
}

// Policy bundles every tunable of the annotator and scorer.
type Policy struct {
	// LongPauseThreshold is the gap in seconds a pause must exceed to count as
	// a block.
	LongPauseThreshold float64

	Weights    Weights
	Thresholds Thresholds

	// FillerWords is the filler vocabulary. Entries are compared lower-cased.
	FillerWords []string
}

// DefaultPolicy returns the policy with all default values.
func DefaultPolicy() Policy {
	return Policy{
		LongPauseThreshold: DefaultLongPauseThreshold,
		Weights: Weights{
			Block:        DefaultBlockWeight,
			Prolongation: DefaultProlongationWeight,
			Repetition:   DefaultRepetitionWeight,
			Filler:       DefaultFillerWeight,
		},
		Thresholds: Thresholds{
			Moderate: DefaultModerateThreshold,
			Severe:   DefaultSevereThreshold,
		},
		FillerWords: slices.Clone(DefaultFillerWords),
	}
}

// ConfigurationError reports an invalid policy value. It is fatal at startup:
// no transcript should be processed with a policy that fails [Policy.Validate].
type ConfigurationError struct {
	// Field is the dotted name of the offending setting.
	Field string

	// Reason describes the violated constraint.
	Reason string
}

// Error implements error.
func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("disfluency: invalid %s: %s", e.Field, e.Reason)
}

// Validate checks p and returns every violation joined together. Each
// violation is a *[ConfigurationError]. The zero Policy is invalid; start from
// [DefaultPolicy].
func (p Policy) Validate() error {
	var errs []error
	invalid := func(field, format string, args ...any) {
		errs = append(errs, &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)})
	}

	if p.LongPauseThreshold < 0 {
		invalid("long_pause_threshold_sec", "%.3f must not be negative", p.LongPauseThreshold)
	}
	for name, w := range map[string]float64{
		"weights.block":        p.Weights.Block,
		"weights.prolongation": p.Weights.Prolongation,
		"weights.repetition":   p.Weights.Repetition,
		"weights.filler":       p.Weights.Filler,
	} {
		if w < 0 {
			invalid(name, "%.3f must not be negative", w)
		}
	}
	if p.Thresholds.Moderate <= 0 {
		// Zero would rate a fluent transcript at least Moderate.
		invalid("thresholds.moderate", "%.3f must be positive", p.Thresholds.Moderate)
	}
	if p.Thresholds.Severe < p.Thresholds.Moderate {
		invalid("thresholds.severe", "%.3f must not be below thresholds.moderate %.3f",
			p.Thresholds.Severe, p.Thresholds.Moderate)
	}
	for i, w := range p.FillerWords {
		if strings.TrimSpace(w) == "" {
			invalid(fmt.Sprintf("filler_words[%d]", i), "must not be empty")
		}
	}
	return errors.Join(errs...)
}

// fillerSet builds the lookup set for the policy's filler vocabulary.
func (p Policy) fillerSet() map[string]struct{} {
	words := p.FillerWords
	if words == nil {
		words = DefaultFillerWords
	}
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[strings.ToLower(w)] = struct{}{}
	}
	return set
}
