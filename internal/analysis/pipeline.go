package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/speakaura/internal/disfluency"
	"github.com/MrWong99/speakaura/internal/observe"
	"github.com/MrWong99/speakaura/internal/transcript"
	"github.com/MrWong99/speakaura/pkg/types"
)

// ErrEmptyTranscript is matched by every *[EmptyTranscriptError].
var ErrEmptyTranscript = errors.New("analysis: no speech detected")

// EmptyTranscriptError reports a run whose records yielded zero tokens. The
// run is aborted before scoring.
type EmptyTranscriptError struct {
	// Records is the number of input records.
	Records int

	// Skipped is the number of records that failed to parse.
	Skipped int
}

func (e *EmptyTranscriptError) Error() string {
	return fmt.Sprintf("analysis: no speech detected in %d record(s), %d skipped", e.Records, e.Skipped)
}

// Is makes errors.Is(err, ErrEmptyTranscript) hold.
func (e *EmptyTranscriptError) Is(target error) bool { return target == ErrEmptyTranscript }

// Input is one run's raw material.
type Input struct {
	// Records are the raw transcription rows, in speaking order.
	Records []transcript.Record `json:"records"`

	// Transcript, when set, replaces the text reconstructed from Records.
	Transcript string `json:"transcript,omitempty"`
}

// SkippedRecord is the serialisable view of a [transcript.TokenParseError].
type SkippedRecord struct {
	Index    int    `json:"index"`
	SourceID string `json:"source_id"`
	Field    string `json:"field"`
	Error    string `json:"error"`
}

// Report is the outcome of [Pipeline.Run].
type Report struct {
	Result  *types.AnalysisResult `json:"result"`
	Skipped []SkippedRecord       `json:"skipped,omitempty"`

	// PlanPlaceholder is true when the therapy plan is the configured
	// placeholder because generation failed.
	PlanPlaceholder bool `json:"plan_placeholder,omitempty"`
}

// Pipeline runs the four stages for one input at a time. Distinct runs may
// execute concurrently; the policy can be swapped while runs are in flight
// and each run uses the policy it started with.
type Pipeline struct {
	extractor   *transcript.Extractor
	assembler   *Assembler
	policy      atomic.Pointer[disfluency.Policy]
	placeholder string
	metrics     *observe.Metrics
}

// Option is a functional option for [NewPipeline].
type Option func(*Pipeline)

// WithPolicy sets the initial annotation and scoring policy. Default:
// [disfluency.DefaultPolicy].
func WithPolicy(p disfluency.Policy) Option {
	return func(pl *Pipeline) { pl.policy.Store(&p) }
}

// WithPlanFallback makes a failed plan generation non-fatal: the result keeps
// text as its therapy plan and the run is reported as partial.
func WithPlanFallback(text string) Option {
	return func(pl *Pipeline) { pl.placeholder = text }
}

// WithExtractor overrides the transcript extractor.
func WithExtractor(e *transcript.Extractor) Option {
	return func(pl *Pipeline) { pl.extractor = e }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(pl *Pipeline) { pl.metrics = m }
}

// NewPipeline creates a [Pipeline] around asm. It fails with a
// *[disfluency.ConfigurationError] when the policy is invalid.
func NewPipeline(asm *Assembler, opts ...Option) (*Pipeline, error) {
	if asm == nil {
		return nil, errors.New("analysis: assembler must not be nil")
	}
	pl := &Pipeline{assembler: asm}
	for _, o := range opts {
		o(pl)
	}
	if pl.policy.Load() == nil {
		def := disfluency.DefaultPolicy()
		pl.policy.Store(&def)
	}
	if err := pl.policy.Load().Validate(); err != nil {
		return nil, err
	}
	if pl.extractor == nil {
		pl.extractor = transcript.NewExtractor()
	}
	if pl.metrics == nil {
		pl.metrics = observe.DefaultMetrics()
	}
	return pl, nil
}

// Policy returns the active policy.
func (pl *Pipeline) Policy() disfluency.Policy { return *pl.policy.Load() }

// SetPolicy validates p and makes it the policy for subsequent runs.
func (pl *Pipeline) SetPolicy(p disfluency.Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	pl.policy.Store(&p)
	return nil
}

// Run executes extract → annotate → score → assemble for in.
//
// A run without any token fails with an *[EmptyTranscriptError]. Embedding
// and plan failures return the partial report together with the assembler's
// typed errors; with [WithPlanFallback] a plan failure alone is absorbed.
func (pl *Pipeline) Run(ctx context.Context, in Input) (rep *Report, err error) {
	ctx, span := observe.StartSpan(ctx, "analysis.run")
	defer span.End()

	start := time.Now()
	pl.metrics.ActiveRuns.Add(ctx, 1)
	status, level := observe.StatusError, ""
	defer func() {
		pl.metrics.ActiveRuns.Add(ctx, -1)
		pl.metrics.RunDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(attribute.String("status", status)))
		pl.metrics.RecordRun(ctx, status, level)
		observe.FailSpan(span, err)
	}()
	log := observe.Logger(ctx)

	policy := *pl.policy.Load()

	ext := pl.extractor.Extract(in.Records)
	rep = &Report{}
	for _, s := range ext.Skipped {
		rep.Skipped = append(rep.Skipped, SkippedRecord{
			Index:    s.Index,
			SourceID: s.SourceID,
			Field:    s.Field,
			Error:    s.Err.Error(),
		})
	}
	if n := len(ext.Skipped); n > 0 {
		pl.metrics.SkippedRecords.Add(ctx, int64(n))
	}
	span.SetAttributes(
		attribute.Int("analysis.records", len(in.Records)),
		attribute.Int("analysis.skipped", len(ext.Skipped)),
		attribute.Int("analysis.tokens", len(ext.Tokens)),
	)

	if len(ext.Tokens) == 0 {
		status = observe.StatusEmpty
		return nil, &EmptyTranscriptError{Records: len(in.Records), Skipped: len(ext.Skipped)}
	}

	annotated := disfluency.Annotate(ext.Tokens, policy)
	m := disfluency.Score(annotated, policy)
	level = string(m.SeverityLevel)
	pl.metrics.SeverityScore.Record(ctx, m.SeverityScore)
	pl.metrics.RecordEvents(ctx, m.FillerCount, m.Repetitions, m.Prolongations, m.Blocks)

	text := strings.TrimSpace(in.Transcript)
	if text == "" {
		text = ext.Transcript
	}

	res, asmErr := pl.assembler.Assemble(ctx, text, annotated, m)
	rep.Result = res
	if asmErr == nil {
		status = observe.StatusOK
		log.Info("analysis run complete",
			"run_id", res.RunID,
			"words", m.TotalWords,
			"severity_score", m.SeverityScore,
			"severity_level", m.SeverityLevel,
		)
		return rep, nil
	}

	var planErr *PlanGenerationError
	var embErr *EmbeddingError
	if pl.placeholder != "" && errors.As(asmErr, &planErr) {
		res.TherapyPlan = pl.placeholder
		rep.PlanPlaceholder = true
		log.Warn("therapy plan unavailable, using placeholder", "run_id", res.RunID, "err", planErr.Err)
		if !errors.As(asmErr, &embErr) {
			status = observe.StatusPartial
			return rep, nil
		}
		asmErr = embErr
	}
	status = observe.StatusPartial
	log.Warn("analysis run incomplete", "run_id", res.RunID, "err", asmErr)
	return rep, asmErr
}
