// Package analysis assembles scored transcripts into [types.AnalysisResult]
// values and drives the forward flow extract → annotate → score → assemble.
//
// The two external collaborators, the transcript embedder and the therapy
// plan generator, are injected as interfaces. Nothing in this package talks
// to a durable store.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/speakaura/internal/observe"
	"github.com/MrWong99/speakaura/pkg/types"
)

// Embedder turns transcript text into a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// PlanGenerator writes a therapy plan for a transcript and its metrics.
type PlanGenerator interface {
	GeneratePlan(ctx context.Context, transcript string, m types.SpeechMetrics) (string, error)
}

// EmbeddingError reports that the transcript could not be embedded.
type EmbeddingError struct {
	Err error
}

func (e *EmbeddingError) Error() string { return "analysis: embed transcript: " + e.Err.Error() }
func (e *EmbeddingError) Unwrap() error { return e.Err }

// PlanGenerationError reports that no therapy plan could be generated.
type PlanGenerationError struct {
	Err error
}

func (e *PlanGenerationError) Error() string { return "analysis: generate plan: " + e.Err.Error() }
func (e *PlanGenerationError) Unwrap() error { return e.Err }

// Assembler combines transcript, annotations and metrics with the embedding
// and plan produced by its collaborators. It is safe for concurrent use.
type Assembler struct {
	embedder Embedder
	planner  PlanGenerator
	metrics  *observe.Metrics
	now      func() time.Time
	newID    func() string
}

// AssemblerOption is a functional option for [NewAssembler].
type AssemblerOption func(*Assembler)

// WithClock overrides the clock used for ProcessedAt.
func WithClock(now func() time.Time) AssemblerOption {
	return func(a *Assembler) { a.now = now }
}

// WithIDGenerator overrides the run id generator. Default: random UUIDv4.
func WithIDGenerator(gen func() string) AssemblerOption {
	return func(a *Assembler) { a.newID = gen }
}

// WithAssemblerMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithAssemblerMetrics(m *observe.Metrics) AssemblerOption {
	return func(a *Assembler) { a.metrics = m }
}

// NewAssembler creates an [Assembler]. Both collaborators are required.
func NewAssembler(embedder Embedder, planner PlanGenerator, opts ...AssemblerOption) (*Assembler, error) {
	if embedder == nil {
		return nil, errors.New("analysis: embedder must not be nil")
	}
	if planner == nil {
		return nil, errors.New("analysis: plan generator must not be nil")
	}
	a := &Assembler{
		embedder: embedder,
		planner:  planner,
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	return a, nil
}

// Assemble builds the result for one run. Both collaborators are always
// called. When either fails the partially filled result is returned together
// with an *[EmbeddingError] and/or *[PlanGenerationError] (joined when both
// fail), so callers can persist a partial record or retry one stage.
func (a *Assembler) Assemble(ctx context.Context, transcript string, annotated []types.AnnotatedToken, m types.SpeechMetrics) (*types.AnalysisResult, error) {
	res := &types.AnalysisResult{
		RunID:           a.newID(),
		Transcript:      transcript,
		Metrics:         m,
		AnnotatedTokens: slices.Clone(annotated),
		ProcessedAt:     a.now().UTC(),
	}
	if res.AnnotatedTokens == nil {
		res.AnnotatedTokens = []types.AnnotatedToken{}
	}

	var errs []error
	emb, err := a.embed(ctx, transcript)
	if err != nil {
		errs = append(errs, &EmbeddingError{Err: err})
	} else {
		res.TranscriptEmbedding = emb
	}

	plan, err := a.plan(ctx, transcript, m)
	if err != nil {
		errs = append(errs, &PlanGenerationError{Err: err})
	} else {
		res.TherapyPlan = plan
	}
	return res, errors.Join(errs...)
}

func (a *Assembler) embed(ctx context.Context, transcript string) ([]float32, error) {
	ctx, span := observe.StartSpan(ctx, "analysis.embed")
	defer span.End()

	start := time.Now()
	vec, err := a.embedder.Embed(ctx, transcript)
	a.metrics.EmbeddingDuration.Record(ctx, time.Since(start).Seconds())
	if err == nil && len(vec) == 0 {
		err = fmt.Errorf("embedder returned an empty vector")
	}
	a.recordProvider(ctx, a.embedder, "embeddings", err)
	if err != nil {
		observe.FailSpan(span, err)
		return nil, err
	}
	return vec, nil
}

func (a *Assembler) plan(ctx context.Context, transcript string, m types.SpeechMetrics) (string, error) {
	ctx, span := observe.StartSpan(ctx, "analysis.plan")
	defer span.End()

	start := time.Now()
	plan, err := a.planner.GeneratePlan(ctx, transcript, m)
	a.metrics.PlanDuration.Record(ctx, time.Since(start).Seconds())
	a.recordProvider(ctx, a.planner, "plan", err)
	if err != nil {
		observe.FailSpan(span, err)
		return "", err
	}
	return plan, nil
}

type modelIdentifier interface {
	ModelID() string
}

func (a *Assembler) recordProvider(ctx context.Context, collaborator any, kind string, err error) {
	name := kind
	if mi, ok := collaborator.(modelIdentifier); ok && mi.ModelID() != "" {
		name = mi.ModelID()
	}
	status := observe.StatusOK
	if err != nil {
		status = observe.StatusError
		a.metrics.RecordProviderError(ctx, name, kind)
	}
	a.metrics.RecordProviderRequest(ctx, name, kind, status)
}
