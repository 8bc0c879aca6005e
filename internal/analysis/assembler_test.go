package analysis

import (
	"context"
	"errors"
	"testing"
	"time"

	embmock "github.com/MrWong99/speakaura/pkg/provider/embeddings/mock"
	"github.com/MrWong99/speakaura/pkg/types"
)

// planFunc adapts a function to [PlanGenerator].
type planFunc func(ctx context.Context, transcript string, m types.SpeechMetrics) (string, error)

func (f planFunc) GeneratePlan(ctx context.Context, transcript string, m types.SpeechMetrics) (string, error) {
	return f(ctx, transcript, m)
}

func staticPlan(plan string, err error) planFunc {
	return func(context.Context, string, types.SpeechMetrics) (string, error) { return plan, err }
}

var fixedNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.FixedZone("CET", 3600))

func newTestAssembler(t *testing.T, emb Embedder, plan PlanGenerator) *Assembler {
	t.Helper()
	a, err := NewAssembler(emb, plan,
		WithClock(func() time.Time { return fixedNow }),
		WithIDGenerator(func() string { return "run-1" }),
	)
	if err != nil {
		t.Fatalf("NewAssembler: %v", err)
	}
	return a
}

func TestNewAssembler_RequiresCollaborators(t *testing.T) {
	t.Parallel()
	if _, err := NewAssembler(nil, staticPlan("", nil)); err == nil {
		t.Error("expected error for nil embedder")
	}
	if _, err := NewAssembler(&embmock.Provider{}, nil); err == nil {
		t.Error("expected error for nil plan generator")
	}
}

func TestAssembler_Assemble(t *testing.T) {
	t.Parallel()

	annotated := []types.AnnotatedToken{{WordToken: types.WordToken{Text: "hello", EndTime: 0.4}}}
	metrics := types.SpeechMetrics{TotalWords: 1, SeverityLevel: types.SeverityMild}
	errEmbed := errors.New("embedding service unavailable")
	errPlan := errors.New("generation quota exceeded")

	tests := []struct {
		name      string
		embedErr  error
		embedVec  []float32
		planErr   error
		wantEmb   bool
		wantPlan  bool
		wantErrAs []any
	}{
		{name: "both succeed", embedVec: []float32{0.1, 0.2}, wantEmb: true, wantPlan: true},
		{name: "embedding fails", embedErr: errEmbed, wantPlan: true, wantErrAs: []any{new(*EmbeddingError)}},
		{name: "empty vector", embedVec: []float32{}, wantPlan: true, wantErrAs: []any{new(*EmbeddingError)}},
		{name: "plan fails", embedVec: []float32{0.3}, planErr: errPlan, wantEmb: true, wantErrAs: []any{new(*PlanGenerationError)}},
		{name: "both fail", embedErr: errEmbed, planErr: errPlan, wantErrAs: []any{new(*EmbeddingError), new(*PlanGenerationError)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			emb := &embmock.Provider{EmbedResult: tt.embedVec, EmbedErr: tt.embedErr}
			a := newTestAssembler(t, emb, staticPlan("Read aloud for 5 minutes daily.", tt.planErr))

			res, err := a.Assemble(context.Background(), "hello", annotated, metrics)
			if res == nil {
				t.Fatal("result must be returned even on failure")
			}
			if res.RunID != "run-1" || res.Transcript != "hello" || res.Metrics != metrics {
				t.Errorf("unexpected base fields: %+v", res)
			}
			if !res.ProcessedAt.Equal(fixedNow) || res.ProcessedAt.Location() != time.UTC {
				t.Errorf("ProcessedAt = %v, want %v in UTC", res.ProcessedAt, fixedNow)
			}
			if len(res.AnnotatedTokens) != 1 {
				t.Errorf("annotated tokens = %d, want 1", len(res.AnnotatedTokens))
			}
			if got := len(res.TranscriptEmbedding) > 0; got != tt.wantEmb {
				t.Errorf("embedding present = %v, want %v", got, tt.wantEmb)
			}
			if got := res.TherapyPlan != ""; got != tt.wantPlan {
				t.Errorf("plan present = %v, want %v", got, tt.wantPlan)
			}

			if len(tt.wantErrAs) == 0 {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			for _, target := range tt.wantErrAs {
				if !errors.As(err, target) {
					t.Errorf("err = %v, want As %T", err, target)
				}
			}
			if tt.embedErr != nil && !errors.Is(err, tt.embedErr) {
				t.Errorf("embedding cause not wrapped: %v", err)
			}
			if tt.planErr != nil && !errors.Is(err, tt.planErr) {
				t.Errorf("plan cause not wrapped: %v", err)
			}
		})
	}
}

func TestAssembler_DoesNotAliasInput(t *testing.T) {
	t.Parallel()
	annotated := []types.AnnotatedToken{{WordToken: types.WordToken{Text: "a"}}}
	a := newTestAssembler(t, &embmock.Provider{EmbedResult: []float32{1}}, staticPlan("p", nil))
	res, err := a.Assemble(context.Background(), "a", annotated, types.SpeechMetrics{})
	if err != nil {
		t.Fatal(err)
	}
	annotated[0].Text = "mutated"
	if res.AnnotatedTokens[0].Text != "a" {
		t.Error("result shares the caller's token slice")
	}
}

func TestAssembler_PassesContext(t *testing.T) {
	t.Parallel()
	type key struct{}
	ctx := context.WithValue(context.Background(), key{}, "v")

	emb := &embmock.Provider{EmbedResult: []float32{1}}
	var planCtxOK bool
	a := newTestAssembler(t, emb, planFunc(func(ctx context.Context, _ string, _ types.SpeechMetrics) (string, error) {
		planCtxOK = ctx.Value(key{}) == "v"
		return "p", nil
	}))
	if _, err := a.Assemble(ctx, "a", nil, types.SpeechMetrics{}); err != nil {
		t.Fatal(err)
	}
	if calls := emb.Calls(); len(calls) != 1 || calls[0].Ctx.Value(key{}) != "v" {
		t.Error("embedder did not receive the caller's context")
	}
	if !planCtxOK {
		t.Error("plan generator did not receive the caller's context")
	}
}

func TestAssembler_DefaultIDsAreUnique(t *testing.T) {
	t.Parallel()
	a, err := NewAssembler(&embmock.Provider{EmbedResult: []float32{1}}, staticPlan("p", nil))
	if err != nil {
		t.Fatal(err)
	}
	r1, _ := a.Assemble(context.Background(), "a", nil, types.SpeechMetrics{})
	r2, _ := a.Assemble(context.Background(), "a", nil, types.SpeechMetrics{})
	if r1.RunID == "" || r1.RunID == r2.RunID {
		t.Errorf("run ids %q and %q must be distinct and non-empty", r1.RunID, r2.RunID)
	}
	if r1.AnnotatedTokens == nil {
		t.Error("annotated tokens must be non-nil")
	}
}
