package disfluency_test

import (
	"errors"
	"math"
	"testing"

	"github.com/MrWong99/speakaura/internal/disfluency"
	"github.com/MrWong99/speakaura/pkg/types"
)

const eps = 1e-9

func approx(a, b float64) bool { return math.Abs(a-b) < eps }

func TestScore_Empty(t *testing.T) {
	t.Parallel()
	m := disfluency.Score(nil, disfluency.DefaultPolicy())
	if m != (types.SpeechMetrics{}) {
		t.Errorf("expected zero metrics, got %+v", m)
	}
	if m.SeverityLevel != types.SeverityNone {
		t.Errorf("SeverityLevel = %q, want neutral", m.SeverityLevel)
	}
}

func TestScore_ScenarioOneOfEach(t *testing.T) {
	t.Parallel()
	tokens := []types.WordToken{
		tok("uh", 0.0, 0.3),
		tok("I", 0.5, 0.7),
		tok("I", 0.7, 0.9),
		tok("like", 0.9, 1.2),
		tok("sssso", 1.2, 1.6),
	}
	m := disfluency.Score(disfluency.Annotate(tokens, disfluency.DefaultPolicy()), disfluency.DefaultPolicy())

	if m.TotalWords != 5 || m.FillerCount != 1 || m.Repetitions != 1 || m.Prolongations != 1 || m.Blocks != 0 {
		t.Fatalf("unexpected counts: %+v", m)
	}
	if m.LongPauses != m.Blocks {
		t.Errorf("LongPauses = %d, want %d", m.LongPauses, m.Blocks)
	}
	if !approx(m.TotalDurationSec, 1.6) {
		t.Errorf("TotalDurationSec = %v, want 1.6", m.TotalDurationSec)
	}
	if !approx(m.SpeechRateWPS, 5/1.6) {
		t.Errorf("SpeechRateWPS = %v, want %v", m.SpeechRateWPS, 5/1.6)
	}
	// (2 + 1.5 + 1) / 5
	if !approx(m.SeverityScore, 0.9) {
		t.Errorf("SeverityScore = %v, want 0.9", m.SeverityScore)
	}
	if m.SeverityLevel != types.SeveritySevere {
		t.Errorf("SeverityLevel = %q, want Severe", m.SeverityLevel)
	}
}

func TestScore_BlockFromLongGap(t *testing.T) {
	t.Parallel()
	tokens := []types.WordToken{
		tok("we", 0.0, 0.5),
		tok("went", 0.5, 1.0),
		tok("home", 3.0, 3.4),
	}
	m := disfluency.Score(disfluency.Annotate(tokens, disfluency.DefaultPolicy()), disfluency.DefaultPolicy())
	if m.Blocks < 1 {
		t.Fatalf("Blocks = %d, want >= 1", m.Blocks)
	}
	if m.LongPauses != m.Blocks {
		t.Errorf("LongPauses = %d, want %d", m.LongPauses, m.Blocks)
	}
}

func TestScore_OneOfEachCategoryIsSevere(t *testing.T) {
	t.Parallel()
	annotated := []types.AnnotatedToken{
		{WordToken: tok("a", 0, 1), IsBlock: true},
		{WordToken: tok("b", 1, 2), IsProlongation: true},
		{WordToken: tok("c", 2, 3), IsRepetition: true},
		{WordToken: tok("d", 3, 4), IsFiller: true},
		{WordToken: tok("e", 4, 5)},
	}
	m := disfluency.Score(annotated, disfluency.DefaultPolicy())
	if !approx(m.SeverityScore, 1.5) {
		t.Errorf("SeverityScore = %v, want 1.5", m.SeverityScore)
	}
	if m.SeverityLevel != types.SeveritySevere {
		t.Errorf("SeverityLevel = %q, want Severe", m.SeverityLevel)
	}
}

func TestScore_CleanTranscriptIsMild(t *testing.T) {
	t.Parallel()
	words := []string{"the", "quick", "brown", "fox", "jumps", "over", "the", "lazy", "dog", "and",
		"then", "it", "runs", "into", "a", "forest", "full", "of", "tall", "trees"}
	tokens := make([]types.WordToken, len(words))
	for i, w := range words {
		tokens[i] = tok(w, float64(i)*0.4, float64(i)*0.4+0.3)
	}
	m := disfluency.Score(disfluency.Annotate(tokens, disfluency.DefaultPolicy()), disfluency.DefaultPolicy())
	if m.TotalWords != 20 {
		t.Fatalf("TotalWords = %d, want 20", m.TotalWords)
	}
	if m.SeverityScore != 0 {
		t.Errorf("SeverityScore = %v, want 0", m.SeverityScore)
	}
	if m.SeverityLevel != types.SeverityMild {
		t.Errorf("SeverityLevel = %q, want Mild", m.SeverityLevel)
	}
}

func TestScore_SingleTokenHasZeroRate(t *testing.T) {
	t.Parallel()
	m := disfluency.Score([]types.AnnotatedToken{{WordToken: tok("hi", 1, 1)}}, disfluency.DefaultPolicy())
	if m.TotalDurationSec != 0 || m.SpeechRateWPS != 0 {
		t.Errorf("expected zero duration and rate, got %+v", m)
	}
	if m.SeverityLevel != types.SeverityMild {
		t.Errorf("SeverityLevel = %q, want Mild", m.SeverityLevel)
	}
}

func TestScore_Monotonic(t *testing.T) {
	t.Parallel()
	p := disfluency.DefaultPolicy()
	base := make([]types.AnnotatedToken, 10)
	for i := range base {
		base[i] = types.AnnotatedToken{WordToken: tok("w", float64(i), float64(i)+0.5)}
	}
	baseline := disfluency.Score(base, p).SeverityScore

	flags := map[string]func(*types.AnnotatedToken){
		"block":        func(a *types.AnnotatedToken) { a.IsBlock = true },
		"prolongation": func(a *types.AnnotatedToken) { a.IsProlongation = true },
		"repetition":   func(a *types.AnnotatedToken) { a.IsRepetition = true },
		"filler":       func(a *types.AnnotatedToken) { a.IsFiller = true },
	}
	for name, set := range flags {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			prev := baseline
			seq := append([]types.AnnotatedToken(nil), base...)
			for i := range seq {
				set(&seq[i])
				got := disfluency.Score(seq, p).SeverityScore
				if got < prev {
					t.Fatalf("score decreased from %v to %v after %d %s events", prev, got, i+1, name)
				}
				prev = got
			}
		})
	}
}

func TestScore_DoesNotMutateInput(t *testing.T) {
	t.Parallel()
	in := []types.AnnotatedToken{{WordToken: tok("uh", 0, 1), IsFiller: true}}
	cp := append([]types.AnnotatedToken(nil), in...)
	disfluency.Score(in, disfluency.DefaultPolicy())
	if in[0] != cp[0] {
		t.Error("Score mutated its input")
	}
}

func TestLevel_Boundaries(t *testing.T) {
	t.Parallel()
	th := disfluency.DefaultPolicy().Thresholds
	tests := []struct {
		score float64
		want  types.SeverityLevel
	}{
		{0, types.SeverityMild},
		{0.0999, types.SeverityMild},
		{0.10, types.SeverityModerate},
		{0.2499, types.SeverityModerate},
		{0.25, types.SeveritySevere},
		{3, types.SeveritySevere},
	}
	for _, tt := range tests {
		if got := disfluency.Level(tt.score, th); got != tt.want {
			t.Errorf("Level(%v) = %q, want %q", tt.score, got, tt.want)
		}
	}
}

func TestPolicy_Validate(t *testing.T) {
	t.Parallel()
	if err := disfluency.DefaultPolicy().Validate(); err != nil {
		t.Fatalf("default policy invalid: %v", err)
	}

	p := disfluency.DefaultPolicy()
	p.LongPauseThreshold = -1
	p.Weights.Filler = -0.5
	p.Thresholds = disfluency.Thresholds{Moderate: 0.3, Severe: 0.2}
	p.FillerWords = []string{"uh", " "}

	err := p.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	var cfgErr *disfluency.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *ConfigurationError, got %T", err)
	}
	for _, field := range []string{"long_pause_threshold_sec", "weights.filler", "thresholds.severe", "filler_words[1]"} {
		if !containsField(err, field) {
			t.Errorf("expected violation for %s in %v", field, err)
		}
	}
}

func TestPolicy_ValidateRejectsUnreachableMild(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		p    disfluency.Policy
	}{
		{"zero value", disfluency.Policy{}},
		{"zero moderate", func() disfluency.Policy {
			p := disfluency.DefaultPolicy()
			p.Thresholds.Moderate = 0
			return p
		}()},
		{"negative moderate", func() disfluency.Policy {
			p := disfluency.DefaultPolicy()
			p.Thresholds.Moderate = -0.1
			return p
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.p.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !containsField(err, "thresholds.moderate") {
				t.Errorf("expected violation for thresholds.moderate in %v", err)
			}
		})
	}
}

func TestScore_FluentWordIsMildUnderDefaults(t *testing.T) {
	t.Parallel()
	p := disfluency.DefaultPolicy()
	m := disfluency.Score(disfluency.Annotate([]types.WordToken{tok("a", 1, 1)}, p), p)
	if m.SeverityScore != 0 || m.SeverityLevel != types.SeverityMild {
		t.Errorf("got score %v level %q, want 0 Mild", m.SeverityScore, m.SeverityLevel)
	}
}

func containsField(err error, field string) bool {
	joined, ok := err.(interface{ Unwrap() []error })
	if !ok {
		return false
	}
	for _, e := range joined.Unwrap() {
		var ce *disfluency.ConfigurationError
		if errors.As(e, &ce) && ce.Field == field {
			return true
		}
	}
	return false
}
