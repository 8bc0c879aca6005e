package resilience

import (
	"context"
	"errors"
	"testing"

	embmock "github.com/MrWong99/speakaura/pkg/provider/embeddings/mock"
)

func TestEmbeddingsFallback_Failover(t *testing.T) {
	t.Parallel()
	primary := &embmock.Provider{
		EmbedErr:        errors.New("rate limited"),
		DimensionsValue: 3,
		ModelIDValue:    "text-embedding-3-small",
	}
	secondary := &embmock.Provider{
		EmbedResult:     []float32{0.1, 0.2, 0.3},
		DimensionsValue: 3,
		ModelIDValue:    "nomic-embed-text",
	}
	fb := NewEmbeddingsFallback(primary, "openai", FallbackConfig{})
	if err := fb.AddFallback("ollama", secondary); err != nil {
		t.Fatalf("AddFallback: %v", err)
	}

	vec, err := fb.Embed(context.Background(), "uh I I like sssso")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 3 {
		t.Fatalf("len = %d, want 3", len(vec))
	}
	if got := secondary.Calls(); len(got) != 1 || got[0].Text != "uh I I like sssso" {
		t.Errorf("secondary calls = %+v", got)
	}
	if fb.Dimensions() != 3 || fb.ModelID() != "text-embedding-3-small" {
		t.Errorf("Dimensions/ModelID = %d/%q", fb.Dimensions(), fb.ModelID())
	}
}

func TestEmbeddingsFallback_RejectsDimensionMismatch(t *testing.T) {
	t.Parallel()
	fb := NewEmbeddingsFallback(&embmock.Provider{DimensionsValue: 1536}, "openai", FallbackConfig{})
	err := fb.AddFallback("ollama", &embmock.Provider{DimensionsValue: 768})
	if err == nil {
		t.Fatal("expected dimension mismatch error")
	}
	if len(fb.Status()) != 1 {
		t.Errorf("mismatched backend was registered")
	}
}
