package resilience

import (
	"context"
	"fmt"

	"github.com/MrWong99/speakaura/pkg/provider/embeddings"
)

// EmbeddingsFallback implements [embeddings.Provider] with failover across
// several embedding backends. All backends must produce vectors of the same
// length, otherwise stored analyses would not be comparable.
type EmbeddingsFallback struct {
	group *FallbackGroup[embeddings.Provider]
	dims  int
}

var _ embeddings.Provider = (*EmbeddingsFallback)(nil)

// NewEmbeddingsFallback creates an [EmbeddingsFallback] with primary as the
// preferred backend.
func NewEmbeddingsFallback(primary embeddings.Provider, primaryName string, cfg FallbackConfig) *EmbeddingsFallback {
	return &EmbeddingsFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
		dims:  primary.Dimensions(),
	}
}

// AddFallback registers an additional backend. It fails when the backend's
// vector length differs from the primary's.
func (f *EmbeddingsFallback) AddFallback(name string, provider embeddings.Provider) error {
	if d := provider.Dimensions(); d != f.dims {
		return fmt.Errorf("resilience: embeddings fallback %q has %d dimensions, primary has %d", name, d, f.dims)
	}
	f.group.AddFallback(name, provider)
	return nil
}

// Embed embeds text with the first healthy backend.
func (f *EmbeddingsFallback) Embed(ctx context.Context, text string) ([]float32, error) {
	return ExecuteWithResult(ctx, f.group, func(p embeddings.Provider) ([]float32, error) {
		return p.Embed(ctx, text)
	})
}

// Dimensions returns the shared vector length.
func (f *EmbeddingsFallback) Dimensions() int { return f.dims }

// ModelID returns the primary's model.
func (f *EmbeddingsFallback) ModelID() string { return f.group.Primary().ModelID() }

// Status reports the breaker state of every backend.
func (f *EmbeddingsFallback) Status() []EntryStatus { return f.group.Status() }
