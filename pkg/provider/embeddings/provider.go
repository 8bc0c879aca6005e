// Package embeddings defines the Provider interface for text-embedding
// backends.
//
// SpeakAura embeds every analysed transcript so that later runs can retrieve
// similar past cases by cosine distance. All vectors stored side by side must
// come from the same model; [Provider.ModelID] and [Provider.Dimensions] let
// the store adapter enforce that.
//
// Implementations must be safe for concurrent use.
package embeddings

import "context"

// Provider is the abstraction over any text-embedding backend.
type Provider interface {
	// Embed computes the embedding vector for text. The returned slice has
	// length Dimensions(). Text is passed through verbatim.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the fixed length of every vector this provider
	// produces.
	Dimensions() int

	// ModelID returns the model identifier, e.g. "text-embedding-3-small".
	ModelID() string
}
