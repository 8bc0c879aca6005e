package store

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/MrWong99/speakaura/pkg/types"
)

var _ Store = (*MemStore)(nil)

// MemStore is a process-local [Store]. It is used when no database is
// configured and in tests. Similarity search is an exact linear scan.
type MemStore struct {
	mu      sync.RWMutex
	results map[string]types.AnalysisResult
}

// NewMemStore returns an empty [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{results: make(map[string]types.AnalysisResult)}
}

// Save implements [Store].
func (s *MemStore) Save(_ context.Context, res *types.AnalysisResult) error {
	if res == nil || res.RunID == "" {
		return fmt.Errorf("store: save: result has no run id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[res.RunID] = clone(*res)
	return nil
}

// Get implements [Store].
func (s *MemStore) Get(_ context.Context, runID string) (*types.AnalysisResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.results[runID]
	if !ok {
		return nil, ErrNotFound
	}
	out := clone(r)
	return &out, nil
}

// Similar implements [Store].
func (s *MemStore) Similar(_ context.Context, embedding []float32, k int) ([]Match, error) {
	if k <= 0 {
		return []Match{}, nil
	}
	s.mu.RLock()
	matches := make([]Match, 0, len(s.results))
	for _, r := range s.results {
		if len(r.TranscriptEmbedding) == 0 || len(r.TranscriptEmbedding) != len(embedding) {
			continue
		}
		matches = append(matches, Match{Result: clone(r), Distance: CosineDistance(embedding, r.TranscriptEmbedding)})
	}
	s.mu.RUnlock()

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Distance != matches[j].Distance {
			return matches[i].Distance < matches[j].Distance
		}
		return matches[i].Result.RunID < matches[j].Result.RunID
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// Range implements [Store].
func (s *MemStore) Range(_ context.Context, from, to time.Time) ([]types.AnalysisResult, error) {
	s.mu.RLock()
	out := []types.AnalysisResult{}
	for _, r := range s.results {
		if InRange(r.ProcessedAt, from, to) {
			out = append(out, clone(r))
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].ProcessedAt.Equal(out[j].ProcessedAt) {
			return out[i].ProcessedAt.Before(out[j].ProcessedAt)
		}
		return out[i].RunID < out[j].RunID
	})
	return out, nil
}

// DailyProgress implements [Store].
func (s *MemStore) DailyProgress(ctx context.Context, from, to time.Time) ([]types.ProgressPoint, error) {
	results, err := s.Range(ctx, from, to)
	if err != nil {
		return nil, err
	}
	return AggregateProgress(results), nil
}

// Ping implements [Store]. It always succeeds.
func (s *MemStore) Ping(context.Context) error { return nil }

// Len returns the number of stored results.
func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.results)
}

// CosineDistance returns 1 - cos(a, b). A zero vector has distance 1 to
// everything.
func CosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

func clone(r types.AnalysisResult) types.AnalysisResult {
	r.AnnotatedTokens = slices.Clone(r.AnnotatedTokens)
	r.TranscriptEmbedding = slices.Clone(r.TranscriptEmbedding)
	return r
}
