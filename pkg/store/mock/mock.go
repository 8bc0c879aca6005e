// Package mock provides a configurable test double for [store.Store].
//
//	s := &mock.Store{GetErr: store.ErrNotFound}
//	_, err := s.Get(ctx, "run-1")
//	if s.CallCount("Get") != 1 { … }
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/speakaura/pkg/store"
	"github.com/MrWong99/speakaura/pkg/types"
)

// Call records the name and arguments of a single method invocation.
type Call struct {
	Method string

	// Args holds the non-context arguments, in order.
	Args []any
}

// Store is a test double for [store.Store]. Result fields default to empty
// values; *Err fields default to nil.
type Store struct {
	mu    sync.Mutex
	calls []Call

	SaveErr error

	GetResult *types.AnalysisResult
	GetErr    error

	SimilarResult []store.Match
	SimilarErr    error

	RangeResult []types.AnalysisResult
	RangeErr    error

	DailyProgressResult []types.ProgressPoint
	DailyProgressErr    error

	PingErr error

	// Saved holds every result passed to Save.
	Saved []types.AnalysisResult
}

var _ store.Store = (*Store)(nil)

func (s *Store) record(method string, args ...any) {
	s.calls = append(s.calls, Call{Method: method, Args: args})
}

// Save implements [store.Store].
func (s *Store) Save(_ context.Context, res *types.AnalysisResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("Save", res)
	if s.SaveErr != nil {
		return s.SaveErr
	}
	s.Saved = append(s.Saved, *res)
	return nil
}

// Get implements [store.Store].
func (s *Store) Get(_ context.Context, runID string) (*types.AnalysisResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("Get", runID)
	return s.GetResult, s.GetErr
}

// Similar implements [store.Store].
func (s *Store) Similar(_ context.Context, embedding []float32, k int) ([]store.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("Similar", embedding, k)
	if s.SimilarErr != nil {
		return nil, s.SimilarErr
	}
	if s.SimilarResult == nil {
		return []store.Match{}, nil
	}
	return s.SimilarResult, nil
}

// Range implements [store.Store].
func (s *Store) Range(_ context.Context, from, to time.Time) ([]types.AnalysisResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("Range", from, to)
	if s.RangeErr != nil {
		return nil, s.RangeErr
	}
	if s.RangeResult == nil {
		return []types.AnalysisResult{}, nil
	}
	return s.RangeResult, nil
}

// DailyProgress implements [store.Store].
func (s *Store) DailyProgress(_ context.Context, from, to time.Time) ([]types.ProgressPoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("DailyProgress", from, to)
	if s.DailyProgressErr != nil {
		return nil, s.DailyProgressErr
	}
	if s.DailyProgressResult == nil {
		return []types.ProgressPoint{}, nil
	}
	return s.DailyProgressResult, nil
}

// Ping implements [store.Store].
func (s *Store) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("Ping")
	return s.PingErr
}

// Calls returns a copy of every recorded call.
func (s *Store) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallCount returns how often method was called.
func (s *Store) CallCount(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}
