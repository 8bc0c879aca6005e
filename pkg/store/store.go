// Package store defines persistence for assembled analysis results.
//
// A [Store] keeps every [types.AnalysisResult] keyed by its run id and answers
// the three read paths the service needs: lookup by id, nearest neighbours by
// transcript embedding, and time ranges over processed_at for progress
// tracking. Two implementations exist: the in-memory [MemStore] and the
// PostgreSQL/pgvector store in the postgres subpackage.
package store

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/MrWong99/speakaura/pkg/types"
)

// ErrNotFound is returned by [Store.Get] for an unknown run id.
var ErrNotFound = errors.New("store: analysis not found")

// Match is one result of a similarity search.
type Match struct {
	Result types.AnalysisResult `json:"result"`

	// Distance is the cosine distance to the query vector (0 = identical).
	Distance float64 `json:"distance"`
}

// Store persists analysis results.
//
// Time bounds are half-open: from is inclusive, to is exclusive. A zero
// time leaves that side unbounded. Implementations must be safe for
// concurrent use.
type Store interface {
	// Save inserts res, replacing any stored result with the same run id.
	Save(ctx context.Context, res *types.AnalysisResult) error

	// Get returns the result stored under runID or [ErrNotFound].
	Get(ctx context.Context, runID string) (*types.AnalysisResult, error)

	// Similar returns up to k results ordered by ascending cosine distance of
	// their transcript embedding to embedding. Results without an embedding
	// are never returned.
	Similar(ctx context.Context, embedding []float32, k int) ([]Match, error)

	// Range returns results processed within [from, to) ordered by
	// processed_at.
	Range(ctx context.Context, from, to time.Time) ([]types.AnalysisResult, error)

	// DailyProgress returns the mean fluency score per UTC day for results
	// processed within [from, to), ordered by day.
	DailyProgress(ctx context.Context, from, to time.Time) ([]types.ProgressPoint, error)

	// Ping reports whether the backing storage is reachable.
	Ping(ctx context.Context) error
}

// InRange reports whether t lies within [from, to) with zero bounds treated
// as unbounded.
func InRange(t, from, to time.Time) bool {
	if !from.IsZero() && t.Before(from) {
		return false
	}
	if !to.IsZero() && !t.Before(to) {
		return false
	}
	return true
}

// AggregateProgress groups results by UTC day of processed_at and averages
// their fluency score.
func AggregateProgress(results []types.AnalysisResult) []types.ProgressPoint {
	type acc struct {
		runs int
		sum  float64
	}
	days := make(map[time.Time]*acc)
	for _, r := range results {
		t := r.ProcessedAt.UTC()
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		a, ok := days[day]
		if !ok {
			a = &acc{}
			days[day] = a
		}
		a.runs++
		a.sum += r.Metrics.FluencyScore()
	}

	out := make([]types.ProgressPoint, 0, len(days))
	for day, a := range days {
		out = append(out, types.ProgressPoint{Day: day, Runs: a.runs, FluencyScore: a.sum / float64(a.runs)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day.Before(out[j].Day) })
	return out
}
