package app

import (
	"context"
	"time"

	"github.com/MrWong99/speakaura/internal/observe"
	"github.com/MrWong99/speakaura/pkg/store"
	"github.com/MrWong99/speakaura/pkg/types"
)

// instrumentedStore records [observe.Metrics.StoreDuration] and a span for
// every store call.
type instrumentedStore struct {
	next    store.Store
	metrics *observe.Metrics
}

var _ store.Store = (*instrumentedStore)(nil)

func newInstrumentedStore(next store.Store, m *observe.Metrics) *instrumentedStore {
	return &instrumentedStore{next: next, metrics: m}
}

func (s *instrumentedStore) observe(ctx context.Context, op string) (context.Context, func(error)) {
	ctx, span := observe.StartSpan(ctx, "store."+op)
	start := time.Now()
	return ctx, func(err error) {
		s.metrics.RecordStore(ctx, op, time.Since(start).Seconds())
		observe.FailSpan(span, err)
		span.End()
	}
}

func (s *instrumentedStore) Save(ctx context.Context, res *types.AnalysisResult) (err error) {
	ctx, done := s.observe(ctx, "save")
	defer func() { done(err) }()
	return s.next.Save(ctx, res)
}

func (s *instrumentedStore) Get(ctx context.Context, runID string) (_ *types.AnalysisResult, err error) {
	ctx, done := s.observe(ctx, "get")
	defer func() { done(err) }()
	return s.next.Get(ctx, runID)
}

func (s *instrumentedStore) Similar(ctx context.Context, embedding []float32, k int) (_ []store.Match, err error) {
	ctx, done := s.observe(ctx, "similar")
	defer func() { done(err) }()
	return s.next.Similar(ctx, embedding, k)
}

func (s *instrumentedStore) Range(ctx context.Context, from, to time.Time) (_ []types.AnalysisResult, err error) {
	ctx, done := s.observe(ctx, "range")
	defer func() { done(err) }()
	return s.next.Range(ctx, from, to)
}

func (s *instrumentedStore) DailyProgress(ctx context.Context, from, to time.Time) (_ []types.ProgressPoint, err error) {
	ctx, done := s.observe(ctx, "daily_progress")
	defer func() { done(err) }()
	return s.next.DailyProgress(ctx, from, to)
}

// Ping is not timed.
func (s *instrumentedStore) Ping(ctx context.Context) error {
	return s.next.Ping(ctx)
}
