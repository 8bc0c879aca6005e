// Package postgres provides a PostgreSQL-backed [store.Store]. Transcript
// embeddings live in a pgvector column with an HNSW cosine index so that
// similar past analyses can be found without a full scan.
//
// Usage:
//
//	s, err := postgres.NewStore(ctx, dsn, 1536)
//	if err != nil { … }
//	defer s.Close()
//	_ = s.Save(ctx, result)
//	matches, _ := s.Similar(ctx, result.TranscriptEmbedding, 5)
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MrWong99/speakaura/pkg/store"
	"github.com/MrWong99/speakaura/pkg/types"
)

var _ store.Store = (*Store)(nil)

// Store implements [store.Store] on a single [pgxpool.Pool]. All queries are
// parameterised. It is safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to dsn, registers pgvector types on every connection, and
// runs [Migrate].
func NewStore(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases all pooled connections.
func (s *Store) Close() { s.pool.Close() }

// Ping implements [store.Store].
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres store: ping: %w", err)
	}
	return nil
}

// Save implements [store.Store]. A result without an embedding is stored with
// a NULL vector and never shows up in [Store.Similar].
func (s *Store) Save(ctx context.Context, res *types.AnalysisResult) error {
	if res == nil || res.RunID == "" {
		return errors.New("postgres store: save: result has no run id")
	}
	metrics, err := json.Marshal(res.Metrics)
	if err != nil {
		return fmt.Errorf("postgres store: encode metrics: %w", err)
	}
	tokens := res.AnnotatedTokens
	if tokens == nil {
		tokens = []types.AnnotatedToken{}
	}
	annotated, err := json.Marshal(tokens)
	if err != nil {
		return fmt.Errorf("postgres store: encode annotated tokens: %w", err)
	}
	var vec *pgvector.Vector
	if len(res.TranscriptEmbedding) > 0 {
		v := pgvector.NewVector(res.TranscriptEmbedding)
		vec = &v
	}

	const q = `
		INSERT INTO analysis_results
		    (run_id, transcript, metrics, severity_score, severity_level,
		     therapy_plan, annotated_tokens, transcript_embedding, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (run_id) DO UPDATE SET
		    transcript           = EXCLUDED.transcript,
		    metrics              = EXCLUDED.metrics,
		    severity_score       = EXCLUDED.severity_score,
		    severity_level       = EXCLUDED.severity_level,
		    therapy_plan         = EXCLUDED.therapy_plan,
		    annotated_tokens     = EXCLUDED.annotated_tokens,
		    transcript_embedding = EXCLUDED.transcript_embedding,
		    processed_at         = EXCLUDED.processed_at`

	_, err = s.pool.Exec(ctx, q,
		res.RunID,
		res.Transcript,
		metrics,
		res.Metrics.SeverityScore,
		string(res.Metrics.SeverityLevel),
		res.TherapyPlan,
		annotated,
		vec,
		res.ProcessedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("postgres store: save: %w", err)
	}
	return nil
}

const selectColumns = `run_id, transcript, metrics, therapy_plan, annotated_tokens, transcript_embedding, processed_at`

// Get implements [store.Store].
func (s *Store) Get(ctx context.Context, runID string) (*types.AnalysisResult, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+selectColumns+` FROM analysis_results WHERE run_id = $1`, runID)
	if err != nil {
		return nil, fmt.Errorf("postgres store: get: %w", err)
	}
	res, err := pgx.CollectExactlyOneRow(rows, func(row pgx.CollectableRow) (types.AnalysisResult, error) {
		return scanResult(row)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres store: get: %w", err)
	}
	return &res, nil
}

// Similar implements [store.Store] using the pgvector cosine distance
// operator.
func (s *Store) Similar(ctx context.Context, embedding []float32, k int) ([]store.Match, error) {
	if k <= 0 || len(embedding) == 0 {
		return []store.Match{}, nil
	}
	q := `
		SELECT ` + selectColumns + `,
		       transcript_embedding <=> $1 AS distance
		FROM   analysis_results
		WHERE  transcript_embedding IS NOT NULL
		ORDER  BY distance
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(embedding), k)
	if err != nil {
		return nil, fmt.Errorf("postgres store: similar: %w", err)
	}
	matches, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.Match, error) {
		var m store.Match
		r, err := scanResult(row, &m.Distance)
		m.Result = r
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: similar: scan rows: %w", err)
	}
	if matches == nil {
		matches = []store.Match{}
	}
	return matches, nil
}

// Range implements [store.Store].
func (s *Store) Range(ctx context.Context, from, to time.Time) ([]types.AnalysisResult, error) {
	where, args := timeBounds(from, to)
	q := `SELECT ` + selectColumns + ` FROM analysis_results ` + where + ` ORDER BY processed_at, run_id`

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres store: range: %w", err)
	}
	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.AnalysisResult, error) {
		return scanResult(row)
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: range: scan rows: %w", err)
	}
	if results == nil {
		results = []types.AnalysisResult{}
	}
	return results, nil
}

// DailyProgress implements [store.Store]. Days are UTC calendar days.
func (s *Store) DailyProgress(ctx context.Context, from, to time.Time) ([]types.ProgressPoint, error) {
	where, args := timeBounds(from, to)
	q := `
		SELECT date_trunc('day', processed_at AT TIME ZONE 'UTC') AS day,
		       count(*),
		       avg(100 - 100 * severity_score)
		FROM   analysis_results
		` + where + `
		GROUP  BY day
		ORDER  BY day`

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres store: daily progress: %w", err)
	}
	points, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.ProgressPoint, error) {
		var p types.ProgressPoint
		if err := row.Scan(&p.Day, &p.Runs, &p.FluencyScore); err != nil {
			return types.ProgressPoint{}, err
		}
		p.Day = p.Day.UTC()
		return p, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: daily progress: scan rows: %w", err)
	}
	if points == nil {
		points = []types.ProgressPoint{}
	}
	return points, nil
}

// timeBounds renders the half-open processed_at filter with positional args.
func timeBounds(from, to time.Time) (string, []any) {
	var (
		args       []any
		conditions []string
	)
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if !from.IsZero() {
		conditions = append(conditions, "processed_at >= "+next(from.UTC()))
	}
	if !to.IsZero() {
		conditions = append(conditions, "processed_at < "+next(to.UTC()))
	}
	if len(conditions) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conditions, " AND "), args
}

// scanResult scans the selectColumns followed by any extra destinations.
func scanResult(row pgx.CollectableRow, extra ...any) (types.AnalysisResult, error) {
	var (
		r         types.AnalysisResult
		metrics   []byte
		annotated []byte
		vec       *pgvector.Vector
	)
	dest := append([]any{
		&r.RunID,
		&r.Transcript,
		&metrics,
		&r.TherapyPlan,
		&annotated,
		&vec,
		&r.ProcessedAt,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return types.AnalysisResult{}, err
	}
	if err := json.Unmarshal(metrics, &r.Metrics); err != nil {
		return types.AnalysisResult{}, fmt.Errorf("decode metrics of %s: %w", r.RunID, err)
	}
	if err := json.Unmarshal(annotated, &r.AnnotatedTokens); err != nil {
		return types.AnalysisResult{}, fmt.Errorf("decode annotated tokens of %s: %w", r.RunID, err)
	}
	if vec != nil {
		r.TranscriptEmbedding = vec.Slice()
	}
	r.ProcessedAt = r.ProcessedAt.UTC()
	return r, nil
}
