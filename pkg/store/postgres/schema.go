package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ddlResults returns the DDL with the embedding dimension substituted. The
// vector dimension is baked into the column type at schema creation time.
func ddlResults(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS analysis_results (
    run_id               TEXT              PRIMARY KEY,
    transcript           TEXT              NOT NULL,
    metrics              JSONB             NOT NULL,
    severity_score       DOUBLE PRECISION  NOT NULL,
    severity_level       TEXT              NOT NULL DEFAULT '',
    therapy_plan         TEXT              NOT NULL DEFAULT '',
    annotated_tokens     JSONB             NOT NULL DEFAULT '[]',
    transcript_embedding vector(%d),
    processed_at         TIMESTAMPTZ       NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_analysis_results_processed_at
    ON analysis_results (processed_at);

CREATE INDEX IF NOT EXISTS idx_analysis_results_embedding
    ON analysis_results USING hnsw (transcript_embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Migrate creates the analysis_results table, its indexes and the pgvector
// extension. It is idempotent and safe to call on every start.
//
// embeddingDimensions must match the embedding model (1536 for OpenAI
// text-embedding-3-small, 768 for nomic-embed-text). Changing it after the
// first migration requires a manual schema update.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	if embeddingDimensions <= 0 {
		return fmt.Errorf("postgres migrate: embedding dimensions must be positive, got %d", embeddingDimensions)
	}
	if _, err := pool.Exec(ctx, ddlResults(embeddingDimensions)); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}
