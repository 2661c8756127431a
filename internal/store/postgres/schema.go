// Package postgres provides a PostgreSQL-backed implementation of the
// interview engine's persistence: the flow-state document store and the
// semantic index of asked questions.
//
// Both share a single [pgxpool.Pool]. The pgvector extension must be
// available in the target database; [Migrate] installs it automatically via
// CREATE EXTENSION IF NOT EXISTS.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn, 1536)
//	if err != nil { … }
//
//	_ = store.Flows().Put(ctx, state)
//	idx := store.Questions(embedder)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlInterviewFlows = `
CREATE TABLE IF NOT EXISTS interview_flows (
    session_id  TEXT         PRIMARY KEY,
    state       JSONB        NOT NULL,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_interview_flows_updated_at
    ON interview_flows (updated_at);
`

// ddlAskedQuestions returns the asked-questions DDL with the embedding
// dimension substituted. The vector dimension is baked into the column type
// at schema creation time.
func ddlAskedQuestions(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS asked_questions (
    id          BIGSERIAL    PRIMARY KEY,
    session_id  TEXT         NOT NULL,
    question    TEXT         NOT NULL,
    embedding   vector(%d),
    asked_at    TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_asked_questions_session_id
    ON asked_questions (session_id);

CREATE INDEX IF NOT EXISTS idx_asked_questions_embedding
    ON asked_questions USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Migrate creates or ensures all required database tables and extensions
// exist. It is idempotent and safe to call on every application start.
//
// embeddingDimensions must match the vector model configured for your
// deployment (e.g., 1536 for OpenAI text-embedding-3-small). Changing this
// value after the first migration requires a manual schema update.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	statements := []string{
		ddlInterviewFlows,
		ddlAskedQuestions(embeddingDimensions),
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
