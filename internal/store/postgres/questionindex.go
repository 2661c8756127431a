package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/voxprep/voxprep/pkg/provider/embeddings"
)

// defaultDistanceThreshold is the cosine distance below which two questions
// count as asking the same thing. Cosine distance is 1 - cosine similarity,
// so 0.15 roughly corresponds to 0.85 similarity.
const defaultDistanceThreshold = 0.15

// QuestionIndex is the semantic repeat guard backed by the asked_questions
// table with a pgvector HNSW index.
//
// Obtain one via [Store.Questions] rather than constructing directly.
// All methods are safe for concurrent use.
type QuestionIndex struct {
	pool      *pgxpool.Pool
	embedder  embeddings.Provider
	threshold float64
}

// WithThreshold returns a copy of the index using a custom cosine distance
// threshold for [QuestionIndex.Similar].
func (q *QuestionIndex) WithThreshold(threshold float64) *QuestionIndex {
	out := *q
	out.threshold = threshold
	return &out
}

// Add implements [flow.QuestionIndex.Add]: embeds question and stores the
// vector under sessionID.
func (q *QuestionIndex) Add(ctx context.Context, sessionID, question string) error {
	vec, err := q.embedder.Embed(ctx, question)
	if err != nil {
		return fmt.Errorf("question index: embed: %w", err)
	}

	const stmt = `
		INSERT INTO asked_questions (session_id, question, embedding)
		VALUES ($1, $2, $3)`

	if _, err := q.pool.Exec(ctx, stmt, sessionID, question, pgvector.NewVector(vec)); err != nil {
		return fmt.Errorf("question index: add: %w", err)
	}
	return nil
}

// Similar implements [flow.QuestionIndex.Similar]: reports whether any stored
// question for sessionID is within the cosine distance threshold of question.
func (q *QuestionIndex) Similar(ctx context.Context, sessionID, question string) (bool, error) {
	vec, err := q.embedder.Embed(ctx, question)
	if err != nil {
		return false, fmt.Errorf("question index: embed: %w", err)
	}

	const stmt = `
		SELECT embedding <=> $1 AS distance
		FROM   asked_questions
		WHERE  session_id = $2
		ORDER  BY distance
		LIMIT  1`

	var distance float64
	if err := q.pool.QueryRow(ctx, stmt, pgvector.NewVector(vec), sessionID).Scan(&distance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("question index: search: %w", err)
	}
	return distance <= q.threshold, nil
}
