package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/voxprep/voxprep/internal/flow"
	"github.com/voxprep/voxprep/pkg/provider/embeddings"
)

// Compile-time interface checks.
var (
	_ flow.Store         = (*FlowStore)(nil)
	_ flow.QuestionIndex = (*QuestionIndex)(nil)
)

// Store is the central PostgreSQL-backed store for the interview engine. It
// holds a single [pgxpool.Pool] and exposes:
//
//   - [Store.Flows] returning a [FlowStore] implementing [flow.Store]
//   - [Store.Questions] returning a [QuestionIndex] implementing
//     [flow.QuestionIndex]
//
// All operations are safe for concurrent use.
type Store struct {
	pool  *pgxpool.Pool
	flows *FlowStore
}

// NewStore creates a new Store, establishes a connection pool to the
// PostgreSQL database at dsn, registers pgvector types on every connection,
// and runs [Migrate] to ensure all required tables and extensions exist.
//
// embeddingDimensions must match the output dimension of the embedding model
// used by the question index.
func NewStore(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	// Register pgvector types on every new connection so that vector columns
	// can be scanned into and inserted from pgvector.Vector values.
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

	return &Store{
		pool:  pool,
		flows: &FlowStore{pool: pool},
	}, nil
}

// Flows returns the flow-state document store.
func (s *Store) Flows() *FlowStore { return s.flows }

// Questions returns a semantic question index using embedder to vectorise
// question text.
func (s *Store) Questions(embedder embeddings.Provider) *QuestionIndex {
	return &QuestionIndex{pool: s.pool, embedder: embedder, threshold: defaultDistanceThreshold}
}

// Pool exposes the underlying connection pool, used by health checks.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Close releases all connections held by the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
