package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voxprep/voxprep/internal/flow"
)

// FlowStore persists [flow.State] documents as JSONB, one row per session.
// Writes replace the whole document, matching the [flow.Store] contract.
//
// Obtain one via [Store.Flows] rather than constructing directly.
type FlowStore struct {
	pool *pgxpool.Pool
}

// Put implements [flow.Store.Put] as an upsert.
func (s *FlowStore) Put(ctx context.Context, state flow.State) error {
	doc, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("flow store: marshal state: %w", err)
	}

	const q = `
		INSERT INTO interview_flows (session_id, state, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (session_id) DO UPDATE SET
		    state      = EXCLUDED.state,
		    updated_at = EXCLUDED.updated_at`

	if _, err := s.pool.Exec(ctx, q, state.SessionID, doc, state.CreatedAt, state.UpdatedAt); err != nil {
		return fmt.Errorf("flow store: put %q: %w", state.SessionID, err)
	}
	return nil
}

// Get implements [flow.Store.Get].
func (s *FlowStore) Get(ctx context.Context, sessionID string) (flow.State, error) {
	const q = `SELECT state FROM interview_flows WHERE session_id = $1`

	var doc []byte
	if err := s.pool.QueryRow(ctx, q, sessionID).Scan(&doc); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return flow.State{}, flow.ErrNotFound
		}
		return flow.State{}, fmt.Errorf("flow store: get %q: %w", sessionID, err)
	}

	var state flow.State
	if err := json.Unmarshal(doc, &state); err != nil {
		return flow.State{}, fmt.Errorf("flow store: decode %q: %w", sessionID, err)
	}
	return state, nil
}

// Delete implements [flow.Store.Delete]. Asked-question vectors for the
// session are removed alongside the state document.
func (s *FlowStore) Delete(ctx context.Context, sessionID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM interview_flows WHERE session_id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("flow store: delete %q: %w", sessionID, err)
	}
	if tag.RowsAffected() == 0 {
		return flow.ErrNotFound
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM asked_questions WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("flow store: delete questions for %q: %w", sessionID, err)
	}
	return nil
}
