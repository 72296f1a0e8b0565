package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Strategy is the current trading posture an agent maintains between
// invocations. Only the latest row per agent matters for prompts.
type Strategy struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agent_id"`
	Summary   string    `json:"summary"`
	Detail    string    `json:"detail"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SaveStrategy upserts an agent's current strategy.
func (s *Store) SaveStrategy(ctx context.Context, st *Strategy) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO strategies (id, agent_id, summary, detail, updated_at)
		VALUES (gen_random_uuid(), $1, $2, $3, now())
		ON CONFLICT (agent_id) DO UPDATE SET
			summary = EXCLUDED.summary,
			detail = EXCLUDED.detail,
			updated_at = now()`,
		st.AgentID, st.Summary, st.Detail,
	)
	if err != nil {
		return fmt.Errorf("save strategy %s: %w", st.AgentID, err)
	}
	return nil
}

// LatestStrategy returns the agent's current strategy, or nil if none.
func (s *Store) LatestStrategy(ctx context.Context, agentID string) (*Strategy, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, agent_id, summary, detail, updated_at
		FROM strategies WHERE agent_id = $1`, agentID)

	var st Strategy
	err := row.Scan(&st.ID, &st.AgentID, &st.Summary, &st.Detail, &st.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest strategy %s: %w", agentID, err)
	}
	return &st, nil
}
