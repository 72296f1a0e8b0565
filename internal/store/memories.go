package store

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Memory is a durable note an agent has asked to keep across sessions.
type Memory struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agent_id"`
	Note      string    `json:"note"`
	CreatedAt time.Time `json:"created_at"`
}

// AddMemory stores one note for an agent.
func (s *Store) AddMemory(ctx context.Context, agentID, note string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO memories (id, agent_id, note)
		VALUES (gen_random_uuid(), $1, $2)`,
		agentID, note,
	)
	if err != nil {
		return fmt.Errorf("add memory: %w", err)
	}
	return nil
}

// RecentMemories returns the latest notes for an agent, newest first.
func (s *Store) RecentMemories(ctx context.Context, agentID string, limit int) ([]Memory, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, agent_id, note, created_at
		FROM memories
		WHERE agent_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent memories: %w", err)
	}
	defer rows.Close()

	var out []Memory
	for rows.Next() {
		var m Memory
		if err := rows.Scan(&m.ID, &m.AgentID, &m.Note, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		out = append(out, m)
	}
	return out, nil
}

// PromptContext assembles strategy and memory records into a text block
// prepended to heartbeat prompts. The orchestration layer treats the
// result as an opaque string.
func (s *Store) PromptContext(ctx context.Context, agentID string) string {
	var b strings.Builder

	if st, err := s.LatestStrategy(ctx, agentID); err == nil && st != nil {
		b.WriteString("Current strategy: ")
		b.WriteString(st.Summary)
		b.WriteString("\n")
	}

	if notes, err := s.RecentMemories(ctx, agentID, 5); err == nil && len(notes) > 0 {
		b.WriteString("Recent notes:\n")
		for _, m := range notes {
			b.WriteString("- ")
			b.WriteString(m.Note)
			b.WriteString("\n")
		}
	}
	return b.String()
}
