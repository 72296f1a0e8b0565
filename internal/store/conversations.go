package store

import (
	"context"
	"fmt"
	"time"
)

// ConversationEntry is one logged exchange between a sender and an agent.
type ConversationEntry struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agent_id"`
	Channel   string    `json:"channel"`
	Sender    string    `json:"sender"`
	Role      string    `json:"role"` // "user" or "agent"
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// AppendConversation stores one exchange entry.
func (s *Store) AppendConversation(ctx context.Context, e *ConversationEntry) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO conversations (id, agent_id, channel, sender, role, content)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5)`,
		e.AgentID, e.Channel, e.Sender, e.Role, e.Content,
	)
	if err != nil {
		return fmt.Errorf("append conversation: %w", err)
	}
	return nil
}

// RecentConversations returns the latest entries for an agent, newest last.
func (s *Store) RecentConversations(ctx context.Context, agentID string, limit int) ([]ConversationEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, agent_id, channel, sender, role, content, created_at
		FROM (
			SELECT id, agent_id, channel, sender, role, content, created_at
			FROM conversations
			WHERE agent_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC`, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent conversations: %w", err)
	}
	defer rows.Close()

	var out []ConversationEntry
	for rows.Next() {
		var e ConversationEntry
		if err := rows.Scan(&e.ID, &e.AgentID, &e.Channel, &e.Sender, &e.Role, &e.Content, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}
