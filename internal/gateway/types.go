package gateway

import (
	"context"
	"time"
)

// InboundMessage is a chat message received from a platform, normalized
// before it is enqueued for the processor.
type InboundMessage struct {
	Platform  string
	ChannelID string
	UserID    string
	UserName  string
	Content   string
	Timestamp time.Time
	ReplyTo   string
}

// OutboundMessage is an agent response on its way back to a platform.
type OutboundMessage struct {
	Platform  string
	ChannelID string
	AgentID   string
	Content   string
	ReplyTo   string
}

// MessageHandler receives inbound messages from an adapter.
type MessageHandler func(*InboundMessage)

// AdapterStatus reports an adapter's connection state for the API.
type AdapterStatus struct {
	Platform    string     `json:"platform"`
	Connected   bool       `json:"connected"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
	Error       string     `json:"error,omitempty"`
	Details     string     `json:"details,omitempty"`
}

// Adapter is a chat platform connection. Implementations deliver inbound
// messages to the registered handler and post outbound messages back.
type Adapter interface {
	Platform() string
	Connect(ctx context.Context) error
	OnMessage(h MessageHandler)
	Send(ctx context.Context, msg *OutboundMessage) error
	Status() AdapterStatus
	Close() error
}
