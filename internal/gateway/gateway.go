package gateway

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Gateway owns the set of platform adapters and routes outbound messages
// to the adapter matching the target platform.
type Gateway struct {
	adapters map[string]Adapter
	mu       sync.RWMutex
	logger   *zap.Logger
}

func New(logger *zap.Logger) *Gateway {
	return &Gateway{
		adapters: make(map[string]Adapter),
		logger:   logger,
	}
}

// Register adds an adapter. Registering the same platform twice replaces
// the earlier adapter.
func (g *Gateway) Register(a Adapter) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.adapters[a.Platform()] = a
}

// ConnectAll connects every registered adapter. A failing adapter is
// logged and skipped so one bad token does not take down the rest.
func (g *Gateway) ConnectAll(ctx context.Context) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for platform, a := range g.adapters {
		if err := a.Connect(ctx); err != nil {
			g.logger.Error("gateway adapter connect failed",
				zap.String("platform", platform), zap.Error(err))
			continue
		}
		g.logger.Info("gateway adapter connected", zap.String("platform", platform))
	}
}

// Send routes an outbound message to its platform's adapter.
func (g *Gateway) Send(ctx context.Context, msg *OutboundMessage) error {
	g.mu.RLock()
	a, ok := g.adapters[msg.Platform]
	g.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no adapter for platform %q", msg.Platform)
	}
	return a.Send(ctx, msg)
}

// OnMessage registers the handler on every adapter.
func (g *Gateway) OnMessage(h MessageHandler) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, a := range g.adapters {
		a.OnMessage(h)
	}
}

// Statuses reports the connection state of every adapter.
func (g *Gateway) Statuses() []AdapterStatus {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]AdapterStatus, 0, len(g.adapters))
	for _, a := range g.adapters {
		out = append(out, a.Status())
	}
	return out
}

// Close shuts down all adapters.
func (g *Gateway) Close() {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for platform, a := range g.adapters {
		if err := a.Close(); err != nil {
			g.logger.Warn("gateway adapter close failed",
				zap.String("platform", platform), zap.Error(err))
		}
	}
}
