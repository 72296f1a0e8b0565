package gateway

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/HelloWorldSungin/tinyclaw-trading/internal/queue"
)

const (
	defaultResponseWait = 10 * time.Minute
	responsePollEvery   = time.Second
)

// Bridge connects platform adapters to the work queue. Inbound chat
// messages become work items; when the processor writes the matching
// response, the bridge posts it back on the originating platform.
type Bridge struct {
	gw       *Gateway
	queue    *queue.Store
	wait     time.Duration
	pollWait time.Duration
	logger   *zap.Logger
}

func NewBridge(gw *Gateway, q *queue.Store, logger *zap.Logger) *Bridge {
	return &Bridge{
		gw:       gw,
		queue:    q,
		wait:     defaultResponseWait,
		pollWait: responsePollEvery,
		logger:   logger,
	}
}

// Start wires the bridge to every adapter already registered on the
// gateway and begins relaying messages.
func (b *Bridge) Start(ctx context.Context) {
	b.gw.OnMessage(func(msg *InboundMessage) {
		b.relay(ctx, msg)
	})
}

// relay enqueues the inbound message and waits for the response in a
// background goroutine so a slow agent never blocks the adapter's event
// loop.
func (b *Bridge) relay(ctx context.Context, msg *InboundMessage) {
	item := &queue.WorkItem{
		Channel:  channelKey(msg.Platform, msg.ChannelID),
		Sender:   msg.UserName,
		SenderID: msg.UserID,
		Message:  msg.Content,
	}
	id, err := b.queue.Enqueue(item)
	if err != nil {
		b.logger.Error("bridge enqueue failed",
			zap.String("platform", msg.Platform), zap.Error(err))
		return
	}
	go b.deliverResponse(ctx, msg, item.Channel, id)
}

func (b *Bridge) deliverResponse(ctx context.Context, msg *InboundMessage, channel, id string) {
	deadline := time.Now().Add(b.wait)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return
		case <-time.After(b.pollWait):
		}
		resp, ok := b.queue.CollectResponse(channel, id)
		if !ok {
			continue
		}
		out := &OutboundMessage{
			Platform:  msg.Platform,
			ChannelID: msg.ChannelID,
			AgentID:   resp.Sender,
			Content:   resp.Message,
			ReplyTo:   msg.ReplyTo,
		}
		if err := b.gw.Send(ctx, out); err != nil {
			b.logger.Error("bridge send failed",
				zap.String("platform", msg.Platform), zap.Error(err))
		}
		return
	}
	b.logger.Warn("no response before deadline",
		zap.String("platform", msg.Platform), zap.String("id", id))
}

// channelKey identifies a platform channel in queue filenames, e.g.
// "discord:1234567890".
func channelKey(platform, channelID string) string {
	return fmt.Sprintf("%s:%s", platform, channelID)
}
