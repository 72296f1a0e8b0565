package event

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const streamKey = "tinyclaw:events"

// Stream mirrors emitted events onto a Redis stream so dashboards can
// XREAD instead of polling the events directory. File emission is the
// durable record; the stream is best-effort.
type Stream struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// NewStream connects to Redis and verifies the connection.
func NewStream(redisURL string, logger *zap.Logger) (*Stream, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Stream{rdb: rdb, logger: logger}, nil
}

// Publish appends one event to the stream.
func (s *Stream) Publish(ev Event, data []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey,
		MaxLen: 10000,
		Approx: true,
		Values: map[string]interface{}{
			"type": string(ev.Type),
			"data": string(data),
		},
	}).Err()
	if err != nil {
		s.logger.Debug("event stream publish failed",
			zap.String("type", string(ev.Type)), zap.Error(err))
	}
}

// Subscribe tails the stream from now on. Cancel the context to stop;
// the returned channel closes when the reader exits.
func (s *Stream) Subscribe(ctx context.Context) <-chan json.RawMessage {
	ch := make(chan json.RawMessage, 16)

	go func() {
		defer close(ch)
		lastID := "$"

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			results, err := s.rdb.XRead(ctx, &redis.XReadArgs{
				Streams: []string{streamKey, lastID},
				Count:   10,
				Block:   2 * time.Second,
			}).Result()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				continue
			}

			for _, r := range results {
				for _, msg := range r.Messages {
					lastID = msg.ID
					if data, ok := msg.Values["data"].(string); ok {
						ch <- json.RawMessage(data)
					}
				}
			}
		}
	}()

	return ch
}

// Close shuts down the Redis connection.
func (s *Stream) Close() error {
	return s.rdb.Close()
}
