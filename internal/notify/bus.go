// Package notify broadcasts world change notifications over Redis Streams
// so observers (dashboards, bots, other services) can follow the
// simulation without polling the API.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nidhogg/vivarium/internal/engine"
)

const streamPrefix = "vivarium:world:"

// Bus publishes per-world change notifications to a Redis stream. It
// implements engine.Notifier.
type Bus struct {
	rdb    *redis.Client
	maxLen int64
	logger *zap.Logger
}

// NewBus connects to Redis. maxLen caps each world stream; zero keeps the
// default of 1024 entries.
func NewBus(redisURL string, maxLen int64, logger *zap.Logger) (*Bus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if maxLen <= 0 {
		maxLen = 1024
	}
	return &Bus{rdb: rdb, maxLen: maxLen, logger: logger}, nil
}

// PublishChange appends a notification to the world's stream.
func (b *Bus) PublishChange(ctx context.Context, n engine.ChangeNotification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}

	stream := streamPrefix + n.WorldID
	_, err = b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: b.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"data": string(data),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", stream, err)
	}

	b.logger.Debug("published change notification",
		zap.String("world", n.WorldID),
		zap.Uint64("version", n.Version))
	return nil
}

// Subscribe follows a world's change stream. Returns a channel that emits
// notifications. Cancel the context to stop.
func (b *Bus) Subscribe(ctx context.Context, worldID string) <-chan *engine.ChangeNotification {
	ch := make(chan *engine.ChangeNotification, 16)
	stream := streamPrefix + worldID

	go func() {
		defer close(ch)
		lastID := "$"

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			results, err := b.rdb.XRead(ctx, &redis.XReadArgs{
				Streams: []string{stream, lastID},
				Count:   10,
				Block:   time.Second * 2,
			}).Result()

			if err != nil {
				delay, done := readRetryDelay(err)
				if done {
					return
				}
				if delay > 0 {
					b.logger.Warn("stream read failed, retrying",
						zap.String("stream", stream), zap.Error(err))
					select {
					case <-ctx.Done():
						return
					case <-time.After(delay):
					}
				}
				continue
			}

			for _, r := range results {
				for _, msg := range r.Messages {
					lastID = msg.ID
					data, ok := msg.Values["data"].(string)
					if !ok {
						continue
					}
					var n engine.ChangeNotification
					if json.Unmarshal([]byte(data), &n) == nil {
						ch <- &n
					}
				}
			}
		}
	}()

	return ch
}

// readBackoff throttles retries when the stream read fails for a reason
// other than an empty block, so an unreachable Redis does not spin the
// subscriber loop.
const readBackoff = time.Second

// readRetryDelay classifies an XRead error: done ends the subscription,
// a zero delay reads again at once, a positive delay throttles the retry.
func readRetryDelay(err error) (time.Duration, bool) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return 0, true
	}
	if errors.Is(err, redis.Nil) {
		return 0, false // block timeout with no entries
	}
	return readBackoff, false
}

// Close shuts down the Redis connection.
func (b *Bus) Close() error {
	return b.rdb.Close()
}
