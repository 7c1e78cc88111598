package changefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	rediscommon "irepair-admin/common/redis"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// DefaultStream is the Redis stream changes are written to
const DefaultStream = "docstore:changes"

// RedisStream publishes changes with XADD and replays every entry written
// after Start into the hub. Each process reads the whole stream.
type RedisStream struct {
	client    *redis.Client
	hub       *Hub
	logger    *zap.Logger
	stream    string
	maxLen    int64
	batchSize int64
	block     time.Duration
}

func NewRedisStream(client *redis.Client, hub *Hub, logger *zap.Logger, stream string) *RedisStream {
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisStream{
		client:    client,
		hub:       hub,
		logger:    logger,
		stream:    stream,
		maxLen:    10000,
		batchSize: 100,
		block:     2 * time.Second,
	}
}

func (r *RedisStream) Publish(ctx context.Context, c Change) error {
	if _, err := rediscommon.PublishJSONToStream(ctx, r.client, r.stream, c, r.maxLen); err != nil {
		return fmt.Errorf("failed to publish change to %s: %w", r.stream, err)
	}
	return nil
}

// Start reads the stream until ctx is done. Read errors back off
// exponentially from 1s up to 30s.
func (r *RedisStream) Start(ctx context.Context) error {
	lastID := ""
	backoffDuration := time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		var err error
		if lastID == "" {
			lastID, err = r.tailID(ctx)
			if err == nil {
				r.logger.Info("Change feed reader started",
					zap.String("stream", r.stream),
					zap.String("after", lastID),
				)
			}
		}
		if err == nil {
			lastID, err = r.readOnce(ctx, lastID)
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.logger.Error("Failed to read change feed",
				zap.Error(err),
				zap.Duration("backoff", backoffDuration),
			)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoffDuration):
				backoffDuration *= 2
				if backoffDuration > maxBackoff {
					backoffDuration = maxBackoff
				}
			}
			continue
		}
		backoffDuration = time.Second
	}
}

// tailID is the id of the newest entry, or 0-0 for an empty stream
func (r *RedisStream) tailID(ctx context.Context) (string, error) {
	msgs, err := r.client.XRevRangeN(ctx, r.stream, "+", "-", 1).Result()
	if err != nil {
		return "", fmt.Errorf("failed to read stream tail: %w", err)
	}
	if len(msgs) == 0 {
		return "0-0", nil
	}
	return msgs[0].ID, nil
}

// readOnce dispatches one batch and returns the id to continue after
func (r *RedisStream) readOnce(ctx context.Context, lastID string) (string, error) {
	messages, err := rediscommon.ReadStreamAfter(ctx, r.client, r.stream, lastID, r.batchSize, r.block)
	if err != nil {
		return lastID, fmt.Errorf("failed to read from stream: %w", err)
	}
	for _, msg := range messages {
		lastID = msg.ID
		c, err := parseStreamChange(msg)
		if err != nil {
			r.logger.Warn("Skipping malformed change",
				zap.String("message_id", msg.ID),
				zap.Error(err),
			)
			continue
		}
		r.hub.Dispatch(c)
	}
	return lastID, nil
}

func parseStreamChange(msg rediscommon.StreamMessage) (Change, error) {
	raw, ok := msg.Values["data"].(string)
	if !ok {
		return Change{}, errors.New("missing data field")
	}
	var c Change
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return Change{}, fmt.Errorf("failed to unmarshal change: %w", err)
	}
	if c.Collection == "" {
		return Change{}, errors.New("change without collection")
	}
	return c, nil
}
