package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

// StreamMessage is one entry read from a Redis stream
type StreamMessage struct {
	Stream string
	ID     string
	Values map[string]interface{}
}

// PublishJSONToStream marshals data and appends it to stream under the "data" field.
// maxLen > 0 trims the stream approximately to that length.
func PublishJSONToStream(ctx context.Context, client *redis.Client, stream string, data interface{}, maxLen int64) (string, error) {
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return "", err
	}

	args := &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{
			"data":      string(jsonBytes),
			"timestamp": time.Now().Unix(),
		},
	}
	if maxLen > 0 {
		args.MaxLen = maxLen
		args.Approx = true
	}
	return client.XAdd(ctx, args).Result()
}

// ReadStreamAfter reads entries newer than lastID with XREAD, blocking up to block.
// Every reader sees every entry, unlike a consumer group.
// A timeout returns an empty slice and no error.
func ReadStreamAfter(ctx context.Context, client *redis.Client, stream, lastID string, count int64, block time.Duration) ([]StreamMessage, error) {
	streams, err := client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{stream, lastID},
		Count:   count,
		Block:   block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []StreamMessage{}, nil
		}
		return nil, err
	}

	var messages []StreamMessage
	for _, s := range streams {
		for _, msg := range s.Messages {
			messages = append(messages, StreamMessage{
				Stream: s.Stream,
				ID:     msg.ID,
				Values: msg.Values,
			})
		}
	}
	return messages, nil
}
