package deadletter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/neurostream-systems/neurostream/internal/model"
)

const defaultRedisKey = "neurostream:deadletter"

// RedisSink keeps dead-lettered envelopes in a capped Redis list so
// multiple ingest instances share one inspection point.
type RedisSink struct {
	client *redis.Client
	key    string
	maxLen int64
}

// NewRedisSink connects to Redis and verifies the connection. maxLen
// caps the list length; zero means 10000.
func NewRedisSink(redisURL, key string, maxLen int64) (*RedisSink, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return NewRedisSinkFromClient(client, key, maxLen), nil
}

// NewRedisSinkFromClient wraps an existing connection.
func NewRedisSinkFromClient(client *redis.Client, key string, maxLen int64) *RedisSink {
	if key == "" {
		key = defaultRedisKey
	}
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &RedisSink{client: client, key: key, maxLen: maxLen}
}

// Write pushes one entry and trims the list to its cap.
func (s *RedisSink) Write(ctx context.Context, env *model.DispatchEnvelope, reason string) error {
	entry := Entry{
		Timestamp: time.Now().UTC(),
		Reason:    reason,
		Envelope:  env,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal deadletter entry: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.LPush(ctx, s.key, data)
	pipe.LTrim(ctx, s.key, 0, s.maxLen-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("push deadletter entry: %w", err)
	}
	return nil
}

// List returns up to limit entries, newest first.
func (s *RedisSink) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	raw, err := s.client.LRange(ctx, s.key, 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("read deadletter list: %w", err)
	}

	entries := make([]Entry, 0, len(raw))
	for _, item := range raw {
		var entry Entry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Len reports the current list length.
func (s *RedisSink) Len(ctx context.Context) (int64, error) {
	return s.client.LLen(ctx, s.key).Result()
}

// Close releases the Redis connection.
func (s *RedisSink) Close() error {
	return s.client.Close()
}
