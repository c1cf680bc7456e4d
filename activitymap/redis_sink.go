package activitymap

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	auth "github.com/goliatone/go-campus-auth"
)

const (
	defaultRedisChannel = "campus:activity"
	defaultRedisList    = "campus:activity:recent"
	defaultRetention    = 1000
)

// RedisSink publishes normalized activity on a Redis channel and keeps a
// capped list of recent records for audit views
type RedisSink struct {
	client    *redis.Client
	channel   string
	listKey   string
	retention int64
	normalize []Option
}

var _ auth.ActivitySink = (*RedisSink)(nil)

// RedisSinkOption customizes a RedisSink
type RedisSinkOption func(*RedisSink)

// WithRedisChannel sets the pub/sub channel
func WithRedisChannel(channel string) RedisSinkOption {
	return func(s *RedisSink) {
		if channel != "" {
			s.channel = channel
		}
	}
}

// WithRedisList sets the recent activity list key
func WithRedisList(key string) RedisSinkOption {
	return func(s *RedisSink) {
		if key != "" {
			s.listKey = key
		}
	}
}

// WithRetention caps how many records the recent list keeps
func WithRetention(n int) RedisSinkOption {
	return func(s *RedisSink) {
		if n > 0 {
			s.retention = int64(n)
		}
	}
}

// WithNormalizeOptions forwards options to Normalize
func WithNormalizeOptions(opts ...Option) RedisSinkOption {
	return func(s *RedisSink) {
		s.normalize = append(s.normalize, opts...)
	}
}

// NewRedisSink wraps an existing client
func NewRedisSink(client *redis.Client, opts ...RedisSinkOption) *RedisSink {
	s := &RedisSink{
		client:    client,
		channel:   defaultRedisChannel,
		listKey:   defaultRedisList,
		retention: defaultRetention,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// DialRedisSink parses a redis URL, checks the connection and returns a sink
func DialRedisSink(ctx context.Context, redisURL string, opts ...RedisSinkOption) (*RedisSink, error) {
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	options.DialTimeout = 5 * time.Second
	options.ReadTimeout = 3 * time.Second
	options.WriteTimeout = 3 * time.Second

	client := redis.NewClient(options)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisSink(client, opts...), nil
}

// Record implements auth.ActivitySink.
func (s *RedisSink) Record(ctx context.Context, event auth.ActivityEvent) error {
	data, err := json.Marshal(Normalize(event, s.normalize...))
	if err != nil {
		return fmt.Errorf("failed to marshal activity: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, s.listKey, data)
		pipe.LTrim(ctx, s.listKey, 0, s.retention-1)
		pipe.Publish(ctx, s.channel, data)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis activity publish failed: %w", err)
	}
	return nil
}

// Recent returns up to limit records, newest first
func (s *RedisSink) Recent(ctx context.Context, limit int) ([]Normalized, error) {
	if limit <= 0 {
		limit = 50
	}

	items, err := s.client.LRange(ctx, s.listKey, 0, int64(limit-1)).Result()
	if err == redis.Nil {
		return []Normalized{}, nil
	} else if err != nil {
		return nil, fmt.Errorf("redis lrange failed: %w", err)
	}

	out := make([]Normalized, 0, len(items))
	for _, item := range items {
		var record Normalized
		if err := json.Unmarshal([]byte(item), &record); err != nil {
			continue
		}
		out = append(out, record)
	}
	return out, nil
}

// Close closes the underlying client
func (s *RedisSink) Close() error {
	return s.client.Close()
}
