// Package redisconv is the Redis-backed conversation store. Histories live
// in per-device lists, trimmed to a fixed length and expired after a period
// of silence.
package redisconv

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/voxleaf/voxleaf/pkg/convstore"
)

const keyPrefix = "voxleaf:conv:"

// maxHistory bounds the stored turns per device.
const maxHistory = 20

// historyTTL expires conversations after a period of silence.
const historyTTL = 30 * time.Minute

// Store is the Redis implementation of [convstore.Store].
type Store struct {
	client *redis.Client
}

var _ convstore.Store = (*Store)(nil)

// Config holds Redis connection configuration.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redisconv: connect: %w", err)
	}
	return &Store{client: client}, nil
}

// NewWithClient wraps an existing client. Used in tests with miniredis.
func NewWithClient(client *redis.Client) *Store {
	return &Store{client: client}
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

func key(deviceID string) string { return keyPrefix + deviceID }

func (s *Store) Context(ctx context.Context, deviceID string, limit int) ([]convstore.Message, error) {
	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}
	raw, err := s.client.LRange(ctx, key(deviceID), start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redisconv: lrange: %w", err)
	}
	out := make([]convstore.Message, 0, len(raw))
	for _, item := range raw {
		var m convstore.Message
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			return nil, fmt.Errorf("redisconv: decode message: %w", err)
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *Store) Add(ctx context.Context, deviceID, role, content string) error {
	raw, err := json.Marshal(convstore.Message{Role: role, Content: content})
	if err != nil {
		return fmt.Errorf("redisconv: encode message: %w", err)
	}
	k := key(deviceID)
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, k, raw)
	pipe.LTrim(ctx, k, -maxHistory, -1)
	pipe.Expire(ctx, k, historyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redisconv: append: %w", err)
	}
	return nil
}

func (s *Store) Clear(ctx context.Context, deviceID string) error {
	if err := s.client.Del(ctx, key(deviceID)).Err(); err != nil {
		return fmt.Errorf("redisconv: del: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
