// Package redisqueue is the Redis-backed play-queue store. Each device's
// queue lives under a single JSON value, so every mutation is one GET plus
// one SET; a device's traffic is serialized by its session, which keeps the
// read-modify-write safe in practice.
package redisqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/voxleaf/voxleaf/pkg/playqueue"
)

const keyPrefix = "voxleaf:queue:"

// queueTTL expires abandoned queues.
const queueTTL = 7 * 24 * time.Hour

// Store is the Redis implementation of [playqueue.Store].
type Store struct {
	client *redis.Client
}

var _ playqueue.Store = (*Store)(nil)

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
		return nil, fmt.Errorf("redisqueue: connect: %w", err)
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

func (s *Store) load(ctx context.Context, deviceID string) (*playqueue.State, error) {
	raw, err := s.client.Get(ctx, key(deviceID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return playqueue.NewState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("redisqueue: get: %w", err)
	}
	st := playqueue.NewState()
	if err := json.Unmarshal(raw, st); err != nil {
		return nil, fmt.Errorf("redisqueue: decode state: %w", err)
	}
	return st, nil
}

func (s *Store) save(ctx context.Context, deviceID string, st *playqueue.State) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("redisqueue: encode state: %w", err)
	}
	if err := s.client.Set(ctx, key(deviceID), raw, queueTTL).Err(); err != nil {
		return fmt.Errorf("redisqueue: set: %w", err)
	}
	return nil
}

// mutate applies fn to the loaded state and persists the result.
func (s *Store) mutate(ctx context.Context, deviceID string, fn func(*playqueue.State) error) error {
	st, err := s.load(ctx, deviceID)
	if err != nil {
		return err
	}
	if err := fn(st); err != nil {
		return err
	}
	return s.save(ctx, deviceID, st)
}

func (s *Store) SetMode(ctx context.Context, deviceID string, mode playqueue.Mode) error {
	return s.mutate(ctx, deviceID, func(st *playqueue.State) error {
		st.Mode = mode
		return nil
	})
}

func (s *Store) GetMode(ctx context.Context, deviceID string) (playqueue.Mode, error) {
	st, err := s.load(ctx, deviceID)
	if err != nil {
		return "", err
	}
	return st.Mode, nil
}

func (s *Store) SetQueue(ctx context.Context, deviceID string, ids []int64, startIndex int) error {
	return s.mutate(ctx, deviceID, func(st *playqueue.State) error {
		st.IDs = append([]int64(nil), ids...)
		st.Index = startIndex
		return nil
	})
}

func (s *Store) AddToQueue(ctx context.Context, deviceID string, ids []int64) error {
	return s.mutate(ctx, deviceID, func(st *playqueue.State) error {
		st.IDs = append(st.IDs, ids...)
		return nil
	})
}

func (s *Store) GetNext(ctx context.Context, deviceID string, wrap bool) (int64, error) {
	var id int64
	err := s.mutate(ctx, deviceID, func(st *playqueue.State) error {
		var err error
		id, err = st.Next(wrap)
		return err
	})
	return id, err
}

func (s *Store) GetPrevious(ctx context.Context, deviceID string, wrap bool) (int64, error) {
	var id int64
	err := s.mutate(ctx, deviceID, func(st *playqueue.State) error {
		var err error
		id, err = st.Previous(wrap)
		return err
	})
	return id, err
}

func (s *Store) ClearQueue(ctx context.Context, deviceID string) error {
	if err := s.client.Del(ctx, key(deviceID)).Err(); err != nil {
		return fmt.Errorf("redisqueue: del: %w", err)
	}
	return nil
}

func (s *Store) GetQueue(ctx context.Context, deviceID string) ([]int64, error) {
	st, err := s.load(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	return st.IDs, nil
}

func (s *Store) Index(ctx context.Context, deviceID string) (int, error) {
	st, err := s.load(ctx, deviceID)
	if err != nil {
		return 0, err
	}
	return st.Index, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
