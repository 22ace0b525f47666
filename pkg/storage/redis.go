package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "autoforecast:snapshot:"

// RedisStore keeps snapshots as JSON strings in Redis so several forecaster
// replicas can share them.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects to addr. A zero ttl stores snapshots without expiry.
func NewRedisStore(addr, password string, db int, ttl time.Duration) (*RedisStore, error) {
	if addr == "" {
		return nil, errors.New("redis address is empty")
	}
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	return &RedisStore{client: client, ttl: ttl}, nil
}

func redisKey(workload string) string {
	return redisKeyPrefix + workload
}

func (r *RedisStore) Put(ctx context.Context, s Snapshot) error {
	if s.Workload == "" {
		return ErrEmptyWorkload
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := r.client.Set(ctx, redisKey(s.Workload), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", s.Workload, err)
	}
	return nil
}

func (r *RedisStore) GetLatest(ctx context.Context, workload string) (Snapshot, bool, error) {
	data, err := r.client.Get(ctx, redisKey(workload)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("redis get %s: %w", workload, err)
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return Snapshot{}, false, fmt.Errorf("unmarshal snapshot %s: %w", workload, err)
	}
	return s, true, nil
}

// Ping checks the connection.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
