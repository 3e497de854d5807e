package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisOpTimeout        = 3 * time.Second
	redisMaxUpdateRetries = 8
)

// RedisMedium keeps each collection under a plain string key.
type RedisMedium struct {
	client *redis.Client
}

// NewRedisMedium builds a Redis-backed medium.
func NewRedisMedium(addr, password string) *RedisMedium {
	return &RedisMedium{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		}),
	}
}

func (r *RedisMedium) Init(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}
	return nil
}

func (r *RedisMedium) Get(ctx context.Context, key string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()
	val, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get %s: %w", key, err)
	}
	return val, nil
}

func (r *RedisMedium) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()
	if err := r.client.Del(ctx, key).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Update runs an optimistic WATCH/MULTI cycle, retrying when another writer wins.
func (r *RedisMedium) Update(ctx context.Context, key string, fn func(string, bool) (string, error)) error {
	txf := func(ctx context.Context) func(tx *redis.Tx) error {
		return func(tx *redis.Tx) error {
			return r.apply(ctx, tx, key, fn)
		}
	}

	for i := 0; i < redisMaxUpdateRetries; i++ {
		opCtx, cancel := context.WithTimeout(ctx, redisOpTimeout)
		err := r.client.Watch(opCtx, txf(opCtx), key)
		cancel()
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to update %s: %w", key, err)
		}
		return nil
	}
	return fmt.Errorf("failed to update %s: too much contention", key)
}

func (r *RedisMedium) apply(ctx context.Context, tx *redis.Tx, key string, fn func(string, bool) (string, error)) error {
	current, err := tx.Get(ctx, key).Result()
	exists := true
	if err == redis.Nil {
		exists = false
	} else if err != nil {
		return err
	}
	next, err := fn(current, exists)
	if err != nil {
		return err
	}
	_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, next, 0)
		return nil
	})
	return err
}

func (r *RedisMedium) Close() error {
	return r.client.Close()
}
