package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// Redis implements Store on a shared Redis instance. All keys carry the
// configured prefix so several deployments can share one instance.
type Redis struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedis connects to Redis and verifies it is reachable. An unreachable
// store is fatal for the caller: the coordinator cannot start without it.
func NewRedis(ctx context.Context, opts *redis.Options, keyPrefix string) (*Redis, error) {
	client := redis.NewClient(opts)
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("store: redis unreachable at %s: %w", opts.Addr, err)
	}
	return &Redis{client: client, keyPrefix: keyPrefix}, nil
}

func (r *Redis) key(k string) string { return r.keyPrefix + k }

func (r *Redis) Set(ctx context.Context, key, value string) error {
	if err := r.client.Set(ctx, r.key(key), value, EntryTTL).Err(); err != nil {
		return fmt.Errorf("store: set %s: %w", key, err)
	}
	return nil
}

func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, r.key(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("store: get %s: %w", key, err)
	}
	return val, nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("store: delete %s: %w", key, err)
	}
	return nil
}

func (r *Redis) SetObject(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("store: marshal %s: %w", key, err)
	}
	return r.Set(ctx, key, string(data))
}

func (r *Redis) GetObject(ctx context.Context, key string, out any) error {
	val, err := r.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(val), out); err != nil {
		return fmt.Errorf("store: unmarshal %s: %w", key, err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (r *Redis) Close() error { return r.client.Close() }
