package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a KV over a native Redis connection.
type Redis struct {
	client *redis.Client
}

// DialRedis parses a redis:// or rediss:// URL and checks the connection.
func DialRedis(ctx context.Context, url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Redis{client: client}, nil
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Get(ctx context.Context, key string) (Value, error) {
	s, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return Value{}, nil
	}
	if err != nil {
		return Value{}, redisErr(err)
	}
	return Present(s), nil
}

func (r *Redis) MGet(ctx context.Context, keys ...string) ([]Value, error) {
	if len(keys) == 0 {
		return []Value{}, nil
	}
	raw, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, redisErr(err)
	}
	out := make([]Value, len(keys))
	for i, v := range raw {
		if s, ok := v.(string); ok {
			out[i] = Present(s)
		}
	}
	return out, nil
}

func (r *Redis) Set(ctx context.Context, key, value string) error {
	return redisErr(r.client.Set(ctx, key, value, 0).Err())
}

func (r *Redis) SetEX(ctx context.Context, key, value string, ttl time.Duration) error {
	return redisErr(r.client.Set(ctx, key, value, time.Duration(ttlSeconds(ttl))*time.Second).Err())
}

func (r *Redis) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return redisErr(r.client.Expire(ctx, key, time.Duration(ttlSeconds(ttl))*time.Second).Err())
}

func (r *Redis) Incr(ctx context.Context, key string) (int64, error) {
	n, err := r.client.Incr(ctx, key).Result()
	return n, redisErr(err)
}

func (r *Redis) IncrBy(ctx context.Context, key string, by int64) (int64, error) {
	n, err := r.client.IncrBy(ctx, key, by).Result()
	return n, redisErr(err)
}

func (r *Redis) LPush(ctx context.Context, key string, values ...string) (int64, error) {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	n, err := r.client.LPush(ctx, key, args...).Result()
	return n, redisErr(err)
}

func (r *Redis) LTrim(ctx context.Context, key string, start, stop int64) error {
	return redisErr(r.client.LTrim(ctx, key, start, stop).Err())
}

func (r *Redis) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	out, err := r.client.LRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, redisErr(err)
	}
	return out, nil
}

func (r *Redis) Ping(ctx context.Context) error {
	return redisErr(r.client.Ping(ctx).Err())
}

func (r *Redis) Close() error {
	return r.client.Close()
}

// redisErr maps server replies onto the package's sentinel errors.
func redisErr(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.HasPrefix(msg, "WRONGTYPE"):
		return fmt.Errorf("%w: %s", ErrWrongType, msg)
	case strings.Contains(msg, "not an integer"):
		return fmt.Errorf("%w: %s", ErrNotInteger, msg)
	}
	return err
}
