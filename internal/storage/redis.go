package storage

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds Redis connection details.
type RedisConfig struct {
	Addr     string // host:port
	Password string
	DB       int
}

// RedisBackend implements Backend over go-redis.
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend connects to redis and verifies the connection.
func NewRedisBackend(ctx context.Context, cfg RedisConfig) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &RedisBackend{client: client}, nil
}

func (r *RedisBackend) Get(ctx context.Context, key string) (string, error) {
	v, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	return v, err
}

func (r *RedisBackend) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.client.SetEx(ctx, key, value, ttl).Err()
}

func (r *RedisBackend) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	n, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if ttl > 0 {
		if err := r.client.Expire(ctx, key, ttl).Err(); err != nil {
			return n, err
		}
	}
	return n, nil
}

func (r *RedisBackend) HIncrBy(ctx context.Context, key, field string, n int64, ttl time.Duration) error {
	if err := r.client.HIncrBy(ctx, key, field, n).Err(); err != nil {
		return err
	}
	if ttl > 0 {
		return r.client.Expire(ctx, key, ttl).Err()
	}
	return nil
}

func (r *RedisBackend) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return r.client.HGetAll(ctx, key).Result()
}

func (r *RedisBackend) RPush(ctx context.Context, key string, ttl time.Duration, values ...string) error {
	args := make([]any, 0, len(values))
	for _, v := range values {
		args = append(args, v)
	}
	if err := r.client.RPush(ctx, key, args...).Err(); err != nil {
		return err
	}
	if ttl > 0 {
		return r.client.Expire(ctx, key, ttl).Err()
	}
	return nil
}

func (r *RedisBackend) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return r.client.LRange(ctx, key, start, stop).Result()
}

func (r *RedisBackend) ZAdd(ctx context.Context, key, member string, score float64, ttl time.Duration) error {
	if err := r.client.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err(); err != nil {
		return err
	}
	if ttl > 0 {
		return r.client.Expire(ctx, key, ttl).Err()
	}
	return nil
}

func (r *RedisBackend) Close() error {
	return r.client.Close()
}
