package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/equitra/swingscan-go/internal/config"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

var errNilRedisClient = errors.New("redis client is nil")

// ErrorRecoveryManager retries the initial connection probe against a
// Redis that is still coming up.
type ErrorRecoveryManager interface {
	ExecuteWithRetry(ctx context.Context, operationName string, operation func() error) error
}

// RedisClient wraps the go-redis client with nil-safe convenience
// operations for callers that may run before Redis is configured.
type RedisClient struct {
	Client *redis.Client
}

func NewRedisConnection(cfg config.RedisConfig) (*RedisClient, error) {
	return NewRedisConnectionWithRetry(cfg, nil)
}

// NewRedisConnectionWithRetry connects to Redis, retrying the initial
// ping under the manager's redis_connect policy when one is provided.
func NewRedisConnectionWithRetry(cfg config.RedisConfig, errorRecoveryManager ErrorRecoveryManager) (*RedisClient, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	ping := func() error { return rdb.Ping(ctx).Err() }

	var connectionErr error
	if errorRecoveryManager != nil {
		connectionErr = errorRecoveryManager.ExecuteWithRetry(ctx, "redis_connect", ping)
	} else {
		connectionErr = ping()
	}
	if connectionErr != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", connectionErr)
	}

	logrus.WithFields(logrus.Fields{
		"addr": addr,
		"db":   cfg.DB,
	}).Info("Connected to Redis")

	return &RedisClient{Client: rdb}, nil
}

// ready reports whether the underlying client is usable.
func (r *RedisClient) ready() error {
	if r.Client == nil {
		return errNilRedisClient
	}
	return nil
}

func (r *RedisClient) Close() {
	if r.Client == nil {
		return
	}
	if err := r.Client.Close(); err != nil {
		logrus.WithError(err).Warn("Redis connection close failed")
		return
	}
	logrus.Info("Redis connection closed")
}

func (r *RedisClient) HealthCheck(ctx context.Context) error {
	if err := r.ready(); err != nil {
		return err
	}
	return r.Client.Ping(ctx).Err()
}

func (r *RedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if err := r.ready(); err != nil {
		return err
	}
	return r.Client.Set(ctx, key, value, expiration).Err()
}

func (r *RedisClient) Get(ctx context.Context, key string) (string, error) {
	if err := r.ready(); err != nil {
		return "", err
	}
	return r.Client.Get(ctx, key).Result()
}

func (r *RedisClient) Delete(ctx context.Context, keys ...string) error {
	if err := r.ready(); err != nil {
		return err
	}
	return r.Client.Del(ctx, keys...).Err()
}

func (r *RedisClient) Exists(ctx context.Context, keys ...string) (int64, error) {
	if err := r.ready(); err != nil {
		return 0, err
	}
	return r.Client.Exists(ctx, keys...).Result()
}
