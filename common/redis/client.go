package redis

import (
	"context"
	"fmt"

	"casedata-engine/common/config"

	"github.com/go-redis/redis/v8"
)

// Client Redis客户端类型别名
type Client = redis.Client

// NewRedisClient 创建Redis客户端（不建立连接）
func NewRedisClient(cfg *config.RedisConfig) *redis.Client {
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	return redis.NewClient(opts)
}

// Connect 创建客户端并 ping；失败时关闭客户端并返回错误
func Connect(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	client := NewRedisClient(cfg)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to reach redis %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// Close 关闭Redis连接（允许 nil）
func Close(client *redis.Client) error {
	if client == nil {
		return nil
	}
	return client.Close()
}
