package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Locker 按任务名互斥执行。acquired=false 表示锁被其他实例持有，本次不执行（不是错误）
type Locker interface {
	WithLock(ctx context.Context, name string, maxDuration time.Duration, fn func(ctx context.Context) error) (acquired bool, err error)
}

// 仅当 value 仍是自己的 token 时才删除，避免误删过期后被他人重新获取的锁
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// releaseTimeout 释放锁的超时时间；释放不使用任务 ctx，任务被取消时锁也要及时释放
const releaseTimeout = 5 * time.Second

// RedisLocker 基于 Redis SET NX PX 的集群锁
type RedisLocker struct {
	client    *redis.Client
	keyPrefix string
	logger    *zap.Logger
}

// NewRedisLocker 创建 Redis 锁
func NewRedisLocker(client *redis.Client, keyPrefix string, logger *zap.Logger) *RedisLocker {
	return &RedisLocker{
		client:    client,
		keyPrefix: keyPrefix,
		logger:    logger,
	}
}

var _ Locker = (*RedisLocker)(nil)

// WithLock 获取锁后执行 fn；锁在 maxDuration 后自动过期，持有者崩溃也不会永久阻塞
func (l *RedisLocker) WithLock(ctx context.Context, name string, maxDuration time.Duration, fn func(ctx context.Context) error) (bool, error) {
	if maxDuration <= 0 {
		return false, fmt.Errorf("lock %s: max duration must be positive", name)
	}

	key := l.keyPrefix + name
	token := uuid.New().String()

	ok, err := l.client.SetNX(ctx, key, token, maxDuration).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", name, err)
	}
	if !ok {
		l.logger.Debug("Lock held by another instance",
			zap.String("lock", name),
		)
		return false, nil
	}

	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()

		released, err := releaseScript.Run(releaseCtx, l.client, []string{key}, token).Int64()
		if err != nil {
			l.logger.Warn("Failed to release lock",
				zap.String("lock", name),
				zap.Error(err),
			)
			return
		}
		if released == 0 {
			// 执行时间超过 maxDuration，锁已过期
			l.logger.Warn("Lock expired before release",
				zap.String("lock", name),
				zap.Duration("max_duration", maxDuration),
			)
		}
	}()

	return true, fn(ctx)
}

// LocalLocker 进程内锁（Redis 不可用的单实例部署及测试使用）
type LocalLocker struct {
	mu      sync.Mutex
	held    map[string]time.Time
	nowFunc func() time.Time
}

// NewLocalLocker 创建进程内锁
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{
		held:    map[string]time.Time{},
		nowFunc: time.Now,
	}
}

var _ Locker = (*LocalLocker)(nil)

// WithLock 与 RedisLocker 语义一致：过期的锁视为已释放
func (l *LocalLocker) WithLock(ctx context.Context, name string, maxDuration time.Duration, fn func(ctx context.Context) error) (bool, error) {
	if maxDuration <= 0 {
		return false, fmt.Errorf("lock %s: max duration must be positive", name)
	}

	l.mu.Lock()
	now := l.nowFunc()
	if until, ok := l.held[name]; ok && now.Before(until) {
		l.mu.Unlock()
		return false, nil
	}
	until := now.Add(maxDuration)
	l.held[name] = until
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		if l.held[name].Equal(until) {
			delete(l.held, name)
		}
		l.mu.Unlock()
	}()

	return true, fn(ctx)
}
