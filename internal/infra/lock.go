package infra

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// AccountLocker 特权账号级互斥锁，保护“查询活跃会话 + 创建会话”的原子性
type AccountLocker interface {
	Lock(ctx context.Context, account string) (unlock func(), err error)
}

// LocalLocker 进程内按账号加锁
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*accountLock
}

type accountLock struct {
	ch   chan struct{}
	refs int
}

// NewLocalLocker 创建进程内账号锁
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*accountLock)}
}

// Lock 获取账号锁，ctx 取消时放弃等待
func (l *LocalLocker) Lock(ctx context.Context, account string) (func(), error) {
	l.mu.Lock()
	al, ok := l.locks[account]
	if !ok {
		al = &accountLock{ch: make(chan struct{}, 1)}
		l.locks[account] = al
	}
	al.refs++
	l.mu.Unlock()

	select {
	case al.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(account, al)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-al.ch
			l.release(account, al)
		})
	}, nil
}

func (l *LocalLocker) release(account string, al *accountLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	al.refs--
	if al.refs == 0 {
		delete(l.locks, account)
	}
}

// ErrLockTimeout 等待分布式锁超时
var ErrLockTimeout = errors.New("获取账号锁超时")

// 仅当 value 匹配时删除，防止误删其他实例持有的锁
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisLocker 基于 SET NX PX 的跨实例账号锁
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	wait   time.Duration
	retry  time.Duration
}

// RedisLockerOption 配置项
type RedisLockerOption func(*RedisLocker)

// WithLockTTL 锁自动过期时间
func WithLockTTL(ttl time.Duration) RedisLockerOption {
	return func(l *RedisLocker) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// WithLockWait 最长等待时间
func WithLockWait(wait time.Duration) RedisLockerOption {
	return func(l *RedisLocker) {
		if wait > 0 {
			l.wait = wait
		}
	}
}

// NewRedisLocker 创建分布式账号锁
func NewRedisLocker(client redis.UniversalClient, opts ...RedisLockerOption) *RedisLocker {
	l := &RedisLocker{
		client: client,
		prefix: "firefighter:account-lock:",
		ttl:    30 * time.Second,
		wait:   10 * time.Second,
		retry:  50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Lock 获取账号锁
func (l *RedisLocker) Lock(ctx context.Context, account string) (func(), error) {
	key := l.prefix + account
	token := uuid.NewString()
	deadline := time.Now().Add(l.wait)

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("获取账号锁失败: %w", err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return nil, ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retry):
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// 释放时不使用调用方 ctx，避免请求取消后锁残留到 TTL
			releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = releaseScript.Run(releaseCtx, l.client, []string{key}, token).Err()
		})
	}, nil
}
