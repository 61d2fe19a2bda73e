package utils

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisConfig controls redis client behavior.
type RedisConfig struct {
	Addr string

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	PoolSize        int
	MinIdleConns    int
	PoolTimeout     time.Duration
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration

	PingTimeout time.Duration
}

func (c RedisConfig) withDefaults() RedisConfig {
	out := c
	if out.DialTimeout <= 0 {
		out.DialTimeout = 3 * time.Second
	}
	if out.ReadTimeout <= 0 {
		out.ReadTimeout = 2 * time.Second
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = 2 * time.Second
	}
	if out.PoolSize <= 0 {
		out.PoolSize = 20
	}
	if out.MinIdleConns < 0 {
		out.MinIdleConns = 0
	}
	if out.PoolTimeout <= 0 {
		out.PoolTimeout = 4 * time.Second
	}
	if out.ConnMaxIdleTime <= 0 {
		out.ConnMaxIdleTime = 5 * time.Minute
	}
	if out.ConnMaxLifetime <= 0 {
		out.ConnMaxLifetime = 30 * time.Minute
	}
	if out.PingTimeout <= 0 {
		out.PingTimeout = 2 * time.Second
	}
	return out
}

// OpenRedis initializes a Redis client and validates connectivity via PING.
func OpenRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	cfg = cfg.withDefaults()
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:            cfg.Addr,
		DialTimeout:     cfg.DialTimeout,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		PoolSize:        cfg.PoolSize,
		MinIdleConns:    cfg.MinIdleConns,
		PoolTimeout:     cfg.PoolTimeout,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

// ErrLockTimeout is returned when a keyed lock could not be taken in time.
var ErrLockTimeout = errors.New("redis lock: timed out waiting for key")

var lockAcquireScript = redis.NewScript(`
-- KEYS[1] = lock key
-- ARGV[1] = holder token
-- ARGV[2] = ttl_ms (int)
-- Returns 1 if acquired, 0 if another holder has the key.
if redis.call('SET', KEYS[1], ARGV[1], 'NX', 'PX', ARGV[2]) then
  return 1
end
return 0
`)

var lockReleaseScript = redis.NewScript(`
-- KEYS[1] = lock key
-- ARGV[1] = holder token
-- Deletes the key only while it still belongs to the caller.
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// KeyedLock serializes work per key across processes. Each acquisition stores
// a random holder token; release deletes the key only if the token still
// matches, so a holder whose TTL lapsed cannot free a successor's lock.
type KeyedLock struct {
	rdb    redis.Scripter
	prefix string
	ttl    time.Duration
	wait   time.Duration
	poll   time.Duration
	token  func() string
}

func NewKeyedLock(rdb redis.Scripter, prefix string, ttl, wait time.Duration) (*KeyedLock, error) {
	if rdb == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("ttl must be > 0")
	}
	if wait < 0 {
		return nil, fmt.Errorf("wait must be >= 0")
	}
	return &KeyedLock{rdb: rdb, prefix: prefix, ttl: ttl, wait: wait, poll: 50 * time.Millisecond, token: uuid.NewString}, nil
}

// Lock blocks until key is held, wait elapses or ctx ends. The returned
// function releases the key.
func (l *KeyedLock) Lock(ctx context.Context, key string) (func(), error) {
	if key == "" {
		return nil, fmt.Errorf("key is required")
	}
	full := l.prefix + key
	token := l.token()
	deadline := time.Now().Add(l.wait)
	for {
		ok, err := lockAcquireScript.Run(ctx, l.rdb, []string{full}, token, l.ttl.Milliseconds()).Int()
		if err != nil {
			return nil, fmt.Errorf("redis lock acquire: %w", err)
		}
		if ok == 1 {
			return func() {
				// Release on a fresh context so a cancelled request still frees the key.
				relCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				_, _ = lockReleaseScript.Run(relCtx, l.rdb, []string{full}, token).Result()
			}, nil
		}
		if !time.Now().Before(deadline) {
			return nil, ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.poll):
		}
	}
}
