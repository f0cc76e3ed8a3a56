package utils

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig describes the single Redis the API shares across replicas.
// Zero fields fall back to withDefaults.
type RedisConfig struct {
	Addr string

	DialTimeout time.Duration
	// IOTimeout bounds both reads and writes.
	IOTimeout time.Duration

	PoolSize    int
	PoolTimeout time.Duration
	MaxConnAge  time.Duration

	PingTimeout    time.Duration
	StartupMaxWait time.Duration
}

func (c RedisConfig) withDefaults() RedisConfig {
	def := func(d *time.Duration, v time.Duration) {
		if *d <= 0 {
			*d = v
		}
	}
	def(&c.DialTimeout, 3*time.Second)
	def(&c.IOTimeout, 2*time.Second)
	def(&c.PoolTimeout, 4*time.Second)
	def(&c.MaxConnAge, 30*time.Minute)
	def(&c.PingTimeout, 2*time.Second)
	def(&c.StartupMaxWait, 15*time.Second)
	if c.PoolSize <= 0 {
		c.PoolSize = 20
	}
	return c
}

// OpenRedis connects and retries PING until the startup window closes.
func OpenRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis addr is required")
	}
	cfg = cfg.withDefaults()

	rdb := redis.NewClient(&redis.Options{
		Addr:            cfg.Addr,
		DialTimeout:     cfg.DialTimeout,
		ReadTimeout:     cfg.IOTimeout,
		WriteTimeout:    cfg.IOTimeout,
		PoolSize:        cfg.PoolSize,
		PoolTimeout:     cfg.PoolTimeout,
		ConnMaxLifetime: cfg.MaxConnAge,
	})

	ping := func() error {
		pctx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
		defer cancel()
		if err := rdb.Ping(pctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		return nil
	}
	if err := RetryStartup(ctx, "redis", cfg.StartupMaxWait, ping); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return rdb, nil
}

// capAcquire returns 1 when a slot was taken and 0 at the limit. The TTL is
// refreshed on every successful take so an active workspace never loses its
// counter mid-call; a crashed replica's slots expire with it.
var capAcquire = redis.NewScript(`
local n = tonumber(redis.call('GET', KEYS[1]) or '0')
if n >= tonumber(ARGV[1]) then
  return 0
end
redis.call('INCR', KEYS[1])
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return 1
`)

// capRelease never drives the counter below zero, so a release after the
// key expired is a no-op.
var capRelease = redis.NewScript(`
local n = tonumber(redis.call('GET', KEYS[1]) or '0')
if n <= 1 then
  redis.call('DEL', KEYS[1])
  return 0
end
return redis.call('DECR', KEYS[1])
`)

// CapLimiter bounds concurrent in-flight operations per id across replicas.
// The dialer keys it by workspace.
type CapLimiter struct {
	rdb    redis.Scripter
	prefix string
	limit  int
	ttl    time.Duration
}

func NewCapLimiter(rdb redis.Scripter, prefix string, limit int, ttl time.Duration) *CapLimiter {
	return &CapLimiter{rdb: rdb, prefix: prefix, limit: limit, ttl: ttl}
}

func (l *CapLimiter) Key(id string) string {
	return l.prefix + ":" + id
}

func (l *CapLimiter) check(id string) error {
	switch {
	case l.rdb == nil:
		return errors.New("cap limiter: redis client is nil")
	case id == "":
		return errors.New("cap limiter: id is required")
	case l.limit <= 0:
		return errors.New("cap limiter: limit must be > 0")
	case l.ttl <= 0:
		return errors.New("cap limiter: ttl must be > 0")
	}
	return nil
}

// Acquire reports whether a slot was taken for id.
func (l *CapLimiter) Acquire(ctx context.Context, id string) (bool, error) {
	if err := l.check(id); err != nil {
		return false, err
	}
	got, err := capAcquire.Run(ctx, l.rdb, []string{l.Key(id)}, l.limit, l.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("cap limiter acquire %s: %w", id, err)
	}
	return got == 1, nil
}

func (l *CapLimiter) Release(ctx context.Context, id string) error {
	if err := l.check(id); err != nil {
		return err
	}
	if err := capRelease.Run(ctx, l.rdb, []string{l.Key(id)}).Err(); err != nil {
		return fmt.Errorf("cap limiter release %s: %w", id, err)
	}
	return nil
}
