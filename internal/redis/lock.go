package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/hackgods/calendar-sync/internal/lock"
	"github.com/redis/go-redis/v9"
)

type redisClientLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
}

// NewRedisClientLocker creates a locker that uses a per client Redis key.
// Acquisition is retried with backoff for up to wait.
func NewRedisClientLocker(client *redis.Client, ttl, wait time.Duration) lock.ClientLocker {
	return &redisClientLocker{
		client: client,
		ttl:    ttl,
		wait:   wait,
	}
}

func (l *redisClientLocker) WithClientLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	lockKey := fmt.Sprintf("lock:client:%s", key)
	token := uuid.NewString()

	if err := l.acquire(ctx, lockKey, token); err != nil {
		return err
	}

	defer func() {
		// release even when ctx was cancelled mid-section
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		_ = l.release(releaseCtx, lockKey, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

func (l *redisClientLocker) acquire(ctx context.Context, key, token string) error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = 25 * time.Millisecond
	exp.MaxInterval = 500 * time.Millisecond
	exp.MaxElapsedTime = l.wait
	if exp.MaxElapsedTime <= 0 {
		exp.MaxElapsedTime = l.ttl
	}

	err := backoff.Retry(func() error {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return backoff.Permanent(fmt.Errorf("acquire client lock: %w", err))
		}
		if !ok {
			return lock.ErrLockNotAcquired
		}
		return nil
	}, backoff.WithContext(exp, ctx))
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisClientLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release client lock: %w", err)
	}
	return nil
}
