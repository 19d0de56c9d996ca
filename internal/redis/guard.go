package redisclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hackgods/calendar-sync/internal/lock"
	"github.com/redis/go-redis/v9"
)

const (
	auditKey   = "guard:audit"
	importsKey = "guard:imports"
)

// Running imports live in a sorted set scored by lease expiry, so a crashed
// importer stops blocking audits once its lease runs out.
var beginImportScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
redis.call("ZREMRANGEBYSCORE", KEYS[2], "-inf", ARGV[2])
redis.call("ZADD", KEYS[2], ARGV[3], ARGV[1])
return 1
`)

var beginAuditScript = redis.NewScript(`
redis.call("ZREMRANGEBYSCORE", KEYS[2], "-inf", ARGV[2])
if redis.call("ZCARD", KEYS[2]) > 0 then
  return 0
end
if redis.call("SET", KEYS[1], ARGV[1], "NX", "PX", ARGV[3]) then
  return 1
end
return 0
`)

var extendAuditScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

type redisRunGuard struct {
	client *redis.Client
	lease  time.Duration
	now    func() time.Time
}

// NewRedisRunGuard shares the import/audit exclusion across processes.
// Leases are renewed every lease/3 while a run is active.
func NewRedisRunGuard(client *redis.Client, lease time.Duration) lock.RunGuard {
	return &redisRunGuard{client: client, lease: lease, now: time.Now}
}

func (g *redisRunGuard) BeginImport(ctx context.Context) (func(), error) {
	token := uuid.NewString()
	now := g.now()

	ok, err := beginImportScript.Run(ctx, g.client, []string{auditKey, importsKey},
		token, now.UnixMilli(), now.Add(g.lease).UnixMilli()).Int()
	if err != nil {
		return nil, fmt.Errorf("begin import: %w", err)
	}
	if ok == 0 {
		return nil, lock.ErrGuardBusy
	}

	stop := g.heartbeat(func(ctx context.Context) error {
		return g.client.ZAddXX(ctx, importsKey, redis.Z{
			Score:  float64(g.now().Add(g.lease).UnixMilli()),
			Member: token,
		}).Err()
	})

	return g.releaser(stop, func(ctx context.Context) error {
		return g.client.ZRem(ctx, importsKey, token).Err()
	}), nil
}

func (g *redisRunGuard) BeginAudit(ctx context.Context) (func(), error) {
	token := uuid.NewString()
	now := g.now()

	ok, err := beginAuditScript.Run(ctx, g.client, []string{auditKey, importsKey},
		token, now.UnixMilli(), g.lease.Milliseconds()).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("begin audit: %w", err)
	}
	if ok == 0 {
		return nil, lock.ErrGuardBusy
	}

	stop := g.heartbeat(func(ctx context.Context) error {
		return extendAuditScript.Run(ctx, g.client, []string{auditKey}, token, g.lease.Milliseconds()).Err()
	})

	return g.releaser(stop, func(ctx context.Context) error {
		return unlockScript.Run(ctx, g.client, []string{auditKey}, token).Err()
	}), nil
}

func (g *redisRunGuard) heartbeat(renew func(ctx context.Context) error) func() {
	done := make(chan struct{})
	interval := g.lease / 3
	if interval <= 0 {
		interval = time.Second
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				_ = renew(ctx)
				cancel()
			}
		}
	}()

	return func() { close(done) }
}

func (g *redisRunGuard) releaser(stop func(), release func(ctx context.Context) error) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			stop()
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = release(ctx)
		})
	}
}
