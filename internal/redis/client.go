package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Options configures the client shared by the client locker and the run
// guard. Timeout applies to reads and writes.
type Options struct {
	Addr        string
	Username    string
	Password    string
	DB          int
	PoolSize    int
	Timeout     time.Duration
	DialTimeout time.Duration
}

func (o Options) redisOptions() *redis.Options {
	timeout := o.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	dial := o.DialTimeout
	if dial <= 0 {
		dial = 5 * time.Second
	}
	poolSize := o.PoolSize
	if poolSize <= 0 {
		poolSize = 10
	}
	return &redis.Options{
		Addr:         o.Addr,
		Username:     o.Username,
		Password:     o.Password,
		DB:           o.DB,
		ClientName:   "calsync",
		DialTimeout:  dial,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
		PoolSize:     poolSize,
		MinIdleConns: 1,
	}
}

func NewRedisClient(ctx context.Context, opts Options) (*redis.Client, error) {
	ro := opts.redisOptions()
	rdb := redis.NewClient(ro)

	pingCtx, cancel := context.WithTimeout(ctx, ro.DialTimeout)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}

	return rdb, nil
}
