// Package app wires configuration into the store, locks and pipeline
// components shared by every command.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/calendar-sync/internal/api"
	"github.com/hackgods/calendar-sync/internal/appointment"
	"github.com/hackgods/calendar-sync/internal/audit"
	"github.com/hackgods/calendar-sync/internal/config"
	"github.com/hackgods/calendar-sync/internal/db"
	"github.com/hackgods/calendar-sync/internal/extract"
	"github.com/hackgods/calendar-sync/internal/ics"
	"github.com/hackgods/calendar-sync/internal/importer"
	"github.com/hackgods/calendar-sync/internal/lock"
	"github.com/hackgods/calendar-sync/internal/reconcile"
	redisclient "github.com/hackgods/calendar-sync/internal/redis"
)

type Stack struct {
	Cfg    config.Config
	Log    zerolog.Logger
	Repo   appointment.Repository
	Locker lock.ClientLocker
	Guard  lock.RunGuard
	Redis  *redis.Client
	// Checks feed the readiness endpoint.
	Checks []api.Check

	closers []func()
}

// Build connects the configured store and lock backend. Close releases
// everything Build opened.
func Build(ctx context.Context, cfg config.Config, log zerolog.Logger) (*Stack, error) {
	s := &Stack{Cfg: cfg, Log: log}

	repo, err := s.openStore(ctx)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Repo = appointment.NewRetryingRepository(repo, appointment.RetryPolicy{
		Timeout:        cfg.StoreTimeout,
		MaxRetries:     cfg.StoreMaxRetries,
		InitialBackoff: cfg.StoreBackoff,
	}, log)

	if cfg.RedisAddr == "" {
		// openStore has set store-backed locks where the store is shared
		if s.Locker == nil {
			s.Locker = lock.NewKeyedMutex()
		}
		if s.Guard == nil {
			s.Guard = lock.NewLocalGuard()
		}
		log.Info().Str("store", cfg.StoreDriver).Msg("no redis configured, using store locks")
		return s, nil
	}

	rdb, err := redisclient.NewRedisClient(ctx, redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		PoolSize: cfg.RedisPoolSize,
		Timeout:  cfg.RedisTimeout,
	})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("redis connection: %w", err)
	}
	s.Redis = rdb
	s.closers = append(s.closers, func() {
		if err := rdb.Close(); err != nil {
			log.Warn().Err(err).Msg("error closing redis")
		}
	})
	s.Locker = redisclient.NewRedisClientLocker(rdb, cfg.LockTTL, cfg.LockWait)
	s.Guard = redisclient.NewRedisRunGuard(rdb, cfg.LockTTL)
	s.Checks = append(s.Checks, api.RedisCheck(rdb))
	log.Info().Str("addr", cfg.RedisAddr).Msg("connected to redis")

	return s, nil
}

func (s *Stack) openStore(ctx context.Context) (appointment.Repository, error) {
	switch s.Cfg.StoreDriver {
	case config.DriverPostgres:
		pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		pool, err := db.ConnectPostgres(pgCtx, db.PostgresOptions{
			DSN:             s.Cfg.PostgresDSN,
			AppName:         "calsync",
			MaxConns:        s.Cfg.PostgresMaxConns,
			MinConns:        s.Cfg.PostgresMinConns,
			MaxConnLifetime: s.Cfg.PostgresConnMaxLife,
			MaxConnIdleTime: s.Cfg.PostgresConnMaxIdle,
		})
		if err != nil {
			return nil, fmt.Errorf("postgres connection: %w", err)
		}
		s.closers = append(s.closers, pool.Close)
		if err := db.EnsurePostgresSchema(pgCtx, pool); err != nil {
			return nil, err
		}
		s.Checks = append(s.Checks, api.PostgresCheck(pool))
		s.Locker = db.NewPostgresClientLocker(pool, s.Cfg.LockWait)
		s.Guard = db.NewPostgresRunGuard(pool)
		s.Log.Info().Msg("connected to postgres")
		return appointment.NewPgRepository(pool), nil

	case config.DriverSQLite:
		sqlDB, err := db.OpenSQLite(s.Cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, func() { _ = sqlDB.Close() })
		if err := db.EnsureSQLiteSchema(ctx, sqlDB); err != nil {
			return nil, err
		}
		s.Checks = append(s.Checks, api.SQLiteCheck(sqlDB))
		s.Locker = db.NewSQLiteClientLocker(sqlDB, s.Cfg.LockTTL, s.Cfg.LockWait)
		s.Guard = db.NewSQLiteRunGuard(sqlDB, s.Cfg.LockTTL)
		s.Log.Info().Str("path", s.Cfg.SQLitePath).Msg("opened sqlite store")
		return appointment.NewSQLiteRepository(sqlDB), nil

	case config.DriverMemory:
		s.Log.Warn().Msg("using in-memory store, nothing will be persisted")
		return appointment.NewMemoryRepository(), nil
	}
	return nil, fmt.Errorf("unsupported store driver %q", s.Cfg.StoreDriver)
}

// Importer builds an orchestrator from the configured pipeline options.
func (s *Stack) Importer() (*importer.Orchestrator, error) {
	loc, err := s.Cfg.Location()
	if err != nil {
		return nil, err
	}

	vocab := extract.DefaultVocabulary()
	if s.Cfg.VocabularyFile != "" {
		vocab, err = extract.LoadVocabulary(s.Cfg.VocabularyFile)
		if err != nil {
			return nil, err
		}
	}
	vocab.BusinessPrefixes = append(vocab.BusinessPrefixes, s.Cfg.BusinessPrefixes...)

	rec := reconcile.New(s.Repo, s.Locker, s.Log.With().Str("component", "reconciler").Logger())

	return importer.New(
		ics.NewParser(loc, s.Log.With().Str("component", "parser").Logger()),
		extract.New(vocab),
		rec,
		s.Guard,
		importer.Options{
			Horizon:        ics.MonthsHorizon{Back: s.Cfg.HorizonMonthsBack, Ahead: s.Cfg.HorizonMonthsAhead},
			OccurrenceCap:  s.Cfg.OccurrenceCap,
			WriteBatchSize: s.Cfg.WriteBatchSize,
			BatchDelay:     s.Cfg.BatchDelay,
			Workers:        s.Cfg.ExtractWorkers,
			Now:            func() time.Time { return time.Now().In(loc) },
		},
		s.Log.With().Str("component", "importer").Logger(),
	), nil
}

func (s *Stack) Auditor() *audit.Auditor {
	return audit.New(s.Repo, s.Guard, s.Log.With().Str("component", "auditor").Logger())
}

func (s *Stack) Fetcher() *importer.Fetcher {
	return importer.NewFetcher(s.Cfg.FetchTimeout)
}

func (s *Stack) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}
