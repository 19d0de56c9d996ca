package db

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/calendar-sync/internal/lock"
)

// runGuardKey is the advisory lock id shared by every calsync process
// pointed at the same database ("calsync" in ASCII).
const runGuardKey int64 = 0x63616c73796e63

type pgRunGuard struct {
	pool *pgxpool.Pool

	mu      sync.Mutex
	shared  *pgxpool.Conn
	imports int
}

// NewPostgresRunGuard maps imports to a shared and audits to an exclusive
// session advisory lock. All imports of one process share a single
// session; if the process dies the session ends and the lock goes with it.
func NewPostgresRunGuard(pool *pgxpool.Pool) lock.RunGuard {
	return &pgRunGuard{pool: pool}
}

func (g *pgRunGuard) BeginImport(ctx context.Context) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.imports == 0 {
		conn, err := tryAdvisoryLock(ctx, g.pool, "pg_try_advisory_lock_shared")
		if err != nil {
			return nil, err
		}
		g.shared = conn
	}
	g.imports++

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			defer g.mu.Unlock()
			g.imports--
			if g.imports == 0 {
				releaseAdvisoryLock(g.shared, "pg_advisory_unlock_shared")
				g.shared = nil
			}
		})
	}, nil
}

func (g *pgRunGuard) BeginAudit(ctx context.Context) (func(), error) {
	conn, err := tryAdvisoryLock(ctx, g.pool, "pg_try_advisory_lock")
	if err != nil {
		return nil, err
	}
	var once sync.Once
	return func() {
		once.Do(func() { releaseAdvisoryLock(conn, "pg_advisory_unlock") })
	}, nil
}

func tryAdvisoryLock(ctx context.Context, pool *pgxpool.Pool, fn string) (*pgxpool.Conn, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire guard connection: %w", err)
	}

	var ok bool
	if err := conn.QueryRow(ctx, `SELECT `+fn+`($1)`, runGuardKey).Scan(&ok); err != nil {
		conn.Release()
		return nil, fmt.Errorf("take run guard: %w", err)
	}
	if !ok {
		conn.Release()
		return nil, lock.ErrGuardBusy
	}
	return conn, nil
}

func releaseAdvisoryLock(conn *pgxpool.Conn, fn string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := conn.Exec(ctx, `SELECT `+fn+`($1)`, runGuardKey); err != nil {
		// closing the session drops the lock; the pool discards the conn
		_ = conn.Conn().Close(ctx)
	}
	conn.Release()
}

type pgClientLocker struct {
	pool *pgxpool.Pool
	wait time.Duration
	// slots caps held client locks so that each holder can still get a
	// second connection for its reads and writes.
	slots chan struct{}
}

// NewPostgresClientLocker serializes reconcile steps for one client across
// processes with a session advisory lock keyed by a hash of the client key.
// Waiting is bounded by wait; zero means until ctx is done.
func NewPostgresClientLocker(pool *pgxpool.Pool, wait time.Duration) lock.ClientLocker {
	n := (int(pool.Config().MaxConns) - 1) / 2
	if n < 1 {
		n = 1
	}
	return &pgClientLocker{pool: pool, wait: wait, slots: make(chan struct{}, n)}
}

func (l *pgClientLocker) WithClientLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	waitCtx := ctx
	if l.wait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, l.wait)
		defer cancel()
	}
	notAcquired := func(err error) error {
		if waitCtx.Err() != nil && ctx.Err() == nil {
			return lock.ErrLockNotAcquired
		}
		return err
	}

	select {
	case l.slots <- struct{}{}:
	case <-waitCtx.Done():
		return notAcquired(waitCtx.Err())
	}
	defer func() { <-l.slots }()

	conn, err := l.pool.Acquire(waitCtx)
	if err != nil {
		return notAcquired(fmt.Errorf("acquire lock connection: %w", err))
	}
	defer conn.Release()

	lockKey := "client:" + key
	if _, err := conn.Exec(waitCtx, `SELECT pg_advisory_lock(hashtextextended($1, 0))`, lockKey); err != nil {
		return notAcquired(fmt.Errorf("take client lock: %w", err))
	}
	defer func() {
		unlockCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(unlockCtx, `SELECT pg_advisory_unlock(hashtextextended($1, 0))`, lockKey); err != nil {
			_ = conn.Conn().Close(unlockCtx)
		}
	}()

	return fn(ctx)
}

const guardTimeLayout = "2006-01-02T15:04:05.000000000Z"

type sqliteRunGuard struct {
	db    *sql.DB
	lease time.Duration
	now   func() time.Time
}

// NewSQLiteRunGuard keeps run leases in the run_guard table so processes
// sharing one database file exclude each other. Leases are renewed every
// lease/3; a crashed holder stops blocking once its lease runs out.
func NewSQLiteRunGuard(conn *sql.DB, lease time.Duration) lock.RunGuard {
	if lease <= 0 {
		lease = 30 * time.Second
	}
	return &sqliteRunGuard{db: conn, lease: lease, now: time.Now}
}

func (g *sqliteRunGuard) BeginImport(ctx context.Context) (func(), error) {
	return g.begin(ctx, `
		INSERT INTO run_guard (token, kind, expires_at)
		SELECT ?, 'import', ?
		WHERE NOT EXISTS (SELECT 1 FROM run_guard WHERE kind = 'audit' AND expires_at > ?)`)
}

func (g *sqliteRunGuard) BeginAudit(ctx context.Context) (func(), error) {
	return g.begin(ctx, `
		INSERT INTO run_guard (token, kind, expires_at)
		SELECT ?, 'audit', ?
		WHERE NOT EXISTS (SELECT 1 FROM run_guard WHERE expires_at > ?)`)
}

func (g *sqliteRunGuard) stamp(t time.Time) string {
	return stampTime(t)
}

func stampTime(t time.Time) string {
	return t.UTC().Format(guardTimeLayout)
}

func (g *sqliteRunGuard) begin(ctx context.Context, insert string) (func(), error) {
	token := uuid.NewString()
	now := g.now()

	if _, err := g.db.ExecContext(ctx, `DELETE FROM run_guard WHERE expires_at <= ?`, g.stamp(now)); err != nil {
		return nil, fmt.Errorf("expire run leases: %w", err)
	}
	res, err := g.db.ExecContext(ctx, insert, token, g.stamp(now.Add(g.lease)), g.stamp(now))
	if err != nil {
		return nil, fmt.Errorf("take run guard: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("take run guard: %w", err)
	}
	if n == 0 {
		return nil, lock.ErrGuardBusy
	}

	done := make(chan struct{})
	go g.renew(token, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_, _ = g.db.ExecContext(ctx, `DELETE FROM run_guard WHERE token = ?`, token)
		})
	}, nil
}

func (g *sqliteRunGuard) renew(token string, done <-chan struct{}) {
	renewLease(g.db, g.lease, done, func() (string, []any) {
		return `UPDATE run_guard SET expires_at = ? WHERE token = ?`,
			[]any{g.stamp(g.now().Add(g.lease)), token}
	})
}

// renewLease runs the update built by stmt every lease/3 until done closes.
func renewLease(conn *sql.DB, lease time.Duration, done <-chan struct{}, stmt func() (string, []any)) {
	interval := lease / 3
	if interval < time.Millisecond {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			query, args := stmt()
			_, _ = conn.ExecContext(ctx, query, args...)
			cancel()
		}
	}
}

type sqliteClientLocker struct {
	db    *sql.DB
	lease time.Duration
	wait  time.Duration
	now   func() time.Time
}

// NewSQLiteClientLocker keeps per-client leases in the client_lock table.
// Acquisition is retried with backoff for up to wait; the lease is renewed
// while the section runs.
func NewSQLiteClientLocker(conn *sql.DB, lease, wait time.Duration) lock.ClientLocker {
	if lease <= 0 {
		lease = 30 * time.Second
	}
	return &sqliteClientLocker{db: conn, lease: lease, wait: wait, now: time.Now}
}

func (l *sqliteClientLocker) WithClientLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	lockKey := "client:" + key
	token := uuid.NewString()

	if err := l.acquire(ctx, lockKey, token); err != nil {
		return err
	}

	done := make(chan struct{})
	go renewLease(l.db, l.lease, done, func() (string, []any) {
		return `UPDATE client_lock SET expires_at = ? WHERE lock_key = ? AND token = ?`,
			[]any{stampTime(l.now().Add(l.lease)), lockKey, token}
	})
	defer func() {
		close(done)
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		_, _ = l.db.ExecContext(releaseCtx, `DELETE FROM client_lock WHERE lock_key = ? AND token = ?`, lockKey, token)
	}()

	return fn(ctx)
}

func (l *sqliteClientLocker) acquire(ctx context.Context, key, token string) error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = 10 * time.Millisecond
	exp.MaxInterval = 250 * time.Millisecond
	exp.MaxElapsedTime = l.wait
	if exp.MaxElapsedTime <= 0 {
		exp.MaxElapsedTime = l.lease
	}

	err := backoff.Retry(func() error {
		now := l.now()
		if _, err := l.db.ExecContext(ctx, `DELETE FROM client_lock WHERE lock_key = ? AND expires_at <= ?`,
			key, stampTime(now)); err != nil {
			return backoff.Permanent(fmt.Errorf("expire client lock: %w", err))
		}
		res, err := l.db.ExecContext(ctx, `INSERT OR IGNORE INTO client_lock (lock_key, token, expires_at) VALUES (?, ?, ?)`,
			key, token, stampTime(now.Add(l.lease)))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("acquire client lock: %w", err))
		}
		n, err := res.RowsAffected()
		if err != nil {
			return backoff.Permanent(fmt.Errorf("acquire client lock: %w", err))
		}
		if n == 0 {
			return lock.ErrLockNotAcquired
		}
		return nil
	}, backoff.WithContext(exp, ctx))
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}
