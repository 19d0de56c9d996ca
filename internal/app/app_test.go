package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/calendar-sync/internal/appointment"
	"github.com/hackgods/calendar-sync/internal/config"
	"github.com/hackgods/calendar-sync/internal/lock"
)

func sqliteConfig(path string) config.Config {
	return config.Config{
		StoreDriver:     config.DriverSQLite,
		SQLitePath:      path,
		StoreTimeout:    time.Second,
		StoreMaxRetries: 1,
		StoreBackoff:    time.Millisecond,
		LockTTL:         time.Minute,
		LockWait:        time.Second,
		UTCOffset:       "+00:00",
		OccurrenceCap:   520,
	}
}

// Two stacks on one database file behave like api-server and audit-worker
// running side by side without Redis.
func TestBuild_SQLiteStacksShareRunGuard(t *testing.T) {
	cfg := sqliteConfig(filepath.Join(t.TempDir(), "calsync.db"))
	ctx := context.Background()

	server, err := Build(ctx, cfg, zerolog.Nop())
	require.NoError(t, err)
	defer server.Close()
	worker, err := Build(ctx, cfg, zerolog.Nop())
	require.NoError(t, err)
	defer worker.Close()

	releaseImport, err := server.Guard.BeginImport(ctx)
	require.NoError(t, err)

	_, err = worker.Auditor().Audit(ctx, appointment.AppointmentFilter{}, false)
	assert.ErrorIs(t, err, lock.ErrGuardBusy)

	releaseImport()
	_, err = worker.Auditor().Audit(ctx, appointment.AppointmentFilter{}, false)
	assert.NoError(t, err)
}

func TestBuild_MemoryStoreUsesLocalLocks(t *testing.T) {
	cfg := sqliteConfig("")
	cfg.StoreDriver = config.DriverMemory

	stack, err := Build(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer stack.Close()

	assert.IsType(t, &lock.LocalGuard{}, stack.Guard)
	assert.IsType(t, &lock.KeyedMutex{}, stack.Locker)
}
