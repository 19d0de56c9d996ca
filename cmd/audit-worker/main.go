package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/hackgods/calendar-sync/internal/app"
	"github.com/hackgods/calendar-sync/internal/appointment"
	"github.com/hackgods/calendar-sync/internal/audit"
	"github.com/hackgods/calendar-sync/internal/config"
	"github.com/hackgods/calendar-sync/internal/lock"
	"github.com/hackgods/calendar-sync/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New("audit-worker", "info")
		bootLog.Fatal().Err(err).Msg("config load error")
	}
	log := logger.New("audit-worker", cfg.LogLevel)

	log.Info().
		Str("env", cfg.Env).
		Str("schedule", cfg.AuditSchedule).
		Str("store", cfg.StoreDriver).
		Msg("audit-worker starting up")

	if err := run(cfg, log); err != nil {
		log.Error().Err(err).Msg("audit-worker failed")
		os.Exit(1)
	}
}

func run(cfg config.Config, log zerolog.Logger) error {
	if cfg.StoreDriver == config.DriverMemory {
		return errors.New("audit-worker needs a shared store, STORE_DRIVER=memory has nothing to audit")
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stack, err := app.Build(rootCtx, cfg, log)
	if err != nil {
		return err
	}
	defer stack.Close()

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	auditor := stack.Auditor()

	// Run once at startup
	runOnce(rootCtx, auditor, log)

	c := cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := c.AddFunc(cfg.AuditSchedule, func() { runOnce(rootCtx, auditor, log) }); err != nil {
		return err
	}
	c.Start()

	<-rootCtx.Done()
	log.Info().Msg("shutdown signal received, stopping audit worker")

	// wait for a running audit to finish
	select {
	case <-c.Stop().Done():
	case <-time.After(cfg.ShutdownTimeout):
		log.Warn().Msg("audit still running at shutdown")
	}
	return nil
}

func runOnce(ctx context.Context, auditor *audit.Auditor, log zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 10*time.Minute)
	defer cancel()

	start := time.Now()
	report, err := auditor.Audit(runCtx, appointment.AppointmentFilter{}, false)
	if errors.Is(err, lock.ErrGuardBusy) {
		log.Info().Msg("import in progress, skipping this audit run")
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("audit run error")
		return
	}
	log.Info().
		Int("groups", report.Groups).
		Int("removed", report.Removed).
		Dur("took", time.Since(start)).
		Msg("audit run complete")
}
