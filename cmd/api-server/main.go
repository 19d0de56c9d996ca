package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/calendar-sync/internal/api"
	"github.com/hackgods/calendar-sync/internal/app"
	"github.com/hackgods/calendar-sync/internal/config"
	"github.com/hackgods/calendar-sync/internal/logger"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New("api-server", "info")
		bootLog.Fatal().Err(err).Msg("config load error")
	}
	log := logger.New("api-server", cfg.LogLevel)

	log.Info().
		Str("env", cfg.Env).
		Str("http_port", cfg.HTTPPort).
		Str("store", cfg.StoreDriver).
		Msg("api-server starting up")

	if err := run(cfg, log); err != nil {
		log.Error().Err(err).Msg("api-server failed")
		os.Exit(1)
	}
}

func run(cfg config.Config, log zerolog.Logger) error {
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stack, err := app.Build(rootCtx, cfg, log)
	if err != nil {
		return err
	}
	defer stack.Close()

	orch, err := stack.Importer()
	if err != nil {
		return err
	}

	router := api.NewRouter(api.RouterConfig{
		Importer: orch,
		Auditor:  stack.Auditor(),
		Repo:     stack.Repo,
		Fetcher:  stack.Fetcher(),
		Checks:   stack.Checks,
		Log:      log,
		Env:      cfg.Env,
		Version:  version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var serveErr error
	select {
	case <-rootCtx.Done():
	case serveErr = <-errCh:
	}

	log.Info().Msg("shutting down api-server")

	// let in-flight imports finish their current occurrence
	orch.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	return serveErr
}
