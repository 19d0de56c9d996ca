package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/hackgods/calendar-sync/internal/appointment"
	"github.com/hackgods/calendar-sync/internal/audit"
	"github.com/hackgods/calendar-sync/internal/importer"
)

type Importer interface {
	RunBytes(ctx context.Context, body []byte) (importer.Summary, error)
}

type Auditor interface {
	Audit(ctx context.Context, f appointment.AppointmentFilter, dryRun bool) (audit.Report, error)
}

type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

type RouterConfig struct {
	Importer Importer
	Auditor  Auditor
	Repo     appointment.Repository
	Fetcher  Fetcher
	Checks   []Check
	Log      zerolog.Logger
	Env      string
	Version  string
	// MaxBodyBytes caps uploaded calendars; zero means 10 MiB.
	MaxBodyBytes int64
}

func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 10 << 20
	}

	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Log))

	// Health endpoints
	health := NewHealthHandler(cfg.Env, cfg.Version, cfg.Checks...)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/imports", importHandler(cfg.Importer, cfg.Fetcher, cfg.MaxBodyBytes))
	r.Post("/audits", auditHandler(cfg.Auditor))
	r.Get("/appointments", listAppointmentsHandler(cfg.Repo))

	return r
}
