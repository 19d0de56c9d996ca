package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/calendar-sync/internal/appointment"
	"github.com/hackgods/calendar-sync/internal/audit"
	"github.com/hackgods/calendar-sync/internal/extract"
	"github.com/hackgods/calendar-sync/internal/ics"
	"github.com/hackgods/calendar-sync/internal/importer"
	"github.com/hackgods/calendar-sync/internal/lock"
	"github.com/hackgods/calendar-sync/internal/reconcile"
)

const calendarBody = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//test//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:api-1\r\n" +
	"DTSTART:20250106T093000\r\n" +
	"SUMMARY:Ana 2x80\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

type stubFetcher struct {
	body []byte
	err  error
	got  string
}

func (f *stubFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	f.got = url
	return f.body, f.err
}

type testServer struct {
	handler http.Handler
	repo    *appointment.MemoryRepository
	guard   *lock.LocalGuard
	fetcher *stubFetcher
}

func newTestServer(t *testing.T, checks ...Check) *testServer {
	t.Helper()
	repo := appointment.NewMemoryRepository()
	guard := lock.NewLocalGuard()
	fetcher := &stubFetcher{body: []byte(calendarBody)}

	orch := importer.New(
		ics.NewParser(time.UTC, zerolog.Nop()),
		extract.New(extract.DefaultVocabulary()),
		reconcile.New(repo, lock.NewKeyedMutex(), zerolog.Nop()),
		guard,
		importer.Options{},
		zerolog.Nop(),
	)

	h := NewRouter(RouterConfig{
		Importer: orch,
		Auditor:  audit.New(repo, guard, zerolog.Nop()),
		Repo:     repo,
		Fetcher:  fetcher,
		Checks:   checks,
		Log:      zerolog.Nop(),
		Env:      "test",
	})
	return &testServer{handler: h, repo: repo, guard: guard, fetcher: fetcher}
}

func (s *testServer) do(method, target, contentType, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func TestImport_CalendarBody(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/imports", "text/calendar", calendarBody)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	var summary importer.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, 1, summary.Imported)
	assert.Contains(t, rec.Body.String(), `"failures":[]`)

	rec = s.do(http.MethodPost, "/imports", "text/calendar", calendarBody)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Zero(t, summary.Imported)
	assert.Equal(t, 1, summary.Skipped)
}

func TestImport_URL(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/imports", "application/json", `{"url":"webcal://example.com/cal.ics"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "webcal://example.com/cal.ics", s.fetcher.got)

	s.fetcher.err = errors.New("status 404")
	rec = s.do(http.MethodPost, "/imports", "application/json", `{"url":"https://example.com/missing.ics"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	rec = s.do(http.MethodPost, "/imports", "application/json", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestImport_Errors(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/imports", "text/plain", "hello")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "unreadable_document")

	release, err := s.guard.BeginAudit(context.Background())
	require.NoError(t, err)
	rec = s.do(http.MethodPost, "/imports", "text/calendar", calendarBody)
	release()
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAudit_DryRunAndConflict(t *testing.T) {
	s := newTestServer(t)
	s.do(http.MethodPost, "/imports", "text/calendar", calendarBody)

	rec := s.do(http.MethodPost, "/audits?dry_run=true", "", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var report audit.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.True(t, report.DryRun)
	assert.Zero(t, report.Removed)

	rec = s.do(http.MethodPost, "/audits?dry_run=maybe", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	release, err := s.guard.BeginImport(context.Background())
	require.NoError(t, err)
	defer release()
	rec = s.do(http.MethodPost, "/audits", "", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestListAppointments(t *testing.T) {
	s := newTestServer(t)
	s.do(http.MethodPost, "/imports", "text/calendar", calendarBody)

	rec := s.do(http.MethodGet, "/appointments?from=2025-01-01&to=2025-01-31", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ListAppointmentsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	a := resp.Appointments[0]
	assert.Equal(t, "2025-01-06", a.Date)
	assert.Equal(t, "09:30", a.Time)
	require.NotNil(t, a.TotalAmount)
	assert.Equal(t, "160.00", *a.TotalAmount)

	rec = s.do(http.MethodGet, "/appointments?from=2025-02-01", "", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Zero(t, resp.Count)

	rec = s.do(http.MethodGet, "/appointments?client_id=nope", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = s.do(http.MethodGet, "/appointments?to=01/02/2025", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	down := errors.New("down")
	s := newTestServer(t,
		Check{Name: "store", Critical: true, Ping: func(context.Context) error { return nil }},
		Check{Name: "redis", Ping: func(context.Context) error { return down }},
	)

	rec := s.do(http.MethodGet, "/health/live", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodGet, "/health/ready", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var ready ReadinessResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ready))
	assert.Equal(t, "degraded", ready.Status)
	assert.Equal(t, "down", ready.Dependencies["redis"])

	s = newTestServer(t, Check{Name: "store", Critical: true, Ping: func(context.Context) error { return down }})
	rec = s.do(http.MethodGet, "/health/ready", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.do(http.MethodPost, "/imports", "text/calendar", calendarBody)

	rec := s.do(http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "calsync_import_runs_total")
}
