package api

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/calendar-sync/internal/appointment"
	"github.com/hackgods/calendar-sync/internal/ics"
	"github.com/hackgods/calendar-sync/internal/importer"
	"github.com/hackgods/calendar-sync/internal/lock"
)

// importHandler accepts either a raw calendar body or a JSON {"url": ...}
// pointing at a published calendar.
func importHandler(imp Importer, fetcher Fetcher, maxBody int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
		if err != nil {
			writeError(w, http.StatusRequestEntityTooLarge, "body_too_large", err.Error())
			return
		}

		mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if mediaType == "application/json" {
			var req ImportRequest
			if err := json.Unmarshal(body, &req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
				return
			}
			if req.URL == "" {
				writeError(w, http.StatusBadRequest, "missing_url", "url is required")
				return
			}
			if fetcher == nil {
				writeError(w, http.StatusNotImplemented, "fetch_disabled", "remote calendars are not enabled")
				return
			}
			body, err = fetcher.Fetch(r.Context(), req.URL)
			if err != nil {
				writeError(w, http.StatusBadGateway, "fetch_failed", err.Error())
				return
			}
		}

		summary, err := imp.RunBytes(r.Context(), body)
		if err != nil {
			handleImportError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, summary)
	}
}

func handleImportError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ics.ErrUnreadableDocument):
		writeError(w, http.StatusUnprocessableEntity, "unreadable_document", err.Error())
	case errors.Is(err, lock.ErrGuardBusy):
		writeError(w, http.StatusConflict, "audit_in_progress", "an audit is running, please retry shortly")
	case errors.Is(err, importer.ErrStopped):
		writeError(w, http.StatusServiceUnavailable, "shutting_down", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func auditHandler(aud Auditor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter, ok := parseFilter(w, r)
		if !ok {
			return
		}

		dryRun := false
		if v := r.URL.Query().Get("dry_run"); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_dry_run", "dry_run must be a boolean")
				return
			}
			dryRun = b
		}

		report, err := aud.Audit(r.Context(), filter, dryRun)
		if err != nil {
			if errors.Is(err, lock.ErrGuardBusy) {
				writeError(w, http.StatusConflict, "import_in_progress", "an import or audit is running, please retry shortly")
				return
			}
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		writeJSON(w, http.StatusOK, report)
	}
}

func listAppointmentsHandler(repo appointment.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter, ok := parseFilter(w, r)
		if !ok {
			return
		}

		appts, err := repo.ListAppointments(r.Context(), filter)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		resp := ListAppointmentsResponse{Appointments: make([]AppointmentResponse, 0, len(appts))}
		for _, a := range appts {
			resp.Appointments = append(resp.Appointments, toAppointmentResponse(a))
		}
		resp.Count = len(resp.Appointments)

		writeJSON(w, http.StatusOK, resp)
	}
}

// parseFilter reads client_id, from and to. It writes the error response
// itself and reports false on invalid input.
func parseFilter(w http.ResponseWriter, r *http.Request) (appointment.AppointmentFilter, bool) {
	q := r.URL.Query()
	var f appointment.AppointmentFilter

	if v := q.Get("client_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_client_id", "client_id must be a valid UUID")
			return f, false
		}
		f.ClientID = &id
	}
	for _, p := range []struct {
		name string
		dst  *string
	}{{"from", &f.From}, {"to", &f.To}} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		if _, err := time.Parse(appointment.DateLayout, v); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_"+p.name, p.name+" must be YYYY-MM-DD")
			return f, false
		}
		*p.dst = v
	}
	return f, true
}
