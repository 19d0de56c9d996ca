// Package reconcile maps extracted occurrences onto stored clients and
// appointments without creating duplicates.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hackgods/calendar-sync/internal/appointment"
	"github.com/hackgods/calendar-sync/internal/extract"
	"github.com/hackgods/calendar-sync/internal/lock"
	"github.com/rs/zerolog"
)

// AllDayTime is the slot time given to all-day occurrences.
const AllDayTime = "00:00"

type Outcome int

const (
	Created Outcome = iota
	AlreadyImported
	SkippedNoClient
)

func (o Outcome) String() string {
	switch o {
	case Created:
		return "created"
	case AlreadyImported:
		return "already_imported"
	case SkippedNoClient:
		return "skipped_no_client"
	}
	return "unknown"
}

// Occurrence is one concrete instance of a calendar event.
type Occurrence struct {
	EventUID  string
	Summary   string
	At        time.Time
	AllDay    bool
	Location  string
	Attendees []string
}

// Slot returns the natural-key date and time of the occurrence in the
// zone At carries.
func (o Occurrence) Slot() (date, tm string) {
	date = o.At.Format(appointment.DateLayout)
	if o.AllDay {
		return date, AllDayTime
	}
	return date, o.At.Format(appointment.TimeLayout)
}

type Result struct {
	Outcome       Outcome
	ClientID      uuid.UUID
	AppointmentID uuid.UUID
	// Writes counts store inserts made, for rate limiting.
	Writes int
}

type Reconciler struct {
	repo    appointment.Repository
	locker  lock.ClientLocker
	matcher ClientMatcher
	log     zerolog.Logger
}

type Option func(*Reconciler)

func WithMatcher(m ClientMatcher) Option {
	return func(r *Reconciler) { r.matcher = m }
}

func New(repo appointment.Repository, locker lock.ClientLocker, log zerolog.Logger, opts ...Option) *Reconciler {
	r := &Reconciler{
		repo:    repo,
		locker:  locker,
		matcher: NameMatcher{},
		log:     log,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile stores occ unless an appointment already exists for the same
// client, date and time. The find-or-create of the client and the
// key-check-then-insert run under the client's lock.
func (r *Reconciler) Reconcile(ctx context.Context, info extract.Info, occ Occurrence) (Result, error) {
	name := normalizeName(info.ClientName)
	if name == "" || strings.EqualFold(name, extract.UnknownClient) {
		return Result{Outcome: SkippedNoClient}, nil
	}
	info.ClientName = name

	var res Result
	err := r.locker.WithClientLock(ctx, r.matcher.Key(info), func(ctx context.Context) error {
		client, created, err := r.findOrCreateClient(ctx, info, occ)
		if err != nil {
			return err
		}
		if created {
			res.Writes++
		}
		res.ClientID = client.ID

		date, tm := occ.Slot()
		existing, err := r.repo.FindAppointment(ctx, client.ID, date, tm)
		if err == nil {
			res.Outcome = AlreadyImported
			res.AppointmentID = existing.ID
			return nil
		}
		if !errors.Is(err, appointment.ErrAppointmentNotFound) {
			return fmt.Errorf("check existing appointment: %w", err)
		}

		uid := occ.EventUID
		notes := composeNotes(info, occ)
		appt, err := r.repo.CreateAppointment(ctx, appointment.NewAppointment{
			ClientID:    client.ID,
			Date:        date,
			Time:        tm,
			Services:    info.Services,
			Status:      appointment.StatusConfirmed,
			Notes:       &notes,
			TotalAmount: info.Amount,
			ExternalUID: &uid,
		})
		if err != nil {
			return fmt.Errorf("create appointment: %w", err)
		}
		res.Writes++
		res.Outcome = Created
		res.AppointmentID = appt.ID

		r.log.Debug().
			Str("event_uid", occ.EventUID).
			Str("client_id", client.ID.String()).
			Str("date", date).
			Str("time", tm).
			Msg("appointment created")
		return nil
	})
	if err != nil {
		return res, err
	}
	return res, nil
}

func (r *Reconciler) findOrCreateClient(ctx context.Context, info extract.Info, occ Occurrence) (*appointment.Client, bool, error) {
	client, err := r.matcher.Match(ctx, r.repo, info)
	if err == nil {
		return client, false, nil
	}
	if !errors.Is(err, appointment.ErrClientNotFound) {
		return nil, false, fmt.Errorf("find client: %w", err)
	}

	address := info.Address
	if address == "" {
		address = strings.TrimSpace(occ.Location)
	}
	client, err = r.repo.CreateClient(ctx, appointment.NewClient{
		Name:    info.ClientName,
		Email:   optional(firstEmail(occ.Attendees)),
		Phone:   optional(info.Phone),
		Address: optional(address),
		Pets:    []appointment.Pet{},
	})
	if err != nil {
		return nil, false, fmt.Errorf("create client: %w", err)
	}

	r.log.Info().
		Str("client_id", client.ID.String()).
		Str("client_name", client.Name).
		Msg("client created")
	return client, true, nil
}

// composeNotes keeps the extracted details next to the original summary
// and uid so an appointment can be traced back to its event.
func composeNotes(info extract.Info, occ Occurrence) string {
	var parts []string
	if info.PetInfo != "" {
		parts = append(parts, "Pet: "+info.PetInfo)
	}
	if info.Amount != nil {
		parts = append(parts, "Amount: $"+info.Amount.StringFixed(2))
	}
	if info.Phone != "" {
		parts = append(parts, "Phone: "+info.Phone)
	}
	parts = append(parts, "Original: "+occ.Summary, "UID: "+occ.EventUID)
	return strings.Join(parts, " | ")
}

func firstEmail(attendees []string) string {
	for _, a := range attendees {
		if strings.Contains(a, "@") {
			return strings.TrimSpace(a)
		}
	}
	return ""
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
