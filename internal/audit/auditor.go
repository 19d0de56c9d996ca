// Package audit repairs stores that already hold more than one appointment
// for the same client, date and time.
package audit

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/hackgods/calendar-sync/internal/appointment"
	"github.com/hackgods/calendar-sync/internal/lock"
	"github.com/rs/zerolog"
)

// Group is every appointment sharing one natural key, oldest first.
type Group struct {
	Key          appointment.NaturalKey
	Appointments []appointment.Appointment
}

// Survivor is the appointment the audit keeps.
func (g Group) Survivor() appointment.Appointment {
	return g.Appointments[0]
}

type Report struct {
	// Groups is the number of natural keys that had duplicates.
	Groups  int         `json:"groups"`
	Removed int         `json:"removed"`
	Kept    int         `json:"kept"`
	DryRun  bool        `json:"dry_run"`
	Deleted []uuid.UUID `json:"deleted,omitempty"`
}

// GroupDuplicates returns the natural keys with more than one appointment.
// Members are ordered by creation time, ties broken by id.
func GroupDuplicates(appts []appointment.Appointment) []Group {
	byKey := make(map[appointment.NaturalKey][]appointment.Appointment)
	for _, a := range appts {
		byKey[a.Key()] = append(byKey[a.Key()], a)
	}

	var groups []Group
	for key, members := range byKey {
		if len(members) < 2 {
			continue
		}
		sort.Slice(members, func(i, j int) bool {
			return appointment.CreatedBefore(members[i], members[j])
		})
		groups = append(groups, Group{Key: key, Appointments: members})
	}

	sort.Slice(groups, func(i, j int) bool {
		return groups[i].Key.String() < groups[j].Key.String()
	})
	return groups
}

type Auditor struct {
	repo  appointment.Repository
	guard lock.RunGuard
	log   zerolog.Logger
}

func New(repo appointment.Repository, guard lock.RunGuard, log zerolog.Logger) *Auditor {
	return &Auditor{repo: repo, guard: guard, log: log}
}

// Audit scans the appointments matching f and removes every duplicate but
// the earliest created. It refuses to start while an import holds the guard.
func (a *Auditor) Audit(ctx context.Context, f appointment.AppointmentFilter, dryRun bool) (Report, error) {
	release, err := a.guard.BeginAudit(ctx)
	if err != nil {
		auditRunsTotal.WithLabelValues("busy").Inc()
		return Report{DryRun: dryRun}, err
	}
	defer release()

	appts, err := a.repo.ListAppointments(ctx, f)
	if err != nil {
		auditRunsTotal.WithLabelValues("error").Inc()
		return Report{DryRun: dryRun}, fmt.Errorf("list appointments: %w", err)
	}

	report, err := a.Resolve(ctx, GroupDuplicates(appts), dryRun)
	if err != nil {
		auditRunsTotal.WithLabelValues("error").Inc()
		return report, err
	}
	auditRunsTotal.WithLabelValues("ok").Inc()
	return report, nil
}

// Resolve keeps the survivor of each group and deletes the rest. A member
// already gone from the store is not counted. Delete failures are collected
// and the remaining groups are still processed.
func (a *Auditor) Resolve(ctx context.Context, groups []Group, dryRun bool) (Report, error) {
	report := Report{DryRun: dryRun}
	var errs []error

	for _, g := range groups {
		if len(g.Appointments) < 2 {
			continue
		}
		report.Groups++
		report.Kept++

		survivor := g.Survivor()
		for _, dup := range g.Appointments[1:] {
			if dryRun {
				report.Removed++
				report.Deleted = append(report.Deleted, dup.ID)
				continue
			}

			err := a.repo.DeleteAppointment(ctx, dup.ID)
			if errors.Is(err, appointment.ErrAppointmentNotFound) {
				continue
			}
			if err != nil {
				errs = append(errs, fmt.Errorf("delete appointment %s: %w", dup.ID, err))
				continue
			}

			report.Removed++
			report.Deleted = append(report.Deleted, dup.ID)
			duplicatesRemovedTotal.Inc()
		}

		a.log.Info().
			Str("key", g.Key.String()).
			Str("kept_id", survivor.ID.String()).
			Int("duplicates", len(g.Appointments)-1).
			Bool("dry_run", dryRun).
			Msg("duplicate group resolved")
	}

	return report, errors.Join(errs...)
}
