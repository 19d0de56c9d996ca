package audit

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hackgods/calendar-sync/internal/appointment"
	"github.com/hackgods/calendar-sync/internal/lock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type steppingClock struct{ t time.Time }

func (c *steppingClock) now() time.Time {
	c.t = c.t.Add(time.Minute)
	return c.t
}

func seed(t *testing.T, repo *appointment.MemoryRepository, clientID uuid.UUID, date, tm string) *appointment.Appointment {
	t.Helper()
	a, err := repo.CreateAppointment(context.Background(), appointment.NewAppointment{
		ClientID: clientID,
		Date:     date,
		Time:     tm,
		Services: []string{"Bath"},
		Status:   appointment.StatusConfirmed,
	})
	require.NoError(t, err)
	return a
}

func TestAudit_KeepsEarliestAndIsIdempotent(t *testing.T) {
	clock := &steppingClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	repo := appointment.NewMemoryRepository(appointment.WithClock(clock.now))
	client := uuid.New()

	first := seed(t, repo, client, "2025-01-06", "09:00")
	second := seed(t, repo, client, "2025-01-06", "09:00")
	other := seed(t, repo, client, "2025-01-20", "09:00")
	require.True(t, first.CreatedAt.Before(second.CreatedAt))

	auditor := New(repo, lock.NewLocalGuard(), zerolog.Nop())
	ctx := context.Background()

	report, err := auditor.Audit(ctx, appointment.AppointmentFilter{}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Removed)
	assert.Equal(t, 1, report.Kept)
	assert.Equal(t, []uuid.UUID{second.ID}, report.Deleted)

	left, err := repo.ListAppointments(ctx, appointment.AppointmentFilter{})
	require.NoError(t, err)
	require.Len(t, left, 2)
	assert.Equal(t, first.ID, left[0].ID)
	assert.Equal(t, other.ID, left[1].ID)

	again, err := auditor.Audit(ctx, appointment.AppointmentFilter{}, false)
	require.NoError(t, err)
	assert.Zero(t, again.Removed)
	assert.Zero(t, again.Kept)
}

func TestAudit_DryRunDeletesNothing(t *testing.T) {
	clock := &steppingClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	repo := appointment.NewMemoryRepository(appointment.WithClock(clock.now))
	client := uuid.New()
	for i := 0; i < 3; i++ {
		seed(t, repo, client, "2025-02-03", "10:15")
	}

	auditor := New(repo, lock.NewLocalGuard(), zerolog.Nop())
	report, err := auditor.Audit(context.Background(), appointment.AppointmentFilter{}, true)
	require.NoError(t, err)
	assert.True(t, report.DryRun)
	assert.Equal(t, 2, report.Removed)
	assert.Equal(t, 1, report.Kept)

	left, err := repo.ListAppointments(context.Background(), appointment.AppointmentFilter{})
	require.NoError(t, err)
	assert.Len(t, left, 3)
}

func TestAudit_RefusesWhileImportRuns(t *testing.T) {
	repo := appointment.NewMemoryRepository()
	guard := lock.NewLocalGuard()
	release, err := guard.BeginImport(context.Background())
	require.NoError(t, err)
	defer release()

	_, err = New(repo, guard, zerolog.Nop()).Audit(context.Background(), appointment.AppointmentFilter{}, false)
	assert.ErrorIs(t, err, lock.ErrGuardBusy)
}

func TestResolve_SkipsAlreadyDeletedMembers(t *testing.T) {
	clock := &steppingClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	repo := appointment.NewMemoryRepository(appointment.WithClock(clock.now))
	client := uuid.New()
	a := seed(t, repo, client, "2025-01-06", "09:00")
	b := seed(t, repo, client, "2025-01-06", "09:00")

	groups := GroupDuplicates([]appointment.Appointment{*b, *a})
	require.Len(t, groups, 1)
	assert.Equal(t, a.ID, groups[0].Survivor().ID)

	require.NoError(t, repo.DeleteAppointment(context.Background(), b.ID))

	report, err := New(repo, lock.NewLocalGuard(), zerolog.Nop()).Resolve(context.Background(), groups, false)
	require.NoError(t, err)
	assert.Zero(t, report.Removed)
	assert.Equal(t, 1, report.Kept)
}

func TestGroupDuplicates_TieBrokenByID(t *testing.T) {
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	client := uuid.New()
	x := appointment.Appointment{ID: uuid.MustParse("00000000-0000-0000-0000-000000000002"), ClientID: client, Date: "2025-01-06", Time: "09:00", CreatedAt: at}
	y := appointment.Appointment{ID: uuid.MustParse("00000000-0000-0000-0000-000000000001"), ClientID: client, Date: "2025-01-06", Time: "09:00", CreatedAt: at}
	z := appointment.Appointment{ID: uuid.New(), ClientID: client, Date: "2025-01-07", Time: "09:00", CreatedAt: at}

	groups := GroupDuplicates([]appointment.Appointment{x, y, z})
	require.Len(t, groups, 1)
	assert.Equal(t, y.ID, groups[0].Survivor().ID)
}
