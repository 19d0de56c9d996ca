package appointment_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/calendar-sync/internal/appointment"
	"github.com/hackgods/calendar-sync/internal/db"
)

func newSQLiteRepo(t *testing.T) *appointment.SQLiteRepository {
	t.Helper()
	sqlDB, err := db.OpenSQLite(filepath.Join(t.TempDir(), "calsync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.EnsureSQLiteSchema(context.Background(), sqlDB))
	// schema bootstrap is idempotent
	require.NoError(t, db.EnsureSQLiteSchema(context.Background(), sqlDB))
	return appointment.NewSQLiteRepository(sqlDB)
}

func TestSQLite_ClientRoundTrip(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()

	phone := "(555) 123-4567"
	created, err := repo.CreateClient(ctx, appointment.NewClient{Name: " Maria Lopez ", Phone: &phone})
	require.NoError(t, err)
	assert.Equal(t, "Maria Lopez", created.Name)
	assert.Empty(t, created.Pets)

	found, err := repo.FindClientByName(ctx, "maria lopez")
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)
	require.NotNil(t, found.Phone)
	assert.Equal(t, phone, *found.Phone)
	assert.Nil(t, found.Email)

	_, err = repo.FindClientByName(ctx, "ana")
	assert.ErrorIs(t, err, appointment.ErrClientNotFound)

	_, err = repo.CreateClient(ctx, appointment.NewClient{Name: "  "})
	assert.ErrorIs(t, err, appointment.ErrValidation)
}

func TestSQLite_AppointmentNaturalKeyAndList(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()

	client, err := repo.CreateClient(ctx, appointment.NewClient{Name: "Ana"})
	require.NoError(t, err)

	amount := decimal.RequireFromString("55.5")
	uid := "evt-1"
	notes := "Original: Ana $55.50"
	first, err := repo.CreateAppointment(ctx, appointment.NewAppointment{
		ClientID:    client.ID,
		Date:        "2025-01-06",
		Time:        "09:30",
		Services:    []string{"Bath", "Nails"},
		Status:      appointment.StatusConfirmed,
		Notes:       &notes,
		TotalAmount: &amount,
		ExternalUID: &uid,
	})
	require.NoError(t, err)

	time.Sleep(2 * time.Millisecond)
	// the store does not enforce the natural key
	second, err := repo.CreateAppointment(ctx, appointment.NewAppointment{
		ClientID: client.ID,
		Date:     "2025-01-06",
		Time:     "09:30",
		Services: []string{"Bath"},
		Status:   appointment.StatusConfirmed,
	})
	require.NoError(t, err)
	assert.True(t, first.CreatedAt.Before(second.CreatedAt))

	found, err := repo.FindAppointment(ctx, client.ID, "2025-01-06", "09:30")
	require.NoError(t, err)
	assert.Equal(t, first.ID, found.ID)
	assert.Equal(t, []string{"Bath", "Nails"}, found.Services)
	require.NotNil(t, found.TotalAmount)
	assert.True(t, found.TotalAmount.Equal(amount))
	assert.Equal(t, "evt-1", *found.ExternalUID)

	_, err = repo.FindAppointment(ctx, client.ID, "2025-01-06", "10:30")
	assert.ErrorIs(t, err, appointment.ErrAppointmentNotFound)

	_, err = repo.CreateAppointment(ctx, appointment.NewAppointment{
		ClientID: client.ID, Date: "2025-01-20", Time: "09:30",
		Services: []string{"Bath"}, Status: appointment.StatusConfirmed,
	})
	require.NoError(t, err)

	all, err := repo.ListAppointments(ctx, appointment.AppointmentFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	jan6, err := repo.ListAppointments(ctx, appointment.AppointmentFilter{ClientID: &client.ID, From: "2025-01-01", To: "2025-01-10"})
	require.NoError(t, err)
	assert.Len(t, jan6, 2)

	require.NoError(t, repo.DeleteAppointment(ctx, second.ID))
	assert.ErrorIs(t, repo.DeleteAppointment(ctx, second.ID), appointment.ErrAppointmentNotFound)
	assert.ErrorIs(t, repo.DeleteAppointment(ctx, uuid.New()), appointment.ErrAppointmentNotFound)
}

func TestSQLite_RejectsInvalidAppointment(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()
	client, err := repo.CreateClient(ctx, appointment.NewClient{Name: "Ana"})
	require.NoError(t, err)

	_, err = repo.CreateAppointment(ctx, appointment.NewAppointment{
		ClientID: client.ID, Date: "06/01/2025", Time: "09:30",
		Services: []string{"Bath"}, Status: appointment.StatusConfirmed,
	})
	assert.ErrorIs(t, err, appointment.ErrValidation)

	_, err = repo.CreateAppointment(ctx, appointment.NewAppointment{
		ClientID: client.ID, Date: "2025-01-06", Time: "09:30",
		Status: appointment.StatusConfirmed,
	})
	assert.ErrorIs(t, err, appointment.ErrValidation)
}

func TestSQLite_MatchesAccentedNamesCaseInsensitively(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()

	created, err := repo.CreateClient(ctx, appointment.NewClient{Name: "Ángela Núñez"})
	require.NoError(t, err)

	for _, name := range []string{"ángela núñez", "ÁNGELA  NÚÑEZ", " Ángela Núñez "} {
		found, err := repo.FindClientByName(ctx, name)
		require.NoError(t, err, name)
		assert.Equal(t, created.ID, found.ID, name)
	}
}

func TestSQLite_CreateWithSameIDInsertsOnce(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()

	clientID := uuid.New()
	first, err := repo.CreateClient(ctx, appointment.NewClient{ID: clientID, Name: "Ana"})
	require.NoError(t, err)
	again, err := repo.CreateClient(ctx, appointment.NewClient{ID: clientID, Name: "Ana"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	apptID := uuid.New()
	in := appointment.NewAppointment{
		ID: apptID, ClientID: clientID, Date: "2025-01-06", Time: "09:30",
		Services: []string{"Bath"}, Status: appointment.StatusConfirmed,
	}
	_, err = repo.CreateAppointment(ctx, in)
	require.NoError(t, err)
	second, err := repo.CreateAppointment(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, apptID, second.ID)

	all, err := repo.ListAppointments(ctx, appointment.AppointmentFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
