package appointment

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_FindAppointmentReturnsOldest(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	repo := NewMemoryRepository(WithClock(func() time.Time {
		now = now.Add(time.Second)
		return now
	}))
	ctx := context.Background()

	client, err := repo.CreateClient(ctx, NewClient{Name: "Ana"})
	require.NoError(t, err)

	var ids []string
	for i := 0; i < 3; i++ {
		a, err := repo.CreateAppointment(ctx, NewAppointment{
			ClientID: client.ID, Date: "2025-01-06", Time: "09:30",
			Services: []string{"Bath"}, Status: StatusConfirmed,
		})
		require.NoError(t, err)
		ids = append(ids, a.ID.String())
	}

	found, err := repo.FindAppointment(ctx, client.ID, "2025-01-06", "09:30")
	require.NoError(t, err)
	assert.Equal(t, ids[0], found.ID.String())

	list, err := repo.ListAppointments(ctx, AppointmentFilter{})
	require.NoError(t, err)
	require.Len(t, list, 3)
	for i, a := range list {
		assert.Equal(t, ids[i], a.ID.String())
	}
}

func TestMemory_ReturnedCopiesAreIsolated(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	client, err := repo.CreateClient(ctx, NewClient{Name: "Ana"})
	require.NoError(t, err)

	a, err := repo.CreateAppointment(ctx, NewAppointment{
		ClientID: client.ID, Date: "2025-01-06", Time: "09:30",
		Services: []string{"Bath"}, Status: StatusConfirmed,
	})
	require.NoError(t, err)
	a.Services[0] = "Changed"

	found, err := repo.FindAppointment(ctx, client.ID, "2025-01-06", "09:30")
	require.NoError(t, err)
	assert.Equal(t, "Bath", found.Services[0])
}

func TestMemory_MatchesAccentedNamesAndInsertsOncePerID(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	client, err := repo.CreateClient(ctx, NewClient{Name: "Ángela Núñez"})
	require.NoError(t, err)
	found, err := repo.FindClientByName(ctx, "ÁNGELA   núñez")
	require.NoError(t, err)
	assert.Equal(t, client.ID, found.ID)

	in := NewAppointment{
		ID: uuid.New(), ClientID: client.ID, Date: "2025-01-06", Time: "09:30",
		Services: []string{"Bath"}, Status: StatusConfirmed,
	}
	_, err = repo.CreateAppointment(ctx, in)
	require.NoError(t, err)
	_, err = repo.CreateAppointment(ctx, in)
	require.NoError(t, err)

	list, err := repo.ListAppointments(ctx, AppointmentFilter{})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
