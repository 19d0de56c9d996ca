package appointment

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyRepo fails FindClientByName with the queued errors before
// delegating.
type flakyRepo struct {
	*MemoryRepository
	errs  []error
	calls int
}

func (f *flakyRepo) FindClientByName(ctx context.Context, name string) (*Client, error) {
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	return f.MemoryRepository.FindClientByName(ctx, name)
}

func fastPolicy() RetryPolicy {
	return RetryPolicy{
		Timeout:        time.Second,
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	}
}

func TestRetrying_RecoversFromTransientErrors(t *testing.T) {
	inner := &flakyRepo{
		MemoryRepository: NewMemoryRepository(),
		errs:             []error{ErrTransient, &pgconn.PgError{Code: "40001"}},
	}
	_, err := inner.CreateClient(context.Background(), NewClient{Name: "Maria"})
	require.NoError(t, err)

	repo := NewRetryingRepository(inner, fastPolicy(), zerolog.Nop())
	c, err := repo.FindClientByName(context.Background(), "maria")
	require.NoError(t, err)
	assert.Equal(t, "Maria", c.Name)
	assert.Equal(t, 3, inner.calls)
}

func TestRetrying_DoesNotRetryPermanentErrors(t *testing.T) {
	inner := &flakyRepo{MemoryRepository: NewMemoryRepository()}
	repo := NewRetryingRepository(inner, fastPolicy(), zerolog.Nop())

	_, err := repo.FindClientByName(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrClientNotFound)
	assert.Equal(t, 1, inner.calls)

	_, err = repo.CreateAppointment(context.Background(), NewAppointment{})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestRetrying_GivesUpAfterMaxRetries(t *testing.T) {
	inner := &flakyRepo{
		MemoryRepository: NewMemoryRepository(),
		errs:             []error{ErrTransient, ErrTransient, ErrTransient, ErrTransient, ErrTransient},
	}
	repo := NewRetryingRepository(inner, fastPolicy(), zerolog.Nop())

	_, err := repo.FindClientByName(context.Background(), "maria")
	assert.ErrorIs(t, err, ErrTransient)
	assert.Equal(t, 4, inner.calls)
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"validation", fmt.Errorf("%w: bad date", ErrValidation), false},
		{"not found", ErrAppointmentNotFound, false},
		{"marked", fmt.Errorf("create: %w", ErrTransient), true},
		{"deadline", context.DeadlineExceeded, true},
		{"deadlock", &pgconn.PgError{Code: "40P01"}, true},
		{"connection class", &pgconn.PgError{Code: "08006"}, true},
		{"unique violation", &pgconn.PgError{Code: "23505"}, false},
		{"sqlite busy", errors.New("database is locked (5) (SQLITE_BUSY)"), true},
		{"other", errors.New("boom"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsTransient(tc.err))
		})
	}
}

func TestRetrying_AppliesPerCallTimeout(t *testing.T) {
	repo := NewRetryingRepository(slowRepo{NewMemoryRepository()}, RetryPolicy{
		Timeout:        5 * time.Millisecond,
		MaxRetries:     1,
		InitialBackoff: time.Millisecond,
	}, zerolog.Nop())

	start := time.Now()
	err := repo.DeleteAppointment(context.Background(), uuid.New())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

// lostAckRepo commits the first insert and then reports a timeout, the way
// a dropped connection after COMMIT looks to the caller.
type lostAckRepo struct {
	*MemoryRepository
	calls int
}

func (l *lostAckRepo) CreateAppointment(ctx context.Context, a NewAppointment) (*Appointment, error) {
	l.calls++
	created, err := l.MemoryRepository.CreateAppointment(ctx, a)
	if err != nil {
		return nil, err
	}
	if l.calls == 1 {
		return nil, context.DeadlineExceeded
	}
	return created, nil
}

func (l *lostAckRepo) CreateClient(ctx context.Context, c NewClient) (*Client, error) {
	l.calls++
	created, err := l.MemoryRepository.CreateClient(ctx, c)
	if err != nil {
		return nil, err
	}
	if l.calls == 1 {
		return nil, fmt.Errorf("write: %w", ErrTransient)
	}
	return created, nil
}

func TestRetrying_CreateAfterLostAckDoesNotDuplicate(t *testing.T) {
	ctx := context.Background()
	inner := &lostAckRepo{MemoryRepository: NewMemoryRepository()}
	repo := NewRetryingRepository(inner, fastPolicy(), zerolog.Nop())

	client, err := repo.CreateClient(ctx, NewClient{Name: "Ana"})
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)
	assert.Len(t, inner.Clients(), 1)

	inner.calls = 0
	appt, err := repo.CreateAppointment(ctx, NewAppointment{
		ClientID: client.ID, Date: "2025-01-06", Time: "09:30",
		Services: []string{"Bath"}, Status: StatusConfirmed,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)

	rows, err := inner.ListAppointments(ctx, AppointmentFilter{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, appt.ID, rows[0].ID)
}

type slowRepo struct{ *MemoryRepository }

func (slowRepo) DeleteAppointment(ctx context.Context, _ uuid.UUID) error {
	<-ctx.Done()
	return ctx.Err()
}
