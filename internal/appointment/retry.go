package appointment

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
)

// ErrTransient marks failures worth retrying: network trouble, rate limits,
// lock contention.
var ErrTransient = errors.New("transient store error")

var transientPgCodes = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"53300": true, // too_many_connections
	"57P01": true, // admin_shutdown
	"57P03": true, // cannot_connect_now
}

// IsTransient reports whether err belongs to the network/rate-limit class.
// Validation and not-found errors never are.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrValidation) || errors.Is(err, ErrClientNotFound) || errors.Is(err, ErrAppointmentNotFound) {
		return false
	}
	if errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return transientPgCodes[pgErr.Code] || strings.HasPrefix(pgErr.Code, "08")
	}
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return strings.Contains(err.Error(), "SQLITE_BUSY")
}

type RetryPolicy struct {
	// Timeout bounds every single store call.
	Timeout        time.Duration
	MaxRetries     uint64
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.Timeout <= 0 {
		p.Timeout = 5 * time.Second
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = 200 * time.Millisecond
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = 5 * time.Second
	}
	return p
}

// RetryingRepository decorates a Repository with a per-call timeout and
// bounded exponential backoff on transient errors. Creates are retried
// with a fixed ID, which the stores treat as insert-once.
type RetryingRepository struct {
	inner  Repository
	policy RetryPolicy
	log    zerolog.Logger
}

func NewRetryingRepository(inner Repository, policy RetryPolicy, log zerolog.Logger) *RetryingRepository {
	return &RetryingRepository{inner: inner, policy: policy.withDefaults(), log: log}
}

func (r *RetryingRepository) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = r.policy.InitialBackoff
	exp.MaxInterval = r.policy.MaxBackoff
	exp.Multiplier = 2
	exp.MaxElapsedTime = 0
	exp.Reset()

	b := backoff.WithContext(backoff.WithMaxRetries(exp, r.policy.MaxRetries), ctx)

	return backoff.RetryNotify(func() error {
		callCtx, cancel := context.WithTimeout(ctx, r.policy.Timeout)
		defer cancel()

		err := fn(callCtx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b, func(err error, wait time.Duration) {
		r.log.Warn().Err(err).Str("op", op).Dur("retry_in", wait).Msg("transient store error, retrying")
	})
}

func (r *RetryingRepository) FindClientByName(ctx context.Context, name string) (*Client, error) {
	var out *Client
	err := r.do(ctx, "find_client", func(ctx context.Context) error {
		c, err := r.inner.FindClientByName(ctx, name)
		out = c
		return err
	})
	return out, err
}

// CreateClient fixes the row ID before the first attempt, so an attempt
// that committed but reported a timeout is not inserted twice.
func (r *RetryingRepository) CreateClient(ctx context.Context, c NewClient) (*Client, error) {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	var out *Client
	err := r.do(ctx, "create_client", func(ctx context.Context) error {
		created, err := r.inner.CreateClient(ctx, c)
		out = created
		return err
	})
	return out, err
}

func (r *RetryingRepository) FindAppointment(ctx context.Context, clientID uuid.UUID, date, tm string) (*Appointment, error) {
	var out *Appointment
	err := r.do(ctx, "find_appointment", func(ctx context.Context) error {
		a, err := r.inner.FindAppointment(ctx, clientID, date, tm)
		out = a
		return err
	})
	return out, err
}

func (r *RetryingRepository) CreateAppointment(ctx context.Context, a NewAppointment) (*Appointment, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	var out *Appointment
	err := r.do(ctx, "create_appointment", func(ctx context.Context) error {
		created, err := r.inner.CreateAppointment(ctx, a)
		out = created
		return err
	})
	return out, err
}

func (r *RetryingRepository) ListAppointments(ctx context.Context, f AppointmentFilter) ([]Appointment, error) {
	var out []Appointment
	err := r.do(ctx, "list_appointments", func(ctx context.Context) error {
		list, err := r.inner.ListAppointments(ctx, f)
		out = list
		return err
	})
	return out, err
}

func (r *RetryingRepository) DeleteAppointment(ctx context.Context, id uuid.UUID) error {
	return r.do(ctx, "delete_appointment", func(ctx context.Context) error {
		return r.inner.DeleteAppointment(ctx, id)
	})
}
