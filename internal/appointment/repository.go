package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrClientNotFound      = errors.New("client not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrValidation          = errors.New("validation failed")
)

// Repository contains all store interactions needed by the reconciler and
// the duplicate auditor.
type Repository interface {
	// Client matching is by case-insensitive name.
	FindClientByName(ctx context.Context, name string) (*Client, error)
	CreateClient(ctx context.Context, c NewClient) (*Client, error)

	// Natural key lookup; returns the oldest match.
	FindAppointment(ctx context.Context, clientID uuid.UUID, date, tm string) (*Appointment, error)
	CreateAppointment(ctx context.Context, a NewAppointment) (*Appointment, error)

	ListAppointments(ctx context.Context, f AppointmentFilter) ([]Appointment, error)
	DeleteAppointment(ctx context.Context, id uuid.UUID) error
}

func validateClient(c NewClient) error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: client name is required", ErrValidation)
	}
	return nil
}

func validateAppointment(a NewAppointment) error {
	if a.ClientID == uuid.Nil {
		return fmt.Errorf("%w: client id is required", ErrValidation)
	}
	if _, err := time.Parse(DateLayout, a.Date); err != nil {
		return fmt.Errorf("%w: date %q", ErrValidation, a.Date)
	}
	if _, err := time.Parse(TimeLayout, a.Time); err != nil {
		return fmt.Errorf("%w: time %q", ErrValidation, a.Time)
	}
	if !a.Status.Valid() {
		return fmt.Errorf("%w: status %q", ErrValidation, a.Status)
	}
	if len(a.Services) == 0 {
		return fmt.Errorf("%w: at least one service is required", ErrValidation)
	}
	return nil
}
