package appointment

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type AppointmentStatus string

const (
	StatusPending    AppointmentStatus = "pending"
	StatusConfirmed  AppointmentStatus = "confirmed"
	StatusInProgress AppointmentStatus = "in-progress"
	StatusCompleted  AppointmentStatus = "completed"
	StatusCancelled  AppointmentStatus = "cancelled"
)

func (s AppointmentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Layouts for Appointment.Date and Appointment.Time.
const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

type Pet struct {
	Name  string `json:"name"`
	Breed string `json:"breed,omitempty"`
}

type Client struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	Phone     *string
	Address   *string
	Pets      []Pet
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Appointment struct {
	ID          uuid.UUID
	ClientID    uuid.UUID
	Date        string
	Time        string
	Services    []string
	Status      AppointmentStatus
	Notes       *string
	TotalAmount *decimal.Decimal
	ExternalUID *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Key returns the natural key used to detect an already imported
// occurrence. The store does not enforce it.
func (a Appointment) Key() NaturalKey {
	return NaturalKey{ClientID: a.ClientID, Date: a.Date, Time: a.Time}
}

type NaturalKey struct {
	ClientID uuid.UUID
	Date     string
	Time     string
}

func (k NaturalKey) String() string {
	return k.ClientID.String() + "|" + k.Date + "|" + k.Time
}

// NewClient and NewAppointment may carry a caller-chosen ID. Creating with
// an ID that already exists returns the stored row instead of a new one,
// which makes a retried insert safe.
type NewClient struct {
	ID      uuid.UUID
	Name    string
	Email   *string
	Phone   *string
	Address *string
	Pets    []Pet
}

type NewAppointment struct {
	ID          uuid.UUID
	ClientID    uuid.UUID
	Date        string
	Time        string
	Services    []string
	Status      AppointmentStatus
	Notes       *string
	TotalAmount *decimal.Decimal
	ExternalUID *string
}

// AppointmentFilter narrows ListAppointments. Zero fields are ignored;
// From and To are inclusive dates.
type AppointmentFilter struct {
	ClientID *uuid.UUID
	From     string
	To       string
}

// NameKey is the form client names are matched on: inner whitespace
// collapsed, lower-cased with full Unicode folding.
func NameKey(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}
