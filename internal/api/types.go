package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/calendar-sync/internal/appointment"
)

// ImportRequest is the JSON form of POST /imports.
type ImportRequest struct {
	URL string `json:"url"`
}

type AppointmentResponse struct {
	ID          uuid.UUID `json:"id"`
	ClientID    uuid.UUID `json:"client_id"`
	Date        string    `json:"date"`
	Time        string    `json:"time"`
	Services    []string  `json:"services"`
	Status      string    `json:"status"`
	Notes       *string   `json:"notes,omitempty"`
	TotalAmount *string   `json:"total_amount,omitempty"`
	ExternalUID *string   `json:"external_uid,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func toAppointmentResponse(a appointment.Appointment) AppointmentResponse {
	resp := AppointmentResponse{
		ID:          a.ID,
		ClientID:    a.ClientID,
		Date:        a.Date,
		Time:        a.Time,
		Services:    a.Services,
		Status:      string(a.Status),
		Notes:       a.Notes,
		ExternalUID: a.ExternalUID,
		CreatedAt:   a.CreatedAt,
	}
	if a.TotalAmount != nil {
		s := a.TotalAmount.StringFixed(2)
		resp.TotalAmount = &s
	}
	return resp
}

type ListAppointmentsResponse struct {
	Appointments []AppointmentResponse `json:"appointments"`
	Count        int                   `json:"count"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
