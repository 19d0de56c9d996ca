package appointment

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository keeps everything in process. It backs dry runs and tests
// and, like the SQL stores, does not enforce the natural key.
type MemoryRepository struct {
	mu           sync.Mutex
	clients      []Client
	appointments map[uuid.UUID]Appointment
	now          func() time.Time
}

type MemoryOption func(*MemoryRepository)

// WithClock overrides the creation timestamp source.
func WithClock(now func() time.Time) MemoryOption {
	return func(r *MemoryRepository) { r.now = now }
}

func NewMemoryRepository(opts ...MemoryOption) *MemoryRepository {
	r := &MemoryRepository{
		appointments: make(map[uuid.UUID]Appointment),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *MemoryRepository) FindClientByName(_ context.Context, name string) (*Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := NameKey(name)
	for _, c := range r.clients {
		if NameKey(c.Name) == key {
			out := c
			return &out, nil
		}
	}
	return nil, ErrClientNotFound
}

func (r *MemoryRepository) CreateClient(_ context.Context, c NewClient) (*Client, error) {
	if err := validateClient(c); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	id := c.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	for _, existing := range r.clients {
		if existing.ID == id {
			out := existing
			return &out, nil
		}
	}

	now := r.now()
	pets := append([]Pet{}, c.Pets...)
	client := Client{
		ID:        id,
		Name:      strings.TrimSpace(c.Name),
		Email:     c.Email,
		Phone:     c.Phone,
		Address:   c.Address,
		Pets:      pets,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.clients = append(r.clients, client)
	return &client, nil
}

func (r *MemoryRepository) FindAppointment(_ context.Context, clientID uuid.UUID, date, tm string) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var found *Appointment
	for _, a := range r.appointments {
		if a.ClientID != clientID || a.Date != date || a.Time != tm {
			continue
		}
		if found == nil || CreatedBefore(a, *found) {
			found = cloneAppointment(a)
		}
	}
	if found == nil {
		return nil, ErrAppointmentNotFound
	}
	return found, nil
}

func (r *MemoryRepository) CreateAppointment(_ context.Context, a NewAppointment) (*Appointment, error) {
	if err := validateAppointment(a); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	id := a.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	if existing, ok := r.appointments[id]; ok {
		return cloneAppointment(existing), nil
	}

	now := r.now()
	appt := Appointment{
		ID:          id,
		ClientID:    a.ClientID,
		Date:        a.Date,
		Time:        a.Time,
		Services:    append([]string{}, a.Services...),
		Status:      a.Status,
		Notes:       a.Notes,
		TotalAmount: a.TotalAmount,
		ExternalUID: a.ExternalUID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	r.appointments[appt.ID] = appt
	return cloneAppointment(appt), nil
}

func (r *MemoryRepository) ListAppointments(_ context.Context, f AppointmentFilter) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Appointment
	for _, a := range r.appointments {
		if f.ClientID != nil && a.ClientID != *f.ClientID {
			continue
		}
		if f.From != "" && a.Date < f.From {
			continue
		}
		if f.To != "" && a.Date > f.To {
			continue
		}
		out = append(out, *cloneAppointment(a))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		if out[i].Time != out[j].Time {
			return out[i].Time < out[j].Time
		}
		return CreatedBefore(out[i], out[j])
	})
	return out, nil
}

func (r *MemoryRepository) DeleteAppointment(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.appointments[id]; !ok {
		return ErrAppointmentNotFound
	}
	delete(r.appointments, id)
	return nil
}

// Clients returns a snapshot of all stored clients.
func (r *MemoryRepository) Clients() []Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Client{}, r.clients...)
}

// CreatedBefore orders by creation time, then id, so ties are stable.
func CreatedBefore(a, b Appointment) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID.String() < b.ID.String()
}

func cloneAppointment(a Appointment) *Appointment {
	a.Services = append([]string{}, a.Services...)
	return &a
}
