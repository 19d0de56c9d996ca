package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

const clientColumns = `id, name, email, phone, address, pets, created_at, updated_at`

const appointmentColumns = `id, client_id, appt_date, appt_time, services, status, notes,
	total_amount::text, external_uid, created_at, updated_at`

func scanClient(row pgx.Row) (*Client, error) {
	var c Client
	var pets []byte

	err := row.Scan(
		&c.ID,
		&c.Name,
		&c.Email,
		&c.Phone,
		&c.Address,
		&pets,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrClientNotFound
		}
		return nil, err
	}

	if err := decodePets(pets, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var amount *string

	err := row.Scan(
		&a.ID,
		&a.ClientID,
		&a.Date,
		&a.Time,
		&a.Services,
		&a.Status,
		&a.Notes,
		&amount,
		&a.ExternalUID,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.TotalAmount, err = parseAmount(amount)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func decodePets(raw []byte, c *Client) error {
	c.Pets = []Pet{}
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, &c.Pets); err != nil {
		return fmt.Errorf("decode pets for client %s: %w", c.ID, err)
	}
	return nil
}

func encodePets(pets []Pet) ([]byte, error) {
	if pets == nil {
		pets = []Pet{}
	}
	return json.Marshal(pets)
}

func parseAmount(s *string) (*decimal.Decimal, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", *s, err)
	}
	return &d, nil
}

func formatAmount(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.StringFixed(2)
	return &s
}

// Interface methods

func (r *PgRepository) FindClientByName(ctx context.Context, name string) (*Client, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+clientColumns+`
		FROM clients
		WHERE name_key = $1
		ORDER BY created_at, id
		LIMIT 1
	`, NameKey(name))
	return scanClient(row)
}

func (r *PgRepository) CreateClient(ctx context.Context, c NewClient) (*Client, error) {
	if err := validateClient(c); err != nil {
		return nil, err
	}
	pets, err := encodePets(c.Pets)
	if err != nil {
		return nil, fmt.Errorf("encode pets: %w", err)
	}

	id := c.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO clients (id, name, name_key, email, phone, address, pets, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		ON CONFLICT (id) DO NOTHING`,
		id, strings.TrimSpace(c.Name), NameKey(c.Name), c.Email, c.Phone, c.Address, pets)
	if err != nil {
		return nil, fmt.Errorf("insert client: %w", err)
	}

	row := r.pool.QueryRow(ctx, `SELECT `+clientColumns+` FROM clients WHERE id = $1`, id)
	return scanClient(row)
}

func (r *PgRepository) FindAppointment(ctx context.Context, clientID uuid.UUID, date, tm string) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE client_id = $1 AND appt_date = $2 AND appt_time = $3
		ORDER BY created_at, id
		LIMIT 1
	`, clientID, date, tm)
	return scanAppointment(row)
}

func (r *PgRepository) CreateAppointment(ctx context.Context, a NewAppointment) (*Appointment, error) {
	if err := validateAppointment(a); err != nil {
		return nil, err
	}

	id := a.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO appointments (id, client_id, appt_date, appt_time, services, status, notes,
			total_amount, external_uid, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, ($8::text)::numeric, $9, clock_timestamp(), clock_timestamp())
		ON CONFLICT (id) DO NOTHING`,
		id, a.ClientID, a.Date, a.Time, a.Services, a.Status, a.Notes,
		formatAmount(a.TotalAmount), a.ExternalUID)
	if err != nil {
		return nil, fmt.Errorf("insert appointment: %w", err)
	}

	row := r.pool.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListAppointments(ctx context.Context, f AppointmentFilter) ([]Appointment, error) {
	var (
		where []string
		args  []any
	)
	if f.ClientID != nil {
		args = append(args, *f.ClientID)
		where = append(where, fmt.Sprintf("client_id = $%d", len(args)))
	}
	if f.From != "" {
		args = append(args, f.From)
		where = append(where, fmt.Sprintf("appt_date >= $%d", len(args)))
	}
	if f.To != "" {
		args = append(args, f.To)
		where = append(where, fmt.Sprintf("appt_date <= $%d", len(args)))
	}

	query := `SELECT ` + appointmentColumns + ` FROM appointments`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY appt_date, appt_time, created_at, id`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) DeleteAppointment(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}
