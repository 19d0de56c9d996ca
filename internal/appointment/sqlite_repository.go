package appointment

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// sqliteTimeLayout sorts lexicographically in UTC.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteRepository is the embedded store used for local runs. The schema
// comes from db.EnsureSQLiteSchema.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

type rowScanner interface {
	Scan(dest ...any) error
}

const sqliteClientColumns = `id, name, email, phone, address, pets, created_at, updated_at`

const sqliteAppointmentColumns = `id, client_id, appt_date, appt_time, services, status, notes,
	total_amount, external_uid, created_at, updated_at`

func scanSQLiteClient(row rowScanner) (*Client, error) {
	var (
		c                    Client
		id, pets             string
		createdAt, updatedAt string
	)
	err := row.Scan(&id, &c.Name, &c.Email, &c.Phone, &c.Address, &pets, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrClientNotFound
		}
		return nil, err
	}

	if c.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse client id: %w", err)
	}
	if err := decodePets([]byte(pets), &c); err != nil {
		return nil, err
	}
	if c.CreatedAt, err = time.Parse(sqliteTimeLayout, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if c.UpdatedAt, err = time.Parse(sqliteTimeLayout, updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &c, nil
}

func scanSQLiteAppointment(row rowScanner) (*Appointment, error) {
	var (
		a                    Appointment
		id, clientID         string
		services             string
		status               string
		amount               *string
		createdAt, updatedAt string
	)
	err := row.Scan(&id, &clientID, &a.Date, &a.Time, &services, &status, &a.Notes,
		&amount, &a.ExternalUID, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	if a.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse appointment id: %w", err)
	}
	if a.ClientID, err = uuid.Parse(clientID); err != nil {
		return nil, fmt.Errorf("parse client id: %w", err)
	}
	if err := json.Unmarshal([]byte(services), &a.Services); err != nil {
		return nil, fmt.Errorf("decode services: %w", err)
	}
	a.Status = AppointmentStatus(status)
	if a.TotalAmount, err = parseAmount(amount); err != nil {
		return nil, err
	}
	if a.CreatedAt, err = time.Parse(sqliteTimeLayout, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if a.UpdatedAt, err = time.Parse(sqliteTimeLayout, updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &a, nil
}

func (r *SQLiteRepository) timestamp() string {
	return r.now().UTC().Format(sqliteTimeLayout)
}

func (r *SQLiteRepository) FindClientByName(ctx context.Context, name string) (*Client, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+sqliteClientColumns+`
		FROM clients
		WHERE name_key = ?
		ORDER BY created_at, id
		LIMIT 1
	`, NameKey(name))
	return scanSQLiteClient(row)
}

func (r *SQLiteRepository) CreateClient(ctx context.Context, c NewClient) (*Client, error) {
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
	ts := r.timestamp()
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO clients (id, name, name_key, email, phone, address, pets, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`, id.String(), strings.TrimSpace(c.Name), NameKey(c.Name), c.Email, c.Phone, c.Address, string(pets), ts, ts)
	if err != nil {
		return nil, fmt.Errorf("insert client: %w", err)
	}

	row := r.db.QueryRowContext(ctx, `SELECT `+sqliteClientColumns+` FROM clients WHERE id = ?`, id.String())
	return scanSQLiteClient(row)
}

func (r *SQLiteRepository) FindAppointment(ctx context.Context, clientID uuid.UUID, date, tm string) (*Appointment, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+sqliteAppointmentColumns+`
		FROM appointments
		WHERE client_id = ? AND appt_date = ? AND appt_time = ?
		ORDER BY created_at, id
		LIMIT 1
	`, clientID.String(), date, tm)
	return scanSQLiteAppointment(row)
}

func (r *SQLiteRepository) CreateAppointment(ctx context.Context, a NewAppointment) (*Appointment, error) {
	if err := validateAppointment(a); err != nil {
		return nil, err
	}
	services, err := json.Marshal(a.Services)
	if err != nil {
		return nil, fmt.Errorf("encode services: %w", err)
	}

	id := a.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	ts := r.timestamp()
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO appointments (id, client_id, appt_date, appt_time, services, status, notes,
			total_amount, external_uid, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`, id.String(), a.ClientID.String(), a.Date, a.Time, string(services), string(a.Status),
		a.Notes, formatAmount(a.TotalAmount), a.ExternalUID, ts, ts)
	if err != nil {
		return nil, fmt.Errorf("insert appointment: %w", err)
	}

	row := r.db.QueryRowContext(ctx, `SELECT `+sqliteAppointmentColumns+` FROM appointments WHERE id = ?`, id.String())
	return scanSQLiteAppointment(row)
}

func (r *SQLiteRepository) ListAppointments(ctx context.Context, f AppointmentFilter) ([]Appointment, error) {
	var (
		where []string
		args  []any
	)
	if f.ClientID != nil {
		where = append(where, "client_id = ?")
		args = append(args, f.ClientID.String())
	}
	if f.From != "" {
		where = append(where, "appt_date >= ?")
		args = append(args, f.From)
	}
	if f.To != "" {
		where = append(where, "appt_date <= ?")
		args = append(args, f.To)
	}

	query := `SELECT ` + sqliteAppointmentColumns + ` FROM appointments`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY appt_date, appt_time, created_at, id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanSQLiteAppointment(rows)
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

func (r *SQLiteRepository) DeleteAppointment(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM appointments WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("delete appointment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete appointment: %w", err)
	}
	if n == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}
