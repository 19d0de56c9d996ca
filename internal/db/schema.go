package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// The natural key (client_id, appt_date, appt_time) is indexed but not
// unique: duplicates left by older imports are cleaned up by the audit.
// Clients are matched on name_key, which holds appointment.NameKey(name).
var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS clients (
		id          uuid PRIMARY KEY,
		name        text NOT NULL,
		name_key    text NOT NULL,
		email       text,
		phone       text,
		address     text,
		pets        jsonb NOT NULL DEFAULT '[]'::jsonb,
		created_at  timestamptz NOT NULL DEFAULT now(),
		updated_at  timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS clients_name_key_idx ON clients (name_key)`,
	`CREATE TABLE IF NOT EXISTS appointments (
		id            uuid PRIMARY KEY,
		client_id     uuid NOT NULL REFERENCES clients(id) ON DELETE CASCADE,
		appt_date     text NOT NULL,
		appt_time     text NOT NULL,
		services      text[] NOT NULL,
		status        text NOT NULL,
		notes         text,
		total_amount  numeric(12,2),
		external_uid  text,
		created_at    timestamptz NOT NULL DEFAULT clock_timestamp(),
		updated_at    timestamptz NOT NULL DEFAULT clock_timestamp()
	)`,
	`CREATE INDEX IF NOT EXISTS appointments_natural_key_idx
		ON appointments (client_id, appt_date, appt_time)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS run_guard (
		token       TEXT PRIMARY KEY,
		kind        TEXT NOT NULL,
		expires_at  TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS client_lock (
		lock_key    TEXT PRIMARY KEY,
		token       TEXT NOT NULL,
		expires_at  TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS clients (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		name_key    TEXT NOT NULL,
		email       TEXT,
		phone       TEXT,
		address     TEXT,
		pets        TEXT NOT NULL DEFAULT '[]',
		created_at  TEXT NOT NULL,
		updated_at  TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS clients_name_key_idx ON clients (name_key)`,
	`CREATE TABLE IF NOT EXISTS appointments (
		id            TEXT PRIMARY KEY,
		client_id     TEXT NOT NULL REFERENCES clients(id) ON DELETE CASCADE,
		appt_date     TEXT NOT NULL,
		appt_time     TEXT NOT NULL,
		services      TEXT NOT NULL,
		status        TEXT NOT NULL,
		notes         TEXT,
		total_amount  TEXT,
		external_uid  TEXT,
		created_at    TEXT NOT NULL,
		updated_at    TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS appointments_natural_key_idx
		ON appointments (client_id, appt_date, appt_time)`,
}

// EnsurePostgresSchema creates the clients and appointments tables if they
// are missing. It is safe to run on every start.
func EnsurePostgresSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range postgresSchema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure postgres schema: %w", err)
		}
	}
	return nil
}

func EnsureSQLiteSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range sqliteSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure sqlite schema: %w", err)
		}
	}
	return nil
}
