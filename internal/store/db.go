package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// DB wraps sql.DB for Postgres using pgx.
type DB struct {
	Client *sql.DB
}

// NewDB opens a Postgres pool, pings it and applies the schema.
func NewDB(ctx context.Context, connString string) (*DB, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &DB{Client: db}, nil
}

// Healthy pings the database.
func (d *DB) Healthy(ctx context.Context) bool {
	if d == nil || d.Client == nil {
		return false
	}
	return d.Client.PingContext(ctx) == nil
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	if d == nil || d.Client == nil {
		return nil
	}
	return d.Client.Close()
}

func migrate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS students (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		seat_number INTEGER NOT NULL UNIQUE CHECK (seat_number > 0),
		rfid_tag    TEXT NOT NULL UNIQUE,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS daily_status (
		date         TEXT NOT NULL,
		student_id   TEXT NOT NULL REFERENCES students(id),
		status       TEXT NOT NULL CHECK (status IN ('expected','present','late','temp_leave','absent','leave_approved')),
		arrival_time TIMESTAMPTZ,
		updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (date, student_id)
	);

	CREATE TABLE IF NOT EXISTS attendance_logs (
		id          TEXT PRIMARY KEY,
		student_id  TEXT NOT NULL REFERENCES students(id),
		date        TEXT NOT NULL,
		action_type TEXT NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_attendance_logs_date ON attendance_logs(date, created_at);
	`)
	return err
}
