package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"studyhall/internal/attendance"
)

const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// Postgres is the ledger store backed by the daily_status and
// attendance_logs tables.
type Postgres struct {
	db *sql.DB
}

// NewPostgres creates a store over an open pool.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// LookupStudentByCredential resolves a badge credential.
func (p *Postgres) LookupStudentByCredential(ctx context.Context, credential string) (*attendance.Student, error) {
	return p.oneStudent(ctx, `
		SELECT id, name, seat_number, rfid_tag FROM students WHERE rfid_tag = $1
	`, credential)
}

// GetStudent returns a student by id.
func (p *Postgres) GetStudent(ctx context.Context, id string) (*attendance.Student, error) {
	return p.oneStudent(ctx, `
		SELECT id, name, seat_number, rfid_tag FROM students WHERE id = $1
	`, id)
}

func (p *Postgres) oneStudent(ctx context.Context, query string, arg string) (*attendance.Student, error) {
	var s attendance.Student
	err := p.db.QueryRowContext(ctx, query, arg).Scan(&s.ID, &s.Name, &s.Seat, &s.Credential)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, classify(err)
	}
	return &s, nil
}

// ListStudentsJoinedWithDay left-joins the roster against day.
func (p *Postgres) ListStudentsJoinedWithDay(ctx context.Context, day attendance.Day) ([]attendance.SeatRow, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT s.id, s.seat_number, s.name, COALESCE(d.status, 'expected')
		FROM students s
		LEFT JOIN daily_status d ON s.id = d.student_id AND d.date = $1
		ORDER BY s.seat_number
	`, string(day))
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []attendance.SeatRow
	for rows.Next() {
		var r attendance.SeatRow
		var status string
		if err := rows.Scan(&r.StudentID, &r.Seat, &r.Name, &status); err != nil {
			return nil, err
		}
		r.Status = attendance.Status(status)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListLogs returns the day's audit log in commit order.
func (p *Postgres) ListLogs(ctx context.Context, day attendance.Day) ([]attendance.LogEntry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, student_id, date, action_type, created_at
		FROM attendance_logs
		WHERE date = $1
		ORDER BY created_at, id
	`, string(day))
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []attendance.LogEntry
	for rows.Next() {
		var e attendance.LogEntry
		var d, action string
		if err := rows.Scan(&e.ID, &e.StudentID, &d, &action, &e.At); err != nil {
			return nil, err
		}
		e.Day = attendance.Day(d)
		e.Action = attendance.Action(action)
		out = append(out, e)
	}
	return out, rows.Err()
}

// UpsertStudents provisions the roster in one transaction.
func (p *Postgres) UpsertStudents(ctx context.Context, students []attendance.Student) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, s := range students {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO students (id, name, seat_number, rfid_tag)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO UPDATE SET
				name = EXCLUDED.name,
				seat_number = EXCLUDED.seat_number,
				rfid_tag = EXCLUDED.rfid_tag,
				updated_at = NOW()
		`, s.ID, s.Name, s.Seat, s.Credential)
		if err != nil {
			return fmt.Errorf("upsert student %s: %w", s.ID, err)
		}
	}
	return tx.Commit()
}

// InTx runs fn inside a database transaction.
func (p *Postgres) InTx(ctx context.Context, fn func(tx attendance.Tx) error) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(err)
	}
	if err := fn(&pgTx{tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return classify(err)
	}
	return nil
}

type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) ReadDailyStatus(ctx context.Context, day attendance.Day, studentID string) (*attendance.DailyStatus, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT status, arrival_time FROM daily_status
		WHERE date = $1 AND student_id = $2
		FOR UPDATE
	`, string(day), studentID)
	var status string
	var arrival sql.NullTime
	if err := row.Scan(&status, &arrival); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, classify(err)
	}
	ds := &attendance.DailyStatus{Day: day, StudentID: studentID, Status: attendance.Status(status)}
	if arrival.Valid {
		at := arrival.Time
		ds.ArrivalTime = &at
	}
	return ds, nil
}

func (t *pgTx) InsertDailyStatus(ctx context.Context, row attendance.DailyStatus) error {
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO daily_status (date, student_id, status, arrival_time)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (date, student_id) DO NOTHING
	`, string(row.Day), row.StudentID, string(row.Status), nullTime(row.ArrivalTime))
	if err != nil {
		return classify(err)
	}
	return expectOne(res, "insert daily status")
}

func (t *pgTx) UpdateDailyStatus(ctx context.Context, day attendance.Day, studentID string, from, to attendance.Status, arrival *time.Time) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE daily_status
		SET status = $4, arrival_time = COALESCE(arrival_time, $5), updated_at = NOW()
		WHERE date = $1 AND student_id = $2 AND status = $3
	`, string(day), studentID, string(from), string(to), nullTime(arrival))
	if err != nil {
		return classify(err)
	}
	return expectOne(res, "update daily status")
}

func (t *pgTx) AppendLog(ctx context.Context, e attendance.LogEntry) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO attendance_logs (id, student_id, date, action_type, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, e.ID, e.StudentID, string(e.Day), string(e.Action), e.At)
	return classify(err)
}

func expectOne(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("%s: %w", what, attendance.ErrWriteConflict)
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// classify maps driver errors onto the ledger taxonomy: lost races become
// ErrWriteConflict, unreachable storage becomes ErrTransportUnavailable.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation, pgSerializationFailure, pgDeadlockDetected:
			return fmt.Errorf("%w: %w", attendance.ErrWriteConflict, err)
		}
		return err
	}
	var connErr *pgconn.ConnectError
	var netErr net.Error
	if errors.As(err, &connErr) || errors.As(err, &netErr) ||
		errors.Is(err, driver.ErrBadConn) || errors.Is(err, context.DeadlineExceeded) ||
		pgconn.Timeout(err) {
		return fmt.Errorf("%w: %w", attendance.ErrTransportUnavailable, err)
	}
	return err
}
