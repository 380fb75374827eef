package attendance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"studyhall/internal/metrics"
)

// writeAttempts is the initial try plus one retry on conflict.
const writeAttempts = 2

// Deps wires a Ledger to its collaborators. Events and Auth may be nil:
// without Events nothing is published, without Auth every correction is
// refused.
type Deps struct {
	Store    Store
	Locker   Locker
	Events   Publisher
	Auth     Authorizer
	Calendar Calendar
	Log      logrus.FieldLogger
}

// Ledger owns daily statuses and the log. It is the only writer of both.
type Ledger struct {
	store  Store
	locker Locker
	events Publisher
	auth   Authorizer
	cal    Calendar
	log    logrus.FieldLogger
}

// NewLedger creates a ledger.
func NewLedger(d Deps) *Ledger {
	log := d.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Ledger{
		store:  d.Store,
		locker: d.Locker,
		events: d.Events,
		auth:   d.Auth,
		cal:    d.Calendar,
		log:    log,
	}
}

// Calendar returns the day boundary used by the ledger.
func (l *Ledger) Calendar() Calendar { return l.cal }

// Today returns the day key containing now.
func (l *Ledger) Today(now time.Time) Day { return l.cal.DayOf(now) }

// SubmitScan records a badge scan at server time at.
func (l *Ledger) SubmitScan(ctx context.Context, credential string, at time.Time) (ScanResult, error) {
	started := time.Now()
	defer func() { metrics.ScanDuration.Observe(time.Since(started).Seconds()) }()

	credential = strings.TrimSpace(credential)
	if credential == "" {
		metrics.Scans.WithLabelValues("invalid").Inc()
		return ScanResult{}, fmt.Errorf("%w: credential required", ErrInvalid)
	}

	student, err := l.store.LookupStudentByCredential(ctx, credential)
	if err != nil {
		metrics.Scans.WithLabelValues("error").Inc()
		return ScanResult{}, fmt.Errorf("lookup credential: %w", err)
	}
	if student == nil {
		metrics.Scans.WithLabelValues("not_found").Inc()
		l.log.WithField("credential", credential).Warn("scan rejected: unknown card")
		return ScanResult{}, ErrNotFound
	}

	day := l.cal.DayOf(at)
	var res ScanResult
	err = l.critical(ctx, day, student.ID, func() error {
		return l.store.InTx(ctx, func(tx Tx) error {
			cur, err := tx.ReadDailyStatus(ctx, day, student.ID)
			if err != nil {
				return err
			}
			next, action := NextOnScan(cur, at, l.cal)
			if err := l.writeStatus(ctx, tx, day, student.ID, cur, next, at); err != nil {
				return err
			}
			if err := tx.AppendLog(ctx, newEntry(student.ID, day, action, at)); err != nil {
				return err
			}
			res = ScanResult{
				StudentID: student.ID,
				Name:      student.Name,
				Seat:      student.Seat,
				Status:    next,
				Action:    action,
			}
			return nil
		})
	})
	if err != nil {
		metrics.Scans.WithLabelValues(outcome(err)).Inc()
		return ScanResult{}, err
	}

	metrics.Scans.WithLabelValues(string(res.Action)).Inc()
	l.log.WithFields(logrus.Fields{
		"student_id": student.ID,
		"seat":       student.Seat,
		"day":        day,
		"action":     res.Action,
		"status":     res.Status,
	}).Info("scan accepted")
	l.publish(ctx, Event{Type: EventScanAccepted, StudentID: student.ID, Day: day, Status: res.Status, Action: res.Action, At: at})
	return res, nil
}

// AdminCorrect forces a student's status for the day containing at. The
// toggle rule does not apply.
func (l *Ledger) AdminCorrect(ctx context.Context, studentID string, fix FixType, token string, at time.Time) (Correction, error) {
	if l.auth == nil {
		metrics.Corrections.WithLabelValues(string(fix), "unauthorized").Inc()
		return Correction{}, ErrUnauthorized
	}
	if err := l.auth.Authorize(token); err != nil {
		metrics.Corrections.WithLabelValues(string(fix), "unauthorized").Inc()
		return Correction{}, err
	}
	target, action, err := fix.Target()
	if err != nil {
		metrics.Corrections.WithLabelValues("unknown", "invalid").Inc()
		return Correction{}, err
	}

	student, err := l.store.GetStudent(ctx, studentID)
	if err != nil {
		return Correction{}, fmt.Errorf("get student: %w", err)
	}
	if student == nil {
		metrics.Corrections.WithLabelValues(string(fix), "not_found").Inc()
		return Correction{}, ErrNotFound
	}

	day := l.cal.DayOf(at)
	err = l.critical(ctx, day, student.ID, func() error {
		return l.store.InTx(ctx, func(tx Tx) error {
			cur, err := tx.ReadDailyStatus(ctx, day, student.ID)
			if err != nil {
				return err
			}
			if err := l.writeStatus(ctx, tx, day, student.ID, cur, target, at); err != nil {
				return err
			}
			return tx.AppendLog(ctx, newEntry(student.ID, day, action, at))
		})
	})
	if err != nil {
		metrics.Corrections.WithLabelValues(string(fix), outcome(err)).Inc()
		return Correction{}, err
	}

	metrics.Corrections.WithLabelValues(string(fix), "ok").Inc()
	l.log.WithFields(logrus.Fields{
		"student_id": student.ID,
		"seat":       student.Seat,
		"day":        day,
		"action":     action,
	}).Info("admin correction applied")
	l.publish(ctx, Event{Type: EventAdminCorrected, StudentID: student.ID, Day: day, Status: target, Action: action, At: at})
	return Correction{
		StudentID: student.ID,
		Name:      student.Name,
		Seat:      student.Seat,
		Status:    target,
		Action:    action,
	}, nil
}

// Snapshot lists every student's status for day ordered by seat. Missing
// rows read as expected.
func (l *Ledger) Snapshot(ctx context.Context, day Day) ([]SeatRow, error) {
	metrics.SnapshotReads.Inc()
	rows, err := l.store.ListStudentsJoinedWithDay(ctx, day)
	if err != nil {
		return nil, fmt.Errorf("list students for %s: %w", day, err)
	}
	for i := range rows {
		if rows[i].Status == "" {
			rows[i].Status = StatusExpected
			continue
		}
		if !rows[i].Status.Valid() {
			l.log.WithFields(logrus.Fields{"student_id": rows[i].StudentID, "status": rows[i].Status}).
				Warn("unknown status in storage, showing as expected")
			rows[i].Status = StatusExpected
		}
	}
	return rows, nil
}

// Logs returns the audit log for day.
func (l *Ledger) Logs(ctx context.Context, day Day) ([]LogEntry, error) {
	return l.store.ListLogs(ctx, day)
}

// critical runs write under the per-student-day lock, retrying once when
// the conditional write loses a race.
func (l *Ledger) critical(ctx context.Context, day Day, studentID string, write func() error) error {
	key := lockKey(day, studentID)
	if l.locker != nil {
		unlock, err := l.locker.Lock(ctx, key)
		if err != nil {
			return fmt.Errorf("lock %s: %w", key, err)
		}
		defer unlock()
	}

	var err error
	for attempt := 1; attempt <= writeAttempts; attempt++ {
		err = write()
		if !errors.Is(err, ErrWriteConflict) {
			return err
		}
		metrics.WriteConflicts.Inc()
		l.log.WithFields(logrus.Fields{"key": key, "attempt": attempt}).Warn("write conflict")
	}
	return err
}

func (l *Ledger) writeStatus(ctx context.Context, tx Tx, day Day, studentID string, cur *DailyStatus, next Status, at time.Time) error {
	var arrival *time.Time
	if arrives(next) {
		t := at
		arrival = &t
	}
	if cur == nil {
		return tx.InsertDailyStatus(ctx, DailyStatus{Day: day, StudentID: studentID, Status: next, ArrivalTime: arrival})
	}
	return tx.UpdateDailyStatus(ctx, day, studentID, cur.Status, next, arrival)
}

func (l *Ledger) publish(ctx context.Context, evt Event) {
	if l.events == nil {
		return
	}
	if err := l.events.Publish(ctx, evt); err != nil {
		l.log.WithError(err).WithField("type", evt.Type).Warn("publish ledger event")
	}
}

func newEntry(studentID string, day Day, action Action, at time.Time) LogEntry {
	return LogEntry{ID: uuid.NewString(), StudentID: studentID, Day: day, Action: action, At: at}
}

func lockKey(day Day, studentID string) string {
	return "studyhall:lock:" + string(day) + ":" + studentID
}

func outcome(err error) string {
	switch {
	case errors.Is(err, ErrWriteConflict):
		return "conflict"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	}
	return "error"
}
