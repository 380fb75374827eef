// Package export writes each day's attendance to CSV for the office.
package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"studyhall/internal/attendance"
)

// Source is the read side of the ledger.
type Source interface {
	Snapshot(ctx context.Context, day attendance.Day) ([]attendance.SeatRow, error)
	Logs(ctx context.Context, day attendance.Day) ([]attendance.LogEntry, error)
}

var header = []string{"day", "seat", "student_id", "name", "status", "first_entry", "last_action", "last_action_at"}

// WriteCSV writes one line per student, ordered as rows are.
func WriteCSV(w io.Writer, day attendance.Day, rows []attendance.SeatRow, logs []attendance.LogEntry, loc *time.Location) error {
	if loc == nil {
		loc = time.UTC
	}
	type trail struct {
		first    time.Time
		last     attendance.Action
		lastAt   time.Time
		hasEntry bool
	}
	trails := map[string]*trail{}
	for _, e := range logs {
		tr := trails[e.StudentID]
		if tr == nil {
			tr = &trail{}
			trails[e.StudentID] = tr
		}
		if e.Action == attendance.ActionEntry && !tr.hasEntry {
			tr.first, tr.hasEntry = e.At, true
		}
		if !e.At.Before(tr.lastAt) {
			tr.last, tr.lastAt = e.Action, e.At
		}
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, r := range rows {
		rec := []string{string(day), strconv.Itoa(r.Seat), r.StudentID, r.Name, string(r.Status), "", "", ""}
		if tr := trails[r.StudentID]; tr != nil {
			if tr.hasEntry {
				rec[5] = tr.first.In(loc).Format("15:04:05")
			}
			rec[6] = string(tr.last)
			rec[7] = tr.lastAt.In(loc).Format(time.RFC3339)
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Exporter writes Dir/YYYYMMDD.csv files.
type Exporter struct {
	Source   Source
	Dir      string
	Calendar attendance.Calendar
	Clock    clockwork.Clock
	Log      logrus.FieldLogger
}

// Today exports the day containing the current time.
func (e *Exporter) Today(ctx context.Context) (string, error) {
	c := e.Clock
	if c == nil {
		c = clockwork.NewRealClock()
	}
	return e.Day(ctx, e.Calendar.DayOf(c.Now()))
}

// Day exports one day and returns the file path. The file is replaced
// atomically so a reader never sees a half-written export.
func (e *Exporter) Day(ctx context.Context, day attendance.Day) (string, error) {
	rows, err := e.Source.Snapshot(ctx, day)
	if err != nil {
		return "", fmt.Errorf("snapshot %s: %w", day, err)
	}
	logs, err := e.Source.Logs(ctx, day)
	if err != nil {
		return "", fmt.Errorf("logs %s: %w", day, err)
	}

	if err := os.MkdirAll(e.Dir, 0o755); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(e.Dir, "."+string(day)+"-*.csv")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	if err := WriteCSV(tmp, day, rows, logs, e.Calendar.Location); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write %s: %w", day, err)
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	path := filepath.Join(e.Dir, string(day)+".csv")
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", err
	}

	if e.Log != nil {
		e.Log.WithFields(logrus.Fields{"day": day, "path": path, "students": len(rows)}).Info("attendance exported")
	}
	return path, nil
}
