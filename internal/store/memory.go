package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"studyhall/internal/attendance"
)

type statusKey struct {
	day       attendance.Day
	studentID string
}

// Memory is an in-process ledger store for development and tests. Writes
// inside InTx are staged and validated at commit, so two transactions
// racing on the same (day, student) surface ErrWriteConflict the way the
// Postgres constraint does.
type Memory struct {
	mu           sync.RWMutex
	students     map[string]attendance.Student
	byCredential map[string]string
	statuses     map[statusKey]attendance.DailyStatus
	logs         []attendance.LogEntry
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		students:     make(map[string]attendance.Student),
		byCredential: make(map[string]string),
		statuses:     make(map[statusKey]attendance.DailyStatus),
	}
}

// UpsertStudents replaces roster entries by id.
func (m *Memory) UpsertStudents(_ context.Context, students []attendance.Student) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range students {
		if old, ok := m.students[s.ID]; ok {
			delete(m.byCredential, old.Credential)
		}
		if owner, ok := m.byCredential[s.Credential]; ok && owner != s.ID {
			return fmt.Errorf("credential already assigned to %s", owner)
		}
		m.students[s.ID] = s
		m.byCredential[s.Credential] = s.ID
	}
	return nil
}

func (m *Memory) LookupStudentByCredential(_ context.Context, credential string) (*attendance.Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byCredential[credential]
	if !ok {
		return nil, nil
	}
	s := m.students[id]
	return &s, nil
}

func (m *Memory) GetStudent(_ context.Context, id string) (*attendance.Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.students[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *Memory) ListStudentsJoinedWithDay(_ context.Context, day attendance.Day) ([]attendance.SeatRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]attendance.SeatRow, 0, len(m.students))
	for _, s := range m.students {
		row := attendance.SeatRow{StudentID: s.ID, Seat: s.Seat, Name: s.Name}
		if ds, ok := m.statuses[statusKey{day, s.ID}]; ok {
			row.Status = ds.Status
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seat < out[j].Seat })
	return out, nil
}

func (m *Memory) ListLogs(_ context.Context, day attendance.Day) ([]attendance.LogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []attendance.LogEntry
	for _, e := range m.logs {
		if e.Day == day {
			out = append(out, e)
		}
	}
	return out, nil
}

// Row returns the committed DailyStatus for tests and diagnostics.
func (m *Memory) Row(day attendance.Day, studentID string) (attendance.DailyStatus, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ds, ok := m.statuses[statusKey{day, studentID}]
	return ds, ok
}

// RowCount returns how many DailyStatus rows exist for day.
func (m *Memory) RowCount(day attendance.Day) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for k := range m.statuses {
		if k.day == day {
			n++
		}
	}
	return n
}

// InTx stages fn's writes and applies them atomically on success.
func (m *Memory) InTx(ctx context.Context, fn func(tx attendance.Tx) error) error {
	tx := &memTx{m: m, staged: make(map[statusKey]attendance.DailyStatus)}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.commit(tx)
}

func (m *Memory) commit(tx *memTx) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	view := make(map[statusKey]attendance.DailyStatus)
	lookup := func(k statusKey) (attendance.DailyStatus, bool) {
		if ds, ok := view[k]; ok {
			return ds, true
		}
		ds, ok := m.statuses[k]
		return ds, ok
	}
	for _, op := range tx.ops {
		cur, exists := lookup(op.key)
		switch op.kind {
		case opInsert:
			if exists {
				return fmt.Errorf("insert daily status: %w", attendance.ErrWriteConflict)
			}
			view[op.key] = op.row
		case opUpdate:
			if !exists || cur.Status != op.from {
				return fmt.Errorf("update daily status: %w", attendance.ErrWriteConflict)
			}
			cur.Status = op.row.Status
			if cur.ArrivalTime == nil && op.row.ArrivalTime != nil {
				cur.ArrivalTime = op.row.ArrivalTime
			}
			view[op.key] = cur
		}
	}
	for k, ds := range view {
		m.statuses[k] = ds
	}
	m.logs = append(m.logs, tx.logs...)
	return nil
}

type opKind int

const (
	opInsert opKind = iota
	opUpdate
)

type memOp struct {
	kind opKind
	key  statusKey
	from attendance.Status
	row  attendance.DailyStatus
}

type memTx struct {
	m      *Memory
	ops    []memOp
	staged map[statusKey]attendance.DailyStatus
	logs   []attendance.LogEntry
}

func (t *memTx) ReadDailyStatus(_ context.Context, day attendance.Day, studentID string) (*attendance.DailyStatus, error) {
	k := statusKey{day, studentID}
	if ds, ok := t.staged[k]; ok {
		return &ds, nil
	}
	t.m.mu.RLock()
	defer t.m.mu.RUnlock()
	ds, ok := t.m.statuses[k]
	if !ok {
		return nil, nil
	}
	return &ds, nil
}

func (t *memTx) InsertDailyStatus(_ context.Context, row attendance.DailyStatus) error {
	k := statusKey{row.Day, row.StudentID}
	if _, ok := t.staged[k]; ok {
		return fmt.Errorf("insert daily status: %w", attendance.ErrWriteConflict)
	}
	t.ops = append(t.ops, memOp{kind: opInsert, key: k, row: row})
	t.staged[k] = row
	return nil
}

func (t *memTx) UpdateDailyStatus(_ context.Context, day attendance.Day, studentID string, from, to attendance.Status, arrival *time.Time) error {
	k := statusKey{day, studentID}
	row := attendance.DailyStatus{Day: day, StudentID: studentID, Status: to, ArrivalTime: arrival}
	t.ops = append(t.ops, memOp{kind: opUpdate, key: k, from: from, row: row})
	if prev, ok := t.staged[k]; ok && prev.ArrivalTime != nil {
		row.ArrivalTime = prev.ArrivalTime
	}
	t.staged[k] = row
	return nil
}

func (t *memTx) AppendLog(_ context.Context, e attendance.LogEntry) error {
	t.logs = append(t.logs, e)
	return nil
}
