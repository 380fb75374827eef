package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studyhall/internal/attendance"
)

func seeded(t *testing.T) *Memory {
	t.Helper()
	m := NewMemory()
	require.NoError(t, m.UpsertStudents(context.Background(), []attendance.Student{
		{ID: "a", Name: "A", Seat: 3, Credential: "c-a"},
		{ID: "b", Name: "B", Seat: 1, Credential: "c-b"},
	}))
	return m
}

func TestMemoryRosterLookups(t *testing.T) {
	ctx := context.Background()
	m := seeded(t)

	s, err := m.LookupStudentByCredential(ctx, "c-a")
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, "a", s.ID)

	s, err = m.LookupStudentByCredential(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, s)

	s, err = m.GetStudent(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, 1, s.Seat)

	err = m.UpsertStudents(ctx, []attendance.Student{{ID: "z", Seat: 9, Credential: "c-a"}})
	assert.Error(t, err, "credential reuse across students")
}

func TestMemoryJoinOrdersBySeat(t *testing.T) {
	ctx := context.Background()
	m := seeded(t)
	require.NoError(t, m.InTx(ctx, func(tx attendance.Tx) error {
		return tx.InsertDailyStatus(ctx, attendance.DailyStatus{Day: "20261019", StudentID: "a", Status: attendance.StatusLate})
	}))

	rows, err := m.ListStudentsJoinedWithDay(ctx, "20261019")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "b", rows[0].StudentID)
	assert.Equal(t, attendance.Status(""), rows[0].Status)
	assert.Equal(t, attendance.StatusLate, rows[1].Status)
}

func TestMemoryTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	m := seeded(t)
	boom := errors.New("boom")

	err := m.InTx(ctx, func(tx attendance.Tx) error {
		require.NoError(t, tx.InsertDailyStatus(ctx, attendance.DailyStatus{Day: "20261019", StudentID: "a", Status: attendance.StatusPresent}))
		require.NoError(t, tx.AppendLog(ctx, attendance.LogEntry{ID: "1", StudentID: "a", Day: "20261019", Action: attendance.ActionEntry}))
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, m.RowCount("20261019"))
	entries, _ := m.ListLogs(ctx, "20261019")
	assert.Empty(t, entries)
}

func TestMemoryCommitDetectsConflicts(t *testing.T) {
	ctx := context.Background()
	m := seeded(t)
	row := attendance.DailyStatus{Day: "20261019", StudentID: "a", Status: attendance.StatusPresent}

	// Two transactions both saw no row; the second insert must lose.
	staleInsert := func(tx attendance.Tx) error {
		return tx.InsertDailyStatus(ctx, row)
	}
	require.NoError(t, m.InTx(ctx, staleInsert))
	err := m.InTx(ctx, func(tx attendance.Tx) error {
		if err := staleInsert(tx); err != nil {
			return err
		}
		return tx.AppendLog(ctx, attendance.LogEntry{ID: "x", Day: "20261019"})
	})
	assert.ErrorIs(t, err, attendance.ErrWriteConflict)
	entries, _ := m.ListLogs(ctx, "20261019")
	assert.Empty(t, entries, "log must not commit without its status write")

	// A CAS update from the wrong status must lose too.
	err = m.InTx(ctx, func(tx attendance.Tx) error {
		return tx.UpdateDailyStatus(ctx, "20261019", "a", attendance.StatusTempLeave, attendance.StatusPresent, nil)
	})
	assert.ErrorIs(t, err, attendance.ErrWriteConflict)

	err = m.InTx(ctx, func(tx attendance.Tx) error {
		return tx.UpdateDailyStatus(ctx, "20261019", "a", attendance.StatusPresent, attendance.StatusTempLeave, nil)
	})
	require.NoError(t, err)
	got, _ := m.Row("20261019", "a")
	assert.Equal(t, attendance.StatusTempLeave, got.Status)
}

func TestMemoryArrivalStampedOnce(t *testing.T) {
	ctx := context.Background()
	m := seeded(t)
	first := time.Date(2026, 10, 19, 18, 0, 0, 0, time.UTC)
	later := first.Add(time.Hour)

	require.NoError(t, m.InTx(ctx, func(tx attendance.Tx) error {
		return tx.InsertDailyStatus(ctx, attendance.DailyStatus{Day: "20261019", StudentID: "a", Status: attendance.StatusPresent, ArrivalTime: &first})
	}))
	require.NoError(t, m.InTx(ctx, func(tx attendance.Tx) error {
		return tx.UpdateDailyStatus(ctx, "20261019", "a", attendance.StatusPresent, attendance.StatusTempLeave, &later)
	}))

	got, _ := m.Row("20261019", "a")
	require.NotNil(t, got.ArrivalTime)
	assert.True(t, got.ArrivalTime.Equal(first))
}
