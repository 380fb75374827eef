package attendance

import "time"

// Status is a student's attendance state for one day.
type Status string

const (
	StatusExpected      Status = "expected"
	StatusPresent       Status = "present"
	StatusLate          Status = "late"
	StatusTempLeave     Status = "temp_leave"
	StatusAbsent        Status = "absent"
	StatusLeaveApproved Status = "leave_approved"
)

// Valid reports whether s is one of the six defined statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusExpected, StatusPresent, StatusLate, StatusTempLeave, StatusAbsent, StatusLeaveApproved:
		return true
	}
	return false
}

// Action is the type of an audit log entry.
type Action string

const (
	ActionEntry             Action = "ENTRY"
	ActionLeaveTemp         Action = "LEAVE_TEMP"
	ActionReturnTemp        Action = "RETURN_TEMP"
	ActionAdminForcePresent Action = "ADMIN_FORCE_PRESENT"
	ActionAdminForceAbsent  Action = "ADMIN_FORCE_ABSENT"
	ActionAdminLeave        Action = "ADMIN_LEAVE"
)

// FixType is a manual correction requested by a teacher.
type FixType string

const (
	FixForcePresent FixType = "force_present"
	FixForceAbsent  FixType = "force_absent"
	FixLeave        FixType = "leave"
)

// Student is a roster entry. The ledger never mutates it.
type Student struct {
	ID         string `json:"id" yaml:"id"`
	Name       string `json:"name" yaml:"name"`
	Seat       int    `json:"seat" yaml:"seat"`
	Credential string `json:"-" yaml:"credential"`
}

// DailyStatus is the single row per (student, day).
type DailyStatus struct {
	Day         Day
	StudentID   string
	Status      Status
	ArrivalTime *time.Time
}

// LogEntry is an append-only audit record.
type LogEntry struct {
	ID        string    `json:"id"`
	StudentID string    `json:"student_id"`
	Day       Day       `json:"day"`
	Action    Action    `json:"action"`
	At        time.Time `json:"at"`
}

// SeatRow is one line of a snapshot.
type SeatRow struct {
	StudentID string `json:"id"`
	Seat      int    `json:"seat"`
	Name      string `json:"name"`
	Status    Status `json:"status"`
}

// ScanResult is returned to the reader after an accepted scan.
type ScanResult struct {
	StudentID string `json:"student_id"`
	Name      string `json:"name"`
	Seat      int    `json:"seat"`
	Status    Status `json:"status"`
	Action    Action `json:"action"`
}

// Correction is returned after an accepted admin fix.
type Correction struct {
	StudentID string `json:"student_id"`
	Name      string `json:"name"`
	Seat      int    `json:"seat"`
	Status    Status `json:"status"`
	Action    Action `json:"action"`
}

// Tally is the header summary shown above the seat map.
type Tally struct {
	Expected int `json:"expected"`
	Present  int `json:"present"`
	Out      int `json:"out"`
	Absent   int `json:"absent"`
	Leave    int `json:"leave"`
}

// Summarize counts a snapshot. Late students are in the room and count
// as present; students not yet arrived count as absent.
func Summarize(rows []SeatRow) Tally {
	t := Tally{Expected: len(rows)}
	for _, r := range rows {
		switch r.Status {
		case StatusPresent, StatusLate:
			t.Present++
		case StatusTempLeave:
			t.Out++
		case StatusAbsent, StatusExpected:
			t.Absent++
		case StatusLeaveApproved:
			t.Leave++
		}
	}
	return t
}
