package attendance

import (
	"context"
	"time"
)

// Store is the storage collaborator. It is the only source of truth and
// must enforce one DailyStatus row per (student, day).
type Store interface {
	// LookupStudentByCredential returns nil, nil when nothing matches.
	LookupStudentByCredential(ctx context.Context, credential string) (*Student, error)
	// GetStudent returns nil, nil when nothing matches.
	GetStudent(ctx context.Context, id string) (*Student, error)
	// ListStudentsJoinedWithDay returns every student ordered by seat, with
	// an empty Status where no row exists for day.
	ListStudentsJoinedWithDay(ctx context.Context, day Day) ([]SeatRow, error)
	ListLogs(ctx context.Context, day Day) ([]LogEntry, error)
	// InTx runs fn atomically: either every write in fn commits or none does.
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the write surface available inside Store.InTx.
type Tx interface {
	// ReadDailyStatus returns nil, nil when there is no row.
	ReadDailyStatus(ctx context.Context, day Day, studentID string) (*DailyStatus, error)
	// InsertDailyStatus fails with ErrWriteConflict if the row already exists.
	InsertDailyStatus(ctx context.Context, row DailyStatus) error
	// UpdateDailyStatus sets status to `to` only while it is still `from`,
	// failing with ErrWriteConflict otherwise. A non-nil arrival is stored
	// only if arrival_time is still empty.
	UpdateDailyStatus(ctx context.Context, day Day, studentID string, from, to Status, arrival *time.Time) error
	AppendLog(ctx context.Context, entry LogEntry) error
}

// Locker serialises the read-decide-write sequence for one key.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// Authorizer gates admin corrections. Authorize must reset the session
// countdown when it succeeds and return ErrUnauthorized otherwise.
type Authorizer interface {
	Authorize(token string) error
}

// Event is published after a ledger write commits.
type Event struct {
	Type      string    `json:"type"`
	StudentID string    `json:"student_id"`
	Day       Day       `json:"day"`
	Status    Status    `json:"status"`
	Action    Action    `json:"action"`
	At        time.Time `json:"at"`
}

const (
	EventScanAccepted   = "scan.accepted"
	EventAdminCorrected = "admin.corrected"
)

// Publisher fans ledger events out to other processes.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}
