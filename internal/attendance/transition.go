package attendance

import (
	"fmt"
	"time"
)

// NextOnScan applies the toggle rule to a badge scan. current is nil when
// the student has no row for the day yet.
//
// Only present flips to temp_leave; every other existing status, including
// absent and leave_approved set by a teacher, flips back to present.
func NextOnScan(current *DailyStatus, at time.Time, cal Calendar) (Status, Action) {
	if current == nil {
		if cal.IsLate(at) {
			return StatusLate, ActionEntry
		}
		return StatusPresent, ActionEntry
	}
	if current.Status == StatusPresent {
		return StatusTempLeave, ActionLeaveTemp
	}
	return StatusPresent, ActionReturnTemp
}

// Target maps a fix to the status it forces and the action it logs.
func (f FixType) Target() (Status, Action, error) {
	switch f {
	case FixForcePresent:
		return StatusPresent, ActionAdminForcePresent, nil
	case FixForceAbsent:
		return StatusAbsent, ActionAdminForceAbsent, nil
	case FixLeave:
		return StatusLeaveApproved, ActionAdminLeave, nil
	}
	return "", "", fmt.Errorf("%w: unknown fix type %q", ErrInvalid, string(f))
}

// arrives reports whether moving into s counts as physically arriving,
// which is when arrival_time gets stamped.
func arrives(s Status) bool {
	return s == StatusPresent || s == StatusLate
}
