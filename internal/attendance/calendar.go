package attendance

import (
	"fmt"
	"time"
)

// Day is a calendar date key in the service time zone, formatted YYYYMMDD.
type Day string

const dayLayout = "20060102"

// ParseDay validates a YYYYMMDD key.
func ParseDay(s string) (Day, error) {
	if _, err := time.Parse(dayLayout, s); err != nil {
		return "", fmt.Errorf("%w: day %q: %v", ErrInvalid, s, err)
	}
	return Day(s), nil
}

func (d Day) String() string { return string(d) }

// DefaultCutoff is the time of day from which a first scan counts as late.
const DefaultCutoff = 18*time.Hour + 10*time.Minute

// Calendar fixes the day boundary and the lateness cutoff. Every "today"
// lookup goes through the same Calendar so the ledger and snapshot reads
// agree on local midnight.
type Calendar struct {
	Location *time.Location
	// Cutoff is an offset from local midnight.
	Cutoff time.Duration
}

// NewCalendar returns a Calendar, defaulting to UTC and 18:10:00.
func NewCalendar(loc *time.Location, cutoff time.Duration) Calendar {
	if loc == nil {
		loc = time.UTC
	}
	if cutoff <= 0 {
		cutoff = DefaultCutoff
	}
	return Calendar{Location: loc, Cutoff: cutoff}
}

func (c Calendar) loc() *time.Location {
	if c.Location == nil {
		return time.UTC
	}
	return c.Location
}

// DayOf returns the day key containing t.
func (c Calendar) DayOf(t time.Time) Day {
	return Day(t.In(c.loc()).Format(dayLayout))
}

// IsLate reports whether t is at or after the cutoff on its local day.
func (c Calendar) IsLate(t time.Time) bool {
	local := t.In(c.loc())
	h, m, s := local.Clock()
	since := time.Duration(h)*time.Hour +
		time.Duration(m)*time.Minute +
		time.Duration(s)*time.Second +
		time.Duration(local.Nanosecond())
	cutoff := c.Cutoff
	if cutoff <= 0 {
		cutoff = DefaultCutoff
	}
	return since >= cutoff
}

// ParseCutoff parses an HH:MM:SS clock time into an offset from midnight.
func ParseCutoff(s string) (time.Duration, error) {
	t, err := time.Parse("15:04:05", s)
	if err != nil {
		return 0, fmt.Errorf("cutoff %q: %w", s, err)
	}
	return time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second, nil
}
