package kiosk

import (
	"fmt"
	"strings"
	"time"

	"studyhall/internal/attendance"
	"studyhall/internal/session"
	"studyhall/internal/syncclient"
)

// Screen is everything one redraw shows.
type Screen struct {
	Now     time.Time
	View    syncclient.View
	Admin   session.State
	Notice  string
	Command string
}

const (
	clearScreen = "\x1b[H\x1b[2J"
	seatsPerRow = 6
	nameWidth   = 8
)

var marks = map[attendance.Status]string{
	attendance.StatusExpected:      ".",
	attendance.StatusPresent:       "P",
	attendance.StatusLate:          "L",
	attendance.StatusTempLeave:     "O",
	attendance.StatusAbsent:        "A",
	attendance.StatusLeaveApproved: "V",
}

func statusLabel(s attendance.Status) string {
	switch s {
	case attendance.StatusTempLeave:
		return "out"
	case attendance.StatusLeaveApproved:
		return "on leave"
	case "":
		return string(attendance.StatusExpected)
	}
	return string(s)
}

// Render draws scr as plain text with CRLF line endings, suitable for a
// terminal in raw mode.
func Render(scr Screen) string {
	var b strings.Builder
	line := func(format string, args ...any) {
		fmt.Fprintf(&b, format, args...)
		b.WriteString("\r\n")
	}

	b.WriteString(clearScreen)
	t := scr.View.Tally()
	line("Study hall %s   present %d  out %d  absent %d  leave %d  / %d",
		scr.Now.Format("2006-01-02 15:04:05"), t.Present, t.Out, t.Absent, t.Leave, t.Expected)

	switch {
	case scr.View.Online:
		line("online, synced %s", scr.View.LastSync.Format("15:04:05"))
	case !scr.View.StaleSince.IsZero():
		line("OFFLINE since %s, showing last known seats (%s)", scr.View.StaleSince.Format("15:04:05"), scr.View.LastError)
	default:
		line("connecting...")
	}
	if scr.View.Unconfirmed > 0 {
		line("%d change(s) waiting for the next sync", scr.View.Unconfirmed)
	}
	line("")

	for i, row := range scr.View.Rows {
		mark, ok := marks[row.Status]
		if !ok {
			mark = "?"
		}
		name := []rune(row.Name)
		if len(name) > nameWidth {
			name = name[:nameWidth]
		}
		fmt.Fprintf(&b, "[%02d %-*s %s] ", row.Seat, nameWidth, string(name), mark)
		if (i+1)%seatsPerRow == 0 {
			b.WriteString("\r\n")
		}
	}
	if len(scr.View.Rows)%seatsPerRow != 0 {
		b.WriteString("\r\n")
	}
	line("")
	line("P present  L late  O out  A absent  V leave  . expected")

	if scr.Admin.Active {
		line("ADMIN %ds left", scr.Admin.Remaining)
	}
	if scr.Notice != "" {
		line("> %s", scr.Notice)
	}
	if scr.Command != "" {
		b.WriteString(scr.Command)
	}
	return b.String()
}
