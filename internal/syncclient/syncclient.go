// Package syncclient keeps a display's view of the seat map fresh by
// polling the ledger snapshot. The view is a last-pull-wins cache: local
// optimistic edits live until the next successful pull, and a failed pull
// keeps the last good rows and marks the view stale instead of blanking it.
package syncclient

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"studyhall/internal/attendance"
	"studyhall/internal/metrics"
)

const (
	DefaultInterval = 5 * time.Second
	DefaultTimeout  = 3 * time.Second
)

// Fetcher pulls today's snapshot from the ledger.
type Fetcher interface {
	Snapshot(ctx context.Context) ([]attendance.SeatRow, error)
}

// View is what the display renders.
type View struct {
	Rows   []attendance.SeatRow
	Online bool
	// LastSync is the time of the last successful pull.
	LastSync time.Time
	// StaleSince is when the current run of failed pulls began; zero
	// while online.
	StaleSince time.Time
	LastError  string
	// Unconfirmed counts optimistic edits applied since the last pull.
	Unconfirmed int
}

// Tally summarises the rows in view.
func (v View) Tally() attendance.Tally { return attendance.Summarize(v.Rows) }

// Client owns the view. Safe for concurrent use; the fetch itself runs
// without holding any lock so key handling is never blocked by a slow
// network.
type Client struct {
	fetcher  Fetcher
	clock    clockwork.Clock
	interval time.Duration
	timeout  time.Duration
	log      logrus.FieldLogger

	mu       sync.RWMutex
	view     View
	started  uint64
	applied  uint64
	onChange func(View)
}

// Options tune a Client. Zero values take the defaults.
type Options struct {
	Interval time.Duration
	Timeout  time.Duration
	Clock    clockwork.Clock
	Log      logrus.FieldLogger
	// OnChange is called with a copy of the view after every update.
	OnChange func(View)
}

// New creates a client with an empty, offline view.
func New(f Fetcher, opts Options) *Client {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}
	return &Client{
		fetcher:  f,
		clock:    opts.Clock,
		interval: opts.Interval,
		timeout:  opts.Timeout,
		log:      opts.Log,
		onChange: opts.OnChange,
	}
}

// Run polls immediately and then every interval until ctx is done.
func (c *Client) Run(ctx context.Context) {
	ticker := c.clock.NewTicker(c.interval)
	defer ticker.Stop()

	_ = c.PollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			_ = c.PollOnce(ctx)
		}
	}
}

// PollOnce performs a single pull with the configured timeout. Results of
// a pull that started before an already-applied one are dropped.
func (c *Client) PollOnce(ctx context.Context) error {
	c.mu.Lock()
	c.started++
	seq := c.started
	c.mu.Unlock()

	pullCtx, cancel := context.WithTimeout(ctx, c.timeout)
	rows, err := c.fetcher.Snapshot(pullCtx)
	cancel()
	now := c.clock.Now()

	c.mu.Lock()
	if seq < c.applied {
		c.mu.Unlock()
		return err
	}
	c.applied = seq
	if err != nil {
		if c.view.Online || c.view.StaleSince.IsZero() {
			c.view.StaleSince = now
		}
		c.view.Online = false
		c.view.LastError = err.Error()
	} else {
		c.view = View{Rows: cloneRows(rows), Online: true, LastSync: now}
	}
	v := c.snapshotLocked()
	c.mu.Unlock()

	if err != nil {
		metrics.SyncPolls.WithLabelValues("failed").Inc()
		c.log.WithError(err).WithField("stale_since", v.StaleSince).Warn("snapshot pull failed, keeping last view")
	} else {
		metrics.SyncPolls.WithLabelValues("ok").Inc()
	}
	c.changed(v)
	return err
}

// ApplyLocal optimistically sets a student's status. It returns false if
// the student is not in the view.
func (c *Client) ApplyLocal(studentID string, status attendance.Status) bool {
	c.mu.Lock()
	found := false
	for i := range c.view.Rows {
		if c.view.Rows[i].StudentID == studentID {
			c.view.Rows[i].Status = status
			c.view.Unconfirmed++
			found = true
			break
		}
	}
	v := c.snapshotLocked()
	c.mu.Unlock()

	if found {
		c.changed(v)
	}
	return found
}

// View returns a copy of the current view.
func (c *Client) View() View {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshotLocked()
}

// BySeat finds the row for a seat number.
func (c *Client) BySeat(seat int) (attendance.SeatRow, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, r := range c.view.Rows {
		if r.Seat == seat {
			return r, true
		}
	}
	return attendance.SeatRow{}, false
}

func (c *Client) snapshotLocked() View {
	v := c.view
	v.Rows = cloneRows(c.view.Rows)
	return v
}

func (c *Client) changed(v View) {
	if c.onChange != nil {
		c.onChange(v)
	}
}

func cloneRows(rows []attendance.SeatRow) []attendance.SeatRow {
	if rows == nil {
		return nil
	}
	return append([]attendance.SeatRow(nil), rows...)
}
