// Package session implements the time-boxed admin window that gates
// manual corrections. One Session is meaningful per process.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"studyhall/internal/attendance"
	"studyhall/internal/metrics"
)

// DefaultTTL is how long the window stays open without activity.
const DefaultTTL = 60 * time.Second

// Kind names a session transition.
type Kind string

const (
	Opened  Kind = "opened"
	Reset   Kind = "reset"
	Expired Kind = "expired"
	Closed  Kind = "closed"
)

// State is a point-in-time view of the session.
type State struct {
	Active    bool   `json:"active"`
	Remaining int    `json:"remaining_seconds"`
	ID        string `json:"-"`
}

// Event is delivered to the notify callback after each transition.
type Event struct {
	Kind  Kind
	State State
}

// Session is the closed/open(n) state machine. It counts down once per
// second on its own ticker while open.
type Session struct {
	clock  clockwork.Clock
	ttl    int
	notify func(Event)

	mu        sync.Mutex
	active    bool
	remaining int
	id        string
	gen       uint64
	stop      chan struct{}
}

// New returns a closed session. notify may be nil; it is called without
// the session lock held.
func New(c clockwork.Clock, ttl time.Duration, notify func(Event)) *Session {
	if c == nil {
		c = clockwork.NewRealClock()
	}
	secs := int(ttl / time.Second)
	if secs <= 0 {
		secs = int(DefaultTTL / time.Second)
	}
	return &Session{clock: c, ttl: secs, notify: notify}
}

// TTL returns the full countdown length.
func (s *Session) TTL() time.Duration { return time.Duration(s.ttl) * time.Second }

// Open starts the window, or resets the countdown if it is already open.
// Re-opening never stacks time and keeps the session id, so a re-scan
// does not invalidate tokens already handed out for this window.
func (s *Session) Open() State {
	s.mu.Lock()
	kind := Reset
	if !s.active {
		kind = Opened
		s.active = true
		s.id = uuid.NewString()
		s.gen++
		s.stop = make(chan struct{})
		go s.run(s.gen, s.stop, s.clock.NewTicker(time.Second))
	}
	s.remaining = s.ttl
	st := s.stateLocked()
	s.mu.Unlock()

	s.emit(kind, st)
	return st
}

// Touch resets the countdown of an open session.
func (s *Session) Touch() error {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return attendance.ErrUnauthorized
	}
	s.remaining = s.ttl
	st := s.stateLocked()
	s.mu.Unlock()

	s.emit(Reset, st)
	return nil
}

// Authorize checks that id names the open session and resets its
// countdown.
func (s *Session) Authorize(id string) error {
	s.mu.Lock()
	if !s.active || id == "" || id != s.id {
		s.mu.Unlock()
		return attendance.ErrUnauthorized
	}
	s.remaining = s.ttl
	st := s.stateLocked()
	s.mu.Unlock()

	s.emit(Reset, st)
	return nil
}

// Close ends the window and stops the ticker. Closing a closed session is
// a no-op.
func (s *Session) Close() {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.closeLocked()
	st := s.stateLocked()
	s.mu.Unlock()

	s.emit(Closed, st)
}

// Tick advances the countdown by one second. It is what the ticker calls;
// tests may drive it directly.
func (s *Session) Tick() {
	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()
	s.tick(gen)
}

// State returns the current view.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

// Active reports whether corrections are currently allowed.
func (s *Session) Active() bool {
	return s.State().Active
}

func (s *Session) tick(gen uint64) {
	s.mu.Lock()
	if !s.active || gen != s.gen {
		s.mu.Unlock()
		return
	}
	if s.remaining > 1 {
		s.remaining--
		s.mu.Unlock()
		return
	}
	s.closeLocked()
	st := s.stateLocked()
	s.mu.Unlock()

	s.emit(Expired, st)
}

func (s *Session) run(gen uint64, stop <-chan struct{}, ticker clockwork.Ticker) {
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
			s.tick(gen)
		}
	}
}

func (s *Session) closeLocked() {
	s.active = false
	s.remaining = 0
	s.id = ""
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
}

func (s *Session) stateLocked() State {
	return State{Active: s.active, Remaining: s.remaining, ID: s.id}
}

func (s *Session) emit(kind Kind, st State) {
	metrics.AdminSessions.WithLabelValues(string(kind)).Inc()
	if s.notify != nil {
		s.notify(Event{Kind: kind, State: st})
	}
}
