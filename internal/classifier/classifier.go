// Package classifier turns a stream of key events from a keyboard-wedge
// card reader into credential tokens, discarding human typing by timing.
//
// Readers emit a whole badge number within a few milliseconds and finish
// with Enter. People type far slower, so any gap above the threshold
// clears the buffer. This is a heuristic; the threshold is configurable
// because reader hardware speed varies.
package classifier

import (
	"context"
	"time"
	"unicode"
)

// DefaultGap is the largest pause between two reader characters.
const DefaultGap = 100 * time.Millisecond

// Kind tags a completed token.
type Kind int

const (
	Student Kind = iota
	Admin
)

func (k Kind) String() string {
	if k == Admin {
		return "admin"
	}
	return "student"
}

// KeyEvent is one key press as seen by the display process.
type KeyEvent struct {
	Key rune
	At  time.Time
	// Editable is set when focus is inside a text field; such keys belong
	// to the operator and are never classified.
	Editable bool
}

// Token is a completed credential.
type Token struct {
	Credential string
	Kind       Kind
	// Seq orders tokens by arrival, independent of clock resolution.
	Seq uint64
	At  time.Time
}

// Classifier accumulates reader characters. It is not safe for
// concurrent use; Run gives it a single owner goroutine.
type Classifier struct {
	gap   time.Duration
	admin string

	buf     []rune
	last    time.Time
	started bool
	seq     uint64
}

// New returns a Classifier. A non-positive gap uses DefaultGap.
func New(adminCredential string, gap time.Duration) *Classifier {
	if gap <= 0 {
		gap = DefaultGap
	}
	return &Classifier{gap: gap, admin: adminCredential}
}

// IsTerminator reports whether r closes a token.
func IsTerminator(r rune) bool {
	return r == '\n' || r == '\r'
}

// Feed consumes one event and returns a token when ev completes one.
func (c *Classifier) Feed(ev KeyEvent) (Token, bool) {
	if ev.Editable {
		return Token{}, false
	}

	// A timestamp that goes backwards counts as no gap at all: arrival
	// order wins over wall time.
	if c.started && ev.At.Sub(c.last) > c.gap {
		c.buf = c.buf[:0]
	}
	if !c.started || ev.At.After(c.last) {
		c.last = ev.At
	}
	c.started = true

	if IsTerminator(ev.Key) {
		if len(c.buf) == 0 {
			return Token{}, false
		}
		cred := string(c.buf)
		c.buf = c.buf[:0]
		c.seq++
		tok := Token{Credential: cred, Kind: Student, Seq: c.seq, At: ev.At}
		if c.admin != "" && cred == c.admin {
			tok.Kind = Admin
		}
		return tok, true
	}

	if unicode.IsPrint(ev.Key) && !unicode.IsSpace(ev.Key) {
		c.buf = append(c.buf, ev.Key)
	}
	return Token{}, false
}

// Pending returns how many characters are buffered.
func (c *Classifier) Pending() int { return len(c.buf) }

// Reset drops any partial token.
func (c *Classifier) Reset() {
	c.buf = c.buf[:0]
}

// Run classifies events until in closes or ctx is done, then discards
// whatever partial token is left. The returned channel is closed on exit.
func (c *Classifier) Run(ctx context.Context, in <-chan KeyEvent) <-chan Token {
	out := make(chan Token, 8)
	go func() {
		defer close(out)
		defer c.Reset()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-in:
				if !ok {
					return
				}
				tok, done := c.Feed(ev)
				if !done {
					continue
				}
				select {
				case out <- tok:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
