// Package kiosk is the display process: it turns reader keystrokes into
// scans and admin logins, runs the operator command line and keeps the
// seat board redrawn.
package kiosk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"studyhall/internal/attendance"
	"studyhall/internal/auth"
	"studyhall/internal/classifier"
	"studyhall/internal/session"
	"studyhall/internal/syncclient"
)

// Ledger is the remote ledger as seen from the kiosk. apiclient.Client
// implements it.
type Ledger interface {
	Snapshot(ctx context.Context) ([]attendance.SeatRow, error)
	SubmitScan(ctx context.Context, credential string, scannedAt time.Time) (attendance.ScanResult, error)
	OpenAdmin(ctx context.Context, credential string) (auth.SessionToken, session.State, error)
	CloseAdmin(ctx context.Context, token string) error
	Correct(ctx context.Context, token, studentID string, fix attendance.FixType) (attendance.Correction, error)
}

// Options configure a Kiosk. Zero durations take package defaults.
type Options struct {
	AdminCredential string
	Gap             time.Duration
	SessionTTL      time.Duration
	PollInterval    time.Duration
	Timeout         time.Duration
	Clock           clockwork.Clock
	Log             logrus.FieldLogger
	// Out receives full-screen redraws. Nil disables rendering.
	Out io.Writer
}

const (
	keyEscape    = 0x1b
	keyBackspace = 0x7f
	keyCtrlH     = 0x08
)

// pendingActions bounds the ledger calls queued behind a slow one.
const pendingActions = 16

// action is a ledger round trip started by a completed token or command.
type action func(ctx context.Context)

// Kiosk owns the classifier and the command line; both are only touched
// from the goroutine calling HandleKey. Ledger calls made on their behalf
// run on a separate goroutine under Run.
type Kiosk struct {
	api        Ledger
	classifier *classifier.Classifier
	session    *session.Session
	sync       *syncclient.Client
	clock      clockwork.Clock
	timeout    time.Duration
	log        logrus.FieldLogger

	editing bool
	line    []rune

	// mu guards what other goroutines read or write: the session ticker
	// drops the token and the sync poller redraws.
	mu     sync.Mutex
	token  string
	notice string
	prompt string

	renderMu sync.Mutex
	out      io.Writer
}

// New wires a kiosk around api.
func New(api Ledger, opts Options) *Kiosk {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = syncclient.DefaultTimeout
	}
	k := &Kiosk{
		api:        api,
		classifier: classifier.New(opts.AdminCredential, opts.Gap),
		clock:      opts.Clock,
		timeout:    opts.Timeout,
		log:        opts.Log,
		out:        opts.Out,
	}
	k.session = session.New(opts.Clock, opts.SessionTTL, k.onSession)
	k.sync = syncclient.New(api, syncclient.Options{
		Interval: opts.PollInterval,
		Timeout:  opts.Timeout,
		Clock:    opts.Clock,
		Log:      opts.Log,
		OnChange: func(syncclient.View) { k.Redraw() },
	})
	return k
}

// Session exposes the local admin window mirror.
func (k *Kiosk) Session() *session.Session { return k.session }

// Sync exposes the board's sync client.
func (k *Kiosk) Sync() *syncclient.Client { return k.sync }

// Notice returns the last operator-facing message.
func (k *Kiosk) Notice() string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.notice
}

// Run polls the ledger and handles keys until ctx is done or keys closes.
// Keys must carry the time they were read; queueing delay in keys does not
// change how they are classified. Ledger calls run behind the key loop, so
// a slow network never holds up classification. When keys closes, calls
// already queued finish before Run returns.
func (k *Kiosk) Run(ctx context.Context, keys <-chan classifier.KeyEvent) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		k.sync.Run(ctx)
	}()

	actions := make(chan action, pendingActions)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for do := range actions {
			do(ctx)
			k.Redraw()
		}
	}()
	defer func() {
		close(actions)
		<-done
		cancel()
		wg.Wait()
		k.session.Close()
		k.classifier.Reset()
	}()

	dispatch := func(do action) {
		select {
		case actions <- do:
		default:
			k.log.Warn("ledger calls backed up, dropping input")
			k.setNotice("Busy. Please re-scan.")
		}
	}

	k.Redraw()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-keys:
			if !ok {
				return
			}
			k.handle(ev, dispatch)
		}
	}
}

// HandleKey processes one key press and waits for any ledger call it
// triggers.
func (k *Kiosk) HandleKey(ctx context.Context, ev classifier.KeyEvent) {
	k.handle(ev, func(do action) { do(ctx) })
}

func (k *Kiosk) handle(ev classifier.KeyEvent, dispatch func(action)) {
	defer k.Redraw()
	defer k.syncPrompt()

	if k.editing {
		// The command line has focus; the classifier never sees these keys.
		ev.Editable = true
		k.classifier.Feed(ev)
		k.edit(ev.Key, dispatch)
		return
	}
	if ev.Key == ':' && k.classifier.Pending() == 0 {
		k.editing = true
		k.line = k.line[:0]
		return
	}

	tok, ok := k.classifier.Feed(ev)
	if !ok {
		return
	}
	switch tok.Kind {
	case classifier.Admin:
		dispatch(func(ctx context.Context) { k.adminLogin(ctx, tok) })
	default:
		dispatch(func(ctx context.Context) { k.scan(ctx, tok) })
	}
}

func (k *Kiosk) edit(r rune, dispatch func(action)) {
	switch {
	case classifier.IsTerminator(r):
		cmd := strings.TrimSpace(string(k.line))
		k.editing = false
		k.line = k.line[:0]
		if cmd != "" {
			dispatch(func(ctx context.Context) { k.command(ctx, cmd) })
		}
	case r == keyEscape:
		k.editing = false
		k.line = k.line[:0]
	case r == keyBackspace || r == keyCtrlH:
		if len(k.line) > 0 {
			k.line = k.line[:len(k.line)-1]
		}
	default:
		k.line = append(k.line, r)
	}
}

func (k *Kiosk) scan(ctx context.Context, tok classifier.Token) {
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()

	res, err := k.api.SubmitScan(ctx, tok.Credential, tok.At)
	if err != nil {
		k.log.WithError(err).WithField("seq", tok.Seq).Warn("scan not recorded")
		switch {
		case errors.Is(err, attendance.ErrNotFound):
			k.setNotice("Unknown card. Please see the office.")
		default:
			k.setNotice("Scan not recorded. Please re-scan.")
		}
		return
	}
	k.sync.ApplyLocal(res.StudentID, res.Status)
	k.setNotice(fmt.Sprintf("%02d %s: %s", res.Seat, res.Name, statusLabel(res.Status)))
}

func (k *Kiosk) adminLogin(ctx context.Context, tok classifier.Token) {
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()

	issued, _, err := k.api.OpenAdmin(ctx, tok.Credential)
	if err != nil {
		k.log.WithError(err).Warn("admin login failed")
		k.setNotice("Admin login failed. Please re-scan.")
		return
	}
	k.mu.Lock()
	k.token = issued.Token
	k.mu.Unlock()
	local := k.session.Open()
	k.setNotice(fmt.Sprintf("Admin mode: %ds. Type :fix <seat> present|absent|leave", local.Remaining))
}

func (k *Kiosk) command(ctx context.Context, cmd string) {
	fields := strings.Fields(cmd)
	if len(fields) == 0 {
		return
	}
	switch fields[0] {
	case "fix":
		if len(fields) != 3 {
			k.setNotice("usage: fix <seat> present|absent|leave")
			return
		}
		k.fix(ctx, fields[1], fields[2])
	case "close":
		k.closeAdmin(ctx)
	default:
		k.setNotice(fmt.Sprintf("unknown command %q", fields[0]))
	}
}

var fixWords = map[string]attendance.FixType{
	"present": attendance.FixForcePresent,
	"absent":  attendance.FixForceAbsent,
	"leave":   attendance.FixLeave,
}

func (k *Kiosk) fix(ctx context.Context, seatArg, word string) {
	token := k.currentToken()
	if !k.session.Active() || token == "" {
		k.setNotice("Admin session required. Scan the admin card.")
		return
	}
	fix, ok := fixWords[word]
	if !ok {
		k.setNotice(fmt.Sprintf("unknown fix %q", word))
		return
	}
	seat, err := strconv.Atoi(seatArg)
	if err != nil {
		k.setNotice(fmt.Sprintf("bad seat %q", seatArg))
		return
	}
	row, ok := k.sync.BySeat(seat)
	if !ok {
		k.setNotice(fmt.Sprintf("no student at seat %d", seat))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	res, err := k.api.Correct(ctx, token, row.StudentID, fix)
	if err != nil {
		k.log.WithError(err).WithFields(logrus.Fields{"seat": seat, "fix": fix}).Warn("correction failed")
		if errors.Is(err, attendance.ErrUnauthorized) {
			k.dropToken()
			k.session.Close()
			k.setNotice("Admin session expired. Scan the admin card.")
			return
		}
		k.setNotice("Correction not recorded. Please retry.")
		return
	}
	k.session.Touch()
	k.sync.ApplyLocal(res.StudentID, res.Status)
	k.setNotice(fmt.Sprintf("%02d %s set to %s", res.Seat, res.Name, statusLabel(res.Status)))
}

func (k *Kiosk) closeAdmin(ctx context.Context) {
	token := k.dropToken()
	if token != "" {
		ctx, cancel := context.WithTimeout(ctx, k.timeout)
		defer cancel()
		if err := k.api.CloseAdmin(ctx, token); err != nil {
			k.log.WithError(err).Warn("close admin session on server")
		}
	}
	k.session.Close()
	k.setNotice("Admin mode closed.")
}

func (k *Kiosk) onSession(ev session.Event) {
	if ev.Kind == session.Expired {
		k.dropToken()
		k.setNotice("Admin session timed out.")
	}
	if ev.Kind != session.Reset {
		k.Redraw()
	}
}

func (k *Kiosk) currentToken() string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.token
}

func (k *Kiosk) dropToken() string {
	k.mu.Lock()
	defer k.mu.Unlock()
	t := k.token
	k.token = ""
	return t
}

func (k *Kiosk) syncPrompt() {
	prompt := ""
	if k.editing {
		prompt = ":" + string(k.line)
	}
	k.mu.Lock()
	k.prompt = prompt
	k.mu.Unlock()
}

func (k *Kiosk) setNotice(msg string) {
	k.mu.Lock()
	k.notice = msg
	k.mu.Unlock()
}

// Redraw renders the full screen to Out.
func (k *Kiosk) Redraw() {
	if k.out == nil {
		return
	}
	k.mu.Lock()
	notice, prompt := k.notice, k.prompt
	k.mu.Unlock()
	scr := Screen{
		Now:     k.clock.Now(),
		View:    k.sync.View(),
		Admin:   k.session.State(),
		Notice:  notice,
		Command: prompt,
	}

	k.renderMu.Lock()
	defer k.renderMu.Unlock()
	if _, err := io.WriteString(k.out, Render(scr)); err != nil {
		k.log.WithError(err).Debug("redraw")
	}
}
