// Package httpapi exposes the ledger and the admin session over HTTP.
package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"studyhall/internal/attendance"
	"studyhall/internal/auth"
	"studyhall/internal/session"
)

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) bool

// EventCounts reads the per-day action counters kept by the event
// worker. store.Redis implements it.
type EventCounts interface {
	Tally(ctx context.Context, day attendance.Day) (map[attendance.Action]int64, error)
}

// Handler holds the collaborators behind every route. Events may be nil.
type Handler struct {
	Ledger          *attendance.Ledger
	Session         *session.Session
	Authorizer      attendance.Authorizer
	AdminCredential string
	SigningKey      string
	Issuer          string
	TokenTTL        time.Duration
	Clock           clockwork.Clock
	Events          EventCounts
	Health          map[string]HealthCheck
	Log             logrus.FieldLogger
}

func (h *Handler) now() time.Time {
	if h.Clock == nil {
		return time.Now()
	}
	return h.Clock.Now()
}

func (h *Handler) log() logrus.FieldLogger {
	if h.Log == nil {
		return logrus.StandardLogger()
	}
	return h.Log
}

// day resolves ?day=YYYYMMDD, defaulting to today.
func (h *Handler) day(c *gin.Context) (attendance.Day, error) {
	if v := c.Query("day"); v != "" {
		return attendance.ParseDay(v)
	}
	return h.Ledger.Today(h.now()), nil
}

// Healthz reports dependency health.
func (h *Handler) Healthz(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "ok"}
	for name, check := range h.Health {
		ok := check(c.Request.Context())
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}

// Seats returns the snapshot for a day.
func (h *Handler) Seats(c *gin.Context) {
	day, err := h.day(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	rows, err := h.Ledger.Snapshot(c.Request.Context(), day)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"day": day, "seats": rows, "tally": attendance.Summarize(rows)})
}

type statsResponse struct {
	attendance.Tally
	Events map[attendance.Action]int64 `json:"events,omitempty"`
}

// Stats returns the tally for a day plus the worker's action counters
// when they are available.
func (h *Handler) Stats(c *gin.Context) {
	day, err := h.day(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	rows, err := h.Ledger.Snapshot(c.Request.Context(), day)
	if err != nil {
		h.fail(c, err)
		return
	}
	resp := statsResponse{Tally: attendance.Summarize(rows)}
	if h.Events != nil {
		counts, err := h.Events.Tally(c.Request.Context(), day)
		if err != nil {
			h.log().WithError(err).WithField("day", day).Warn("event counters unavailable")
		} else {
			resp.Events = counts
		}
	}
	c.JSON(http.StatusOK, resp)
}

// Logs returns the audit log for a day.
func (h *Handler) Logs(c *gin.Context) {
	day, err := h.day(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	entries, err := h.Ledger.Logs(c.Request.Context(), day)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"day": day, "logs": entries})
}

type checkInRequest struct {
	RFIDTag     string     `json:"rfid_tag" binding:"required"`
	TimeScanned *time.Time `json:"time_scanned"`
}

// CheckIn records a student scan.
func (h *Handler) CheckIn(c *gin.Context) {
	var req checkInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	now := h.now()
	if req.TimeScanned != nil {
		if skew := now.Sub(*req.TimeScanned); skew > time.Minute || skew < -time.Minute {
			h.log().WithFields(logrus.Fields{"time_scanned": *req.TimeScanned, "skew": skew}).
				Warn("reader clock drift")
		}
	}
	res, err := h.Ledger.SubmitScan(c.Request.Context(), req.RFIDTag, now)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type openSessionRequest struct {
	Credential string `json:"credential" binding:"required"`
}

// OpenSession opens or resets the admin window for the admin badge.
func (h *Handler) OpenSession(c *gin.Context) {
	var req openSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if h.AdminCredential == "" ||
		subtle.ConstantTimeCompare([]byte(req.Credential), []byte(h.AdminCredential)) != 1 {
		h.log().Warn("admin session refused: wrong credential")
		h.fail(c, attendance.ErrUnauthorized)
		return
	}

	st := h.Session.Open()
	tok, err := auth.Issue(st.ID, h.Issuer, h.SigningKey, h.TokenTTL, h.now())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": tok.Token, "expires_at": tok.ExpiresAt, "session": st})
}

// SessionState reports whether the admin window is open and for how long.
func (h *Handler) SessionState(c *gin.Context) {
	c.JSON(http.StatusOK, h.Session.State())
}

// CloseSession ends the admin window. The token must belong to it.
func (h *Handler) CloseSession(c *gin.Context) {
	if err := h.Authorizer.Authorize(auth.Token(c)); err != nil {
		h.fail(c, err)
		return
	}
	h.Session.Close()
	c.Status(http.StatusNoContent)
}

type correctRequest struct {
	StudentID string             `json:"student_id" binding:"required"`
	FixType   attendance.FixType `json:"fix_type" binding:"required"`
}

// Correct applies an admin fix.
func (h *Handler) Correct(c *gin.Context) {
	var req correctRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := h.Ledger.AdminCorrect(c.Request.Context(), req.StudentID, req.FixType, auth.Token(c), h.now())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log().WithError(err).WithField("path", c.FullPath()).Error("request failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, attendance.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, attendance.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, attendance.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, attendance.ErrWriteConflict):
		return http.StatusConflict
	case errors.Is(err, attendance.ErrTransportUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
