// Package apiclient talks to the ledger's HTTP API on behalf of a kiosk.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"studyhall/internal/attendance"
	"studyhall/internal/auth"
	"studyhall/internal/httpmiddleware"
	"studyhall/internal/session"
)

// Client calls the ledger service.
type Client struct {
	BaseURL  string
	ReaderID string
	HTTP     *http.Client
}

// New creates a client with the given per-request timeout.
func New(baseURL, readerID string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Client{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		ReaderID: readerID,
		HTTP:     &http.Client{Timeout: timeout},
	}
}

// Snapshot fetches today's seat map. It satisfies syncclient.Fetcher.
func (c *Client) Snapshot(ctx context.Context) ([]attendance.SeatRow, error) {
	var out struct {
		Day   attendance.Day       `json:"day"`
		Seats []attendance.SeatRow `json:"seats"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/seats", "", nil, &out); err != nil {
		return nil, err
	}
	return out.Seats, nil
}

// SubmitScan sends a student badge. scannedAt is informational; the
// server's clock decides lateness.
func (c *Client) SubmitScan(ctx context.Context, credential string, scannedAt time.Time) (attendance.ScanResult, error) {
	in := map[string]any{"rfid_tag": credential, "time_scanned": scannedAt}
	var out attendance.ScanResult
	err := c.do(ctx, http.MethodPost, "/api/check-in", "", in, &out)
	return out, err
}

// OpenAdmin presents the admin badge and returns a session token.
func (c *Client) OpenAdmin(ctx context.Context, credential string) (auth.SessionToken, session.State, error) {
	var out struct {
		auth.SessionToken
		Session session.State `json:"session"`
	}
	err := c.do(ctx, http.MethodPost, "/api/admin/session", "", map[string]string{"credential": credential}, &out)
	return out.SessionToken, out.Session, err
}

// CloseAdmin ends the server-side session.
func (c *Client) CloseAdmin(ctx context.Context, token string) error {
	return c.do(ctx, http.MethodDelete, "/api/admin/session", token, nil, nil)
}

// Correct applies an admin fix.
func (c *Client) Correct(ctx context.Context, token, studentID string, fix attendance.FixType) (attendance.Correction, error) {
	in := map[string]string{"student_id": studentID, "fix_type": string(fix)}
	var out attendance.Correction
	err := c.do(ctx, http.MethodPost, "/api/admin/correct", token, in, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path, token string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.ReaderID != "" {
		req.Header.Set(httpmiddleware.ReaderHeader, c.ReaderID)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", attendance.ErrTransportUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return statusError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", attendance.ErrTransportUnavailable, path, err)
	}
	return nil
}

func statusError(resp *http.Response) error {
	var payload struct {
		Error string `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	if json.Unmarshal(raw, &payload) != nil || payload.Error == "" {
		payload.Error = strings.TrimSpace(string(raw))
	}

	var sentinel error
	switch {
	case resp.StatusCode == http.StatusNotFound:
		sentinel = attendance.ErrNotFound
	case resp.StatusCode == http.StatusUnauthorized:
		sentinel = attendance.ErrUnauthorized
	case resp.StatusCode == http.StatusConflict:
		sentinel = attendance.ErrWriteConflict
	case resp.StatusCode == http.StatusBadRequest:
		sentinel = attendance.ErrInvalid
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		sentinel = attendance.ErrTransportUnavailable
	default:
		return fmt.Errorf("ledger error %s: %s", resp.Status, payload.Error)
	}
	if payload.Error == "" {
		return sentinel
	}
	return fmt.Errorf("%w: %s", sentinel, payload.Error)
}
