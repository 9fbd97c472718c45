// Package backend is the HTTP client of the remote therapy record store.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hray3182/DoseLine/internal/models"
	"github.com/hray3182/DoseLine/internal/timeutil"
)

// ErrUnauthorized is returned when the backend rejects the access token.
var ErrUnauthorized = errors.New("backend rejected access token")

// FetchError reports a backend call that failed for transport or server reasons.
type FetchError struct {
	Op     string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("backend %s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("backend %s: %v", e.Op, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Session is the result of an OTP exchange.
type Session struct {
	AccessToken string
	UserName    string
}

// Client talks to the therapy backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// NewWithHTTPClient is used by tests to point the client at an httptest server.
func NewWithHTTPClient(baseURL string, hc *http.Client) *Client {
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), httpClient: hc}
}

// ExchangeOTP trades a one-time code for an access token.
func (c *Client) ExchangeOTP(ctx context.Context, otp string) (*Session, error) {
	var resp struct {
		AccessToken string `json:"access_token"`
		User        struct {
			Name string `json:"name"`
		} `json:"user"`
	}
	if err := c.do(ctx, "exchange otp", http.MethodPost, "/auth/otp", "", map[string]string{"otp": otp}, &resp); err != nil {
		return nil, err
	}
	if resp.AccessToken == "" {
		return nil, ErrUnauthorized
	}
	name := resp.User.Name
	if name == "" {
		name = "utente"
	}
	return &Session{AccessToken: resp.AccessToken, UserName: name}, nil
}

// FetchTherapies returns every therapy overlapping [start, end].
func (c *Client) FetchTherapies(ctx context.Context, token string, start, end time.Time) ([]models.Therapy, error) {
	q := url.Values{}
	q.Set("start_date", timeutil.FormatWire(start))
	q.Set("end_date", timeutil.FormatWire(end))

	var therapies []models.Therapy
	if err := c.do(ctx, "fetch therapies", http.MethodGet, "/therapies?"+q.Encode(), token, nil, &therapies); err != nil {
		return nil, err
	}
	return therapies, nil
}

// PatchTherapy sets a therapy's edit flag.
func (c *Client) PatchTherapy(ctx context.Context, token, therapyID string, flag models.EditFlag) error {
	body := map[string]string{"edit": string(flag)}
	return c.do(ctx, "patch therapy", http.MethodPatch, "/therapies/"+url.PathEscape(therapyID), token, body, nil)
}

// PatchIntake records an intake's status and how many minutes late it was confirmed.
func (c *Client) PatchIntake(ctx context.Context, token, intakeID string, status models.IntakeStatus, delayMinutes int) error {
	body := map[string]any{"status": status, "delay": delayMinutes}
	return c.do(ctx, "patch intake", http.MethodPatch, "/intakes/"+url.PathEscape(intakeID), token, body, nil)
}

// PostAdherence asks the backend to compute the patient's adherence percentage.
func (c *Client) PostAdherence(ctx context.Context, token string) (float64, error) {
	var resp struct {
		Adherence float64 `json:"adherence"`
	}
	if err := c.do(ctx, "post adherence", http.MethodPost, "/adherence", token, struct{}{}, &resp); err != nil {
		return 0, err
	}
	return resp.Adherence, nil
}

// PostAuditLog records a telemetry event.
func (c *Client) PostAuditLog(ctx context.Context, token, event string, at time.Time) error {
	body := map[string]string{"intent": event}
	if !at.IsZero() {
		body["date"] = timeutil.FormatWire(at)
	}
	return c.do(ctx, "post audit log", http.MethodPost, "/logs", token, body, nil)
}

// RegisterDevice enables push notifications for a front-end device id and
// returns the backend's registration id.
func (c *Client) RegisterDevice(ctx context.Context, token, deviceID string) (string, error) {
	var resp struct {
		ID string `json:"_id"`
	}
	if err := c.do(ctx, "register device", http.MethodPost, "/notifications", token, map[string]string{"alexa_id": deviceID}, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// UnregisterDevice removes a push-notification registration.
func (c *Client) UnregisterDevice(ctx context.Context, token, registrationID string) error {
	return c.do(ctx, "unregister device", http.MethodDelete, "/notifications/"+url.PathEscape(registrationID), token, nil, nil)
}

func (c *Client) do(ctx context.Context, op, method, path, token string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode %s request: %w", op, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &FetchError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%s: %w", op, ErrUnauthorized)
	case resp.StatusCode >= 300:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &FetchError{Op: op, Status: resp.StatusCode, Err: errors.New(strings.TrimSpace(string(msg)))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &FetchError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return nil
}
