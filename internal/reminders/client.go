// Package reminders is the HTTP client of the external reminder service.
package reminders

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

	"github.com/hray3182/DoseLine/internal/timeutil"
)

const alertsPath = "/v1/alerts/reminders"

var (
	// ErrNotFound is returned when the reminder no longer exists.
	ErrNotFound = errors.New("reminder not found")
	// ErrNoAPIToken is returned when neither the context nor the client
	// carries a reminder API token.
	ErrNoAPIToken = errors.New("missing reminder api token")
)

// APIError reports a failed reminder-service call.
type APIError struct {
	Op     string
	Status int
	Err    error
}

func (e *APIError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("reminders %s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("reminders %s: %v", e.Op, e.Err)
}

func (e *APIError) Unwrap() error { return e.Err }

type tokenKey struct{}

// WithAPIToken attaches the per-session reminder API token to ctx. Voice
// front-ends hand out a fresh token with every request.
func WithAPIToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, tokenKey{}, token)
}

func apiToken(ctx context.Context) string {
	tok, _ := ctx.Value(tokenKey{}).(string)
	return tok
}

// Client talks to the reminder service.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	defaultToken string
	now          timeutil.Clock
}

func New(baseURL, defaultToken string, timeout time.Duration) *Client {
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		httpClient:   &http.Client{Timeout: timeout},
		defaultToken: defaultToken,
		now:          timeutil.SystemClock(),
	}
}

// NewWithHTTPClient is used by tests to point the client at an httptest server.
func NewWithHTTPClient(baseURL, defaultToken string, hc *http.Client) *Client {
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		httpClient:   hc,
		defaultToken: defaultToken,
		now:          timeutil.SystemClock(),
	}
}

// Create submits a new reminder and returns its token.
func (c *Client) Create(ctx context.Context, alert Alert) (string, error) {
	alert.AlertToken = ""
	alert.Status = ""
	alert.RequestTime = c.now().UTC().Format(timeutil.WireLayout)

	var resp struct {
		AlertToken string `json:"alertToken"`
	}
	if err := c.do(ctx, "create", http.MethodPost, alertsPath, alert, &resp); err != nil {
		return "", err
	}
	if resp.AlertToken == "" {
		return "", &APIError{Op: "create", Err: errors.New("empty alert token in response")}
	}
	return resp.AlertToken, nil
}

// Delete removes a reminder. A reminder that is already gone yields ErrNotFound.
func (c *Client) Delete(ctx context.Context, token string) error {
	return c.do(ctx, "delete", http.MethodDelete, alertsPath+"/"+url.PathEscape(token), nil, nil)
}

// Get fetches a reminder body by token.
func (c *Client) Get(ctx context.Context, token string) (*Alert, error) {
	var alert Alert
	if err := c.do(ctx, "get", http.MethodGet, alertsPath+"/"+url.PathEscape(token), nil, &alert); err != nil {
		return nil, err
	}
	if alert.AlertToken == "" {
		alert.AlertToken = token
	}
	return &alert, nil
}

// List returns every live reminder of the user.
func (c *Client) List(ctx context.Context) ([]Alert, error) {
	var resp struct {
		Alerts []Alert `json:"alerts"`
	}
	if err := c.do(ctx, "list", http.MethodGet, alertsPath, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Alerts, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	token := apiToken(ctx)
	if token == "" {
		token = c.defaultToken
	}
	if token == "" {
		return &APIError{Op: op, Err: ErrNoAPIToken}
	}

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
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &APIError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return &APIError{Op: op, Status: resp.StatusCode, Err: ErrNotFound}
	}
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &APIError{Op: op, Status: resp.StatusCode, Err: errors.New(strings.TrimSpace(string(msg)))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &APIError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return nil
}
