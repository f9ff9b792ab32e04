// Package client talks to a running coachd over its HTTP API.
package client

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

	coachhttp "github.com/fyrsmithlabs/coachd/internal/http"
)

// DefaultTimeout covers a full coaching turn, which waits on the model.
const DefaultTimeout = 2 * time.Minute

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
	Retryable  bool
}

func (e *APIError) Error() string {
	return fmt.Sprintf("coachd: %d: %s", e.StatusCode, e.Message)
}

// IsStatus reports whether err is an APIError with the given status code.
func IsStatus(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}

// Client calls the coachd HTTP API.
type Client struct {
	baseURL string
	client  *http.Client
}

// New creates a client for the server at baseURL, e.g. http://localhost:9191.
func New(baseURL string) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q", baseURL)
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: DefaultTimeout},
	}, nil
}

// Health returns the server health. A degraded server answers 503 with a
// body, so the response is returned alongside the error.
func (c *Client) Health(ctx context.Context) (*coachhttp.HealthResponse, error) {
	var out coachhttp.HealthResponse
	err := c.do(ctx, http.MethodGet, "/health", nil, &out)
	if err != nil && out.Status == "" {
		return nil, err
	}
	return &out, err
}

// CreateSession starts a session. An empty id asks the server to generate one.
func (c *Client) CreateSession(ctx context.Context, id string) (*coachhttp.SessionResponse, error) {
	var out coachhttp.SessionResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/sessions", coachhttp.CreateSessionRequest{ID: id}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Session fetches a session and its status.
func (c *Client) Session(ctx context.Context, id string) (*coachhttp.SessionResponse, error) {
	var out coachhttp.SessionResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/sessions/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Send posts a user message and returns the coach's turn.
func (c *Client) Send(ctx context.Context, id, message string) (*coachhttp.MessageResponse, error) {
	var out coachhttp.MessageResponse
	path := "/api/v1/sessions/" + url.PathEscape(id) + "/messages"
	if err := c.do(ctx, http.MethodPost, path, coachhttp.MessageRequest{Message: message}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Transcript returns the markdown transcript of a session.
func (c *Client) Transcript(ctx context.Context, id string) (string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/v1/sessions/"+url.PathEscape(id)+"/transcript", nil)
	if err != nil {
		return "", err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", decodeError(resp)
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	return string(b), nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body interface{}) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		if resp.StatusCode == http.StatusServiceUnavailable && path == "/health" {
			_ = json.NewDecoder(resp.Body).Decode(out)
			return &APIError{StatusCode: resp.StatusCode, Message: "server degraded"}
		}
		return decodeError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// decodeError reads either an API error body or echo's {"message": ...}.
func decodeError(resp *http.Response) error {
	var body struct {
		Error     string `json:"error"`
		Message   string `json:"message"`
		Retryable bool   `json:"retryable"`
	}
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err == nil {
		switch {
		case body.Error != "":
			apiErr.Message = body.Error
		case body.Message != "":
			apiErr.Message = body.Message
		}
		apiErr.Retryable = body.Retryable
	}
	return apiErr
}
