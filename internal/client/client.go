// Package client talks to the recordd HTTP API.
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

	"roomrec/internal/core/domain"

	"github.com/gorilla/websocket"
)

type Config struct {
	// BaseURL is the recordd address, e.g. http://localhost:8080.
	BaseURL string
	// Token is an API token minted by `recordd token`.
	Token   string
	Timeout time.Duration
}

// APIError is a non-2xx answer from recordd.
type APIError struct {
	StatusCode int
	Code       string `json:"error"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("recordd: http %d", e.StatusCode)
	}
	return fmt.Sprintf("recordd: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from recordd.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// CommandResult is the answer to start, stop and toggle.
type CommandResult struct {
	Recording domain.RecordingView `json:"recording"`
	Issued    bool                 `json:"issued"`
}

type Client struct {
	base   *url.URL
	token  string
	http   *http.Client
	dialer *websocket.Dialer
}

// New builds a client. httpClient may be nil.
func New(cfg Config, httpClient *http.Client) (*Client, error) {
	base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid server url %q: %w", cfg.BaseURL, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid server url %q: scheme must be http or https", cfg.BaseURL)
	}
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		base:  base,
		token: cfg.Token,
		http:  httpClient,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
	}, nil
}

func (c *Client) endpoint(path string) string {
	return c.base.String() + "/api/v1" + path
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		_ = json.Unmarshal(data, apiErr)
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func sessionPath(id domain.SessionID, suffix string) string {
	return "/sessions/" + url.PathEscape(string(id)) + suffix
}

type OpenRequest struct {
	RoomName   string `json:"room_name"`
	Token      string `json:"token"`
	AutoRecord bool   `json:"auto_record"`
}

func (c *Client) Open(ctx context.Context, req OpenRequest) (*domain.SessionInfo, error) {
	var out struct {
		Session *domain.SessionInfo `json:"session"`
	}
	if err := c.do(ctx, http.MethodPost, "/sessions", req, &out); err != nil {
		return nil, err
	}
	return out.Session, nil
}

func (c *Client) List(ctx context.Context) ([]*domain.SessionInfo, error) {
	var out struct {
		Sessions []*domain.SessionInfo `json:"sessions"`
	}
	if err := c.do(ctx, http.MethodGet, "/sessions", nil, &out); err != nil {
		return nil, err
	}
	return out.Sessions, nil
}

func (c *Client) Get(ctx context.Context, id domain.SessionID) (*domain.SessionInfo, error) {
	var out struct {
		Session *domain.SessionInfo `json:"session"`
	}
	if err := c.do(ctx, http.MethodGet, sessionPath(id, ""), nil, &out); err != nil {
		return nil, err
	}
	return out.Session, nil
}

func (c *Client) Close(ctx context.Context, id domain.SessionID) error {
	return c.do(ctx, http.MethodDelete, sessionPath(id, ""), nil, nil)
}

func (c *Client) Recording(ctx context.Context, id domain.SessionID) (domain.RecordingView, error) {
	var out struct {
		Recording domain.RecordingView `json:"recording"`
	}
	err := c.do(ctx, http.MethodGet, sessionPath(id, "/recording"), nil, &out)
	return out.Recording, err
}

func (c *Client) command(ctx context.Context, id domain.SessionID, verb string) (CommandResult, error) {
	var out CommandResult
	err := c.do(ctx, http.MethodPost, sessionPath(id, "/recording/"+verb), nil, &out)
	return out, err
}

func (c *Client) Start(ctx context.Context, id domain.SessionID) (CommandResult, error) {
	return c.command(ctx, id, "start")
}

func (c *Client) Stop(ctx context.Context, id domain.SessionID) (CommandResult, error) {
	return c.command(ctx, id, "stop")
}

func (c *Client) Toggle(ctx context.Context, id domain.SessionID) (CommandResult, error) {
	return c.command(ctx, id, "toggle")
}
