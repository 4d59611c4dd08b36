// Package clausedesk provides the real-time transport and notification
// layer of the ClauseDesk Go client.
//
// Example:
//
//	client := clausedesk.NewClient(token, clausedesk.WithBaseURL("https://app.clausedesk.com"))
//
//	// REST
//	list, _ := client.Notifications().List(ctx)
//
//	// Real-time session (one per logged-in user)
//	session := clausedesk.NewSession(client, clausedesk.SessionConfig{})
//	session.Store.OnInsert(func(n clausedesk.Notification) { toast(n) })
//	session.Start(ctx, userID, token)
//	defer session.Close()
package clausedesk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultBaseURL = "https://app.clausedesk.com"
	DefaultTimeout = 30 * time.Second
)

// ============================================================================
// Client
// ============================================================================

// Client talks to the ClauseDesk REST API and builds real-time managers
// for the same origin.
type Client struct {
	token         string
	baseURL       string
	httpClient    *http.Client
	logger        zerolog.Logger
	notifications *NotificationsClient
}

type ClientOption func(*Client)

func WithBaseURL(url string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

func WithLogger(logger zerolog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a client authenticating with the bearer token.
func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		token:   token,
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		logger: zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.notifications = &NotificationsClient{client: c}
	return c
}

// SetToken replaces the bearer token, e.g. after a re-login.
func (c *Client) SetToken(token string) {
	c.token = token
}

// BaseURL returns the configured origin.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Notifications returns the notifications API sub-client.
func (c *Client) Notifications() *NotificationsClient {
	return c.notifications
}

// WebSocketURL returns the socket endpoint for the configured origin:
// https maps to wss and http to ws.
func (c *Client) WebSocketURL() string {
	base := c.baseURL
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/ws"
}

// NewManager creates a connection manager for this client's origin.
// cfg.URL and cfg.Logger default to the client's.
func (c *Client) NewManager(d *Dispatcher, cfg RealtimeConfig) *Manager {
	if cfg.URL == "" {
		cfg.URL = c.WebSocketURL()
	}
	if cfg.Logger == nil {
		logger := c.logger
		cfg.Logger = &logger
	}
	return NewManager(d, cfg)
}

// ============================================================================
// Internal request helper
// ============================================================================

func (c *Client) doRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	c.logger.Debug().Str("method", method).Str("path", path).Int("status", resp.StatusCode).Msg("api request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newAPIError(resp.StatusCode, data)
	}
	return data, nil
}

func newAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{Status: status}
	var wrapped struct {
		Error *APIError `json:"error"`
	}
	if json.Unmarshal(body, &wrapped) == nil && wrapped.Error != nil {
		apiErr.Code, apiErr.Message = wrapped.Error.Code, wrapped.Error.Message
	} else {
		_ = json.Unmarshal(body, apiErr)
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

// ============================================================================
// Notifications API
// ============================================================================

// NotificationsClient covers /api/notifications.
type NotificationsClient struct{ client *Client }

// List fetches the current notification baseline.
func (n *NotificationsClient) List(ctx context.Context) (*NotificationList, error) {
	data, err := n.client.doRequest(ctx, http.MethodGet, "/api/notifications", nil)
	if err != nil {
		return nil, err
	}
	list, err := decodeJSON[NotificationList](data)
	if err != nil {
		return nil, err
	}
	if list.Notifications == nil {
		list.Notifications = []Notification{}
	}
	return list, nil
}

// MarkRead marks one notification read.
func (n *NotificationsClient) MarkRead(ctx context.Context, id int64) error {
	path := "/api/notifications/" + strconv.FormatInt(id, 10) + "/read"
	_, err := n.client.doRequest(ctx, http.MethodPatch, path, nil)
	return err
}

// MarkAllRead marks every notification of the user read.
func (n *NotificationsClient) MarkAllRead(ctx context.Context) error {
	_, err := n.client.doRequest(ctx, http.MethodPatch, "/api/notifications/read-all", nil)
	return err
}
