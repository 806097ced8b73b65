package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Client provides typed access to the airlock API for interactive tools.
type Client struct {
	baseURL    string
	httpClient *http.Client
	dialer     *websocket.Dialer
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// New constructs a Client pointing at the provided API base URL.
func New(base string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = "http://localhost:8000"
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	cli := &Client{
		baseURL: strings.TrimRight(trimmed, "/"),
		// Uploads run every check before responding.
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		dialer:     &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli, nil
}

// APIError represents an error response from the API.
type APIError struct {
	Status  int
	Message string
}

func (e APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api request failed with status %d", e.Status)
	}
	return fmt.Sprintf("api request failed (%d): %s", e.Status, e.Message)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

func (c *Client) do(ctx context.Context, method, path string, body any, token string, v any) error {
	var (
		reader      io.Reader
		contentType string
	)
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
		contentType = "application/json"
	}
	return c.send(ctx, method, path, reader, contentType, token, v)
}

func (c *Client) send(ctx context.Context, method, path string, body io.Reader, contentType, token string, v any) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if strings.TrimSpace(token) != "" {
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(token))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return APIError{Status: resp.StatusCode, Message: extractError(resp.Body)}
	}
	if v == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func extractError(body io.Reader) string {
	if body == nil {
		return ""
	}
	var payload struct {
		Error string `json:"error"`
	}
	data, err := io.ReadAll(body)
	if err != nil || len(data) == 0 {
		return ""
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return strings.TrimSpace(string(data))
	}
	return strings.TrimSpace(payload.Error)
}

// CheckResult is one domain outcome.
type CheckResult struct {
	Status  string   `json:"status"`
	Summary string   `json:"summary"`
	Details []string `json:"details"`
}

// Deployment mirrors the API deployment payload.
type Deployment struct {
	ID         string                 `json:"id"`
	Name       string                 `json:"name"`
	Status     string                 `json:"status"`
	Mode       string                 `json:"mode,omitempty"`
	FileCount  int                    `json:"file_count"`
	TotalSize  int64                  `json:"total_size"`
	Checks     map[string]CheckResult `json:"checks"`
	URL        string                 `json:"url,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
	DeployedAt *time.Time             `json:"deployed_at,omitempty"`
	ExpiresAt  *time.Time             `json:"expires_at,omitempty"`
	UpdatedAt  time.Time              `json:"updated_at"`
}

// Event is one entry of a deployment audit trail.
type Event struct {
	ID           string          `json:"id"`
	DeploymentID string          `json:"deployment_id"`
	Source       string          `json:"source"`
	Level        string          `json:"level"`
	Message      string          `json:"message"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Upload submits a zip archive and returns the checked deployment.
func (c *Client) Upload(ctx context.Context, token, zipPath string) (Deployment, error) {
	// #nosec G304 -- path supplied by the CLI user.
	file, err := os.Open(zipPath)
	if err != nil {
		return Deployment{}, fmt.Errorf("open archive: %w", err)
	}
	defer file.Close()

	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)
	go func() {
		part, err := form.CreateFormFile("file", filepath.Base(zipPath))
		if err == nil {
			_, err = io.Copy(part, file)
		}
		if err == nil {
			err = form.Close()
		}
		pw.CloseWithError(err)
	}()

	var deployment Deployment
	if err := c.send(ctx, http.MethodPost, "/api/upload", pr, form.FormDataContentType(), token, &deployment); err != nil {
		pr.CloseWithError(err)
		return Deployment{}, err
	}
	return deployment, nil
}

// ListDeployments fetches the most recent deployments.
func (c *Client) ListDeployments(ctx context.Context, token string, limit int) ([]Deployment, error) {
	query := ""
	if limit > 0 {
		query = fmt.Sprintf("?limit=%d", limit)
	}
	var resp struct {
		Deployments []Deployment `json:"deployments"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/deployments"+query, nil, token, &resp); err != nil {
		return nil, err
	}
	return resp.Deployments, nil
}

// GetDeployment fetches one deployment.
func (c *Client) GetDeployment(ctx context.Context, token, id string) (Deployment, error) {
	var deployment Deployment
	if err := c.do(ctx, http.MethodGet, "/api/deployments/"+url.PathEscape(id), nil, token, &deployment); err != nil {
		return Deployment{}, err
	}
	return deployment, nil
}

// Deploy publishes a checked deployment in mode demo or prod.
func (c *Client) Deploy(ctx context.Context, token, id, mode string) (Deployment, error) {
	path := fmt.Sprintf("/api/deployments/%s/deploy", url.PathEscape(id))
	var deployment Deployment
	if err := c.do(ctx, http.MethodPost, path, map[string]string{"mode": mode}, token, &deployment); err != nil {
		return Deployment{}, err
	}
	return deployment, nil
}

// DeleteDeployment removes a deployment and everything it owns.
func (c *Client) DeleteDeployment(ctx context.Context, token, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/deployments/"+url.PathEscape(id), nil, token, nil)
}

// ListEvents returns the audit trail of a deployment, oldest first.
func (c *Client) ListEvents(ctx context.Context, token, id string, limit int) ([]Event, error) {
	query := ""
	if limit > 0 {
		query = fmt.Sprintf("?limit=%d", limit)
	}
	path := fmt.Sprintf("/api/deployments/%s/events%s", url.PathEscape(id), query)
	var resp struct {
		Events []Event `json:"events"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, token, &resp); err != nil {
		return nil, err
	}
	return resp.Events, nil
}

// StreamEvents calls fn for every new event of a deployment until ctx is
// cancelled or the server closes the stream.
func (c *Client) StreamEvents(ctx context.Context, token, id string, fn func(Event)) error {
	endpoint := "ws" + strings.TrimPrefix(c.baseURL, "http") + "/ws/deployments/" + url.PathEscape(id)
	header := http.Header{}
	if strings.TrimSpace(token) != "" {
		header.Set("Authorization", "Bearer "+strings.TrimSpace(token))
	}
	conn, resp, err := c.dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return APIError{Status: resp.StatusCode, Message: extractError(resp.Body)}
		}
		return fmt.Errorf("dial event stream: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read event stream: %w", err)
		}
		var event Event
		if err := json.Unmarshal(payload, &event); err != nil {
			continue
		}
		fn(event)
	}
}
