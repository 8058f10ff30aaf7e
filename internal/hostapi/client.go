package hostapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/codefionn/sessionbridge/internal/logger"
	"github.com/codefionn/sessionbridge/internal/protocol"
)

// WorkspaceDirectory lists, creates and deletes workspaces on the host
type WorkspaceDirectory interface {
	ListWorkspaces(ctx context.Context) ([]protocol.Workspace, error)
	CreateWorkspace(ctx context.Context, req CreateWorkspaceRequest) (protocol.Workspace, error)
	DeleteWorkspace(ctx context.Context, name string, force bool) error
}

// SessionHost creates, fetches and deletes session records
type SessionHost interface {
	CreateSession(ctx context.Context, req CreateSessionRequest) (protocol.Session, error)
	GetSession(ctx context.Context, sessionID string) (protocol.Session, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

// CreateWorkspaceRequest is the POST /workspaces request body
type CreateWorkspaceRequest struct {
	Name string `json:"name"`
	// SourceURL is an optional repository to populate the workspace from
	SourceURL string `json:"sourceUrl,omitempty"`
}

// CreateSessionRequest is the POST /sessions request body
type CreateSessionRequest struct {
	Workspace     string `json:"workspace"`
	InitialPrompt string `json:"initialPrompt,omitempty"`
}

// UnmarshalJSON accepts source_url as well as the canonical sourceUrl
func (r *CreateWorkspaceRequest) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name      string `json:"name"`
		SourceURL string `json:"sourceUrl"`
		Snake     string `json:"source_url"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = CreateWorkspaceRequest{Name: raw.Name, SourceURL: raw.SourceURL}
	if r.SourceURL == "" {
		r.SourceURL = raw.Snake
	}
	return nil
}

// UnmarshalJSON accepts initial_prompt as well as the canonical initialPrompt
func (r *CreateSessionRequest) UnmarshalJSON(data []byte) error {
	var raw struct {
		Workspace     string `json:"workspace"`
		InitialPrompt string `json:"initialPrompt"`
		Snake         string `json:"initial_prompt"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = CreateSessionRequest{Workspace: raw.Workspace, InitialPrompt: raw.InitialPrompt}
	if r.InitialPrompt == "" {
		r.InitialPrompt = raw.Snake
	}
	return nil
}

// APIError is returned for any non-2xx response
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return e.Message
}

// IsNotFound reports whether err is an APIError with status 404
func IsNotFound(err error) bool {
	return hasStatus(err, http.StatusNotFound)
}

// IsConflict reports whether err is an APIError with status 409
func IsConflict(err error) bool {
	return hasStatus(err, http.StatusConflict)
}

func hasStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == status
}

// Config holds client configuration
type Config struct {
	// BaseURL is the host's HTTP root, e.g. http://localhost:8940
	BaseURL string
	// AuthToken is sent as a bearer token when set
	AuthToken string
	// Timeout bounds each request; zero means no client-side timeout
	Timeout time.Duration
	// HTTPClient overrides the default client; Timeout is ignored when set
	HTTPClient *http.Client
}

// Client implements WorkspaceDirectory and SessionHost over HTTP. It does not
// retry; resilience policy belongs to the caller.
type Client struct {
	baseURL   *url.URL
	authToken string
	http      *http.Client
	log       *logger.Logger
}

var (
	_ WorkspaceDirectory = (*Client)(nil)
	_ SessionHost        = (*Client)(nil)
)

// NewClient creates a host client
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("host base URL is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid host base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid host base URL %q: scheme must be http or https", cfg.BaseURL)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		baseURL:   base,
		authToken: cfg.AuthToken,
		http:      httpClient,
		log:       logger.Global().WithPrefix("hostapi"),
	}, nil
}

// ListWorkspaces returns every workspace known to the host
func (c *Client) ListWorkspaces(ctx context.Context) ([]protocol.Workspace, error) {
	var workspaces []protocol.Workspace
	if err := c.do(ctx, http.MethodGet, c.endpoint(nil, "workspaces"), nil, &workspaces); err != nil {
		return nil, err
	}
	if workspaces == nil {
		workspaces = []protocol.Workspace{}
	}
	return workspaces, nil
}

// CreateWorkspace creates a workspace, optionally from a source URL
func (c *Client) CreateWorkspace(ctx context.Context, req CreateWorkspaceRequest) (protocol.Workspace, error) {
	var ws protocol.Workspace
	err := c.do(ctx, http.MethodPost, c.endpoint(nil, "workspaces"), req, &ws)
	return ws, err
}

// DeleteWorkspace deletes a workspace. Without force the host refuses while a
// session still references it.
func (c *Client) DeleteWorkspace(ctx context.Context, name string, force bool) error {
	query := url.Values{"force": []string{strconv.FormatBool(force)}}
	return c.do(ctx, http.MethodDelete, c.endpoint(query, "workspaces", name), nil, nil)
}

// CreateSession starts a session in a workspace
func (c *Client) CreateSession(ctx context.Context, req CreateSessionRequest) (protocol.Session, error) {
	var sess protocol.Session
	err := c.do(ctx, http.MethodPost, c.endpoint(nil, "sessions"), req, &sess)
	return sess, err
}

// GetSession fetches a session record by id
func (c *Client) GetSession(ctx context.Context, sessionID string) (protocol.Session, error) {
	var sess protocol.Session
	err := c.do(ctx, http.MethodGet, c.endpoint(nil, "sessions", sessionID), nil, &sess)
	return sess, err
}

// DeleteSession deletes a session record, terminating its process on the host
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodDelete, c.endpoint(nil, "sessions", sessionID), nil, nil)
}

// endpoint joins escaped path segments onto the base URL
func (c *Client) endpoint(query url.Values, segments ...string) string {
	u := *c.baseURL
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	u.Path = strings.TrimRight(c.baseURL.Path, "/") + "/" + strings.Join(segments, "/")
	u.RawPath = strings.TrimRight(c.baseURL.EscapedPath(), "/") + "/" + strings.Join(escaped, "/")
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func (c *Client) do(ctx context.Context, method, endpoint string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	c.log.Debug("%s %s", method, endpoint)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := decodeError(resp)
		c.log.Debug("%s %s failed: %d %s", method, req.URL.Path, apiErr.StatusCode, apiErr.Message)
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// decodeError prefers the server-provided message and falls back to the status
func decodeError(resp *http.Response) *APIError {
	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Message:    fmt.Sprintf("request failed with status %d", resp.StatusCode),
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil || len(data) == 0 {
		return apiErr
	}

	var payload struct {
		Error   string `json:"error"`
		Detail  string `json:"detail"`
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &payload) == nil {
		for _, msg := range []string{payload.Error, payload.Detail, payload.Message} {
			if strings.TrimSpace(msg) != "" {
				apiErr.Message = msg
				return apiErr
			}
		}
	}
	return apiErr
}
