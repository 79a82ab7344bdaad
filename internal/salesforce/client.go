// Package salesforce implements connection.API over HTTP: the REST API for
// describes, queries and composite retrieves, and Bulk API 1.0 (JSON content)
// for bulk jobs.
package salesforce

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/davidmreed/amaxa-sub000/internal/connection"
)

// DefaultAPIVersion is used when no version is configured.
const DefaultAPIVersion = "52.0"

var apiVersionPattern = regexp.MustCompile(`^\d{2}\.0$`)

// Client talks to one org with a session (access) token.
type Client struct {
	instanceURL string
	token       string
	version     string
	http        *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.http = h
	}
}

// WithAPIVersion sets the API version, such as "52.0".
func WithAPIVersion(v string) Option {
	return func(c *Client) {
		c.version = v
	}
}

// New returns a client for the org at instanceURL.
func New(instanceURL, accessToken string, opts ...Option) (*Client, error) {
	u, err := url.Parse(instanceURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid instance url %q", instanceURL)
	}
	if accessToken == "" {
		return nil, fmt.Errorf("%w: empty access token", connection.ErrAuthentication)
	}
	c := &Client{
		instanceURL: strings.TrimRight(instanceURL, "/"),
		token:       accessToken,
		version:     DefaultAPIVersion,
		http:        &http.Client{Timeout: 2 * time.Minute},
	}
	for _, opt := range opts {
		opt(c)
	}
	if !apiVersionPattern.MatchString(c.version) {
		return nil, fmt.Errorf("invalid api version %q", c.version)
	}
	return c, nil
}

// APIError is a non-success response from the remote API.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("http %d: %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	if e.Status == http.StatusUnauthorized || e.Code == "INVALID_SESSION_ID" || e.Code == "InvalidSessionId" {
		return connection.ErrAuthentication
	}
	return nil
}

func (c *Client) restURL(path string) string {
	return fmt.Sprintf("%s/services/data/v%s/%s", c.instanceURL, c.version, strings.TrimPrefix(path, "/"))
}

func (c *Client) asyncURL(path string) string {
	return fmt.Sprintf("%s/services/async/%s/%s", c.instanceURL, c.version, strings.TrimPrefix(path, "/"))
}

// do sends a request and decodes a JSON response into out (if non-nil).
// Bulk endpoints authenticate with X-SFDC-Session, REST with a bearer token.
func (c *Client) do(ctx context.Context, method, target string, bulk bool, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return err
	}
	if bulk {
		req.Header.Set("X-SFDC-Session", c.token)
	} else {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp.StatusCode, raw)
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", target, err)
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, target string, bulk bool, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	return c.do(ctx, method, target, bulk, "application/json; charset=UTF-8", body, out)
}

// decodeError understands both the REST error list and the Bulk API
// exception object.
func decodeError(status int, raw []byte) error {
	var rest []struct {
		ErrorCode string `json:"errorCode"`
		Message   string `json:"message"`
	}
	if json.Unmarshal(raw, &rest) == nil && len(rest) > 0 {
		return &APIError{Status: status, Code: rest[0].ErrorCode, Message: rest[0].Message}
	}
	var bulk struct {
		ExceptionCode    string `json:"exceptionCode"`
		ExceptionMessage string `json:"exceptionMessage"`
	}
	if json.Unmarshal(raw, &bulk) == nil && bulk.ExceptionCode != "" {
		return &APIError{Status: status, Code: bulk.ExceptionCode, Message: bulk.ExceptionMessage}
	}
	return &APIError{Status: status, Message: strings.TrimSpace(string(raw))}
}
