// Package apiclient is an HTTP client for the service under test.
package apiclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
)

// Config controls client behavior.
type Config struct {
	// Token is sent as a bearer credential when non-empty.
	Token string
	// SimplifyErrors normalizes every failure into an *Error.
	SimplifyErrors bool
	// HTTPClient performs requests. Nil means http.DefaultClient.
	HTTPClient *http.Client
}

// DefaultConfig returns the default configuration, with error
// normalization enabled.
func DefaultConfig() Config {
	return Config{SimplifyErrors: true}
}

// Option adjusts a Config.
type Option func(*Config)

// WithToken attaches a bearer token to every request.
func WithToken(token string) Option {
	return func(c *Config) {
		c.Token = token
	}
}

// WithRawErrors returns transport errors as they are, without normalization.
func WithRawErrors() Option {
	return func(c *Config) {
		c.SimplifyErrors = false
	}
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Config) {
		c.HTTPClient = client
	}
}

// Response is a received HTTP response with its body read.
type Response struct {
	Status     int
	StatusText string
	Header     http.Header
	Body       []byte
}

// JSON decodes the body into v.
func (r *Response) JSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("unable to decode response body: %w", err)
	}
	return nil
}

// Client issues requests against a base URL.
type Client struct {
	baseURL string
	config  Config
}

// New creates a client for baseURL.
func New(baseURL string, opts ...Option) *Client {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		config:  cfg,
	}
}

// BaseURL returns the URL requests are resolved against.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Config returns the effective configuration.
func (c *Client) Config() Config {
	return c.config
}

// WithToken returns a copy of the client that sends token.
func (c *Client) WithToken(token string) *Client {
	clone := *c
	clone.config.Token = token
	return &clone
}

// Get issues a GET request.
func (c *Client) Get(ctx context.Context, path string) (*Response, error) {
	return c.Request(ctx, http.MethodGet, path, nil)
}

// Post issues a POST request with body encoded as JSON.
func (c *Client) Post(ctx context.Context, path string, body any) (*Response, error) {
	return c.Request(ctx, http.MethodPost, path, body)
}

// Put issues a PUT request with body encoded as JSON.
func (c *Client) Put(ctx context.Context, path string, body any) (*Response, error) {
	return c.Request(ctx, http.MethodPut, path, body)
}

// Delete issues a DELETE request.
func (c *Client) Delete(ctx context.Context, path string) (*Response, error) {
	return c.Request(ctx, http.MethodDelete, path, nil)
}

// Request issues a request. A nil body sends nothing; a []byte body is sent
// verbatim; anything else is encoded as JSON. Responses outside the 2xx range
// are returned as errors.
func (c *Client) Request(ctx context.Context, method, path string, body any) (*Response, error) {
	url := c.baseURL + "/" + strings.TrimLeft(path, "/")

	var payload io.Reader
	if body != nil {
		raw, ok := body.([]byte)
		if !ok {
			var err error
			raw, err = json.Marshal(body)
			if err != nil {
				return nil, fmt.Errorf("unable to encode request body: %w", err)
			}
		}
		payload = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, payload)
	if err != nil {
		return nil, fmt.Errorf("unable to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}

	resp, err := c.do(req)
	if err != nil {
		return nil, c.fail(req, body, nil, err)
	}
	if resp.Status < 200 || resp.Status > 299 {
		return resp, c.fail(req, body, resp, &StatusError{Method: method, URL: url, Response: resp})
	}
	return resp, nil
}

func (c *Client) do(req *http.Request) (*Response, error) {
	resp, err := c.config.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("unable to read response body: %w", err)
	}
	return &Response{
		Status:     resp.StatusCode,
		StatusText: http.StatusText(resp.StatusCode),
		Header:     resp.Header,
		Body:       data,
	}, nil
}

// fail turns a transport error into the configured error shape.
func (c *Client) fail(req *http.Request, body any, resp *Response, err error) error {
	if !c.config.SimplifyErrors {
		return err
	}
	apiErr := &Error{
		Message: err.Error(),
		Config: RequestConfig{
			Headers: req.Header.Clone(),
			Method:  req.Method,
			BaseURL: c.baseURL,
			URL:     req.URL.RequestURI(),
			Data:    body,
		},
		Response: resp,
		Err:      err,
	}
	if resp == nil {
		return apiErr
	}
	apiErr.Status = resp.Status
	var fields map[string]any
	if json.Unmarshal(resp.Body, &fields) == nil {
		apiErr.Fields = fields
		if msg, ok := fields["message"].(string); ok {
			apiErr.Message = msg
		}
	}
	return apiErr
}
