package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/Egham-7/tokentra/internal/models"
	"github.com/Egham-7/tokentra/internal/utils"

	fiberlog "github.com/gofiber/fiber/v2/log"
)

const maxErrorBody = 64 << 10

// Client is a JSON HTTP client with connection pooling. It performs exactly
// one attempt per call; retry policy belongs to the caller.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Headers    map[string]string
}

// RequestOptions provides options for API requests
type RequestOptions struct {
	Headers     map[string]string
	QueryParams map[string]string
	Timeout     time.Duration
}

// ClientConfig holds configuration for the API client
type ClientConfig struct {
	BaseURL             string
	Timeout             time.Duration
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
	DialTimeout         time.Duration
	KeepAlive           time.Duration
	TLSHandshakeTimeout time.Duration
	UserAgent           string
}

// DefaultClientConfig returns optimized defaults for the API client
func DefaultClientConfig(baseURL string) *ClientConfig {
	return &ClientConfig{
		BaseURL:             baseURL,
		Timeout:             30 * time.Second,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DialTimeout:         10 * time.Second,
		KeepAlive:           30 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		UserAgent:           "tokentra-go/" + models.SDKVersion,
	}
}

// NewClient creates a new API client with default settings
func NewClient(baseURL string) *Client {
	return NewClientWithConfig(DefaultClientConfig(baseURL))
}

// NewClientWithConfig creates a new API client with custom configuration
func NewClientWithConfig(config *ClientConfig) *Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   config.DialTimeout,
			KeepAlive: config.KeepAlive,
		}).DialContext,
		MaxIdleConns:        config.MaxIdleConns,
		MaxIdleConnsPerHost: config.MaxIdleConnsPerHost,
		IdleConnTimeout:     config.IdleConnTimeout,
		TLSHandshakeTimeout: config.TLSHandshakeTimeout,
		ForceAttemptHTTP2:   true,
	}

	userAgent := config.UserAgent
	if userAgent == "" {
		userAgent = "tokentra-go/" + models.SDKVersion
	}

	return &Client{
		BaseURL: config.BaseURL,
		HTTPClient: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
		},
		Headers: map[string]string{
			"Content-Type": "application/json",
			"Accept":       "application/json",
			"User-Agent":   userAgent,
		},
	}
}

// HTTPError is returned for non-2xx responses.
type HTTPError struct {
	StatusCode int
	Body       []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("API request failed with status code %d", e.StatusCode)
}

// APIErrorBody decodes the collector's {error:{code,message}} body, if any.
func (e *HTTPError) APIErrorBody() (models.APIError, bool) {
	var body struct {
		Error *models.APIError `json:"error"`
	}
	if err := json.Unmarshal(e.Body, &body); err != nil || body.Error == nil {
		return models.APIError{}, false
	}
	return *body.Error, true
}

// Get performs a GET request
func (c *Client) Get(ctx context.Context, path string, result any, opts *RequestOptions) error {
	return c.do(ctx, http.MethodGet, path, nil, result, opts)
}

// Post performs a POST request
func (c *Client) Post(ctx context.Context, path string, body, result any, opts *RequestOptions) error {
	return c.do(ctx, http.MethodPost, path, body, result, opts)
}

// Delete performs a DELETE request
func (c *Client) Delete(ctx context.Context, path string, result any, opts *RequestOptions) error {
	return c.do(ctx, http.MethodDelete, path, nil, result, opts)
}

func (c *Client) do(ctx context.Context, method, path string, body, result any, opts *RequestOptions) error {
	if opts == nil {
		opts = &RequestOptions{}
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	var reqBody io.Reader
	if body != nil {
		buf, err := utils.EncodeJSON(body)
		if err != nil {
			return fmt.Errorf("error marshaling request body: %w", err)
		}
		defer utils.Put(buf)
		reqBody = bytes.NewReader(buf.B)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}

	for k, v := range c.Headers {
		req.Header.Set(k, v)
	}
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}
	if len(opts.QueryParams) > 0 {
		q := req.URL.Query()
		for k, v := range opts.QueryParams {
			q.Add(k, v)
		}
		req.URL.RawQuery = q.Encode()
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return classifyTransportError(err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			fiberlog.Errorf("Error closing response body: %v", err)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &HTTPError{StatusCode: resp.StatusCode, Body: bodyBytes}
	}

	if result == nil {
		_, err := io.Copy(io.Discard, resp.Body)
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("error unmarshaling response: %w", err)
	}
	return nil
}

// classifyTransportError maps a failed round trip to a retryable AppError.
func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return models.NewTimeoutError("collector request", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return models.NewTimeoutError("collector request", err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return models.NewNetworkError(err)
}

// Close closes idle connections of the underlying transport
func (c *Client) Close() {
	if transport, ok := c.HTTPClient.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
}
