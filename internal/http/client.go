// Package http is the authenticated REST transport. Every request to a
// private endpoint carries a fresh bearer token bound to its method and path.
package http

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"resty.dev/v3"

	"cbadv/internal/ratelimit"
	"cbadv/pkg/auth"
	"cbadv/pkg/core"
)

// Rate limit buckets.
const (
	BucketPublic  = "public"
	BucketPrivate = "private"
)

type Client struct {
	client  *resty.Client
	tokens  auth.TokenProvider
	limiter *ratelimit.RateLimiter
	logger  zerolog.Logger
	mu      sync.RWMutex
	closed  bool
}

type Config struct {
	BaseURL string        `validate:"required,url"`
	Timeout time.Duration `validate:"min=1ms"`
	// PublicLimit and PrivateLimit are requests per second for unsigned and
	// signed calls.
	PublicLimit  int               `validate:"min=1"`
	PrivateLimit int               `validate:"min=1"`
	Headers      map[string]string `validate:"omitempty"`
}

// DefaultConfig returns the exchange's documented REST limits.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:      core.DefaultRESTURL,
		Timeout:      10 * time.Second,
		PublicLimit:  10,
		PrivateLimit: 30,
		Headers:      map[string]string{"User-Agent": core.DefaultUserAgent},
	}
}

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Method     string
	Path       string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

type RequestOption func(*resty.Request)

// NewClient creates a transport. tokens may be nil or unauthenticated, in
// which case requests are sent unsigned.
func NewClient(config *Config, tokens auth.TokenProvider) (*Client, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := validator.New().Struct(config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	client := resty.New()
	client.SetBaseURL(config.BaseURL)
	client.SetTimeout(config.Timeout)
	client.AddContentTypeEncoder("application/json", func(w io.Writer, v any) error {
		data, err := sonic.Marshal(v)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	})
	client.AddContentTypeDecoder("application/json", func(r io.Reader, v any) error {
		data, err := io.ReadAll(r)
		if err != nil {
			return err
		}
		return sonic.Unmarshal(data, v)
	})

	for k, v := range config.Headers {
		client.SetHeader(k, v)
	}

	limiter := ratelimit.New(config.PublicLimit+config.PrivateLimit, time.Second)
	limiter.SetBucketLimit(BucketPublic, config.PublicLimit, time.Second)
	limiter.SetBucketLimit(BucketPrivate, config.PrivateLimit, time.Second)

	return &Client{
		client:  client,
		tokens:  tokens,
		limiter: limiter,
		logger:  zerolog.Nop(),
	}, nil
}

// SetLogger sets the transport's logger.
func (c *Client) SetLogger(logger zerolog.Logger) {
	c.logger = logger
}

// Limiter returns the transport's rate limiter.
func (c *Client) Limiter() *ratelimit.RateLimiter {
	return c.limiter
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.client.Close()
}

func (c *Client) Get(ctx context.Context, path string, opts ...RequestOption) (*resty.Response, error) {
	return c.do(ctx, "GET", path, nil, opts)
}

func (c *Client) Post(ctx context.Context, path string, body any, opts ...RequestOption) (*resty.Response, error) {
	return c.do(ctx, "POST", path, body, opts)
}

func (c *Client) Delete(ctx context.Context, path string, opts ...RequestOption) (*resty.Response, error) {
	return c.do(ctx, "DELETE", path, nil, opts)
}

func (c *Client) do(ctx context.Context, method, path string, body any, opts []RequestOption) (*resty.Response, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, fmt.Errorf("client is closed")
	}

	signed := c.tokens != nil && c.tokens.Authenticated()
	bucket := BucketPublic
	if signed {
		bucket = BucketPrivate
	}
	if err := c.limiter.WaitBucket(ctx, bucket); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	req := c.client.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}
	if signed {
		uriPath, _, _ := strings.Cut(path, "?")
		token, err := c.tokens.GenerateToken(method, uriPath)
		if err != nil {
			return nil, fmt.Errorf("sign request: %w", err)
		}
		req.SetAuthToken(token)
	}
	for _, opt := range opts {
		opt(req)
	}

	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Bool("signed", signed).
		Msg("http request")

	resp, err := req.Execute(method, path)
	if err != nil {
		c.logger.Error().Err(err).Str("method", method).Str("path", path).Msg("http request failed")
		return nil, fmt.Errorf("http request: %w", err)
	}

	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode()).
		Int("size", len(resp.Bytes())).
		Msg("http response")

	if resp.IsError() {
		return resp, &APIError{
			StatusCode: resp.StatusCode(),
			Method:     method,
			Path:       path,
			Body:       resp.String(),
		}
	}
	return resp, nil
}

func WithHeader(key, value string) RequestOption {
	return func(r *resty.Request) {
		r.SetHeader(key, value)
	}
}

func WithQueryParams(params map[string]string) RequestOption {
	return func(r *resty.Request) {
		r.SetQueryParams(params)
	}
}

func WithResult(res any) RequestOption {
	return func(r *resty.Request) {
		r.SetResult(res)
	}
}
