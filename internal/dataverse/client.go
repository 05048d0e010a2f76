// Package dataverse is a client for the Dataverse native, search and admin
// APIs, plus the dataset upload flow the pipeline drives.
package dataverse

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/tidwall/gjson"
	"go.uber.org/ratelimit"
	"resty.dev/v3"

	"github.com/toltec-astro/dvpipe/internal/apperr"
)

// APIError is a non-2xx answer from the Dataverse API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("dataverse: status %d: %s", e.Status, e.Message)
}

// Unwrap maps 404 answers onto apperr.ErrNotFound.
func (e *APIError) Unwrap() error {
	if e.Status == http.StatusNotFound {
		return apperr.ErrNotFound
	}
	return nil
}

func newAPIError(status int, body []byte) *APIError {
	msg := gjson.GetBytes(body, "message").String()
	if msg == "" {
		msg = strings.TrimSpace(string(body))
		if len(msg) > 200 {
			msg = msg[:200] + "..."
		}
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &APIError{Status: status, Message: msg}
}

// Client talks to one Dataverse installation.
type Client struct {
	baseURL   string
	http      *resty.Client
	limiter   ratelimit.Limiter
	retries   uint64
	retryWait time.Duration
	logger    *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithRateLimit caps the client at perSecond requests per second.
func WithRateLimit(perSecond int) Option {
	return func(c *Client) {
		if perSecond > 0 {
			c.limiter = ratelimit.New(perSecond)
		}
	}
}

// WithRetry retries transport failures and 5xx answers up to n times,
// starting at wait and backing off exponentially.
func WithRetry(n uint64, wait time.Duration) Option {
	return func(c *Client) {
		c.retries = n
		c.retryWait = wait
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.SetTimeout(d) }
}

// New returns a client for the installation at baseURL. A non-empty token is
// sent as the X-Dataverse-key header.
func New(baseURL, token string, opts ...Option) *Client {
	base := strings.TrimRight(baseURL, "/")
	c := &Client{
		baseURL:   base,
		http:      resty.New().SetBaseURL(base + "/api"),
		limiter:   ratelimit.NewUnlimited(),
		retries:   2,
		retryWait: 500 * time.Millisecond,
		logger:    slog.Default(),
	}
	if token != "" {
		c.http.SetHeader("X-Dataverse-key", token)
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// BaseURL returns the installation root URL.
func (c *Client) BaseURL() string { return c.baseURL }

// Close releases idle connections.
func (c *Client) Close() error {
	return c.http.Close()
}

type request struct {
	method   string
	path     string
	query    map[string]string
	body     []byte
	file     string
	fileName string
	form     map[string]string
}

// call performs r and returns the "data" member of the answer.
func (c *Client) call(ctx context.Context, r request) (gjson.Result, error) {
	var (
		body   []byte
		status int
	)
	op := func() error {
		c.limiter.Take()
		req := c.http.R().SetContext(ctx)
		if len(r.query) > 0 {
			req.SetQueryParams(r.query)
		}
		if r.body != nil {
			req.SetHeader("Content-Type", "application/json").SetBody(r.body)
		}
		if r.file != "" {
			fh, err := os.Open(r.file)
			if err != nil {
				return backoff.Permanent(fmt.Errorf("open %s: %w", r.file, err))
			}
			defer fh.Close()
			req.SetFileReader("file", r.fileName, fh)
			if len(r.form) > 0 {
				req.SetFormData(r.form)
			}
		}
		resp, err := req.Execute(r.method, r.path)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		body, status = resp.Bytes(), resp.StatusCode()
		if status >= http.StatusInternalServerError {
			return newAPIError(status, body)
		}
		return nil
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.retryWait
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, c.retries), ctx))
	c.logger.Debug("dataverse: request",
		slog.String("method", r.method),
		slog.String("path", r.path),
		slog.Int("status", status))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("dataverse: %s %s: %w", r.method, r.path, err)
	}
	if status < 200 || status >= 300 {
		return gjson.Result{}, fmt.Errorf("dataverse: %s %s: %w", r.method, r.path, newAPIError(status, body))
	}
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, fmt.Errorf("dataverse: %s %s: response is not JSON", r.method, r.path)
	}
	return gjson.GetBytes(body, "data"), nil
}
