// Package transport performs signed HTTP requests against storage backends.
//
// Idempotent requests (GET, HEAD) with a replayable body are retried on
// network errors and on the configured transient statuses. Everything else is
// sent exactly once.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/west1636/RDM-waterbutler/internal/logging"
	"github.com/west1636/RDM-waterbutler/internal/metrics"
	"github.com/west1636/RDM-waterbutler/pkg/errors"
	"github.com/west1636/RDM-waterbutler/pkg/retry"
)

// DefaultRetryStatuses are retried for idempotent methods.
var DefaultRetryStatuses = []int{
	http.StatusRequestTimeout,
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
	http.StatusGatewayTimeout,
}

// ErrorFunc builds the typed error raised when a status is not expected.
type ErrorFunc func(message string, status int) *errors.ProviderError

// Request describes one logical backend call.
type Request struct {
	Method string

	// URL is used unless URLFunc is set. URLFunc is evaluated on every attempt
	// so signed URLs are refreshed between retries.
	URL     string
	URLFunc func() (string, error)
	Query   url.Values
	Header  http.Header

	// Body is replayed on retries. Stream is sent once and disables retries.
	Body          []byte
	Stream        io.Reader
	ContentLength int64

	Range   *Range
	Expects []int
	Throws  ErrorFunc

	// NoAuth skips the signer, e.g. for pre-signed upload URLs.
	NoAuth bool
}

// Response wraps a backend response. Release must be called on every path.
type Response struct {
	Status int
	Header http.Header
	Body   io.ReadCloser
}

// Release drains and closes the body so the connection can be reused.
func (r *Response) Release() {
	if r == nil || r.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(r.Body, 64<<10))
	_ = r.Body.Close()
}

// Client sends requests for one provider.
type Client struct {
	provider string
	base     http.RoundTripper
	signer   Signer
	policy   retry.Config
	retryOn  map[int]bool
	headers  http.Header
	logger   *zap.Logger
	metrics  *metrics.Collector
}

// Option configures a Client.
type Option func(*Client)

// WithRoundTripper replaces the underlying transport.
func WithRoundTripper(rt http.RoundTripper) Option {
	return func(c *Client) { c.base = rt }
}

// WithRetry sets the retry policy used for idempotent requests.
func WithRetry(policy retry.Config) Option {
	return func(c *Client) { c.policy = policy }
}

// WithRetryStatuses replaces the set of transient statuses.
func WithRetryStatuses(statuses ...int) Option {
	return func(c *Client) {
		c.retryOn = make(map[int]bool, len(statuses))
		for _, s := range statuses {
			c.retryOn[s] = true
		}
	}
}

// WithHeader adds a default header to every request.
func WithHeader(key, value string) Option {
	return func(c *Client) { c.headers.Add(key, value) }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithMetrics records retries on the collector.
func WithMetrics(collector *metrics.Collector) Option {
	return func(c *Client) { c.metrics = collector }
}

// New creates a client for the named provider.
func New(provider string, signer Signer, opts ...Option) *Client {
	if signer == nil {
		signer = NoAuth{}
	}
	c := &Client{
		provider: provider,
		base:     http.DefaultTransport,
		signer:   signer,
		policy:   retry.DefaultConfig(),
		headers:  make(http.Header),
	}
	WithRetryStatuses(DefaultRetryStatuses...)(c)
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.Or(c.logger).Named("transport").With(zap.String("provider", provider))
	return c
}

// Do sends req and checks the status against req.Expects.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	replayable := req.Stream == nil

	resp, err := c.send(ctx, method, replayable, func(ctx context.Context) (*http.Request, error) {
		return c.build(ctx, method, req)
	})
	if err != nil {
		return nil, err
	}

	out := &Response{Status: resp.StatusCode, Header: resp.Header, Body: resp.Body}
	if len(req.Expects) > 0 && !expected(req.Expects, resp.StatusCode) {
		defer out.Release()
		return nil, FromResponse(resp, req.Throws)
	}
	return out, nil
}

// HTTPClient returns an *http.Client that signs and retries like Do. It is
// meant for generated SDK clients that issue their own requests.
func (c *Client) HTTPClient() *http.Client {
	return &http.Client{Transport: &roundTripper{client: c}}
}

type roundTripper struct {
	client *Client
}

func (t *roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	c := t.client
	replayable := req.Body == nil || req.Body == http.NoBody || req.GetBody != nil

	first := true
	return c.send(req.Context(), req.Method, replayable, func(ctx context.Context) (*http.Request, error) {
		attempt := req.Clone(ctx)
		if !first && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, err
			}
			attempt.Body = body
		}
		first = false
		for k, vs := range c.headers {
			if attempt.Header.Get(k) == "" {
				attempt.Header[k] = vs
			}
		}
		if err := c.signer.Sign(attempt); err != nil {
			return nil, err
		}
		return attempt, nil
	})
}

// retryableStatus marks a response whose status asks for another attempt.
type retryableStatus struct {
	status int
}

func (e *retryableStatus) Error() string { return fmt.Sprintf("transient status %d", e.status) }

func (c *Client) send(ctx context.Context, method string, replayable bool,
	build func(context.Context) (*http.Request, error)) (*http.Response, error) {

	policy := c.policy
	if !replayable || !idempotent(method) {
		policy.MaxAttempts = 1
	}
	retryer := retry.New(policy).
		WithRetryable(func(err error) bool {
			if _, ok := err.(*retryableStatus); ok {
				return true
			}
			if providerErr, ok := errors.As(err); ok {
				return providerErr.Code == errors.ErrCodeNetworkError
			}
			return false
		}).
		WithOnRetry(func(attempt int, err error, delay time.Duration) {
			c.logger.Warn("retrying request",
				zap.String("method", method),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(err))
			c.metrics.RecordRetry(c.provider, method)
		})

	var resp *http.Response
	err := retryer.DoWithContext(ctx, func(ctx context.Context) error {
		if resp != nil {
			drain(resp)
			resp = nil
		}

		req, err := build(ctx)
		if err != nil {
			if _, ok := errors.As(err); ok {
				return err
			}
			return errors.NewError(errors.ErrCodeInternalError, "failed to build request").WithCause(err)
		}

		start := time.Now()
		r, err := c.base.RoundTrip(req)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return errors.Wrap(ctxErr, errors.ErrCodeOperationCanceled, "request canceled")
			}
			return errors.NewError(errors.ErrCodeNetworkError, fmt.Sprintf("%s %s failed", method, redact(req.URL))).
				WithCause(err).
				WithComponent(c.provider)
		}

		c.logger.Debug("backend request",
			zap.String("method", method),
			zap.String("url", redact(req.URL)),
			zap.Int("status", r.StatusCode),
			zap.Duration("duration", time.Since(start)))

		resp = r
		if c.retryOn[r.StatusCode] {
			return &retryableStatus{status: r.StatusCode}
		}
		return nil
	})

	if err != nil {
		if _, ok := err.(*retryableStatus); ok && resp != nil && ctx.Err() == nil {
			// out of attempts, hand the last response to the caller
			return resp, nil
		}
		if resp != nil {
			drain(resp)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, errors.Wrap(ctxErr, errors.ErrCodeOperationCanceled, "request canceled")
		}
		return nil, err
	}
	return resp, nil
}

func (c *Client) build(ctx context.Context, method string, req Request) (*http.Request, error) {
	rawURL := req.URL
	if req.URLFunc != nil {
		u, err := req.URLFunc()
		if err != nil {
			return nil, err
		}
		rawURL = u
	}
	if len(req.Query) > 0 {
		u, err := url.Parse(rawURL)
		if err != nil {
			return nil, errors.NewError(errors.ErrCodeInvalidParameters, fmt.Sprintf("invalid url %q", rawURL)).
				WithCause(err)
		}
		q := u.Query()
		for k, vs := range req.Query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
		rawURL = u.String()
	}

	var body io.Reader
	switch {
	case req.Stream != nil:
		body = req.Stream
	case req.Body != nil:
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, err
	}
	if req.Stream != nil && req.ContentLength > 0 {
		httpReq.ContentLength = req.ContentLength
	}

	for k, vs := range c.headers {
		httpReq.Header[k] = append([]string(nil), vs...)
	}
	for k, vs := range req.Header {
		httpReq.Header[k] = append([]string(nil), vs...)
	}
	if req.Range != nil {
		httpReq.Header.Set("Range", req.Range.Header())
	}

	if !req.NoAuth {
		if err := c.signer.Sign(httpReq); err != nil {
			return nil, err
		}
	}
	return httpReq, nil
}

func idempotent(method string) bool {
	return method == http.MethodGet || method == http.MethodHead
}

func expected(statuses []int, status int) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

// redact drops the query string, which may carry signatures or tokens.
func redact(u *url.URL) string {
	if u == nil {
		return ""
	}
	clean := *u
	clean.RawQuery = ""
	clean.User = nil
	return clean.String()
}
