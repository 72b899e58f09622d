package executor

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultTimeout   = 10 * time.Second
	DefaultUserAgent = "steadyvu/1.0"

	// maxBodyBytes caps how much of a response body is kept in memory.
	maxBodyBytes = 8 << 20
)

// Request describes one HTTP call.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Query   map[string]string
	Body    []byte
	// Timeout overrides the client default when > 0.
	Timeout time.Duration
}

// Response is a received HTTP response. A 4xx or 5xx status is still a
// Response, never an error.
type Response struct {
	Status   int
	Headers  http.Header
	Body     []byte
	Duration time.Duration
}

// Sender executes requests. *Client implements it; tests may inject fakes.
type Sender interface {
	Send(ctx context.Context, req Request) (*Response, error)
}

// Options configures a Client.
type Options struct {
	BaseURL            string
	Timeout            time.Duration
	MaxConns           int
	InsecureSkipVerify bool
	UserAgent          string
	// RateLimit caps requests per second across all workers (0 = unlimited).
	RateLimit float64
	Burst     int
}

// Client issues requests over a shared, pooled transport.
type Client struct {
	http      *http.Client
	baseURL   string
	timeout   time.Duration
	userAgent string
	limiter   *rate.Limiter
}

func NewClient(opts Options) *Client {
	maxConns := opts.MaxConns
	if maxConns <= 0 {
		maxConns = 2000
	}

	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConns = maxConns
	t.MaxConnsPerHost = maxConns
	t.MaxIdleConnsPerHost = maxConns
	if opts.InsecureSkipVerify {
		t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ua := opts.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}

	c := &Client{
		// Timeouts are applied per request through the context.
		http:      &http.Client{Transport: t},
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		timeout:   timeout,
		userAgent: ua,
	}
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return c
}

// BaseURL returns the prefix joined to relative request URLs.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Send performs req. Network failures, timeouts, refused connections and
// cancellations return an *Error; every path reports the elapsed duration.
func (c *Client) Send(ctx context.Context, req Request) (*Response, error) {
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}
	if !supportedMethod(method) {
		return nil, &Error{
			Kind:   KindInvalid,
			Method: method,
			URL:    req.URL,
			Err:    fmt.Errorf("unsupported method %q", req.Method),
		}
	}

	target, err := c.resolve(req.URL, req.Query)
	if err != nil {
		return nil, &Error{Kind: KindInvalid, Method: method, URL: req.URL, Err: err}
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, newError(method, target, time.Since(start), err)
		}
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, &Error{Kind: KindInvalid, Method: method, URL: target, Err: err}
	}
	httpReq.Header.Set("User-Agent", c.userAgent)
	if len(req.Body) > 0 {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, newError(method, target, time.Since(start), err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	elapsed := time.Since(start)
	if err != nil {
		return nil, newError(method, target, elapsed, fmt.Errorf("read body: %w", err))
	}

	return &Response{
		Status:   resp.StatusCode,
		Headers:  resp.Header,
		Body:     data,
		Duration: elapsed,
	}, nil
}

func (c *Client) resolve(raw string, query map[string]string) (string, error) {
	target := raw
	if c.baseURL != "" && !strings.Contains(raw, "://") {
		target = c.baseURL + "/" + strings.TrimLeft(raw, "/")
	}

	u, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %q is not absolute", target)
	}
	if len(query) > 0 {
		q := u.Query()
		for k, v := range query {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func supportedMethod(m string) bool {
	switch m {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete,
		http.MethodOptions, http.MethodPatch, http.MethodHead:
		return true
	}
	return false
}

// --- Success predicates ---

// Accept decides whether a response counts as a successful call. The
// policy belongs to the workflow, so the executor ships several.
type Accept func(status int) bool

// Status2xx accepts any 2xx status.
func Status2xx(status int) bool {
	return status >= 200 && status < 300
}

// StatusBelow accepts every status lower than limit, e.g. StatusBelow(500)
// treats client errors as expected.
func StatusBelow(limit int) Accept {
	return func(status int) bool {
		return status >= 200 && status < limit
	}
}

// StatusIn accepts exactly the listed statuses.
func StatusIn(codes ...int) Accept {
	return func(status int) bool {
		for _, c := range codes {
			if status == c {
				return true
			}
		}
		return false
	}
}

// IsClientErrorStatus returns true if status code is 4xx
func IsClientErrorStatus(status int) bool {
	return status >= 400 && status < 500
}

// IsServerErrorStatus returns true if status code is 5xx
func IsServerErrorStatus(status int) bool {
	return status >= 500 && status < 600
}
