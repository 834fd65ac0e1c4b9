package netutil

import (
	"net"
	"net/http"
	"time"
)

const (
	defaultDialTimeout       = 5 * time.Second
	defaultTLSHandshake      = 5 * time.Second
	defaultIdleConnTimeout   = 30 * time.Second
	defaultResponseTimeout   = 10 * time.Second
	defaultClientTimeout     = 30 * time.Second
	defaultKeepAliveInterval = 30 * time.Second
	defaultRetryAttempts     = 2
	defaultRetryBackoff      = 500 * time.Millisecond
)

// ClientOption tunes BuildHTTPClient.
type ClientOption func(*retryTransport, *http.Client)

// WithRetries overrides how many times a transient transport failure is retried.
func WithRetries(n int) ClientOption {
	return func(t *retryTransport, _ *http.Client) {
		if n < 0 {
			n = 0
		}
		t.maxRetries = n
	}
}

// WithBackoff overrides the linear retry backoff step.
func WithBackoff(d time.Duration) ClientOption {
	return func(t *retryTransport, _ *http.Client) { t.backoff = d }
}

// WithTimeout overrides the overall client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(_ *retryTransport, c *http.Client) { c.Timeout = d }
}

// WithBaseTransport replaces the pooled transport, mainly for tests.
func WithBaseTransport(rt http.RoundTripper) ClientOption {
	return func(t *retryTransport, _ *http.Client) { t.base = rt }
}

// BuildHTTPClient returns an HTTP client tuned for the LINE platform APIs.
// Only dial and timeout failures are retried; responses are returned as is.
func BuildHTTPClient(opts ...ClientOption) *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: defaultDialTimeout, KeepAlive: defaultKeepAliveInterval}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   defaultTLSHandshake,
		ResponseHeaderTimeout: defaultResponseTimeout,
		ExpectContinueTimeout: 1 * time.Second,
	}

	retry := &retryTransport{
		base:       transport,
		maxRetries: defaultRetryAttempts,
		backoff:    defaultRetryBackoff,
	}
	client := &http.Client{
		Timeout:   defaultClientTimeout,
		Transport: retry,
	}
	for _, opt := range opts {
		opt(retry, client)
	}
	return client
}

type retryTransport struct {
	base       http.RoundTripper
	maxRetries int
	backoff    time.Duration
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	attempts := t.maxRetries + 1
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		curr := req
		if attempt > 1 {
			curr = req.Clone(req.Context())
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, err
				}
				curr.Body = body
			} else if req.Body != nil && req.Body != http.NoBody {
				return nil, lastErr
			}
		}

		resp, err := base.RoundTrip(curr)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !ShouldRetry(err) || attempt == attempts {
			break
		}

		delay := t.backoff * time.Duration(attempt)
		if delay <= 0 {
			continue
		}
		timer := time.NewTimer(delay)
		select {
		case <-req.Context().Done():
			timer.Stop()
			return nil, req.Context().Err()
		case <-timer.C:
		}
	}

	return nil, lastErr
}
