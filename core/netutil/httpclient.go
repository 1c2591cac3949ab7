package netutil

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"
)

const (
	dialTimeout       = 5 * time.Second
	tlsHandshake      = 5 * time.Second
	idleConnTimeout   = 30 * time.Second
	responseTimeout   = 10 * time.Second
	clientTimeout     = 30 * time.Second
	keepAliveInterval = 30 * time.Second
	retryAttempts     = 2
	retryBackoff      = 500 * time.Millisecond
)

// ClientOptions configures NewHTTPClient.
type ClientOptions struct {
	// Proxy is an optional proxy URL; empty uses the environment.
	Proxy   string
	Timeout time.Duration
	// Retries is the number of extra attempts for transient failures.
	Retries int
	Backoff time.Duration
}

// NewHTTPClient returns a client tuned for backend API calls. Failed
// connection attempts are retried with linear backoff; see RetryTransport.
func NewHTTPClient(opts ClientOptions) (*http.Client, error) {
	proxy := http.ProxyFromEnvironment
	if opts.Proxy != "" {
		u, err := url.Parse(opts.Proxy)
		if err != nil || u.Host == "" {
			return nil, fmt.Errorf("invalid proxy url %q", opts.Proxy)
		}
		proxy = http.ProxyURL(u)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = clientTimeout
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	} else if opts.Retries == 0 {
		opts.Retries = retryAttempts
	}
	if opts.Backoff <= 0 {
		opts.Backoff = retryBackoff
	}

	transport := &http.Transport{
		Proxy:                 proxy,
		DialContext:           (&net.Dialer{Timeout: dialTimeout, KeepAlive: keepAliveInterval}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       idleConnTimeout,
		TLSHandshakeTimeout:   tlsHandshake,
		ResponseHeaderTimeout: responseTimeout,
		ExpectContinueTimeout: time.Second,
	}
	return &http.Client{
		Timeout: opts.Timeout,
		Transport: &RetryTransport{
			Base:       transport,
			MaxRetries: opts.Retries,
			Backoff:    opts.Backoff,
		},
	}, nil
}

// RetryTransport retries requests whose round trip failed with a transient
// error. Idempotent methods are retried on any transient error; other methods
// only when the connection was never established, so an accepted send is
// never delivered twice. Requests with a body are retried only when GetBody
// is set.
type RetryTransport struct {
	Base       http.RoundTripper
	MaxRetries int
	Backoff    time.Duration
}

// RoundTrip implements http.RoundTripper.
func (t *RetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	var lastErr error
	for attempt := 0; attempt <= t.MaxRetries; attempt++ {
		cur := req
		if attempt > 0 {
			if req.Body != nil && req.GetBody == nil {
				return nil, lastErr
			}
			cur = req.Clone(req.Context())
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, err
				}
				cur.Body = body
			}
		}

		resp, err := base.RoundTrip(cur)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !retryable(req.Method, err) || attempt == t.MaxRetries {
			break
		}

		timer := time.NewTimer(t.Backoff * time.Duration(attempt+1))
		select {
		case <-req.Context().Done():
			timer.Stop()
			return nil, req.Context().Err()
		case <-timer.C:
		}
	}
	return nil, lastErr
}

func retryable(method string, err error) bool {
	switch method {
	case "", http.MethodGet, http.MethodHead, http.MethodOptions:
		return ShouldRetry(err)
	}
	return IsDialError(err)
}
