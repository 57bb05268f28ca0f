package telegram

import (
	"net"
	"net/http"
	"time"

	coreconfig "github.com/m3rciful/dispatchbot/core/config"
	"github.com/m3rciful/dispatchbot/core/telegram/netutil"
)

const (
	defaultDialTimeout     = 5 * time.Second
	defaultTLSHandshake    = 5 * time.Second
	defaultIdleConnTimeout = 30 * time.Second
	defaultClientTimeout   = 30 * time.Second
	defaultKeepAlive       = 30 * time.Second
	defaultRetryAttempts   = 3
	defaultRetryBackoff    = 2 * time.Second
	longPollSlack          = 10 * time.Second
)

// HTTPClientOptions sizes the Bot API client.
type HTTPClientOptions struct {
	// LongPoll is the getUpdates timeout; the client timeout always exceeds it.
	LongPoll time.Duration
	// Retries re-dial connection failures only; API errors are retried by the sender.
	Retries int
	Backoff time.Duration
}

// HTTPClientOptionsFromConfig derives client options from the telegram and sender sections.
func HTTPClientOptionsFromConfig(cfg *coreconfig.Config) HTTPClientOptions {
	if cfg == nil {
		return HTTPClientOptions{}
	}
	return HTTPClientOptions{
		LongPoll: time.Duration(cfg.Telegram.LongPollTimeoutSeconds) * time.Second,
		Backoff:  time.Duration(cfg.Sender.BaseBackoffMS) * time.Millisecond,
	}
}

// BuildHTTPClient returns an HTTP client tuned for Telegram API calls.
func BuildHTTPClient(opts HTTPClientOptions) *http.Client {
	if opts.Retries <= 0 {
		opts.Retries = defaultRetryAttempts
	}
	if opts.Backoff <= 0 {
		opts.Backoff = defaultRetryBackoff
	}
	timeout := defaultClientTimeout
	if floor := opts.LongPoll + longPollSlack; floor > timeout {
		timeout = floor
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: defaultDialTimeout, KeepAlive: defaultKeepAlive}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   defaultTLSHandshake,
		ExpectContinueTimeout: time.Second,
	}

	return &http.Client{
		Timeout: timeout,
		Transport: &retryTransport{
			base:       transport,
			maxRetries: opts.Retries,
			backoff:    opts.Backoff,
		},
	}
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
	var lastErr error
	for attempt := 0; attempt <= t.maxRetries; attempt++ {
		if attempt > 0 {
			if req.Body != nil && req.GetBody == nil {
				return nil, lastErr
			}
			if err := sleepCtx(req, t.backoff*time.Duration(attempt)); err != nil {
				return nil, err
			}
		}
		r, err := rewind(req, attempt)
		if err != nil {
			return nil, err
		}
		resp, err := base.RoundTrip(r)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !netutil.ShouldRetry(err) {
			break
		}
	}
	return nil, lastErr
}

func rewind(req *http.Request, attempt int) (*http.Request, error) {
	if attempt == 0 {
		return req, nil
	}
	clone := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		clone.Body = body
	}
	return clone, nil
}

func sleepCtx(req *http.Request, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-req.Context().Done():
		return req.Context().Err()
	case <-timer.C:
		return nil
	}
}
