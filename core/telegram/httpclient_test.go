package telegram

import (
	"errors"
	"net"
	"net/http"
	"syscall"
	"testing"
	"time"
)

type flakyTransport struct {
	fails int
	calls int
}

func (f *flakyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	f.calls++
	if f.calls <= f.fails {
		return nil, &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}
	}
	return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody, Request: req}, nil
}

func TestRetryTransportRedialsConnectionFailures(t *testing.T) {
	base := &flakyTransport{fails: 2}
	rt := &retryTransport{base: base, maxRetries: 3, backoff: time.Millisecond}
	req, _ := http.NewRequest(http.MethodGet, "http://example.invalid/getMe", nil)

	resp, err := rt.RoundTrip(req)
	if err != nil {
		t.Fatalf("round trip: %v", err)
	}
	if resp.StatusCode != http.StatusOK || base.calls != 3 {
		t.Fatalf("expected success on third call, got status=%d calls=%d", resp.StatusCode, base.calls)
	}
}

func TestRetryTransportGivesUpOnPermanentError(t *testing.T) {
	permanent := errors.New("bad certificate")
	calls := 0
	rt := &retryTransport{
		base: roundTripFunc(func(*http.Request) (*http.Response, error) {
			calls++
			return nil, permanent
		}),
		maxRetries: 3,
		backoff:    time.Millisecond,
	}
	req, _ := http.NewRequest(http.MethodGet, "http://example.invalid/getMe", nil)
	if _, err := rt.RoundTrip(req); !errors.Is(err, permanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single attempt, got %d", calls)
	}
}

func TestBuildHTTPClientOutlastsLongPoll(t *testing.T) {
	c := BuildHTTPClient(HTTPClientOptions{LongPoll: 50 * time.Second})
	if c.Timeout <= 50*time.Second {
		t.Fatalf("client timeout %s does not exceed long poll", c.Timeout)
	}
	if BuildHTTPClient(HTTPClientOptions{}).Timeout != defaultClientTimeout {
		t.Fatal("expected default timeout without long poll")
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }
