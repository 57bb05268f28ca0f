package sender

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/m3rciful/dispatchbot/core/telegram/netutil"

	tele "gopkg.in/telebot.v4"
)

var tokenRe = regexp.MustCompile(`bot[0-9]+:[A-Za-z0-9_-]+`)

// Failure describes an outbound Telegram error in terms the retry loop and business code act on.
type Failure struct {
	Code        int
	RetryAfter  time.Duration
	Description string
	Kind        string
	Retryable   bool
}

// Classify inspects err and reports its status code, retry hint and retryability.
// Only 429, 5xx and transient network failures are retryable.
func Classify(err error) Failure {
	if err == nil {
		return Failure{}
	}
	f := Failure{Kind: classifyKind(err)}

	var floodErr tele.FloodError
	var floodPtr *tele.FloodError
	switch {
	case errors.As(err, &floodErr):
		f.Code = http.StatusTooManyRequests
		f.RetryAfter = time.Duration(floodErr.RetryAfter) * time.Second
	case errors.As(err, &floodPtr) && floodPtr != nil:
		f.Code = http.StatusTooManyRequests
		f.RetryAfter = time.Duration(floodPtr.RetryAfter) * time.Second
	default:
		f.Code = httpStatusFromError(err)
	}

	var apiErr *tele.Error
	if errors.As(err, &apiErr) {
		f.Description = apiErr.Description
	}

	switch {
	case f.Code == http.StatusTooManyRequests, f.Code >= 500:
		f.Retryable = true
	case f.Code == 0 && errors.Is(err, context.Canceled):
		f.Retryable = false
	case f.Code == 0:
		f.Retryable = netutil.ShouldRetry(err)
	}
	return f
}

// IsForbidden reports whether err is a permanent 403, e.g. the user blocked the bot.
func IsForbidden(err error) bool {
	return Classify(err).Code == http.StatusForbidden
}

// IsNotModified reports whether an edit failed only because the content is unchanged.
func IsNotModified(err error) bool {
	if err == nil {
		return false
	}
	const marker = "message is not modified"
	var apiErr *tele.Error
	if errors.As(err, &apiErr) && strings.Contains(strings.ToLower(apiErr.Description), marker) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), marker)
}

func classifyKind(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return "timeout"
		}
		return "dns"
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Op == "dial" {
			return "dial"
		}
		if opErr.Err != nil {
			if kind := classifyKind(opErr.Err); kind != "" && kind != "unknown" {
				return kind
			}
		}
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil && !errors.Is(urlErr.Err, err) {
		if kind := classifyKind(urlErr.Err); kind != "" && kind != "unknown" {
			return kind
		}
	}

	var alertErr tls.AlertError
	if errors.As(err, &alertErr) {
		return "tls"
	}

	status := httpStatusFromError(err)
	switch {
	case status == http.StatusTooManyRequests:
		return "flood"
	case status == http.StatusForbidden:
		return "forbidden"
	case status >= 500:
		return "http_5xx"
	case status >= 400:
		return "http_4xx"
	}
	return "unknown"
}

// sanitizeErrorMessage prevents accidental leakage of bot tokens in logs.
func sanitizeErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	return tokenRe.ReplaceAllString(err.Error(), "bot<redacted>")
}

func httpStatusFromError(err error) int {
	if err == nil {
		return 0
	}

	var apiErr *tele.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}

	var groupErr tele.GroupError
	if errors.As(err, &groupErr) {
		return http.StatusBadRequest
	}

	// Unrecognised API errors are formatted as "telegram: <description> (<code>)".
	msg := err.Error()
	lastOpen := strings.LastIndex(msg, "(")
	lastClose := strings.LastIndex(msg, ")")
	if lastOpen >= 0 && lastClose > lastOpen+1 {
		if code, convErr := strconv.Atoi(strings.TrimSpace(msg[lastOpen+1 : lastClose])); convErr == nil {
			return code
		}
	}
	return 0
}
