package fetcher

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"
)

// ErrRobotsBlocked marks a URL disallowed by the host's robots.txt. The
// request is never issued and the failure must not be retried.
var ErrRobotsBlocked = errors.New("blocked by robots.txt")

// StatusError reports a non-2xx HTTP response.
type StatusError struct {
	StatusCode int
	Status     string

	// retryAfter carries the server-supplied backoff hint, when present.
	retryAfter time.Duration
}

func (e *StatusError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("unexpected status %s", e.Status)
	}
	return fmt.Sprintf("unexpected status %d", e.StatusCode)
}

// RetryExhaustedError wraps the final failure after all attempts were spent.
type RetryExhaustedError struct {
	Attempts int
	Last     error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("giving up after %d attempts: %v", e.Attempts, e.Last)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.Last
}

// IsTerminal reports whether the error class must not be retried: robots
// blocks, malformed URLs, and 4xx statuses other than 429.
func IsTerminal(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRobotsBlocked) {
		return true
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return !retryableStatus(statusErr.StatusCode)
	}
	return !retryableError(err)
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// retryableError covers transport-level failures worth another attempt:
// timeouts, resets, and other transient network conditions.
func retryableError(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// retryAfter parses a Retry-After header, either delta-seconds or an HTTP
// date. Zero means the header was absent or unusable.
func retryAfter(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}
	raw := resp.Header.Get("Retry-After")
	if raw == "" {
		return 0
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(raw); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
