package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

var (
	// ErrRetriesExhausted wraps the last error of a bounded retry loop.
	ErrRetriesExhausted = errors.New("retries exhausted")
	// ErrPageOutOfRange is returned for review pages the site will not serve.
	ErrPageOutOfRange = errors.New("page out of range")
	// ErrProxyUnavailable is returned when the proxy pool cannot hand out an
	// endpoint, which means its sources could not be refilled.
	ErrProxyUnavailable = errors.New("proxy unavailable")
)

// BlockedError reports a non-200 response, which the crawler treats as the
// proxy being blocked.
type BlockedError struct {
	StatusCode int
	Proxy      string
	Remaining  int
	URL        string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("[%d] IP has been blocked (ip=%s, remaining=%d, site=%s)", e.StatusCode, e.Proxy, e.Remaining, e.URL)
}

// ErrTimeout indicates a timeout while issuing a request.
type ErrTimeout struct {
	Err error
}

func (e ErrTimeout) Error() string {
	return "timeout: " + e.Err.Error()
}

func (e ErrTimeout) Unwrap() error {
	return e.Err
}

// ErrConnection indicates a network failure talking to the proxy or target.
type ErrConnection struct {
	Err error
}

func (e ErrConnection) Error() string {
	return "connection: " + e.Err.Error()
}

func (e ErrConnection) Unwrap() error {
	return e.Err
}

type permanentError struct {
	err error
}

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err so Retry returns it without further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

func isPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

// transportError wraps a failed round trip in ErrTimeout or ErrConnection.
func transportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout{Err: err}
	}
	return ErrConnection{Err: err}
}

// ClassifyError maps err to a metrics label.
func ClassifyError(err error) string {
	if err == nil {
		return "unknown"
	}
	var blocked *BlockedError
	if errors.As(err, &blocked) {
		switch blocked.StatusCode {
		case http.StatusForbidden:
			return "forbidden"
		case http.StatusNotFound:
			return "not_found"
		case http.StatusTooManyRequests:
			return "rate_limited"
		}
		return "blocked"
	}
	var timeout ErrTimeout
	if errors.As(err, &timeout) || errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	var conn ErrConnection
	if errors.As(err, &conn) {
		return "connection"
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return "connection"
	}
	return "other"
}
