package executor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"syscall"
	"time"
)

// ErrorKind classifies why no response was received.
type ErrorKind int

const (
	KindNetwork ErrorKind = iota
	KindTimeout
	KindRefused
	KindCanceled
	KindInvalid
)

func (k ErrorKind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindRefused:
		return "connection refused"
	case KindCanceled:
		return "canceled"
	case KindInvalid:
		return "invalid request"
	default:
		return "network"
	}
}

// Error is returned by Send when no HTTP response was obtained.
type Error struct {
	Kind     ErrorKind
	Method   string
	URL      string
	Duration time.Duration
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %s: %v", e.Method, e.URL, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Timeout reports whether the request ran out of time.
func (e *Error) Timeout() bool {
	return e.Kind == KindTimeout
}

func newError(method, target string, d time.Duration, err error) *Error {
	return &Error{
		Kind:     classify(err),
		Method:   method,
		URL:      target,
		Duration: d,
		Err:      err,
	}
}

func classify(err error) ErrorKind {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.Is(err, syscall.ECONNREFUSED):
		return KindRefused
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && strings.Contains(urlErr.Error(), "connection refused") {
		return KindRefused
	}
	// rate.Limiter reports a wait that would outlive the deadline this way.
	if strings.Contains(err.Error(), "would exceed context deadline") {
		return KindTimeout
	}
	return KindNetwork
}

// Duration returns the elapsed time carried by err if it is an *Error.
func Duration(err error) time.Duration {
	var e *Error
	if errors.As(err, &e) {
		return e.Duration
	}
	return 0
}

// KindOf returns the classification of err, or KindNetwork for foreign errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindNetwork
}
